package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/cache"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/config"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/service"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const seedTOML = `
[[admins]]
user_id = "mom"
display_name = "Mom"
pin = "1234"

[[items]]
item_key = "game"
name = "Game 30min"
cost = 300

[[items]]
item_key = "game"
name = "Duplicate"
cost = 100
`

func TestSeedCreatesTablesAdminsAndItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.toml")
	require.NoError(t, os.WriteFile(path, []byte(seedTOML), 0o600))
	seed, err := loadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Items, 2)

	ctx := context.Background()
	logger := zap.NewNop()
	store := sheet.NewMemoryStore()
	clock := service.NewClock(time.UTC)
	caches := cache.NewRegistry(prometheus.NewRegistry(), nil)
	ledger := service.NewLedger(store, clock, service.NewMetrics(prometheus.NewRegistry()), logger)
	accounts := service.NewAccountService(store, ledger, caches.New("ranking", time.Minute), logger)
	shop := service.NewShopService(store, ledger, caches.New("shop", time.Minute), clock, logger)

	rep, err := applySeed(ctx, store, accounts, shop, seed, logger)
	require.NoError(t, err)
	assert.Equal(t, len(sheet.DefaultHeaders), rep.Tables)
	assert.Equal(t, 1, rep.Admins)
	assert.Equal(t, 1, rep.Items, "duplicate item key is skipped")

	ok, err := accounts.IsAdmin(ctx, "mom")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = accounts.Login(ctx, "mom", "1234")
	require.NoError(t, err)

	rep, err = applySeed(ctx, store, accounts, shop, seedFile{}, logger)
	require.NoError(t, err)
	assert.Zero(t, rep.Tables, "existing tables are left alone")
}

func TestLoadSeedMissingFile(t *testing.T) {
	_, err := loadSeed(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestSweepTriggerSendsToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Cron-Token")
		if got != "secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"closed":0}`))
	}))
	defer srv.Close()

	trigger := &sweepTrigger{client: srv.Client(), target: srv.URL, token: "secret", logger: zap.NewNop()}
	require.NoError(t, trigger.Run(context.Background()))
	assert.Equal(t, "secret", got)

	trigger.token = "wrong"
	assert.Error(t, trigger.Run(context.Background()))
}

func TestRunScheduleRejectsBadSpec(t *testing.T) {
	trigger := &sweepTrigger{client: http.DefaultClient, target: "http://localhost", logger: zap.NewNop()}
	err := runSchedule(context.Background(), "not a spec", trigger)
	assert.Error(t, err)
}

func TestNewAppOnMemoryStore(t *testing.T) {
	cfg := &config.Config{
		StoreDriver:     "memory",
		StoreRPS:        1000,
		StoreBurst:      100,
		TZOffsetHrs:     9,
		StudyMaxMin:     90,
		TimeoutMin:      90,
		CacheShopTTL:    time.Minute,
		CacheJobsTTL:    time.Minute,
		CachePendingTTL: time.Minute,
		CacheRankingTTL: time.Minute,
		StateTTL:        time.Minute,
	}
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	closed, err := a.sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, closed)

	items, err := a.svc.Approvals.GetAllPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNewAppRejectsUnknownDriver(t *testing.T) {
	_, err := newApp(context.Background(), &config.Config{StoreDriver: "excel"}, zap.NewNop())
	assert.Error(t, err)
}
