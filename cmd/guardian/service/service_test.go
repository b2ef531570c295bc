package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/cache"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/notify"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var jst = time.FixedZone("JST", 9*60*60)

type fixture struct {
	ctx       context.Context
	store     *sheet.MemoryStore
	now       time.Time
	metrics   *Metrics
	caches    *cache.Registry
	sink      *notify.Recorder
	ledger    *Ledger
	accounts  *AccountService
	study     *StudyService
	jobs      *JobService
	shop      *ShopService
	missions  *MissionService
	approvals *ApprovalService
	report    *ReportFlow
}

func newFixture(t *testing.T) *fixture {
	return newFixtureOn(t, nil)
}

// newFixtureOn builds every service on the in-memory store, optionally
// wrapped by wrap.
func newFixtureOn(t *testing.T, wrap func(sheet.Store) sheet.Store) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: sheet.NewMemoryStoreWithDefaults(),
		now:   time.Date(2026, 4, 1, 16, 0, 0, 0, jst),
		sink:  &notify.Recorder{},
	}
	var store sheet.Store = f.store
	if wrap != nil {
		store = wrap(f.store)
	}
	logger := zap.NewNop()
	clock := Clock{Now: func() time.Time { return f.now }, Loc: jst}
	f.metrics = NewMetrics(prometheus.NewRegistry())
	f.caches = cache.NewRegistry(prometheus.NewRegistry(), clock.Now)

	f.ledger = NewLedger(store, clock, f.metrics, logger)
	f.accounts = NewAccountService(store, f.ledger, f.caches.New("ranking", 5*time.Minute), logger)
	f.study = NewStudyService(store, f.ledger, f.accounts, clock, 90, f.metrics, logger)
	f.jobs = NewJobService(store, f.ledger, f.caches.New("jobs", time.Minute), clock, logger)
	f.shop = NewShopService(store, f.ledger, f.caches.New("shop", 10*time.Minute), clock, logger)
	f.missions = NewMissionService(store, f.ledger, f.accounts, clock, logger)
	f.approvals = NewApprovalService(f.accounts, f.study, f.jobs, f.shop, f.missions, f.caches.New("pending", 30*time.Second))
	f.report = NewReportFlow(state.NewMemoryStore(5*time.Minute, clock.Now), f.study, f.accounts, f.sink, logger)
	return f
}

func (f *fixture) register(t *testing.T, id, name string) models.Account {
	t.Helper()
	acc, err := f.accounts.Register(f.ctx, models.RegisterRequest{UserID: id, DisplayName: name})
	require.NoError(t, err)
	return acc
}

func (f *fixture) admin(t *testing.T, id, name string) models.Account {
	t.Helper()
	acc := f.register(t, id, name)
	require.NoError(t, f.accounts.SetRole(f.ctx, id, models.RoleAdmin))
	acc.Role = models.RoleAdmin
	return acc
}

func (f *fixture) fund(t *testing.T, id string, amount int64) {
	t.Helper()
	_, err := f.ledger.Apply(f.ctx, id, amount, "TEST_FUND", "test")
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	b, err := f.ledger.Balance(f.ctx, id)
	require.NoError(t, err)
	return b
}

func (f *fixture) cell(t *testing.T, table string, row int, column string) string {
	t.Helper()
	tbl, err := sheet.Open(f.ctx, f.store, table)
	require.NoError(t, err)
	r, ok := rowAt(tbl, row)
	require.True(t, ok, "row %d of %s", row, table)
	return tbl.Schema.Get(r.Values, column)
}

// failAppendOn fails AppendRow for one table only.
type failAppendOn struct {
	sheet.Store
	table string
}

func (s failAppendOn) AppendRow(ctx context.Context, table string, values []string) error {
	if table == s.table {
		return errors.New("quota exceeded")
	}
	return s.Store.AppendRow(ctx, table, values)
}
