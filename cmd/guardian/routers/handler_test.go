package routers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/auth"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/cache"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/debounce"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/notify"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/service"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var jst = time.FixedZone("JST", 9*60*60)

type testServer struct {
	t      *testing.T
	now    time.Time
	h      *Handler
	router http.Handler
	svc    Services
	sink   *notify.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{t: t, now: time.Date(2026, 4, 1, 16, 0, 0, 0, jst), sink: &notify.Recorder{}}
	now := func() time.Time { return ts.now }
	logger := zap.NewNop()
	store := sheet.NewMemoryStoreWithDefaults()
	clock := service.Clock{Now: now, Loc: jst}
	metrics := service.NewMetrics(prometheus.NewRegistry())
	caches := cache.NewRegistry(prometheus.NewRegistry(), now)

	ledger := service.NewLedger(store, clock, metrics, logger)
	accounts := service.NewAccountService(store, ledger, caches.New("ranking", 5*time.Minute), logger)
	study := service.NewStudyService(store, ledger, accounts, clock, 90, metrics, logger)
	jobs := service.NewJobService(store, ledger, caches.New("jobs", time.Minute), clock, logger)
	shop := service.NewShopService(store, ledger, caches.New("shop", 10*time.Minute), clock, logger)
	missions := service.NewMissionService(store, ledger, accounts, clock, logger)
	ts.svc = Services{
		Accounts:  accounts,
		Ledger:    ledger,
		Study:     study,
		Report:    service.NewReportFlow(state.NewMemoryStore(5*time.Minute, now), study, accounts, ts.sink, logger),
		Jobs:      jobs,
		Shop:      shop,
		Missions:  missions,
		Approvals: service.NewApprovalService(accounts, study, jobs, shop, missions, caches.New("pending", 30*time.Second)),
		History:   service.NewHistoryService(store, accounts, clock),
	}

	ts.h = NewHandler(ts.svc, caches, auth.NewManager("test-secret", time.Hour), debounce.New(5*time.Second, now), ts.sink, logger)
	ts.h.CronToken = "cron-secret"
	ts.h.Sweep = func(ctx context.Context) ([]models.StudySession, error) {
		return service.SweepAndNotify(ctx, study, ts.sink, 90*time.Minute, logger)
	}
	ts.router = SetupRoutersWithLogger(ts.h, logger, prometheus.NewRegistry())
	return ts
}

func (ts *testServer) register(id, name string) {
	ts.t.Helper()
	_, err := ts.svc.Accounts.Register(context.Background(), models.RegisterRequest{UserID: id, DisplayName: name})
	require.NoError(ts.t, err)
}

func (ts *testServer) admin(id, name string) {
	ts.t.Helper()
	ts.register(id, name)
	require.NoError(ts.t, ts.svc.Accounts.SetRole(context.Background(), id, models.RoleAdmin))
}

func (ts *testServer) do(method, path, as string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if as != "" {
		token, err := ts.h.Auth.GenerateJWT(as)
		require.NoError(ts.t, err)
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/user/register", "", models.RegisterRequest{UserID: "A", DisplayName: "Taro", Pin: "1234"})
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.CookieName, cookies[0].Name)

	rec = ts.do(http.MethodPost, "/api/user/register", "", models.RegisterRequest{UserID: "A", Pin: "9999"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPost, "/api/user/login", "", models.RegisterRequest{UserID: "A", Pin: "0000"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ts.do(http.MethodPost, "/api/user/login", "", models.RegisterRequest{UserID: "A", Pin: "1234"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/user/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/api/user/status", "A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "Taro", status.DisplayName)
	assert.Equal(t, "E", status.Rank)
}

func TestStudyFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.admin("mom", "Mom")
	ts.register("A", "Taro")

	rec := ts.do(http.MethodPost, "/api/study/start", "A", map[string]string{"subject": "math"})
	require.Equal(t, http.StatusCreated, rec.Code)

	ts.now = ts.now.Add(10 * time.Second)
	rec = ts.do(http.MethodPost, "/api/study/start", "A", map[string]string{"subject": "math"})
	assert.Equal(t, http.StatusConflict, rec.Code, "second open session")

	rec = ts.do(http.MethodGet, "/api/study/active", "A", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.now = ts.now.Add(40 * time.Minute)
	rec = ts.do(http.MethodPost, "/api/study/stop", "A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stopped stopResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopped))
	assert.Equal(t, int64(40), stopped.Session.Minutes)
	assert.Equal(t, service.ModeWaitingComment, stopped.Report.Mode)
	require.NotNil(t, stopped.Estimate)

	rec = ts.do(http.MethodPost, "/api/study/report", "A", map[string]string{"text": "chapter 3"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(http.MethodPost, "/api/study/report", "A", map[string]string{"text": "7"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodPost, "/api/study/report", "A", map[string]string{"text": "4"})
	require.Equal(t, http.StatusOK, rec.Code)
	var step service.ReportStep
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &step))
	assert.True(t, step.Done)
	assert.Equal(t, int64(70), step.Earned, "first session of the day earns the bonus")

	rec = ts.do(http.MethodGet, "/api/admin/pending", "A", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/api/admin/pending", "mom", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []models.PendingItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, models.PendingStudy, pending[0].Type)
	assert.Equal(t, int64(70), pending[0].Amount)

	rec = ts.do(http.MethodPost, "/api/admin/study/"+pending[0].ID+"/approve", "mom", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ts.now = ts.now.Add(10 * time.Second)
	rec = ts.do(http.MethodPost, "/api/admin/study/"+pending[0].ID+"/approve", "mom", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	balance, err := ts.svc.Ledger.Balance(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)
}

func TestDuplicateBuyIsDebounced(t *testing.T) {
	ts := newTestServer(t)
	ts.admin("mom", "Mom")
	ts.register("A", "Taro")
	ctx := context.Background()
	_, err := ts.svc.Accounts.Grant(ctx, "mom", "A", 500, "test")
	require.NoError(t, err)
	require.NoError(t, ts.svc.Shop.AddItem(ctx, models.ShopItem{Key: "game", Cost: 300}))

	rec := ts.do(http.MethodPost, "/api/shop/buy", "A", map[string]string{"item_key": "game"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(http.MethodPost, "/api/shop/buy", "A", map[string]string{"item_key": "game"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	balance, err := ts.svc.Ledger.Balance(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)

	ts.now = ts.now.Add(6 * time.Second)
	rec = ts.do(http.MethodPost, "/api/shop/buy", "A", map[string]string{"item_key": "game"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	rec = ts.do(http.MethodPost, "/api/shop/buy", "A", map[string]string{"item_key": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sent := ts.sink.Sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, "shop.request", sent[0].Kind)
	assert.Equal(t, []string{"mom"}, sent[0].Recipients)
}

func TestCheckTimeoutRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	ts.register("A", "Taro")
	ts.now = time.Date(2026, 4, 1, 10, 0, 0, 0, jst)
	_, err := ts.svc.Study.Start(context.Background(), "A", "math")
	require.NoError(t, err)
	ts.now = time.Date(2026, 4, 1, 11, 35, 0, 0, jst)

	rec := ts.do(http.MethodGet, "/cron/check_timeout", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for _, token := range []string{"cron-secreT", "cron-secret-", "cron"} {
		req := httptest.NewRequest(http.MethodGet, "/cron/check_timeout", nil)
		req.Header.Set("X-Cron-Token", token)
		rec = httptest.NewRecorder()
		ts.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, token)
	}

	req := httptest.NewRequest(http.MethodGet, "/cron/check_timeout", nil)
	req.Header.Set("X-Cron-Token", "cron-secret")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"closed":1`)

	sent := ts.sink.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "study.timeout", sent[0].Kind)

	ts.h.CronToken = ""
	req = httptest.NewRequest(http.MethodGet, "/cron/check_timeout", nil)
	req.Header.Set("X-Cron-Token", "")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "empty token disables the endpoint")
}

func TestAdminGrantAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.admin("mom", "Mom")
	ts.register("A", "Taro")

	rec := ts.do(http.MethodPost, "/api/admin/grant", "mom", map[string]any{"user_id": "A", "amount": 120, "reason": "chores"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"balance":120}`, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/admin/reconcile/A", "mom", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rep service.ReconcileReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Zero(t, rep.Drift)

	rec = ts.do(http.MethodGet, "/api/user/history", "A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ADMIN_GRANT:chores")

	rec = ts.do(http.MethodGet, "/api/jobs", "A", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "guardian_http_requests_total"))
}

func TestAdminResetsRoleInsteadOfDeleting(t *testing.T) {
	ts := newTestServer(t)
	ts.admin("mom", "Mom")
	ts.admin("dad", "Dad")
	ts.register("A", "Taro")

	rec := ts.do(http.MethodPost, "/api/admin/users/mom/reset-role", "A", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/api/admin/users/dad/reset-role", "mom", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(http.MethodGet, "/api/admin/pending", "dad", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	acc, err := ts.svc.Accounts.Get(context.Background(), "dad")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, acc.Role)

	rec = ts.do(http.MethodPost, "/api/admin/users/ghost/reset-role", "mom", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sent := ts.sink.Sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, "account.role_reset", sent[len(sent)-1].Kind)
	assert.Equal(t, []string{"dad"}, sent[len(sent)-1].Recipients)
}

func TestStatsRankingAndActivity(t *testing.T) {
	ts := newTestServer(t)
	ts.admin("mom", "Mom")
	ts.register("A", "Taro")
	ctx := context.Background()

	rec := ts.do(http.MethodGet, "/api/activity", "A", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := ts.svc.Study.Start(ctx, "A", "math")
	require.NoError(t, err)
	ts.now = ts.now.Add(30 * time.Minute)
	sess, err := ts.svc.Study.Stop(ctx, "A")
	require.NoError(t, err)
	_, _, err = ts.svc.Study.Approve(ctx, sess.Row, 0, "Mom")
	require.NoError(t, err)

	rec = ts.do(http.MethodGet, "/api/user/stats", "A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.StudyStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(30), stats.TotalMinutes)
	assert.Equal(t, int64(30), stats.WeekMinutes)
	assert.Equal(t, 1, stats.TodaySessions)
	require.Len(t, stats.Daily, 7)
	assert.Equal(t, int64(30), stats.Daily[6].Minutes)

	rec = ts.do(http.MethodGet, "/api/ranking/weekly", "A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var weekly []models.WeeklyRankingEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &weekly))
	require.Len(t, weekly, 1)
	assert.Equal(t, int64(30), weekly[0].WeeklyExp)

	rec = ts.do(http.MethodGet, "/api/activity?limit=x", "A", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodGet, "/api/activity?limit=5", "A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "math, 30 мин.")
}
