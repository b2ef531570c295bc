package routers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/auth"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/debounce"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/notify"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type AccountService interface {
	Register(ctx context.Context, req models.RegisterRequest) (models.Account, error)
	Login(ctx context.Context, userID, pin string) (models.Account, error)
	Get(ctx context.Context, userID string) (models.Account, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
	AdminIDs(ctx context.Context) []string
	Ranking(ctx context.Context) ([]models.RankingEntry, error)
	Grant(ctx context.Context, adminID, target string, amount int64, reason string) (int64, error)
	AdjustTo(ctx context.Context, adminID, target string, balance int64) (int64, error)
	AddInventoryItem(ctx context.Context, userID, key string, count int64) error
	ResetRole(ctx context.Context, userID string) error
	ResetSelf(ctx context.Context, userID string) error
}

type Ledger interface {
	History(ctx context.Context, accountID string) ([]models.Transaction, error)
	Reconcile(ctx context.Context, accountID string, fix bool) (service.ReconcileReport, error)
}

type StudyService interface {
	Start(ctx context.Context, accountID, subject string) (models.StudySession, error)
	Stop(ctx context.Context, accountID string) (models.StudySession, error)
	Cancel(ctx context.Context, accountID string) error
	Active(ctx context.Context, accountID string) (models.StudySession, bool, error)
	Approve(ctx context.Context, row int, reward int64, approver string) (models.StudySession, int64, error)
	Reject(ctx context.Context, row int) (models.StudySession, error)
}

type ReportFlow interface {
	Begin(ctx context.Context, accountID string, sess models.StudySession) (service.ReportStep, error)
	Pending(ctx context.Context, accountID string) (service.ReportStep, bool, error)
	Handle(ctx context.Context, accountID, input string) (service.ReportStep, error)
}

type JobService interface {
	Create(ctx context.Context, title string, reward int64, deadline, clientID string) (models.Job, error)
	Open(ctx context.Context) ([]models.Job, error)
	ActiveFor(ctx context.Context, userID string) ([]models.Job, error)
	Accept(ctx context.Context, jobID, userID string) (models.Job, error)
	Finish(ctx context.Context, jobID, userID, comment string) (models.Job, error)
	Approve(ctx context.Context, jobID, approver string) (models.Job, int64, error)
	Reject(ctx context.Context, jobID string) (models.Job, error)
}

type ShopService interface {
	Items(ctx context.Context) ([]models.ShopItem, error)
	AddItem(ctx context.Context, item models.ShopItem) error
	Buy(ctx context.Context, userID, itemKey string) (models.ShopRequest, int64, error)
	Approve(ctx context.Context, requestID string) (models.ShopRequest, error)
	Deny(ctx context.Context, requestID, approver string) (models.ShopRequest, int64, error)
}

type MissionService interface {
	Create(ctx context.Context, userID, title, description string, reward int64) (models.Mission, error)
	Active(ctx context.Context, userID string) ([]models.Mission, error)
	Complete(ctx context.Context, missionID, userID string) (models.Mission, error)
	Approve(ctx context.Context, missionID, approver string) (models.Mission, int64, error)
	Reject(ctx context.Context, missionID string) (models.Mission, error)
}

type HistoryService interface {
	UserStats(ctx context.Context, userID string) (models.StudyStats, error)
	WeeklyRanking(ctx context.Context) ([]models.WeeklyRankingEntry, error)
	RecentActivity(ctx context.Context, limit int) ([]models.Activity, error)
}

type ApprovalService interface {
	GetAllPending(ctx context.Context) ([]models.PendingItem, error)
}

type CacheClearer interface {
	ClearAll()
}

// Services groups the concrete services the handler is built from.
type Services struct {
	Accounts  *service.AccountService
	Ledger    *service.Ledger
	Study     *service.StudyService
	Report    *service.ReportFlow
	Jobs      *service.JobService
	Shop      *service.ShopService
	Missions  *service.MissionService
	Approvals *service.ApprovalService
	History   *service.HistoryService
}

type Handler struct {
	Accounts  AccountService
	Ledger    Ledger
	Study     StudyService
	Report    ReportFlow
	Jobs      JobService
	Shop      ShopService
	Missions  MissionService
	Approvals ApprovalService
	History   HistoryService
	Caches    CacheClearer
	Auth      *auth.Manager
	Guard     *debounce.Guard
	Sink      notify.Sink
	Logger    *zap.Logger

	// CronToken guards /cron/check_timeout. An empty token disables it.
	CronToken string
	Sweep     func(ctx context.Context) ([]models.StudySession, error)
	TokenTTL  time.Duration
}

func NewHandler(svc Services, caches CacheClearer, authManager *auth.Manager, guard *debounce.Guard, sink notify.Sink, logger *zap.Logger) *Handler {
	return &Handler{
		Accounts:  svc.Accounts,
		Ledger:    svc.Ledger,
		Study:     svc.Study,
		Report:    svc.Report,
		Jobs:      svc.Jobs,
		Shop:      svc.Shop,
		Missions:  svc.Missions,
		Approvals: svc.Approvals,
		History:   svc.History,
		Caches:    caches,
		Auth:      authManager,
		Guard:     guard,
		Sink:      sink,
		Logger:    logger,
		TokenTTL:  24 * time.Hour,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeList answers 204 for an empty list like the other listing endpoints.
func writeList[T any](w http.ResponseWriter, items []T) {
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrSessionActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrNotOwner):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, service.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrInvalidPin):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, service.ErrLedgerDiverged), errors.Is(err, service.ErrBackingStore):
		h.Logger.Error("Ошибка хранилища", zap.String("url", r.URL.Path), zap.Error(err))
		http.Error(w, "хранилище временно недоступно", http.StatusBadGateway)
	default:
		h.Logger.Error("Необработанная ошибка", zap.String("url", r.URL.Path), zap.Error(err))
		http.Error(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
	}
}

func decode(r *http.Request, v any) bool {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v) == nil
}

func userID(r *http.Request) string {
	id, _ := auth.GetUserIDFromContext(r.Context())
	return id
}

// admit passes the action through the debounce guard and answers 409 for a
// repeat.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, action string) bool {
	if h.Guard == nil || h.Guard.Admit(userID(r), action) {
		return true
	}
	http.Error(w, "запрос уже обрабатывается", http.StatusConflict)
	return false
}

func (h *Handler) actorName(ctx context.Context, id string) string {
	if acc, err := h.Accounts.Get(ctx, id); err == nil && acc.DisplayName != "" {
		return acc.DisplayName
	}
	return id
}

func (h *Handler) notify(ctx context.Context, recipients []string, kind, text string) {
	notify.Deliver(ctx, h.Sink, h.Logger, models.Notification{Recipients: recipients, Kind: kind, Text: text})
}

func SetupRoutersWithLogger(h *Handler, logger *zap.Logger, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware(logger))
	if reg != nil {
		r.Use(MetricsMiddleware(reg))
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Post("/api/user/register", h.RegisterHandler())
	r.Post("/api/user/login", h.LoginHandler())
	r.Get("/cron/check_timeout", h.CheckTimeoutHandler())

	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Get("/api/user/status", h.StatusHandler())
		r.Get("/api/user/history", h.HistoryHandler())
		r.Get("/api/user/stats", h.StatsHandler())
		r.Get("/api/ranking", h.RankingHandler())
		r.Get("/api/ranking/weekly", h.WeeklyRankingHandler())
		r.Get("/api/activity", h.ActivityHandler())

		r.Post("/api/study/start", h.StudyStartHandler())
		r.Post("/api/study/stop", h.StudyStopHandler())
		r.Post("/api/study/cancel", h.StudyCancelHandler())
		r.Post("/api/study/report", h.StudyReportHandler())
		r.Get("/api/study/active", h.StudyActiveHandler())

		r.Get("/api/shop/items", h.ShopItemsHandler())
		r.Post("/api/shop/buy", h.ShopBuyHandler())

		r.Get("/api/jobs", h.OpenJobsHandler())
		r.Get("/api/jobs/mine", h.MyJobsHandler())
		r.Post("/api/jobs/{id}/accept", h.AcceptJobHandler())
		r.Post("/api/jobs/{id}/finish", h.FinishJobHandler())

		r.Get("/api/missions", h.MissionsHandler())
		r.Post("/api/missions/{id}/complete", h.CompleteMissionHandler())
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.AuthMiddleware, h.AdminMiddleware)
		r.Get("/pending", h.PendingHandler())
		r.Post("/study/{row}/approve", h.ApproveStudyHandler())
		r.Post("/study/{row}/reject", h.RejectStudyHandler())
		r.Post("/jobs", h.CreateJobHandler())
		r.Post("/jobs/{id}/approve", h.ApproveJobHandler())
		r.Post("/jobs/{id}/reject", h.RejectJobHandler())
		r.Post("/shop/items", h.AddShopItemHandler())
		r.Post("/shop/{id}/approve", h.ApproveShopHandler())
		r.Post("/shop/{id}/deny", h.DenyShopHandler())
		r.Post("/missions", h.CreateMissionHandler())
		r.Post("/missions/{id}/approve", h.ApproveMissionHandler())
		r.Post("/missions/{id}/reject", h.RejectMissionHandler())
		r.Post("/grant", h.GrantHandler())
		r.Post("/adjust", h.AdjustHandler())
		r.Post("/badge", h.BadgeHandler())
		r.Post("/reconcile/{user}", h.ReconcileHandler())
		r.Post("/users/{user}/reset-role", h.ResetRoleHandler())
		r.Post("/cache/clear", h.ClearCacheHandler())
		r.Delete("/self", h.ResetSelfHandler())
	})
	return r
}
