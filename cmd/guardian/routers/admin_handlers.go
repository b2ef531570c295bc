package routers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type creditResponse struct {
	Item    any   `json:"item"`
	Balance int64 `json:"balance"`
}

func (h *Handler) PendingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := h.Approvals.GetAllPending(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeList(w, items)
	}
}

func (h *Handler) ApproveStudyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		row, err := strconv.Atoi(chi.URLParam(r, "row"))
		if err != nil || row < 2 {
			http.Error(w, "неверный номер строки", http.StatusBadRequest)
			return
		}
		var req struct {
			Reward int64 `json:"reward"`
		}
		if r.ContentLength != 0 && !decode(r, &req) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		if !h.admit(w, r, "approve_study:"+strconv.Itoa(row)) {
			return
		}
		sess, balance, err := h.Study.Approve(r.Context(), row, req.Reward, h.actorName(r.Context(), userID(r)))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.notify(r.Context(), []string{sess.UserID}, "study.approved",
			fmt.Sprintf("Занятие «%s» одобрено. Баланс: %d EXP", sess.Subject, balance))
		writeJSON(w, http.StatusOK, creditResponse{Item: sess, Balance: balance})
	}
}

func (h *Handler) RejectStudyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		row, err := strconv.Atoi(chi.URLParam(r, "row"))
		if err != nil || row < 2 {
			http.Error(w, "неверный номер строки", http.StatusBadRequest)
			return
		}
		if !h.admit(w, r, "reject_study:"+strconv.Itoa(row)) {
			return
		}
		sess, err := h.Study.Reject(r.Context(), row)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.notify(r.Context(), []string{sess.UserID}, "study.rejected",
			fmt.Sprintf("Занятие «%s» отклонено", sess.Subject))
		writeJSON(w, http.StatusOK, sess)
	}
}

func (h *Handler) CreateJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title    string `json:"title"`
			Reward   int64  `json:"reward"`
			Deadline string `json:"deadline"`
		}
		if !decode(r, &req) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		job, err := h.Jobs.Create(r.Context(), req.Title, req.Reward, req.Deadline, userID(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	}
}

func (h *Handler) ApproveJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "id")
		if !h.admit(w, r, "approve_job:"+jobID) {
			return
		}
		job, balance, err := h.Jobs.Approve(r.Context(), jobID, h.actorName(r.Context(), userID(r)))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.notify(r.Context(), []string{job.WorkerID}, "job.approved",
			fmt.Sprintf("Задание «%s» принято, +%d EXP", job.Title, job.Reward))
		writeJSON(w, http.StatusOK, creditResponse{Item: job, Balance: balance})
	}
}

func (h *Handler) RejectJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "id")
		if !h.admit(w, r, "reject_job:"+jobID) {
			return
		}
		job, err := h.Jobs.Reject(r.Context(), jobID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.notify(r.Context(), []string{job.WorkerID}, "job.rejected",
			fmt.Sprintf("Задание «%s» возвращено на доработку", job.Title))
		writeJSON(w, http.StatusOK, job)
	}
}

func (h *Handler) AddShopItemHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var item models.ShopItem
		if !decode(r, &item) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		if err := h.Shop.AddItem(r.Context(), item); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func (h *Handler) ApproveShopHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "id")
		if !h.admit(w, r, "approve_shop:"+requestID) {
			return
		}
		sr, err := h.Shop.Approve(r.Context(), requestID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.notify(r.Context(), []string{sr.UserID}, "shop.approved",
			fmt.Sprintf("Покупка «%s» одобрена", sr.ItemKey))
		writeJSON(w, http.StatusOK, sr)
	}
}

// DenyShopHandler refunds the price through the shop service.
func (h *Handler) DenyShopHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "id")
		if !h.admit(w, r, "deny_shop:"+requestID) {
			return
		}
		sr, balance, err := h.Shop.Deny(r.Context(), requestID, h.actorName(r.Context(), userID(r)))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.notify(r.Context(), []string{sr.UserID}, "shop.denied",
			fmt.Sprintf("Покупка «%s» отклонена, возвращено %d EXP", sr.ItemKey, sr.Cost))
		writeJSON(w, http.StatusOK, creditResponse{Item: sr, Balance: balance})
	}
}

func (h *Handler) CreateMissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID      string `json:"user_id"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Reward      int64  `json:"reward"`
		}
		if !decode(r, &req) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		m, err := h.Missions.Create(r.Context(), req.UserID, req.Title, req.Description, req.Reward)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.notify(r.Context(), []string{m.UserID}, "mission.new",
			fmt.Sprintf("Новая миссия «%s», награда %d EXP", m.Title, m.Reward))
		writeJSON(w, http.StatusCreated, m)
	}
}

func (h *Handler) ApproveMissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		missionID := chi.URLParam(r, "id")
		if !h.admit(w, r, "approve_mission:"+missionID) {
			return
		}
		m, balance, err := h.Missions.Approve(r.Context(), missionID, h.actorName(r.Context(), userID(r)))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.notify(r.Context(), []string{m.UserID}, "mission.approved",
			fmt.Sprintf("Миссия «%s» засчитана, +%d EXP", m.Title, m.Reward))
		writeJSON(w, http.StatusOK, creditResponse{Item: m, Balance: balance})
	}
}

func (h *Handler) RejectMissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		missionID := chi.URLParam(r, "id")
		if !h.admit(w, r, "reject_mission:"+missionID) {
			return
		}
		m, err := h.Missions.Reject(r.Context(), missionID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.notify(r.Context(), []string{m.UserID}, "mission.rejected",
			fmt.Sprintf("Миссия «%s» возвращена", m.Title))
		writeJSON(w, http.StatusOK, m)
	}
}

func (h *Handler) GrantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"user_id"`
			Amount int64  `json:"amount"`
			Reason string `json:"reason"`
		}
		if !decode(r, &req) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		balance, err := h.Accounts.Grant(r.Context(), userID(r), req.UserID, req.Amount, req.Reason)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
	}
}

func (h *Handler) AdjustHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID  string `json:"user_id"`
			Balance int64  `json:"balance"`
		}
		if !decode(r, &req) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		balance, err := h.Accounts.AdjustTo(r.Context(), userID(r), req.UserID, req.Balance)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
	}
}

func (h *Handler) BadgeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"user_id"`
			Key    string `json:"key"`
			Count  int64  `json:"count"`
		}
		if !decode(r, &req) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		if req.Count == 0 {
			req.Count = 1
		}
		if err := h.Accounts.AddInventoryItem(r.Context(), req.UserID, req.Key, req.Count); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) ReconcileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "user")
		fix := r.URL.Query().Get("fix") == "true"
		rep, err := h.Ledger.Reconcile(r.Context(), target, fix)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if rep.Drift != 0 {
			h.Logger.Warn("Расхождение баланса с журналом",
				zap.String("user_id", target), zap.Int64("drift", rep.Drift), zap.Bool("fixed", rep.Fixed))
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// ResetRoleHandler demotes an account to USER instead of deleting it.
func (h *Handler) ResetRoleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "user")
		if err := h.Accounts.ResetRole(r.Context(), target); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.Logger.Info("Роль пользователя сброшена", zap.String("user_id", target), zap.String("by", userID(r)))
		h.notify(r.Context(), []string{target}, "account.role_reset", "Ваша роль сброшена до USER")
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) ClearCacheHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Caches.ClearAll()
		h.Logger.Info("Кэш очищен", zap.String("user_id", userID(r)))
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) ResetSelfHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.Accounts.ResetSelf(r.Context(), userID(r)); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
