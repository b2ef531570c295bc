package routers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/auth"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"go.uber.org/zap"
)

func (h *Handler) setAuthCookie(w http.ResponseWriter, userID string) error {
	token, err := h.Auth.GenerateJWT(userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(h.TokenTTL),
		HttpOnly: true,
	})
	return nil
}

func (h *Handler) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.RegisterRequest
		if !decode(r, &req) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		req.UserID = strings.TrimSpace(req.UserID)
		if req.UserID == "" || req.Pin == "" {
			http.Error(w, "нужны user_id и pin", http.StatusBadRequest)
			return
		}
		if _, err := h.Accounts.Get(r.Context(), req.UserID); err == nil {
			http.Error(w, "пользователь уже существует", http.StatusConflict)
			return
		}
		acc, err := h.Accounts.Register(r.Context(), req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := h.setAuthCookie(w, acc.UserID); err != nil {
			h.Logger.Error("Ошибка выпуска токена", zap.Error(err))
			http.Error(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, acc)
	}
}

func (h *Handler) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.RegisterRequest
		if !decode(r, &req) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		acc, err := h.Accounts.Login(r.Context(), req.UserID, req.Pin)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := h.setAuthCookie(w, acc.UserID); err != nil {
			h.Logger.Error("Ошибка выпуска токена", zap.Error(err))
			http.Error(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := h.Accounts.Get(r.Context(), userID(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, models.StatusResponse{
			UserID:            acc.UserID,
			DisplayName:       acc.DisplayName,
			Balance:           acc.CurrentExp,
			TotalStudyMinutes: acc.TotalStudyMinutes,
			Rank:              acc.Rank,
			Role:              acc.Role,
			Inventory:         acc.Inventory,
		})
	}
}

func (h *Handler) HistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := h.Ledger.History(r.Context(), userID(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeList(w, history)
	}
}

func (h *Handler) RankingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ranking, err := h.Accounts.Ranking(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeList(w, ranking)
	}
}

func (h *Handler) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.History.UserStats(r.Context(), userID(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func (h *Handler) WeeklyRankingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ranking, err := h.History.WeeklyRanking(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeList(w, ranking)
	}
}

func (h *Handler) ActivityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				http.Error(w, "неверный параметр limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		items, err := h.History.RecentActivity(r.Context(), limit)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeList(w, items)
	}
}
