package routers

import (
	"fmt"
	"net/http"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/go-chi/chi/v5"
)

type buyResponse struct {
	Request models.ShopRequest `json:"request"`
	Balance int64              `json:"balance"`
}

func (h *Handler) ShopItemsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := h.Shop.Items(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeList(w, items)
	}
}

func (h *Handler) ShopBuyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ItemKey string `json:"item_key"`
		}
		if !decode(r, &req) || req.ItemKey == "" {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		if !h.admit(w, r, "buy:"+req.ItemKey) {
			return
		}
		id := userID(r)
		sr, balance, err := h.Shop.Buy(r.Context(), id, req.ItemKey)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.notify(r.Context(), h.Accounts.AdminIDs(r.Context()), "shop.request",
			fmt.Sprintf("%s запрашивает «%s» за %d EXP", h.actorName(r.Context(), id), sr.ItemKey, sr.Cost))
		writeJSON(w, http.StatusOK, buyResponse{Request: sr, Balance: balance})
	}
}

func (h *Handler) OpenJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := h.Jobs.Open(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeList(w, jobs)
	}
}

func (h *Handler) MyJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := h.Jobs.ActiveFor(r.Context(), userID(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeList(w, jobs)
	}
}

func (h *Handler) AcceptJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "id")
		if !h.admit(w, r, "job_accept:"+jobID) {
			return
		}
		job, err := h.Jobs.Accept(r.Context(), jobID, userID(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func (h *Handler) FinishJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Comment string `json:"comment"`
		}
		if r.ContentLength != 0 && !decode(r, &req) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		jobID := chi.URLParam(r, "id")
		if !h.admit(w, r, "job_finish:"+jobID) {
			return
		}
		id := userID(r)
		job, err := h.Jobs.Finish(r.Context(), jobID, id, req.Comment)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.notify(r.Context(), h.Accounts.AdminIDs(r.Context()), "job.review",
			fmt.Sprintf("%s выполнил задание «%s»", h.actorName(r.Context(), id), job.Title))
		writeJSON(w, http.StatusOK, job)
	}
}

func (h *Handler) MissionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		missions, err := h.Missions.Active(r.Context(), userID(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeList(w, missions)
	}
}

func (h *Handler) CompleteMissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		missionID := chi.URLParam(r, "id")
		if !h.admit(w, r, "mission_complete:"+missionID) {
			return
		}
		id := userID(r)
		m, err := h.Missions.Complete(r.Context(), missionID, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.notify(r.Context(), h.Accounts.AdminIDs(r.Context()), "mission.review",
			fmt.Sprintf("%s завершил миссию «%s»", h.actorName(r.Context(), id), m.Title))
		writeJSON(w, http.StatusOK, m)
	}
}
