package routers

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/service"
	"go.uber.org/zap"
)

type stopResponse struct {
	Session  models.StudySession `json:"session"`
	Estimate *service.Estimate   `json:"estimate,omitempty"`
	Report   service.ReportStep  `json:"report"`
}

type activeResponse struct {
	Session *models.StudySession `json:"session,omitempty"`
	Report  *service.ReportStep  `json:"report,omitempty"`
}

func (h *Handler) StudyStartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Subject string `json:"subject"`
		}
		if r.ContentLength != 0 && !decode(r, &req) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		if !h.admit(w, r, "study_start") {
			return
		}
		sess, err := h.Study.Start(r.Context(), userID(r), req.Subject)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

// StudyStopHandler closes the session and opens the report conversation.
func (h *Handler) StudyStopHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.admit(w, r, "study_stop") {
			return
		}
		id := userID(r)
		sess, err := h.Study.Stop(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp := stopResponse{Session: sess}
		if est, ok := service.EstimateRank(sess.Minutes, 1); ok {
			resp.Estimate = &est
		}
		step, err := h.Report.Begin(r.Context(), id, sess)
		if err != nil {
			h.Logger.Warn("Не удалось начать отчёт", zap.String("user_id", id), zap.Error(err))
		}
		resp.Report = step
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) StudyCancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.admit(w, r, "study_cancel") {
			return
		}
		if err := h.Study.Cancel(r.Context(), userID(r)); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) StudyReportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if !decode(r, &req) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		step, err := h.Report.Handle(r.Context(), userID(r), req.Text)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, step)
	}
}

func (h *Handler) StudyActiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := userID(r)
		var resp activeResponse
		sess, ok, err := h.Study.Active(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if ok {
			resp.Session = &sess
		}
		step, ok, err := h.Report.Pending(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if ok {
			resp.Report = &step
		}
		if resp.Session == nil && resp.Report == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) cronAuthorized(r *http.Request) bool {
	if h.CronToken == "" {
		return false
	}
	got := r.Header.Get("X-Cron-Token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.CronToken)) == 1
}

// CheckTimeoutHandler is called by an external scheduler.
func (h *Handler) CheckTimeoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.cronAuthorized(r) {
			http.Error(w, "недостаточно прав", http.StatusForbidden)
			return
		}
		if h.Sweep == nil {
			http.Error(w, "проверка таймаутов не настроена", http.StatusServiceUnavailable)
			return
		}
		closed, err := h.Sweep(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"closed":  len(closed),
			"message": fmt.Sprintf("закрыто занятий: %d", len(closed)),
		})
	}
}
