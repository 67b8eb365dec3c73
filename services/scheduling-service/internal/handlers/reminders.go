package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/brokerdesk/crm/libs/httpx"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/reminders"
)

type ReminderPass interface {
	ProcessDue(ctx context.Context, limit int) (reminders.PassResult, error)
}

type ReminderHandler struct {
	pass   ReminderPass
	logger *slog.Logger
}

func NewReminderHandler(pass ReminderPass, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{pass: pass, logger: logger}
}

// Process runs one delivery pass. It is called by an external cron and is
// safe to call repeatedly for the same window.
func (h *ReminderHandler) Process(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErr(w, r, h.logger, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}
	res, err := h.pass.ProcessDue(r.Context(), limit)
	if err != nil {
		h.logger.Error("reminder pass incomplete", "claimed", res.Claimed, "sent", res.Sent, "failed", res.Failed, "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "reminder pass incomplete", "result": res})
		return
	}
	h.logger.Info("reminder pass complete", "claimed", res.Claimed, "sent", res.Sent, "failed", res.Failed)
	httpx.WriteJSON(w, http.StatusOK, res)
}
