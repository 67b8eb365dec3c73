package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/pages"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/tokens"
)

type Redeemer interface {
	Redeem(ctx context.Context, action model.TokenAction, token string) (tokens.Result, error)
}

type CalendarLookup interface {
	GetCalendar(ctx context.Context, propertyID string) (model.PropertyCalendar, error)
}

// ActionHandler serves the links mailed to bookers. Every request ends on a
// page; repeated clicks only change state the first time.
type ActionHandler struct {
	tokens    Redeemer
	calendars CalendarLookup
	logger    *slog.Logger
}

func NewActionHandler(tokens Redeemer, calendars CalendarLookup, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{tokens: tokens, calendars: calendars, logger: logger}
}

func (h *ActionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.redeem(w, r, model.ActionConfirm)
}

func (h *ActionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.redeem(w, r, model.ActionCancel)
}

func (h *ActionHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	h.redeem(w, r, model.ActionReschedule)
}

func (h *ActionHandler) redeem(w http.ResponseWriter, r *http.Request, action model.TokenAction) {
	res, err := h.tokens.Redeem(r.Context(), action, r.URL.Query().Get("token"))
	if err != nil && res.Outcome != tokens.OutcomeInvalid {
		h.logger.Error("redeem action link failed", "token_action", action, "err", err)
		pages.Render(w, http.StatusInternalServerError, pages.Page{
			Title:   "Something went wrong",
			Heading: "Something went wrong",
			Message: "We could not process this link right now. Please try again in a few minutes.",
			Tone:    pages.ToneError,
		})
		return
	}

	when := h.when(r.Context(), res.Appointment)
	switch res.Outcome {
	case tokens.OutcomeConfirmed:
		pages.Render(w, http.StatusOK, pages.Page{
			Title: "Showing confirmed", Heading: "Your showing is confirmed",
			Message: "Thanks for confirming. We look forward to seeing you.", When: when, Tone: pages.ToneOK,
		})
	case tokens.OutcomeCancelled:
		pages.Render(w, http.StatusOK, pages.Page{
			Title: "Showing cancelled", Heading: "Your showing has been cancelled",
			Message: "The appointment below has been cancelled. You can book a new time at any point.", When: when, Tone: pages.ToneWarn,
		})
	case tokens.OutcomeAlreadyCancelled:
		pages.Render(w, http.StatusOK, pages.Page{
			Title: "Already cancelled", Heading: "This showing was already cancelled",
			Message: "No further action is needed.", Tone: pages.ToneWarn,
		})
	case tokens.OutcomeRescheduleRequested:
		pages.Render(w, http.StatusOK, pages.Page{
			Title: "Reschedule requested", Heading: "We received your reschedule request",
			Message: "Our team will contact you shortly to find a new time.", When: when, Tone: pages.ToneOK,
		})
	default:
		pages.Render(w, http.StatusBadRequest, pages.Page{
			Title: "Link expired", Heading: "This link is invalid or has expired",
			Message: "Links can be used once and expire after a week. Please contact us if you need help with your appointment.",
			Tone:    pages.ToneError,
		})
	}
}

func (h *ActionHandler) when(ctx context.Context, appt model.Appointment) string {
	if appt.StartTime.IsZero() {
		return ""
	}
	loc := time.UTC
	if h.calendars != nil && appt.OwnerPropertyID != "" {
		if cal, err := h.calendars.GetCalendar(ctx, appt.OwnerPropertyID); err == nil {
			loc = cal.Loc()
		}
	}
	return pages.FormatWhen(appt.StartTime, loc)
}
