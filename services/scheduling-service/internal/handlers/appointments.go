package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brokerdesk/crm/libs/httpx"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/booking"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

type Bookings interface {
	Book(ctx context.Context, req booking.Request) (booking.Result, error)
	Update(ctx context.Context, id string, p booking.Patch) (model.Appointment, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, propertyID string) ([]model.Appointment, error)
}

type AppointmentHandler struct {
	bookings Bookings
	logger   *slog.Logger
}

func NewAppointmentHandler(bookings Bookings, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{bookings: bookings, logger: logger}
}

type createAppointmentRequest struct {
	PropertyID      string `json:"propertyId"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	StartTime       string `json:"startTime"`
	DurationMinutes int    `json:"durationMinutes"`
	Title           string `json:"title"`
	Notes           string `json:"notes"`
}

type createAppointmentResponse struct {
	AppointmentID   string `json:"appointmentId"`
	ExternalEventID string `json:"externalEventId"`
	LeadID          string `json:"leadId"`
}

type appointmentItem struct {
	ID              string   `json:"id"`
	LeadID          string   `json:"leadId,omitempty"`
	PropertyID      string   `json:"propertyId,omitempty"`
	OwnerPropertyID string   `json:"ownerPropertyId"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	StartTime       string   `json:"startTime"`
	EndTime         string   `json:"endTime"`
	Location        string   `json:"location,omitempty"`
	Attendees       []string `json:"attendees"`
	ExternalEventID string   `json:"externalEventId,omitempty"`
	Status          string   `json:"status"`
}

func toItem(a model.Appointment) appointmentItem {
	it := appointmentItem{
		ID:              a.ID,
		OwnerPropertyID: a.OwnerPropertyID,
		Title:           a.Title,
		Description:     a.Description,
		StartTime:       a.StartTime.UTC().Format(time.RFC3339),
		EndTime:         a.EndTime.UTC().Format(time.RFC3339),
		Location:        a.Location,
		Attendees:       a.Attendees,
		ExternalEventID: a.ExternalEventID,
		Status:          string(a.Status),
	}
	if it.Attendees == nil {
		it.Attendees = []string{}
	}
	if a.LeadID != nil {
		it.LeadID = *a.LeadID
	}
	if a.PropertyID != nil {
		it.PropertyID = *a.PropertyID
	}
	return it
}

// Create serves the public booking form: POST /api/v1/appointments.
func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		writeErr(w, r, h.logger, apperr.Validation("startTime must be RFC 3339"))
		return
	}
	minutes := req.DurationMinutes
	if minutes == 0 {
		minutes = defaultDurationMinutes
	}

	res, err := h.bookings.Book(r.Context(), booking.Request{
		PropertyID: req.PropertyID,
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		StartTime:  start,
		Duration:   time.Duration(minutes) * time.Minute,
		Title:      req.Title,
		Notes:      req.Notes,
	})
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, createAppointmentResponse{
		AppointmentID:   res.Appointment.ID,
		ExternalEventID: res.Appointment.ExternalEventID,
		LeadID:          res.Lead.ID,
	})
}

// List serves GET /api/v1/appointments?propertyId=.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	appts, err := h.bookings.List(r.Context(), r.URL.Query().Get("propertyId"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toItem(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": items, "total": len(items)})
}

type patchAppointmentRequest struct {
	StartTime       *string `json:"startTime"`
	DurationMinutes *int    `json:"durationMinutes"`
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Location        *string `json:"location"`
}

// Update serves staff edits: PATCH /api/v1/appointments/{id}.
func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req patchAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	p := booking.Patch{Title: req.Title, Description: req.Description, Location: req.Location}
	if req.StartTime != nil {
		start, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.StartTime))
		if err != nil {
			writeErr(w, r, h.logger, apperr.Validation("startTime must be RFC 3339"))
			return
		}
		p.StartTime = &start
	}
	if req.DurationMinutes != nil {
		d := time.Duration(*req.DurationMinutes) * time.Minute
		p.Duration = &d
	}

	appt, err := h.bookings.Update(r.Context(), r.PathValue("id"), p)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toItem(appt))
}

// Delete serves DELETE /api/v1/appointments/{id}.
func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.bookings.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
