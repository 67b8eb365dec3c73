package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brokerdesk/crm/libs/httpx"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/availability"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/booking"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/calendar"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/handlers"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/reminders"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/storage/memstore"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type captured struct {
	to, subject, body string
}

type captureSender struct {
	sent []captured
	err  error
}

func (c *captureSender) Send(_ context.Context, _ model.Channel, to, subject, body string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.sent = append(c.sent, captured{to: to, subject: subject, body: body})
	return "capture", nil
}

type server struct {
	store   *memstore.Store
	gateway *calendar.MemoryGateway
	sender  *captureSender
	mux     *http.ServeMux
}

func newServer(t *testing.T, opts ...func(*handlers.Routes)) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return now }

	store := memstore.New()
	building := "bldg"
	store.PutCalendar(model.PropertyCalendar{PropertyID: "bldg", Title: "10 Main St", Active: true, Timezone: "UTC"},
		model.WeeklyWindow{DayOfWeek: 1, StartMinute: 9 * 60, EndMinute: 17 * 60, Active: true})
	store.PutCalendar(model.PropertyCalendar{PropertyID: "unit-1", Active: true, Timezone: "UTC", OwnerPropertyID: &building})
	store.PutCalendar(model.PropertyCalendar{PropertyID: "closed", Active: false, Timezone: "UTC"})

	gw := calendar.NewMemoryGateway()
	cfg := reminders.Config{Offsets: []time.Duration{24 * time.Hour}, AdminEmail: "agent@example.com"}
	sched := reminders.NewScheduler(store, cfg, logger).WithClock(clock)
	resolver := availability.NewResolver(store, store, gw, logger).WithClock(clock)
	mgr := tokens.NewManager(tokens.Deps{
		Store: store, Calendars: store, Gateway: gw, Followups: sched,
		Activity: store, Events: store, Logger: logger,
	}).WithClock(clock)
	orch := booking.NewOrchestrator(booking.Deps{
		Store: store, Leads: store, Availability: resolver, Gateway: gw, Notifier: sched,
		Tokens: mgr, Activity: store, Events: store, Logger: logger, PublicBaseURL: "https://crm.example.com",
	}).WithClock(clock)
	sender := &captureSender{}
	proc := reminders.NewProcessor(store, sender, cfg, logger).WithClock(clock)

	mux := http.NewServeMux()
	routes := handlers.Routes{
		Availability: handlers.NewAvailabilityHandler(resolver, logger),
		Appointments: handlers.NewAppointmentHandler(orch, logger),
		Actions:      handlers.NewActionHandler(mgr, store, logger),
		Reminders:    handlers.NewReminderHandler(proc, logger),
		CronSecret:   "cron-secret",
	}
	for _, opt := range opts {
		opt(&routes)
	}
	routes.Register(mux)
	return &server{store: store, gateway: gw, sender: sender, mux: mux}
}

func (s *server) do(t *testing.T, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func bookingBody(start string) map[string]any {
	return map[string]any{
		"propertyId":      "unit-1",
		"name":            "Ann Lee",
		"email":           "ann@example.com",
		"startTime":       start,
		"durationMinutes": 60,
	}
}

func TestAvailability(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/availability?propertyId=unit-1&date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		AvailableSlots []struct {
			Start       string `json:"start"`
			End         string `json:"end"`
			DisplayTime string `json:"display_time"`
		} `json:"available_slots"`
		TotalSlots int `json:"total_slots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 8, body.TotalSlots)
	assert.Equal(t, "2026-03-02T09:00:00Z", body.AvailableSlots[0].Start)
	assert.Equal(t, "9:00 AM", body.AvailableSlots[0].DisplayTime)

	rec = s.do(t, http.MethodGet, "/api/v1/availability?propertyId=bldg&date=2026-02-20", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "past date")

	rec = s.do(t, http.MethodGet, "/api/v1/availability?propertyId=bldg&date=03/02/2026", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/availability?propertyId=bldg&date=2026-03-02&duration=481", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/availability?propertyId=closed&date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_slots":0`)
	assert.Contains(t, rec.Body.String(), `"available_slots":[]`)
}

func TestBookConfirmAndCancelFlow(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/appointments", bookingBody("2026-03-02T10:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		AppointmentID   string `json:"appointmentId"`
		ExternalEventID string `json:"externalEventId"`
		LeadID          string `json:"leadId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.AppointmentID)
	assert.NotEmpty(t, created.ExternalEventID)
	assert.NotEmpty(t, created.LeadID)

	rec = s.do(t, http.MethodPost, "/api/v1/appointments", bookingBody("2026-03-02T10:00:00Z"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/availability?propertyId=bldg&date=2026-03-02", nil)
	assert.NotContains(t, rec.Body.String(), "2026-03-02T10:00:00Z")

	toks, ok := s.store.Tokens(created.AppointmentID)
	require.True(t, ok)
	confirm := "/api/v1/appointments/confirm?token=" + *toks.ConfirmToken
	rec = s.do(t, http.MethodGet, confirm, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "confirmed")
	assert.Contains(t, rec.Body.String(), "Monday, March 2, 2026 at 10:00 AM")

	rec = s.do(t, http.MethodGet, confirm, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "confirm links are single use")
	assert.Contains(t, rec.Body.String(), "invalid or has expired")

	cancel := "/api/v1/appointments/cancel?token=" + *toks.CancelToken
	rec = s.do(t, http.MethodGet, cancel, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "has been cancelled")
	assert.Zero(t, s.gateway.Len())

	rec = s.do(t, http.MethodGet, cancel, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already cancelled")
	assert.NotContains(t, rec.Body.String(), "March 2, 2026", "spent links do not show the appointment time")
}

func TestActionLinkWithWrongActionIsRejected(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/appointments", bookingBody("2026-03-02T11:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		AppointmentID string `json:"appointmentId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	toks, _ := s.store.Tokens(created.AppointmentID)

	rec = s.do(t, http.MethodGet, "/api/v1/appointments/confirm?token="+*toks.CancelToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/appointments/cancel?token=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateValidation(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/appointments", map[string]any{"propertyId": "bldg", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := bookingBody("tomorrow at ten")
	rec = s.do(t, http.MethodPost, "/api/v1/appointments", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = bookingBody("2026-03-02T10:00:00Z")
	body["email"] = "nope"
	rec = s.do(t, http.MethodPost, "/api/v1/appointments", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "email")
	assert.Zero(t, s.gateway.Len())
}

func TestCreateUpstreamFailureIsGeneric(t *testing.T) {
	s := newServer(t)
	s.gateway.FailCreate = errors.New("oauth token revoked for calendar owner")

	rec := s.do(t, http.MethodPost, "/api/v1/appointments", bookingBody("2026-03-02T10:00:00Z"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "oauth")
	assert.Empty(t, s.store.Appointments())
}

func TestStaffEditAndList(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/appointments", bookingBody("2026-03-02T10:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		AppointmentID string `json:"appointmentId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = s.do(t, http.MethodPatch, "/api/v1/appointments/"+created.AppointmentID,
		map[string]any{"startTime": "2026-03-02T14:00:00Z", "title": "Second viewing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"startTime":"2026-03-02T14:00:00Z"`)
	assert.Contains(t, rec.Body.String(), `"endTime":"2026-03-02T15:00:00Z"`)

	rec = s.do(t, http.MethodGet, "/api/v1/appointments?propertyId=unit-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
	assert.Contains(t, rec.Body.String(), "Second viewing")

	rec = s.do(t, http.MethodDelete, "/api/v1/appointments/"+created.AppointmentID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/v1/appointments/"+created.AppointmentID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, s.gateway.Len())
}

func TestReminderProcessing(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/appointments", bookingBody("2026-03-02T10:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/internal/reminders/process", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/internal/reminders/process", nil, "Authorization", "Bearer cron-secret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"claimed":1,"sent":1,"failed":0}`, rec.Body.String(), "only the confirmation is due")
	require.Len(t, s.sender.sent, 1)
	assert.Equal(t, "ann@example.com", s.sender.sent[0].to)
	assert.Contains(t, s.sender.sent[0].body, "https://crm.example.com/api/v1/appointments/confirm?token=")

	rec = s.do(t, http.MethodGet, "/api/v1/internal/reminders/process?limit=10", nil, "Authorization", "Bearer cron-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"claimed":0,"sent":0,"failed":0}`, rec.Body.String())
	assert.Len(t, s.sender.sent, 1)

	rec = s.do(t, http.MethodGet, "/api/v1/internal/reminders/process?limit=x", nil, "Authorization", "Bearer cron-secret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRescheduleLinkNotifiesAdmin(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/appointments", bookingBody("2026-03-02T10:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		AppointmentID string `json:"appointmentId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	toks, _ := s.store.Tokens(created.AppointmentID)

	rec = s.do(t, http.MethodGet, "/api/v1/appointments/reschedule?token="+*toks.RescheduleToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reschedule request")

	var toAdmin int
	for _, it := range s.store.Items(created.AppointmentID) {
		if it.Kind == model.KindRescheduleRequest && strings.EqualFold(it.Recipient, "agent@example.com") {
			toAdmin++
		}
	}
	assert.Equal(t, 1, toAdmin)
}

func TestStaffRoutesUseStaffMiddleware(t *testing.T) {
	s := newServer(t, func(r *handlers.Routes) { r.Staff = httpx.RequireBearer("staff-secret") })

	rec := s.do(t, http.MethodGet, "/api/v1/appointments?propertyId=bldg", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/appointments?propertyId=bldg", nil, "Authorization", "Bearer staff-secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/availability?propertyId=bldg&date=2026-03-02", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
