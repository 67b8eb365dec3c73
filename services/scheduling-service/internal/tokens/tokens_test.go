package tokens_test

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/calendar"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/outbox"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/storage/memstore"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFollowups struct {
	mu         sync.Mutex
	cancelled  []string
	reschedule []string
}

func (f *recordingFollowups) CancelAppointmentReminders(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *recordingFollowups) ScheduleRescheduleRequest(_ context.Context, appt model.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reschedule = append(f.reschedule, appt.ID)
	return nil
}

type fixture struct {
	store     *memstore.Store
	gateway   *calendar.MemoryGateway
	followups *recordingFollowups
	manager   *tokens.Manager
	appt      model.Appointment
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:     memstore.New(),
		gateway:   calendar.NewMemoryGateway(),
		followups: &recordingFollowups{},
		now:       time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	f.store.PutCalendar(model.PropertyCalendar{PropertyID: "bldg", Active: true, Timezone: "UTC", ExternalCalendarID: "gcal"})

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	eventID, err := f.gateway.CreateEvent(ctx, "gcal", calendar.Event{Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	lead := "lead-1"
	f.appt, err = f.store.CreateAppointment(ctx, model.Appointment{
		OwnerPropertyID: "bldg",
		LeadID:          &lead,
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		ExternalEventID: eventID,
		Status:          model.StatusScheduled,
	})
	require.NoError(t, err)

	f.manager = tokens.NewManager(tokens.Deps{
		Store:     f.store,
		Calendars: f.store,
		Gateway:   f.gateway,
		Followups: f.followups,
		Activity:  f.store,
		Events:    f.store,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) issue(t *testing.T) model.ActionTokens {
	t.Helper()
	toks, err := f.manager.Issue(context.Background(), f.appt.ID)
	require.NoError(t, err)
	return toks
}

func TestCodec(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tok := tokens.Encode("appt-1", model.ActionCancel, at)

	claims, err := tokens.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, "appt-1", claims.AppointmentID)
	assert.Equal(t, model.ActionCancel, claims.Action)
	assert.True(t, claims.IssuedAt.Equal(at))

	std := base64.StdEncoding.EncodeToString([]byte("appt-1:confirm:1700000000000"))
	claims, err = tokens.Decode(std)
	require.NoError(t, err)
	assert.Equal(t, model.ActionConfirm, claims.Action)

	for _, bad := range []string{"", "!!!", base64.URLEncoding.EncodeToString([]byte("appt-1:delete:1")), base64.URLEncoding.EncodeToString([]byte("appt-1:confirm:x"))} {
		_, err := tokens.Decode(bad)
		assert.ErrorIs(t, err, tokens.ErrMalformed, bad)
	}
}

func TestConfirmIsSingleUse(t *testing.T) {
	f := newFixture(t)
	toks := f.issue(t)
	ctx := context.Background()

	res, err := f.manager.Redeem(ctx, model.ActionConfirm, *toks.ConfirmToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, model.StatusConfirmed, res.Appointment.Status)

	res, err = f.manager.Redeem(ctx, model.ActionConfirm, *toks.ConfirmToken)
	assert.ErrorIs(t, err, apperr.ErrExpiredToken)
	assert.Equal(t, tokens.OutcomeInvalid, res.Outcome)

	stored, ok := f.store.Tokens(f.appt.ID)
	require.True(t, ok)
	assert.Nil(t, stored.ConfirmToken)
	assert.NotNil(t, stored.CancelToken, "confirm spends only its own slot")
	assert.NotNil(t, stored.RescheduleToken)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	toks := f.issue(t)
	ctx := context.Background()

	res, err := f.manager.Redeem(ctx, model.ActionCancel, *toks.CancelToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.OutcomeCancelled, res.Outcome)
	assert.Equal(t, 0, f.gateway.Len(), "external event removed")
	assert.Equal(t, []string{f.appt.ID}, f.followups.cancelled)

	res, err = f.manager.Redeem(ctx, model.ActionCancel, *toks.CancelToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.OutcomeAlreadyCancelled, res.Outcome)
	assert.Empty(t, res.Appointment.ID, "a spent link reveals nothing about the appointment")
	assert.True(t, res.Appointment.StartTime.IsZero())

	stored, _ := f.store.Tokens(f.appt.ID)
	assert.Nil(t, stored.ConfirmToken)
	assert.Nil(t, stored.RescheduleToken)
	assert.Nil(t, stored.CancelToken)

	_, err = f.manager.Redeem(ctx, model.ActionConfirm, *toks.ConfirmToken)
	assert.ErrorIs(t, err, apperr.ErrExpiredToken, "cancelling invalidates every outstanding link")

	var cancelledEvents int
	for _, e := range f.store.Events() {
		if e.EventType == outbox.EventAppointmentCancelled {
			cancelledEvents++
		}
	}
	assert.Equal(t, 1, cancelledEvents)
}

func TestActionMustMatchEndpoint(t *testing.T) {
	f := newFixture(t)
	toks := f.issue(t)

	res, err := f.manager.Redeem(context.Background(), model.ActionCancel, *toks.ConfirmToken)
	assert.ErrorIs(t, err, apperr.ErrExpiredToken)
	assert.Equal(t, tokens.OutcomeInvalid, res.Outcome)

	appt, _ := f.store.GetAppointment(context.Background(), f.appt.ID)
	assert.Equal(t, model.StatusScheduled, appt.Status, "no state change")
}

func TestExpiredToken(t *testing.T) {
	f := newFixture(t)
	toks := f.issue(t)
	f.now = f.now.Add(tokens.DefaultTTL + time.Minute)

	res, err := f.manager.Redeem(context.Background(), model.ActionConfirm, *toks.ConfirmToken)
	assert.ErrorIs(t, err, apperr.ErrExpiredToken)
	assert.Equal(t, tokens.OutcomeInvalid, res.Outcome)
}

func TestUnknownTokenWithValidShape(t *testing.T) {
	f := newFixture(t)
	f.issue(t)
	forged := tokens.Encode(f.appt.ID, model.ActionConfirm, f.now.Add(-time.Hour))

	_, err := f.manager.Redeem(context.Background(), model.ActionConfirm, forged)
	assert.ErrorIs(t, err, apperr.ErrExpiredToken, "decoding alone grants nothing")
}

func TestRescheduleLogsIntent(t *testing.T) {
	f := newFixture(t)
	toks := f.issue(t)
	ctx := context.Background()

	_, err := f.manager.Redeem(ctx, model.ActionConfirm, *toks.ConfirmToken)
	require.NoError(t, err)

	res, err := f.manager.Redeem(ctx, model.ActionReschedule, *toks.RescheduleToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.OutcomeRescheduleRequested, res.Outcome)
	assert.Equal(t, model.StatusScheduled, res.Appointment.Status)
	assert.Equal(t, []string{f.appt.ID}, f.followups.reschedule)
	assert.Equal(t, 1, f.gateway.Len(), "reschedule keeps the event")

	kinds := map[string]bool{}
	for _, a := range f.store.Activity() {
		kinds[a.Kind] = true
	}
	assert.True(t, kinds["appointment_confirmed"])
	assert.True(t, kinds["reschedule_requested"])
}

func TestLinks(t *testing.T) {
	tok := "YQ=="
	links := tokens.Links("https://crm.example.com/", model.ActionTokens{ConfirmToken: &tok})
	assert.Equal(t, "https://crm.example.com/api/v1/appointments/confirm?token=YQ%3D%3D", links[model.ActionConfirm])
	assert.NotContains(t, links, model.ActionCancel)
}
