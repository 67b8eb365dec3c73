//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brokerdesk/crm/libs/db"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "crm",
				"POSTGRES_PASSWORD": "crm",
				"POSTGRES_DB":       "crm",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := db.Open(ctx, fmt.Sprintf("postgres://crm:crm@%s:%s/crm?sslmode=disable", host, port.Port()), db.Options{})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applied, err := Migrate(ctx, pool)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_init"}, applied)

	again, err := Migrate(ctx, pool)
	require.NoError(t, err)
	require.Empty(t, again, "migrations apply once")

	s := NewStore(pool)
	building := "bldg"
	require.NoError(t, s.PutCalendar(ctx, model.PropertyCalendar{PropertyID: "bldg", Active: true, Timezone: "UTC"},
		[]model.WeeklyWindow{{DayOfWeek: 1, StartMinute: 540, EndMinute: 1020, Active: true}}))
	require.NoError(t, s.PutCalendar(ctx, model.PropertyCalendar{PropertyID: "unit-1", Active: true, Timezone: "UTC", OwnerPropertyID: &building}, nil))
	return s
}

var monday9 = time.Date(2030, 3, 4, 9, 0, 0, 0, time.UTC)

func appointmentAt(start time.Time) model.Appointment {
	unit := "unit-1"
	return model.Appointment{
		PropertyID:      &unit,
		OwnerPropertyID: "bldg",
		Title:           "Showing",
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		Attendees:       []string{"ann@example.com"},
		ExternalEventID: "evt-1",
	}
}

func TestStore_Postgres(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	t.Run("calendar and windows", func(t *testing.T) {
		cal, err := s.GetCalendar(ctx, "unit-1")
		require.NoError(t, err)
		require.NotNil(t, cal.OwnerPropertyID)
		assert.Equal(t, "bldg", *cal.OwnerPropertyID)

		windows, err := s.ListWeeklyWindows(ctx, "bldg")
		require.NoError(t, err)
		require.Len(t, windows, 1)
		assert.Equal(t, 540, windows[0].StartMinute)

		day := model.DateOf(monday9)
		require.NoError(t, s.BlockDate(ctx, "bldg", day, "holiday"))
		require.NoError(t, s.BlockDate(ctx, "bldg", day, "again"))
		blocked, err := s.ListBlockedDates(ctx, "bldg", day, day)
		require.NoError(t, err)
		require.Len(t, blocked, 1)
		assert.Equal(t, day, blocked[0].Date)

		_, err = s.GetCalendar(ctx, "nope")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("exclusion constraint rejects overlap", func(t *testing.T) {
		first, err := s.CreateAppointment(ctx, appointmentAt(monday9))
		require.NoError(t, err)
		assert.Equal(t, model.StatusScheduled, first.Status)

		_, err = s.CreateAppointment(ctx, appointmentAt(monday9.Add(30*time.Minute)))
		assert.ErrorIs(t, err, apperr.ErrConflict)

		touching, err := s.CreateAppointment(ctx, appointmentAt(monday9.Add(time.Hour)))
		require.NoError(t, err, "half-open intervals may touch")

		cancel := "x-" + first.ID
		require.NoError(t, s.SaveTokens(ctx, model.ActionTokens{
			AppointmentID: first.ID, CancelToken: &cancel, ExpiresAt: time.Now().Add(time.Hour),
		}))
		_, err = s.RedeemToken(ctx, model.Redemption{Action: model.ActionCancel, Token: cancel, Now: time.Now(),
			From: []model.AppointmentStatus{model.StatusScheduled}, To: model.StatusCancelled})
		require.NoError(t, err)

		first.Title = "Edited after cancel"
		_, err = s.UpdateAppointment(ctx, first)
		assert.ErrorIs(t, err, apperr.ErrConflict, "staff edits do not touch cancelled rows")
		got, err := s.GetAppointment(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCancelled, got.Status)
		assert.Equal(t, "Showing", got.Title)

		_, err = s.CreateAppointment(ctx, appointmentAt(monday9))
		require.NoError(t, err, "cancelled appointments free their slot")

		ivs, err := s.ListActiveIntervals(ctx, "bldg", monday9.Add(-time.Hour), monday9.Add(3*time.Hour))
		require.NoError(t, err)
		assert.Len(t, ivs, 2)

		require.NoError(t, s.DeleteAppointment(ctx, touching.ID))
		assert.ErrorIs(t, s.DeleteAppointment(ctx, touching.ID), apperr.ErrNotFound)
		_, err = s.GetAppointment(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("token redemption is single use", func(t *testing.T) {
		appt, err := s.CreateAppointment(ctx, appointmentAt(monday9.Add(5*time.Hour)))
		require.NoError(t, err)
		confirm, cancel := "c-"+appt.ID, "x-"+appt.ID
		require.NoError(t, s.SaveTokens(ctx, model.ActionTokens{
			AppointmentID: appt.ID, ConfirmToken: &confirm, CancelToken: &cancel, ExpiresAt: time.Now().Add(time.Hour),
		}))

		redeem := model.Redemption{Action: model.ActionConfirm, Token: confirm, Now: time.Now(),
			From: []model.AppointmentStatus{model.StatusScheduled}, To: model.StatusConfirmed}
		got, err := s.RedeemToken(ctx, redeem)
		require.NoError(t, err)
		assert.Equal(t, model.StatusConfirmed, got.Status)

		_, err = s.RedeemToken(ctx, redeem)
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		toks, err := s.Tokens(ctx, appt.ID)
		require.NoError(t, err)
		assert.Nil(t, toks.ConfirmToken)
		assert.NotNil(t, toks.CancelToken)

		expired := model.Redemption{Action: model.ActionCancel, Token: cancel, Now: time.Now().Add(2 * time.Hour),
			From: []model.AppointmentStatus{model.StatusConfirmed}, To: model.StatusCancelled}
		_, err = s.RedeemToken(ctx, expired)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("queue leasing", func(t *testing.T) {
		now := time.Now().UTC()
		require.NoError(t, s.EnqueueItems(ctx, []model.QueueItem{
			{AppointmentID: "a-1", Kind: model.KindReminder, Channel: model.ChannelEmail, Recipient: "ann@example.com",
				ScheduledFor: now.Add(-time.Minute), MaxAttempts: 3, Payload: map[string]any{"name": "Ann"}},
			{AppointmentID: "a-1", Kind: model.KindReminder, Channel: model.ChannelEmail, Recipient: "ann@example.com",
				ScheduledFor: now.Add(time.Hour), MaxAttempts: 3},
		}))

		claimed, err := s.ClaimDueItems(ctx, now, 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, "Ann", claimed[0].Payload["name"])

		again, err := s.ClaimDueItems(ctx, now, 10, time.Minute)
		require.NoError(t, err)
		assert.Empty(t, again, "leased items are not claimed twice")

		require.NoError(t, s.MarkItemSent(ctx, claimed[0].ID, now))
		require.NoError(t, s.MarkItemFailed(ctx, claimed[0].ID, 1, nil, "late"))

		n, err := s.CancelPendingItems(ctx, "a-1", []model.NotificationKind{model.KindReminder})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		items, err := s.ListItems(ctx, "a-1")
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, model.QueueSent, items[0].Status, "sent items stay sent")
		assert.Equal(t, model.QueueCancelled, items[1].Status)

		next := now.Add(time.Minute)
		require.NoError(t, s.MarkItemFailed(ctx, items[1].ID, 1, &next, "smtp down"))
		require.NoError(t, s.MarkItemSent(ctx, items[1].ID, now))
		items, err = s.ListItems(ctx, "a-1")
		require.NoError(t, err)
		assert.Equal(t, model.QueueCancelled, items[1].Status, "cancelled items stay cancelled")
	})

	t.Run("leads match case-insensitively", func(t *testing.T) {
		a, created, err := s.FindOrCreateLead(ctx, model.Lead{Name: "Ann", Email: "Ann@Example.com"})
		require.NoError(t, err)
		assert.True(t, created)
		b, created, err := s.FindOrCreateLead(ctx, model.Lead{Name: "Ann L", Email: "ann@example.COM"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, a.ID, b.ID)

		require.NoError(t, s.AppendActivity(ctx, model.LeadActivity{LeadID: a.ID, Kind: "appointment_scheduled"}))
		got, err := s.GetLead(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ann@Example.com", got.Email)
	})
}
