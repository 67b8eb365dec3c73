package storage

import (
	"context"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/jackc/pgx/v5"
)

func (s *Store) GetCalendar(ctx context.Context, propertyID string) (model.PropertyCalendar, error) {
	var c model.PropertyCalendar
	err := s.pool.QueryRow(ctx, `
		SELECT property_id, title, active, timezone, owner_property_id, external_calendar_id, location
		FROM property_calendars
		WHERE property_id = $1
	`, propertyID).Scan(&c.PropertyID, &c.Title, &c.Active, &c.Timezone, &c.OwnerPropertyID, &c.ExternalCalendarID, &c.Location)
	if err != nil {
		return model.PropertyCalendar{}, mapErr(err, "property calendar not found")
	}
	return c, nil
}

func (s *Store) ListWeeklyWindows(ctx context.Context, propertyID string) ([]model.WeeklyWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT property_id, day_of_week, start_minute, end_minute, active
		FROM weekly_windows
		WHERE property_id = $1
		ORDER BY day_of_week, start_minute
	`, propertyID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WeeklyWindow, error) {
		var w model.WeeklyWindow
		err := row.Scan(&w.PropertyID, &w.DayOfWeek, &w.StartMinute, &w.EndMinute, &w.Active)
		return w, err
	})
}

func (s *Store) ListBlockedDates(ctx context.Context, propertyID string, from, to model.Date) ([]model.BlockedDate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT property_id, blocked_on, reason
		FROM blocked_dates
		WHERE property_id = $1 AND blocked_on BETWEEN $2 AND $3
		ORDER BY blocked_on
	`, propertyID, dateValue(from), dateValue(to))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.BlockedDate, error) {
		var b model.BlockedDate
		var on time.Time
		if err := row.Scan(&b.PropertyID, &on, &b.Reason); err != nil {
			return b, err
		}
		b.Date = model.DateOf(on)
		return b, nil
	})
}

// PutCalendar upserts a calendar and replaces its weekly windows.
func (s *Store) PutCalendar(ctx context.Context, cal model.PropertyCalendar, windows []model.WeeklyWindow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO property_calendars (property_id, title, active, timezone, owner_property_id, external_calendar_id, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (property_id) DO UPDATE
		SET title = EXCLUDED.title,
			active = EXCLUDED.active,
			timezone = EXCLUDED.timezone,
			owner_property_id = EXCLUDED.owner_property_id,
			external_calendar_id = EXCLUDED.external_calendar_id,
			location = EXCLUDED.location,
			updated_at = now()
	`, cal.PropertyID, cal.Title, cal.Active, cal.Timezone, cal.OwnerPropertyID, cal.ExternalCalendarID, cal.Location)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM weekly_windows WHERE property_id = $1`, cal.PropertyID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, w := range windows {
		batch.Queue(`
			INSERT INTO weekly_windows (property_id, day_of_week, start_minute, end_minute, active)
			VALUES ($1, $2, $3, $4, $5)
		`, cal.PropertyID, w.DayOfWeek, w.StartMinute, w.EndMinute, w.Active)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) BlockDate(ctx context.Context, propertyID string, d model.Date, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blocked_dates (property_id, blocked_on, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (property_id, blocked_on) DO NOTHING
	`, propertyID, dateValue(d), reason)
	return err
}

func dateValue(d model.Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}
