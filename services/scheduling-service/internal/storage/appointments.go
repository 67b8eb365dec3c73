package storage

import (
	"context"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/jackc/pgx/v5"
)

const appointmentColumns = `
	id::text, lead_id::text, property_id, owner_property_id, title, description,
	start_time, end_time, location, attendees, external_event_id, status, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.LeadID, &a.PropertyID, &a.OwnerPropertyID, &a.Title, &a.Description,
		&a.StartTime, &a.EndTime, &a.Location, &a.Attendees, &a.ExternalEventID, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) CreateAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	if appt.Status == "" {
		appt.Status = model.StatusScheduled
	}
	if appt.Attendees == nil {
		appt.Attendees = []string{}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(lead_id, property_id, owner_property_id, title, description, start_time, end_time, location, attendees, external_event_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+appointmentColumns,
		appt.LeadID, appt.PropertyID, appt.OwnerPropertyID, appt.Title, appt.Description,
		appt.StartTime, appt.EndTime, appt.Location, appt.Attendees, appt.ExternalEventID, appt.Status)
	saved, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, mapErr(err, "appointment not found")
	}
	return saved, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, apperr.NotFound("appointment not found")
	}
	appt, err := scanAppointment(s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return model.Appointment{}, mapErr(err, "appointment not found")
	}
	return appt, nil
}

// UpdateAppointment saves the editable fields of appt. Status is owned by
// token redemption and is never written here; a row cancelled since it was
// read is left alone and reported as a conflict.
func (s *Store) UpdateAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	if !validID(appt.ID) {
		return model.Appointment{}, apperr.NotFound("appointment not found")
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET title = $2,
			description = $3,
			start_time = $4,
			end_time = $5,
			location = $6,
			updated_at = now()
		WHERE id = $1 AND status <> 'cancelled'
		RETURNING `+appointmentColumns,
		appt.ID, appt.Title, appt.Description, appt.StartTime, appt.EndTime, appt.Location)
	saved, err := scanAppointment(row)
	if err == nil {
		return saved, nil
	}
	if !IsNotFound(err) {
		return model.Appointment{}, mapErr(err, "appointment not found")
	}
	var exists bool
	if qerr := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, appt.ID).Scan(&exists); qerr != nil {
		return model.Appointment{}, qerr
	}
	if exists {
		return model.Appointment{}, apperr.Conflict("appointment was cancelled", nil)
	}
	return model.Appointment{}, apperr.NotFound("appointment not found")
}

// DeleteAppointment removes the row; its tokens go with it.
func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	if !validID(id) {
		return apperr.NotFound("appointment not found")
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment not found")
	}
	return nil
}

func (s *Store) ListAppointments(ctx context.Context, ownerPropertyID string) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE owner_property_id = $1
		ORDER BY start_time
	`, ownerPropertyID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
}

func (s *Store) ListActiveIntervals(ctx context.Context, ownerPropertyID string, start, end time.Time) ([]model.Interval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE owner_property_id = $1
			AND status <> 'cancelled'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time
	`, ownerPropertyID, start, end)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Interval, error) {
		var iv model.Interval
		err := row.Scan(&iv.Start, &iv.End)
		return iv, err
	})
}
