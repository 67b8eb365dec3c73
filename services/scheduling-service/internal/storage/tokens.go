package storage

import (
	"context"
	"fmt"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

// SaveTokens replaces the token row of an appointment.
func (s *Store) SaveTokens(ctx context.Context, t model.ActionTokens) error {
	if !validID(t.AppointmentID) {
		return apperr.NotFound("appointment not found")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO appointment_tokens (appointment_id, confirm_token, reschedule_token, cancel_token, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (appointment_id) DO UPDATE
		SET confirm_token = EXCLUDED.confirm_token,
			reschedule_token = EXCLUDED.reschedule_token,
			cancel_token = EXCLUDED.cancel_token,
			expires_at = EXCLUDED.expires_at,
			created_at = now()
	`, t.AppointmentID, t.ConfirmToken, t.RescheduleToken, t.CancelToken, t.ExpiresAt)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return apperr.NotFound("appointment not found")
		}
		return err
	}
	return nil
}

func tokenColumn(action model.TokenAction) (string, error) {
	switch action {
	case model.ActionConfirm:
		return "confirm_token", nil
	case model.ActionReschedule:
		return "reschedule_token", nil
	case model.ActionCancel:
		return "cancel_token", nil
	}
	return "", fmt.Errorf("unknown token action %q", action)
}

// RedeemToken spends a token and moves its appointment in one transaction.
// Both rows are locked, so two redemptions of the same token serialise and
// only the first finds it.
func (s *Store) RedeemToken(ctx context.Context, r model.Redemption) (model.Appointment, error) {
	col, err := tokenColumn(r.Action)
	if err != nil {
		return model.Appointment{}, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var appointmentID string
	err = tx.QueryRow(ctx, `
		SELECT appointment_id::text
		FROM appointment_tokens
		WHERE `+col+` = $1 AND expires_at > $2
		FOR UPDATE
	`, r.Token, r.Now).Scan(&appointmentID)
	if err != nil {
		return model.Appointment{}, mapErr(err, "token not found or expired")
	}

	appt, err := scanAppointment(tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, appointmentID))
	if err != nil {
		return model.Appointment{}, mapErr(err, "appointment not found")
	}
	if !r.Allows(appt.Status) {
		return model.Appointment{}, apperr.Conflict("appointment status does not allow this action", nil)
	}

	appt, err = scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+appointmentColumns, appointmentID, r.To, r.Now))
	if err != nil {
		return model.Appointment{}, err
	}

	spend := `UPDATE appointment_tokens SET ` + col + ` = NULL WHERE appointment_id = $1`
	if r.SpendAll {
		spend = `UPDATE appointment_tokens SET confirm_token = NULL, reschedule_token = NULL, cancel_token = NULL WHERE appointment_id = $1`
	}
	if _, err := tx.Exec(ctx, spend, appointmentID); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Tokens loads the token row of an appointment.
func (s *Store) Tokens(ctx context.Context, appointmentID string) (model.ActionTokens, error) {
	if !validID(appointmentID) {
		return model.ActionTokens{}, apperr.NotFound("tokens not found")
	}
	t := model.ActionTokens{AppointmentID: appointmentID}
	err := s.pool.QueryRow(ctx, `
		SELECT confirm_token, reschedule_token, cancel_token, expires_at
		FROM appointment_tokens
		WHERE appointment_id = $1
	`, appointmentID).Scan(&t.ConfirmToken, &t.RescheduleToken, &t.CancelToken, &t.ExpiresAt)
	if err != nil {
		return model.ActionTokens{}, mapErr(err, "tokens not found")
	}
	return t, nil
}

