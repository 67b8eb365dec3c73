package memstore

import (
	"context"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

func (s *Store) SaveTokens(_ context.Context, t model.ActionTokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appointments[t.AppointmentID]; !ok {
		return apperr.NotFound("appointment not found")
	}
	s.tokens[t.AppointmentID] = t
	return nil
}

func (s *Store) Tokens(appointmentID string) (model.ActionTokens, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[appointmentID]
	return t, ok
}

func (s *Store) RedeemToken(_ context.Context, r model.Redemption) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row model.ActionTokens
	found := false
	for _, t := range s.tokens {
		if t.Token(r.Action) == r.Token && r.Token != "" {
			row, found = t, true
			break
		}
	}
	if !found || !r.Now.Before(row.ExpiresAt) {
		return model.Appointment{}, apperr.NotFound("token not found or expired")
	}
	appt, ok := s.appointments[row.AppointmentID]
	if !ok {
		return model.Appointment{}, apperr.NotFound("appointment not found")
	}
	if !r.Allows(appt.Status) {
		return model.Appointment{}, apperr.Conflict("appointment status does not allow this action", nil)
	}

	appt.Status = r.To
	appt.UpdatedAt = r.Now
	s.appointments[appt.ID] = appt

	if r.SpendAll {
		row.ConfirmToken, row.RescheduleToken, row.CancelToken = nil, nil, nil
	} else {
		switch r.Action {
		case model.ActionConfirm:
			row.ConfirmToken = nil
		case model.ActionReschedule:
			row.RescheduleToken = nil
		case model.ActionCancel:
			row.CancelToken = nil
		}
	}
	s.tokens[row.AppointmentID] = row
	return appt, nil
}
