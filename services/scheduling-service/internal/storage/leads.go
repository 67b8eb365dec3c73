package storage

import (
	"context"
	"strings"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

// FindOrCreateLead returns the lead with lead.Email, matched
// case-insensitively, creating it when absent. The bool reports creation.
func (s *Store) FindOrCreateLead(ctx context.Context, lead model.Lead) (model.Lead, bool, error) {
	email := strings.TrimSpace(lead.Email)
	var out model.Lead
	var created bool
	// xmax = 0 only on a freshly inserted row.
	err := s.pool.QueryRow(ctx, `
		INSERT INTO leads (name, email, phone)
		VALUES ($1, $2, $3)
		ON CONFLICT ((lower(email))) DO UPDATE SET email = leads.email
		RETURNING id::text, name, email, phone, (xmax = 0)
	`, strings.TrimSpace(lead.Name), email, strings.TrimSpace(lead.Phone)).Scan(&out.ID, &out.Name, &out.Email, &out.Phone, &created)
	if err != nil {
		return model.Lead{}, false, err
	}
	return out, created, nil
}

func (s *Store) GetLead(ctx context.Context, id string) (model.Lead, error) {
	if !validID(id) {
		return model.Lead{}, apperr.NotFound("lead not found")
	}
	var l model.Lead
	err := s.pool.QueryRow(ctx, `SELECT id::text, name, email, phone FROM leads WHERE id = $1`, id).
		Scan(&l.ID, &l.Name, &l.Email, &l.Phone)
	if err != nil {
		return model.Lead{}, mapErr(err, "lead not found")
	}
	return l, nil
}

func (s *Store) AppendActivity(ctx context.Context, a model.LeadActivity) error {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lead_activities (lead_id, kind, description, metadata)
		VALUES ($1, $2, $3, $4)
	`, a.LeadID, a.Kind, a.Description, meta)
	return err
}
