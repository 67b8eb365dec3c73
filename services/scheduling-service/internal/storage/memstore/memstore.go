// Package memstore is an in-memory implementation of every scheduling store,
// used by tests and CALENDAR_PROVIDER=memory development runs. It enforces
// the same overlap rule as the Postgres exclusion constraint.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/outbox"
	"github.com/google/uuid"
)

type Store struct {
	mu sync.Mutex

	calendars    map[string]model.PropertyCalendar
	windows      map[string][]model.WeeklyWindow
	blocked      map[string][]model.BlockedDate
	appointments map[string]model.Appointment
	tokens       map[string]model.ActionTokens
	leads        map[string]model.Lead
	activity     []model.LeadActivity
	events       []outbox.Event
	queue        []queued
	nextItemID   int64

	// FailCreate makes CreateAppointment fail, to exercise compensation.
	FailCreate error
}

type queued struct {
	item        model.QueueItem
	lockedUntil time.Time
}

func New() *Store {
	return &Store{
		calendars:    map[string]model.PropertyCalendar{},
		windows:      map[string][]model.WeeklyWindow{},
		blocked:      map[string][]model.BlockedDate{},
		appointments: map[string]model.Appointment{},
		tokens:       map[string]model.ActionTokens{},
		leads:        map[string]model.Lead{},
	}
}

// PutCalendar adds or replaces a calendar with its weekly windows.
func (s *Store) PutCalendar(cal model.PropertyCalendar, windows ...model.WeeklyWindow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars[cal.PropertyID] = cal
	for i := range windows {
		windows[i].PropertyID = cal.PropertyID
	}
	s.windows[cal.PropertyID] = windows
}

func (s *Store) BlockDate(propertyID string, d model.Date, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blocked[propertyID] {
		if b.Date == d {
			return
		}
	}
	s.blocked[propertyID] = append(s.blocked[propertyID], model.BlockedDate{PropertyID: propertyID, Date: d, Reason: reason})
}

func (s *Store) GetCalendar(_ context.Context, propertyID string) (model.PropertyCalendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calendars[propertyID]
	if !ok {
		return model.PropertyCalendar{}, apperr.NotFound("property calendar not found")
	}
	return c, nil
}

func (s *Store) ListWeeklyWindows(_ context.Context, propertyID string) ([]model.WeeklyWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.WeeklyWindow(nil), s.windows[propertyID]...), nil
}

func (s *Store) ListBlockedDates(_ context.Context, propertyID string, from, to model.Date) ([]model.BlockedDate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BlockedDate
	for _, b := range s.blocked[propertyID] {
		if !b.Date.Before(from) && !to.Before(b.Date) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) ListActiveIntervals(_ context.Context, owner string, start, end time.Time) ([]model.Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := model.Interval{Start: start, End: end}
	var out []model.Interval
	for _, a := range s.appointments {
		if a.OwnerPropertyID == owner && a.Status != model.StatusCancelled && a.Interval().Overlaps(window) {
			out = append(out, a.Interval())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// conflicting reports a live appointment other than skipID overlapping appt; callers hold mu.
func (s *Store) conflicting(appt model.Appointment, skipID string) bool {
	for id, a := range s.appointments {
		if id == skipID || a.OwnerPropertyID != appt.OwnerPropertyID || a.Status == model.StatusCancelled {
			continue
		}
		if a.Interval().Overlaps(appt.Interval()) {
			return true
		}
	}
	return false
}

func (s *Store) CreateAppointment(_ context.Context, appt model.Appointment) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate != nil {
		return model.Appointment{}, s.FailCreate
	}
	if s.conflicting(appt, "") {
		return model.Appointment{}, apperr.Conflict("time slot is no longer available", nil)
	}
	now := time.Now().UTC()
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Status == "" {
		appt.Status = model.StatusScheduled
	}
	appt.CreatedAt, appt.UpdatedAt = now, now
	s.appointments[appt.ID] = appt
	return appt, nil
}

func (s *Store) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, apperr.NotFound("appointment not found")
	}
	return a, nil
}

func (s *Store) UpdateAppointment(_ context.Context, appt model.Appointment) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.appointments[appt.ID]
	if !ok {
		return model.Appointment{}, apperr.NotFound("appointment not found")
	}
	if cur.Status == model.StatusCancelled {
		return model.Appointment{}, apperr.Conflict("appointment was cancelled", nil)
	}
	appt.Status = cur.Status
	if s.conflicting(appt, appt.ID) {
		return model.Appointment{}, apperr.Conflict("time slot is no longer available", nil)
	}
	appt.CreatedAt = cur.CreatedAt
	appt.UpdatedAt = time.Now().UTC()
	s.appointments[appt.ID] = appt
	return appt, nil
}

func (s *Store) DeleteAppointment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appointments[id]; !ok {
		return apperr.NotFound("appointment not found")
	}
	delete(s.appointments, id)
	delete(s.tokens, id)
	return nil
}

func (s *Store) ListAppointments(_ context.Context, owner string) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.OwnerPropertyID == owner {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// Appointments returns every stored appointment.
func (s *Store) Appointments() []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Appointment, 0, len(s.appointments))
	for _, a := range s.appointments {
		out = append(out, a)
	}
	return out
}

func (s *Store) FindOrCreateLead(_ context.Context, lead model.Lead) (model.Lead, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(lead.Email))
	if existing, ok := s.leads[key]; ok {
		return existing, false, nil
	}
	lead.ID = uuid.NewString()
	lead.Email = strings.TrimSpace(lead.Email)
	s.leads[key] = lead
	return lead, true, nil
}

func (s *Store) GetLead(_ context.Context, id string) (model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.ID == id {
			return l, nil
		}
	}
	return model.Lead{}, apperr.NotFound("lead not found")
}

func (s *Store) AppendActivity(_ context.Context, a model.LeadActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, a)
	return nil
}

func (s *Store) Activity() []model.LeadActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.LeadActivity(nil), s.activity...)
}

func (s *Store) Append(_ context.Context, evt outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.events...)
}
