package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/google/uuid"
)

// MemoryGateway keeps events in process. It backs local development
// (CALENDAR_PROVIDER=memory) and tests; the Fail* fields inject errors.
type MemoryGateway struct {
	mu     sync.Mutex
	events map[string]storedEvent

	FailCreate error
	FailUpdate error
	FailDelete error
	FailBusy   error

	// Busy is reported by QueryBusy in addition to stored events.
	Busy []model.Interval

	deletes int
}

type storedEvent struct {
	calendarID string
	event      Event
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{events: make(map[string]storedEvent)}
}

func (m *MemoryGateway) CreateEvent(_ context.Context, calendarID string, ev Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate != nil {
		return "", fmt.Errorf("%w: %v", ErrEventNotCreated, m.FailCreate)
	}
	id := "evt_" + uuid.NewString()
	m.events[id] = storedEvent{calendarID: calendarID, event: ev}
	return id, nil
}

func (m *MemoryGateway) UpdateEvent(_ context.Context, calendarID, eventID string, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpdate != nil {
		return m.FailUpdate
	}
	if _, ok := m.events[eventID]; !ok {
		return fmt.Errorf("update calendar event %s: not found", eventID)
	}
	m.events[eventID] = storedEvent{calendarID: calendarID, event: ev}
	return nil
}

func (m *MemoryGateway) DeleteEvent(_ context.Context, _ string, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete != nil {
		return m.FailDelete
	}
	m.deletes++
	delete(m.events, eventID)
	return nil
}

func (m *MemoryGateway) QueryBusy(_ context.Context, calendarID string, start, end time.Time) ([]model.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailBusy != nil {
		return nil, m.FailBusy
	}
	window := model.Interval{Start: start, End: end}
	var out []model.Interval
	for _, b := range m.Busy {
		if b.Overlaps(window) {
			out = append(out, b)
		}
	}
	for _, s := range m.events {
		iv := model.Interval{Start: s.event.Start, End: s.event.End}
		if s.calendarID == calendarID && iv.Overlaps(window) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Event returns the stored event with id.
func (m *MemoryGateway) Event(id string) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.events[id]
	return s.event, ok
}

// Len reports the number of live events.
func (m *MemoryGateway) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Deletes reports how many DeleteEvent calls succeeded.
func (m *MemoryGateway) Deletes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}
