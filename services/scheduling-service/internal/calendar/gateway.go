// Package calendar wraps the external calendar provider that mirrors every
// appointment as an event and reports busy time outside the CRM.
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

// ErrEventNotCreated is returned by CreateEvent instead of an event id. A
// booking must not be persisted after it.
var ErrEventNotCreated = errors.New("calendar event not created")

type Event struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Attendees   []string
}

// Gateway is implemented by every calendar provider. DeleteEvent treats an
// event that no longer exists as deleted.
type Gateway interface {
	CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, ev Event) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	QueryBusy(ctx context.Context, calendarID string, start, end time.Time) ([]model.Interval, error)
}

// EventFor builds the external event mirroring appt.
func EventFor(appt model.Appointment, timeZone string) Event {
	return Event{
		Summary:     appt.Title,
		Description: appt.Description,
		Location:    appt.Location,
		Start:       appt.StartTime,
		End:         appt.EndTime,
		TimeZone:    timeZone,
		Attendees:   append([]string(nil), appt.Attendees...),
	}
}
