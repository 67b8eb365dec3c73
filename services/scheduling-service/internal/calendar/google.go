package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type GoogleConfig struct {
	CredentialsFile   string
	DefaultCalendarID string
	// SendUpdates is passed through to the API ("all", "externalOnly", "none").
	SendUpdates string
	Timeout     time.Duration
}

// GoogleGateway talks to Google Calendar v3 with a service account.
type GoogleGateway struct {
	svc         *gcal.Service
	calendarID  string
	sendUpdates string
	timeout     time.Duration
}

func NewGoogleGateway(ctx context.Context, cfg GoogleConfig, extra ...option.ClientOption) (*GoogleGateway, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google calendar client: %w", err)
	}
	if cfg.DefaultCalendarID == "" {
		cfg.DefaultCalendarID = "primary"
	}
	if cfg.SendUpdates == "" {
		cfg.SendUpdates = "all"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &GoogleGateway{
		svc:         svc,
		calendarID:  cfg.DefaultCalendarID,
		sendUpdates: cfg.SendUpdates,
		timeout:     cfg.Timeout,
	}, nil
}

func (g *GoogleGateway) CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	created, err := g.svc.Events.Insert(g.resolve(calendarID), toGoogleEvent(ev)).
		SendUpdates(g.sendUpdates).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEventNotCreated, err)
	}
	if created == nil || created.Id == "" {
		return "", fmt.Errorf("%w: provider returned no event id", ErrEventNotCreated)
	}
	return created.Id, nil
}

func (g *GoogleGateway) UpdateEvent(ctx context.Context, calendarID, eventID string, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.svc.Events.Patch(g.resolve(calendarID), eventID, toGoogleEvent(ev)).
		SendUpdates(g.sendUpdates).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update calendar event %s: %w", eventID, err)
	}
	return nil
}

func (g *GoogleGateway) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := g.svc.Events.Delete(g.resolve(calendarID), eventID).
		SendUpdates(g.sendUpdates).
		Context(ctx).
		Do()
	if err == nil || isGone(err) {
		return nil
	}
	return fmt.Errorf("delete calendar event %s: %w", eventID, err)
}

func (g *GoogleGateway) QueryBusy(ctx context.Context, calendarID string, start, end time.Time) ([]model.Interval, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	id := g.resolve(calendarID)
	resp, err := g.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: start.UTC().Format(time.RFC3339),
		TimeMax: end.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: id}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("free/busy query: %w", err)
	}

	fb, ok := resp.Calendars[id]
	if !ok {
		return nil, fmt.Errorf("free/busy query: calendar %s missing from response", id)
	}
	if len(fb.Errors) > 0 {
		reasons := make([]string, 0, len(fb.Errors))
		for _, e := range fb.Errors {
			reasons = append(reasons, e.Reason)
		}
		return nil, fmt.Errorf("free/busy query: %s", strings.Join(reasons, ", "))
	}

	busy := make([]model.Interval, 0, len(fb.Busy))
	for _, p := range fb.Busy {
		s, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("free/busy query: bad start %q: %w", p.Start, err)
		}
		e, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("free/busy query: bad end %q: %w", p.End, err)
		}
		busy = append(busy, model.Interval{Start: s, End: e})
	}
	return busy, nil
}

func (g *GoogleGateway) resolve(calendarID string) string {
	if calendarID == "" {
		return g.calendarID
	}
	return calendarID
}

func toGoogleEvent(ev Event) *gcal.Event {
	out := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start: &gcal.EventDateTime{
			DateTime: ev.Start.Format(time.RFC3339),
			TimeZone: ev.TimeZone,
		},
		End: &gcal.EventDateTime{
			DateTime: ev.End.Format(time.RFC3339),
			TimeZone: ev.TimeZone,
		},
	}
	for _, a := range ev.Attendees {
		if a = strings.TrimSpace(a); a != "" {
			out.Attendees = append(out.Attendees, &gcal.EventAttendee{Email: a})
		}
	}
	return out
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
}
