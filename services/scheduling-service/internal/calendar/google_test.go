package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/option"
)

func newTestGateway(t *testing.T, h http.HandlerFunc) *GoogleGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	gw, err := NewGoogleGateway(context.Background(), GoogleConfig{DefaultCalendarID: "cal-1"},
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func writeGoogleError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, http.StatusText(code))
}

func TestGoogleGateway_CreateEvent(t *testing.T) {
	var got map[string]any
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/calendars/cal-1/events") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"evt-42"}`))
	})

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	id, err := gw.CreateEvent(context.Background(), "", Event{
		Summary:   "Showing",
		Start:     start,
		End:       start.Add(time.Hour),
		TimeZone:  "UTC",
		Attendees: []string{"a@example.com", " "},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "evt-42" {
		t.Fatalf("expected evt-42, got %q", id)
	}
	if got["summary"] != "Showing" {
		t.Fatalf("expected summary to be sent, got %v", got["summary"])
	}
	if att, _ := got["attendees"].([]any); len(att) != 1 {
		t.Fatalf("expected blank attendee dropped, got %v", got["attendees"])
	}
}

func TestGoogleGateway_CreateEventFailureIsSentinel(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeGoogleError(w, http.StatusForbidden)
	})
	id, err := gw.CreateEvent(context.Background(), "", Event{Start: time.Now(), End: time.Now().Add(time.Hour)})
	if !errors.Is(err, ErrEventNotCreated) {
		t.Fatalf("expected ErrEventNotCreated, got %v", err)
	}
	if id != "" {
		t.Fatalf("expected no event id, got %q", id)
	}
}

func TestGoogleGateway_DeleteToleratesGone(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusGone} {
		gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete {
				t.Errorf("expected DELETE, got %s", r.Method)
			}
			writeGoogleError(w, code)
		})
		if err := gw.DeleteEvent(context.Background(), "", "evt-1"); err != nil {
			t.Fatalf("status %d: expected nil, got %v", code, err)
		}
	}
}

func TestGoogleGateway_DeleteReportsOtherErrors(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeGoogleError(w, http.StatusInternalServerError)
	})
	if err := gw.DeleteEvent(context.Background(), "", "evt-1"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGoogleGateway_QueryBusy(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/freeBusy") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"calendars":{"cal-9":{"busy":[
			{"start":"2026-03-02T10:00:00Z","end":"2026-03-02T11:00:00Z"}
		]}}}`))
	})
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	busy, err := gw.QueryBusy(context.Background(), "cal-9", start, start.Add(8*time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(busy) != 1 || !busy[0].Start.Equal(start.Add(time.Hour)) {
		t.Fatalf("unexpected busy %+v", busy)
	}
}

func TestGoogleGateway_QueryBusyCalendarError(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"calendars":{"cal-1":{"errors":[{"domain":"global","reason":"notFound"}]}}}`))
	})
	if _, err := gw.QueryBusy(context.Background(), "", time.Now(), time.Now().Add(time.Hour)); err == nil {
		t.Fatalf("expected per-calendar error to fail the query")
	}
}
