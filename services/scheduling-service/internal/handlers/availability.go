package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brokerdesk/crm/libs/httpx"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/availability"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

const (
	defaultDurationMinutes = 60
	maxDurationMinutes     = 480
)

type SlotFinder interface {
	AvailableSlots(ctx context.Context, propertyID string, day model.Date, duration time.Duration) (availability.Result, error)
}

type AvailabilityHandler struct {
	slots  SlotFinder
	logger *slog.Logger
}

func NewAvailabilityHandler(slots SlotFinder, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{slots: slots, logger: logger}
}

type slotItem struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	DisplayTime string `json:"display_time"`
}

type availabilityResponse struct {
	PropertyID     string     `json:"property_id"`
	Date           string     `json:"date"`
	Timezone       string     `json:"timezone"`
	AvailableSlots []slotItem `json:"available_slots"`
	TotalSlots     int        `json:"total_slots"`
}

// Get serves GET /api/v1/availability?propertyId=&date=YYYY-MM-DD&duration=minutes.
func (h *AvailabilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	propertyID := strings.TrimSpace(q.Get("propertyId"))
	if propertyID == "" {
		writeErr(w, r, h.logger, apperr.Validation("propertyId is required"))
		return
	}
	day, err := model.ParseDate(q.Get("date"))
	if err != nil {
		writeErr(w, r, h.logger, apperr.Validation("date must be YYYY-MM-DD"))
		return
	}
	minutes := defaultDurationMinutes
	if raw := strings.TrimSpace(q.Get("duration")); raw != "" {
		minutes, err = strconv.Atoi(raw)
		if err != nil || minutes < 1 || minutes > maxDurationMinutes {
			writeErr(w, r, h.logger, apperr.Validation("duration must be between 1 and 480 minutes"))
			return
		}
	}

	res, err := h.slots.AvailableSlots(r.Context(), propertyID, day, time.Duration(minutes)*time.Minute)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	loc := res.Calendar.Loc()
	items := make([]slotItem, 0, len(res.Slots))
	for _, s := range res.Slots {
		items = append(items, slotItem{
			Start:       s.Start.UTC().Format(time.RFC3339),
			End:         s.End.UTC().Format(time.RFC3339),
			DisplayTime: s.Start.In(loc).Format("3:04 PM"),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, availabilityResponse{
		PropertyID:     propertyID,
		Date:           day.String(),
		Timezone:       loc.String(),
		AvailableSlots: items,
		TotalSlots:     len(items),
	})
}
