package outbox

import (
	"encoding/json"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventAppointmentBooked              = "scheduling.appointment.booked.v1"
	EventAppointmentUpdated             = "scheduling.appointment.updated.v1"
	EventAppointmentConfirmed           = "scheduling.appointment.confirmed.v1"
	EventAppointmentCancelled           = "scheduling.appointment.cancelled.v1"
	EventAppointmentDeleted             = "scheduling.appointment.deleted.v1"
	EventAppointmentRescheduleRequested = "scheduling.appointment.reschedule_requested.v1"
)

// AppointmentEvent builds an appointment-aggregate event. extra keys are
// merged over the standard fields.
func AppointmentEvent(eventType string, appt model.Appointment, extra map[string]any) (Event, error) {
	body := map[string]any{
		"appointment_id":    appt.ID,
		"owner_property_id": appt.OwnerPropertyID,
		"status":            string(appt.Status),
		"start_time":        appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":          appt.EndTime.UTC().Format(time.RFC3339),
		"external_event_id": appt.ExternalEventID,
		"occurred_at":       time.Now().UTC().Format(time.RFC3339),
	}
	if appt.LeadID != nil {
		body["lead_id"] = *appt.LeadID
	}
	if appt.PropertyID != nil {
		body["property_id"] = *appt.PropertyID
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
