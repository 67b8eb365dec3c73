package model

import "time"

type NotificationKind string

const (
	KindBookingConfirmation NotificationKind = "booking_confirmation"
	KindReminder            NotificationKind = "appointment_reminder"
	KindRescheduleRequest   NotificationKind = "reschedule_request"
)

type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueSent      QueueStatus = "sent"
	QueueFailed    QueueStatus = "failed"
	QueueCancelled QueueStatus = "cancelled"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// QueueItem is one deferred notification. Items are never deleted; they
// only move between statuses.
type QueueItem struct {
	ID            int64
	AppointmentID string
	Kind          NotificationKind
	Channel       Channel
	Recipient     string
	ScheduledFor  time.Time
	Status        QueueStatus
	Attempts      int
	MaxAttempts   int
	LastError     string
	NextAttemptAt *time.Time
	SentAt        *time.Time
	Payload       map[string]any
	Traceparent   string
	Tracestate    string
}

type Lead struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// LeadActivity is appended to the lead's timeline; scheduling never reads it back.
type LeadActivity struct {
	LeadID      string
	Kind        string
	Description string
	Metadata    map[string]any
}
