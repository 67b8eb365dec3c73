package model

import "time"

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Appointment is a booked showing. OwnerPropertyID is the calendar the
// interval was booked against, which is the parent building for a unit.
type Appointment struct {
	ID              string
	LeadID          *string
	PropertyID      *string
	OwnerPropertyID string
	Title           string
	Description     string
	StartTime       time.Time
	EndTime         time.Time
	Location        string
	Attendees       []string
	ExternalEventID string
	Status          AppointmentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}

func (a Appointment) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}

type TokenAction string

const (
	ActionConfirm    TokenAction = "confirm"
	ActionReschedule TokenAction = "reschedule"
	ActionCancel     TokenAction = "cancel"
)

func (a TokenAction) Valid() bool {
	switch a {
	case ActionConfirm, ActionReschedule, ActionCancel:
		return true
	}
	return false
}

// ActionTokens holds the three single-use links of one appointment. A nil
// field has been spent.
type ActionTokens struct {
	AppointmentID   string
	ConfirmToken    *string
	RescheduleToken *string
	CancelToken     *string
	ExpiresAt       time.Time
}

func (t ActionTokens) Token(action TokenAction) string {
	var p *string
	switch action {
	case ActionConfirm:
		p = t.ConfirmToken
	case ActionReschedule:
		p = t.RescheduleToken
	case ActionCancel:
		p = t.CancelToken
	}
	if p == nil {
		return ""
	}
	return *p
}

// Redemption describes one attempt to spend a token. The appointment moves
// to To only when its current status is one of From.
type Redemption struct {
	Action   TokenAction
	Token    string
	Now      time.Time
	From     []AppointmentStatus
	To       AppointmentStatus
	SpendAll bool
}

func (r Redemption) Allows(s AppointmentStatus) bool {
	for _, f := range r.From {
		if f == s {
			return true
		}
	}
	return false
}
