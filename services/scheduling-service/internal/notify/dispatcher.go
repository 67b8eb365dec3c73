package notify

import (
	"context"
	"fmt"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

// Dispatcher routes a message to the sender for its channel.
type Dispatcher struct {
	email EmailSender
	sms   SMSSender
}

// NewDispatcher builds a Dispatcher. A nil sender leaves its channel
// unconfigured: sends on it fail with ErrNotConfigured.
func NewDispatcher(email EmailSender, sms SMSSender) *Dispatcher {
	if email == nil {
		email = unconfigured{channel: "email"}
	}
	if sms == nil {
		sms = unconfigured{channel: "sms"}
	}
	return &Dispatcher{email: email, sms: sms}
}

// Send delivers one message and returns the provider that accepted it.
func (d *Dispatcher) Send(ctx context.Context, ch model.Channel, to, subject, body string) (string, error) {
	switch ch {
	case model.ChannelEmail:
		if err := d.email.SendEmail(ctx, to, subject, body); err != nil {
			return "", err
		}
		return "smtp", nil
	case model.ChannelSMS:
		if err := d.sms.SendSMS(ctx, to, body); err != nil {
			return "", err
		}
		return d.sms.ProviderID(), nil
	default:
		return "", fmt.Errorf("unsupported channel %q", ch)
	}
}
