package reminders

import (
	"context"
	"errors"
	"log/slog"
	"time"

	otelx "github.com/brokerdesk/crm/libs/otel"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/notify"
)

// Sender delivers one message on ch and returns the accepting provider.
type Sender interface {
	Send(ctx context.Context, ch model.Channel, to, subject, body string) (string, error)
}

type PassResult struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Processor runs delivery passes. Passes may overlap: claiming leases items,
// and delivery is at-least-once.
type Processor struct {
	queue  Queue
	sender Sender
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewProcessor(queue Queue, sender Sender, cfg Config, logger *slog.Logger) *Processor {
	return &Processor{queue: queue, sender: sender, cfg: cfg.withDefaults(), logger: logger, now: time.Now}
}

// WithClock overrides the processor's notion of now.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// ProcessDue delivers up to limit due items (the configured batch size when
// limit <= 0). A failed delivery is retried on a later pass after the
// backoff, until max attempts. A channel with no transport fails the item
// outright.
func (p *Processor) ProcessDue(ctx context.Context, limit int) (PassResult, error) {
	if limit <= 0 {
		limit = p.cfg.BatchSize
	}
	now := p.now().UTC()
	items, err := p.queue.ClaimDueItems(ctx, now, limit, p.cfg.Lease)
	if err != nil {
		return PassResult{}, err
	}
	res := PassResult{Claimed: len(items)}
	var errs []error
	for _, item := range items {
		ictx := otelx.ContextWithTraceContext(ctx, item.Traceparent, item.Tracestate)
		log := p.logger.With("queue_item_id", item.ID, "appointment_id", item.AppointmentID, "kind", item.Kind, "channel", item.Channel)

		provider, derr := p.deliver(ictx, item)
		if derr == nil {
			if err := p.queue.MarkItemSent(ictx, item.ID, p.now().UTC()); err != nil {
				log.Error("mark sent failed", "err", err)
				errs = append(errs, err)
				continue
			}
			log.Info("notification sent", "provider", provider)
			res.Sent++
			continue
		}

		res.Failed++
		attempts := item.Attempts + 1
		if errors.Is(derr, notify.ErrNotConfigured) && attempts < item.MaxAttempts {
			attempts = item.MaxAttempts
		}
		var next *time.Time
		if attempts < item.MaxAttempts {
			t := now.Add(p.cfg.RetryBackoff)
			next = &t
			log.Warn("notification delivery failed, will retry", "attempts", attempts, "next_attempt_at", t, "err", derr)
		} else {
			log.Error("notification delivery failed permanently", "attempts", attempts, "err", derr)
		}
		if err := p.queue.MarkItemFailed(ictx, item.ID, attempts, next, derr.Error()); err != nil {
			log.Error("mark failed failed", "err", err)
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

func (p *Processor) deliver(ctx context.Context, item model.QueueItem) (string, error) {
	if item.Recipient == "" {
		return "", errors.New("queue item has no recipient")
	}
	subject, body, err := Render(item)
	if err != nil {
		return "", err
	}
	return p.sender.Send(ctx, item.Channel, item.Recipient, subject, body)
}
