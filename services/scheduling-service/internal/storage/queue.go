package storage

import (
	"context"
	"sort"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/jackc/pgx/v5"
)

const queueColumns = `
	id, appointment_id, kind, channel, recipient, scheduled_for, status, attempts, max_attempts,
	last_error, next_attempt_at, sent_at, payload, COALESCE(traceparent, ''), COALESCE(tracestate, '')`

func scanQueueItem(row pgx.CollectableRow) (model.QueueItem, error) {
	var it model.QueueItem
	err := row.Scan(&it.ID, &it.AppointmentID, &it.Kind, &it.Channel, &it.Recipient, &it.ScheduledFor, &it.Status,
		&it.Attempts, &it.MaxAttempts, &it.LastError, &it.NextAttemptAt, &it.SentAt, &it.Payload, &it.Traceparent, &it.Tracestate)
	if it.Payload == nil {
		it.Payload = map[string]any{}
	}
	return it, err
}

func (s *Store) EnqueueItems(ctx context.Context, items []model.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, it := range items {
		status := it.Status
		if status == "" {
			status = model.QueuePending
		}
		payload := it.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		batch.Queue(`
			INSERT INTO notification_queue
				(appointment_id, kind, channel, recipient, scheduled_for, status, max_attempts, payload, traceparent, tracestate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''))
		`, it.AppointmentID, it.Kind, it.Channel, it.Recipient, it.ScheduledFor, status, it.MaxAttempts, payload, it.Traceparent, it.Tracestate)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CancelPendingItems cancels the not-yet-delivered items of an appointment
// whose kind is in kinds; an empty kinds matches every kind.
func (s *Store) CancelPendingItems(ctx context.Context, appointmentID string, kinds []model.NotificationKind) (int, error) {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'cancelled', updated_at = now()
		WHERE appointment_id = $1
			AND (cardinality($2::text[]) = 0 OR kind = ANY($2))
			AND (status = 'pending' OR (status = 'failed' AND attempts < max_attempts))
	`, appointmentID, names)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ClaimDueItems leases up to limit due items until now+lease. Rows locked by
// another claimer are skipped, and a leased row is not claimable again until
// the lease runs out or the item is marked.
func (s *Store) ClaimDueItems(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]model.QueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE notification_queue q
		SET locked_until = $2, updated_at = now()
		FROM (
			SELECT id
			FROM notification_queue
			WHERE (status = 'pending' OR status = 'failed')
				AND attempts < max_attempts
				AND scheduled_for <= $1
				AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
				AND (locked_until IS NULL OR locked_until <= $1)
			ORDER BY scheduled_for
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) due
		WHERE q.id = due.id
		RETURNING q.id, q.appointment_id, q.kind, q.channel, q.recipient, q.scheduled_for, q.status, q.attempts,
			q.max_attempts, q.last_error, q.next_attempt_at, q.sent_at, q.payload,
			COALESCE(q.traceparent, ''), COALESCE(q.tracestate, '')
	`,
		now, now.Add(lease), limit)
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, scanQueueItem)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].ScheduledFor.Before(items[j].ScheduledFor) })
	return items, nil
}

// MarkItemSent and MarkItemFailed only move pending or failed items, so an
// item that is already sent, or was cancelled while in flight, keeps its status.
func (s *Store) MarkItemSent(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'sent', sent_at = $2, locked_until = NULL, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'failed')
	`, id, at)
	return err
}

func (s *Store) MarkItemFailed(ctx context.Context, id int64, attempts int, nextAttemptAt *time.Time, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'failed',
			attempts = $2,
			next_attempt_at = $3,
			last_error = $4,
			locked_until = NULL,
			updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'failed')
	`, id, attempts, nextAttemptAt, lastError)
	return err
}

// ListItems returns the queue items of an appointment in schedule order.
func (s *Store) ListItems(ctx context.Context, appointmentID string) ([]model.QueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM notification_queue
		WHERE appointment_id = $1
		ORDER BY scheduled_for, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanQueueItem)
}
