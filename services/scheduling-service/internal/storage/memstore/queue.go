package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

func (s *Store) EnqueueItems(_ context.Context, items []model.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.nextItemID++
		it.ID = s.nextItemID
		if it.Status == "" {
			it.Status = model.QueuePending
		}
		s.queue = append(s.queue, queued{item: it})
	}
	return nil
}

func (s *Store) CancelPendingItems(_ context.Context, appointmentID string, kinds []model.NotificationKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.queue {
		it := &s.queue[i].item
		if it.AppointmentID != appointmentID || !hasKind(kinds, it.Kind) {
			continue
		}
		if it.Status == model.QueuePending || (it.Status == model.QueueFailed && it.Attempts < it.MaxAttempts) {
			it.Status = model.QueueCancelled
			n++
		}
	}
	return n, nil
}

func (s *Store) ClaimDueItems(_ context.Context, now time.Time, limit int, lease time.Duration) ([]model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := make([]int, 0)
	for i, q := range s.queue {
		it := q.item
		if it.Status != model.QueuePending && it.Status != model.QueueFailed {
			continue
		}
		if it.ScheduledFor.After(now) || it.Attempts >= it.MaxAttempts || now.Before(q.lockedUntil) {
			continue
		}
		if it.NextAttemptAt != nil && it.NextAttemptAt.After(now) {
			continue
		}
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.queue[idx[a]].item.ScheduledFor.Before(s.queue[idx[b]].item.ScheduledFor)
	})
	if limit > 0 && len(idx) > limit {
		idx = idx[:limit]
	}
	out := make([]model.QueueItem, 0, len(idx))
	for _, i := range idx {
		s.queue[i].lockedUntil = now.Add(lease)
		out = append(out, s.queue[i].item)
	}
	return out, nil
}

func (s *Store) MarkItemSent(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.find(id)
	if q == nil || !markable(q.item.Status) {
		return nil
	}
	q.item.Status = model.QueueSent
	q.item.SentAt = &at
	q.lockedUntil = time.Time{}
	return nil
}

func (s *Store) MarkItemFailed(_ context.Context, id int64, attempts int, nextAttemptAt *time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.find(id)
	if q == nil || !markable(q.item.Status) {
		return nil
	}
	q.item.Status = model.QueueFailed
	q.item.Attempts = attempts
	q.item.NextAttemptAt = nextAttemptAt
	q.item.LastError = lastError
	q.lockedUntil = time.Time{}
	return nil
}

// Items returns the queue items of appointmentID, or all items when it is empty.
func (s *Store) Items(appointmentID string) []model.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.QueueItem
	for _, q := range s.queue {
		if appointmentID == "" || q.item.AppointmentID == appointmentID {
			out = append(out, q.item)
		}
	}
	return out
}

func markable(st model.QueueStatus) bool {
	return st == model.QueuePending || st == model.QueueFailed
}

func (s *Store) find(id int64) *queued {
	for i := range s.queue {
		if s.queue[i].item.ID == id {
			return &s.queue[i]
		}
	}
	return nil
}

func hasKind(kinds []model.NotificationKind, k model.NotificationKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
