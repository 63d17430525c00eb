package memstore

import (
	"context"
	"fmt"
	"sort"

	"crowdfund/pkg/outbox"
)

// memstore 同时充当 outbox.EventStore，内存模式下 Dispatcher 直接读取这里的事件

func (s *Store) GetPendingEvents(_ context.Context, limit int) ([]*outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []*outbox.Event
	for _, e := range s.events {
		if len(out) >= limit {
			break
		}
		if e.Status != outbox.StatusPending {
			continue
		}
		if e.NextRetryAt != nil && e.NextRetryAt.After(now) {
			continue
		}
		out = append(out, clone(e))
	}
	return out, nil
}

func (s *Store) GetFailedEvents(_ context.Context, limit int) ([]*outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*outbox.Event
	for _, e := range s.events {
		if e.Status == outbox.StatusFailed {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetEventByID(_ context.Context, eventID int64) (*outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.event(eventID)
	if err != nil {
		return nil, err
	}
	return clone(e), nil
}

func (s *Store) MarkAsSent(_ context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.event(eventID)
	if err != nil {
		return err
	}
	e.Status = outbox.StatusSent
	e.UpdatedAt = s.now()
	return nil
}

func (s *Store) MarkAsFailed(_ context.Context, eventID int64, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.event(eventID)
	if err != nil {
		return err
	}
	now := s.now()
	e.RetryCount++
	e.Status, e.NextRetryAt = outbox.NextAttempt(e.RetryCount, maxRetries, now)
	e.UpdatedAt = now
	return nil
}

func (s *Store) ResetEvent(_ context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.event(eventID)
	if err != nil {
		return err
	}
	e.Status = outbox.StatusPending
	e.RetryCount = 0
	e.NextRetryAt = nil
	e.UpdatedAt = s.now()
	return nil
}

// Events 返回全部已提交事件的快照
func (s *Store) Events() []*outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*outbox.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, clone(e))
	}
	return out
}

func (s *Store) event(id int64) (*outbox.Event, error) {
	// id 从 1 开始连续分配
	if id < 1 || id > int64(len(s.events)) {
		return nil, fmt.Errorf("%w: %d", outbox.ErrEventNotFound, id)
	}
	return s.events[id-1], nil
}

func clone(e *outbox.Event) *outbox.Event {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	if e.NextRetryAt != nil {
		t := *e.NextRetryAt
		c.NextRetryAt = &t
	}
	if e.AggregateID != nil {
		id := *e.AggregateID
		c.AggregateID = &id
	}
	return &c
}
