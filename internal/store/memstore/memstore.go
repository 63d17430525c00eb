// Package memstore is an in-process store.Store used by tests and the
// memory driver. A single mutex serialises transactions; writes are staged
// on the transaction and applied only when fn returns nil.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"crowdfund/internal/store"
	"crowdfund/pkg/outbox"
)

type Store struct {
	mu     sync.Mutex
	data   map[string]json.RawMessage
	events []*outbox.Event
	nextID int64
	now    func() time.Time
}

func New() *Store {
	return &Store{
		data: make(map[string]json.RawMessage),
		now:  time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &tx{s: s, writes: map[string]json.RawMessage{}, deletes: map[string]bool{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for k := range tx.deletes {
		delete(s.data, k)
	}
	for k, v := range tx.writes {
		s.data[k] = v
	}
	now := s.now()
	for _, e := range tx.events {
		s.nextID++
		e.ID = s.nextID
		e.Status = outbox.StatusPending
		e.CreatedAt, e.UpdatedAt = now, now
		s.events = append(s.events, e)
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(ctx, &tx{s: s, readOnly: true})
}

type tx struct {
	s        *Store
	readOnly bool
	writes   map[string]json.RawMessage
	deletes  map[string]bool
	events   []*outbox.Event
}

func (t *tx) lookup(k string) (json.RawMessage, bool) {
	if !t.readOnly {
		if t.deletes[k] {
			return nil, false
		}
		if v, ok := t.writes[k]; ok {
			return v, true
		}
	}
	v, ok := t.s.data[k]
	return v, ok
}

func (t *tx) Get(_ context.Context, key store.Key, dst any) (bool, error) {
	raw, ok := t.lookup(key.String())
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("memstore: decode %s: %w", key, err)
	}
	return true, nil
}

func (t *tx) Put(_ context.Context, key store.Key, value any) error {
	if t.readOnly {
		return fmt.Errorf("memstore: put %s in read-only transaction", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memstore: encode %s: %w", key, err)
	}
	k := key.String()
	delete(t.deletes, k)
	t.writes[k] = raw
	return nil
}

func (t *tx) Delete(_ context.Context, key store.Key) error {
	if t.readOnly {
		return fmt.Errorf("memstore: delete %s in read-only transaction", key)
	}
	k := key.String()
	delete(t.writes, k)
	t.deletes[k] = true
	return nil
}

func (t *tx) List(_ context.Context, kind store.Kind, productID int64) ([]store.Entry, error) {
	prefix := string(kind) + "/"
	if productID != 0 {
		prefix = store.Key{Kind: kind, ProductID: productID}.String()
	}

	keys := map[string]bool{}
	for k := range t.s.data {
		if strings.HasPrefix(k, prefix) {
			keys[k] = true
		}
	}
	if !t.readOnly {
		for k := range t.writes {
			if strings.HasPrefix(k, prefix) {
				keys[k] = true
			}
		}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	entries := make([]store.Entry, 0, len(sorted))
	for _, k := range sorted {
		raw, ok := t.lookup(k)
		if !ok {
			continue
		}
		key, err := store.ParseKey(k)
		if err != nil {
			return nil, err
		}
		entries = append(entries, store.Entry{Key: key, Value: raw})
	}
	return entries, nil
}

func (t *tx) Emit(_ context.Context, routingKey string, productID int64, payload any) error {
	if t.readOnly {
		return fmt.Errorf("memstore: emit %s in read-only transaction", routingKey)
	}
	id := productID
	e, err := outbox.NewEvent("product", &id, routingKey, payload)
	if err != nil {
		return fmt.Errorf("memstore: encode event %s: %w", routingKey, err)
	}
	t.events = append(t.events, e)
	return nil
}
