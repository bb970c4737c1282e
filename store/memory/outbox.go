// Package memstore provides in-process outbox, inbox and subscription stores.
// Every store is an explicit instance; nothing is shared between instances.
package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-outbound/core"
)

type OutboxStore struct {
	mu       sync.Mutex
	nextID   int64
	messages []core.OutboxMessage
	index    map[int64]int
	Now      func() time.Time
}

func NewOutboxStore() *OutboxStore {
	return &OutboxStore{
		index: map[int64]int{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *OutboxStore) Enqueue(_ context.Context, topic string, payload map[string]any) (core.OutboxMessage, error) {
	if s == nil {
		return core.OutboxMessage{}, fmt.Errorf("memstore: outbox store is nil")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return core.OutboxMessage{}, fmt.Errorf("memstore: outbox topic is required")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg := core.OutboxMessage{
		ID:        s.nextID,
		Topic:     topic,
		Payload:   core.ClonePayload(payload),
		CreatedAt: now,
	}
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	return msg.Clone(), nil
}

func (s *OutboxStore) FetchNext(ctx context.Context) (core.OutboxMessage, bool, error) {
	pending, err := s.Pending(ctx, 1)
	if err != nil || len(pending) == 0 {
		return core.OutboxMessage{}, false, err
	}
	return pending[0], true, nil
}

func (s *OutboxStore) Pending(_ context.Context, limit int) ([]core.OutboxMessage, error) {
	if s == nil {
		return nil, fmt.Errorf("memstore: outbox store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.OutboxMessage, 0)
	for _, msg := range s.messages {
		if msg.Processed() {
			continue
		}
		out = append(out, msg.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *OutboxStore) Get(_ context.Context, id int64) (core.OutboxMessage, error) {
	if s == nil {
		return core.OutboxMessage{}, fmt.Errorf("memstore: outbox store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return core.OutboxMessage{}, fmt.Errorf("%w: %d", core.ErrOutboxMessageNotFound, id)
	}
	return s.messages[pos].Clone(), nil
}

// MarkProcessed keeps the first processed_at when called again.
func (s *OutboxStore) MarkProcessed(_ context.Context, id int64) error {
	if s == nil {
		return fmt.Errorf("memstore: outbox store is nil")
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", core.ErrOutboxMessageNotFound, id)
	}
	if s.messages[pos].ProcessedAt == nil {
		s.messages[pos].ProcessedAt = &now
	}
	return nil
}

// CountByTopic reports how many messages were staged for topic.
func (s *OutboxStore) CountByTopic(topic string) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, msg := range s.messages {
		if msg.Topic == topic {
			count++
		}
	}
	return count
}

func (s *OutboxStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.OutboxStore = (*OutboxStore)(nil)
