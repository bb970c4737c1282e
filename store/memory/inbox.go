package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-outbound/core"
)

type InboxStore struct {
	mu      sync.Mutex
	records map[string]core.InboxRecord
	Now     func() time.Time
}

func NewInboxStore() *InboxStore {
	return &InboxStore{
		records: map[string]core.InboxRecord{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InboxStore) Seen(_ context.Context, key string) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("memstore: inbox store is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("memstore: inbox key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	return ok, nil
}

func (s *InboxStore) Record(_ context.Context, key string) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("memstore: inbox store is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("memstore: inbox key is required")
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.records[key] = core.InboxRecord{Key: key, SeenAt: now}
	return true, nil
}

func (s *InboxStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var _ core.InboxStore = (*InboxStore)(nil)
