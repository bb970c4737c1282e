package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-outbound/core"
)

type InboxStore struct {
	db  bun.IDB
	Now func() time.Time
}

func NewInboxStore(db bun.IDB) (*InboxStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &InboxStore{
		db: db,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *InboxStore) Seen(ctx context.Context, key string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: inbox store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("sqlstore: inbox key is required")
	}
	return s.db.NewSelect().
		Model((*inboxRecord)(nil)).
		Where("?TableAlias.delivery_key = ?", key).
		Exists(ctx)
}

// Record relies on the primary key to detect a concurrent or repeated insert.
func (s *InboxStore) Record(ctx context.Context, key string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: inbox store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("sqlstore: inbox key is required")
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	record := &inboxRecord{DeliveryKey: key, SeenAt: now}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var _ core.InboxStore = (*InboxStore)(nil)
