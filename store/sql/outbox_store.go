package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-outbound/core"
)

// OutboxStore uses bun directly: ids are database sequences, not the uuids
// go-repository-bun handlers expect.
type OutboxStore struct {
	db  bun.IDB
	Now func() time.Time
}

func NewOutboxStore(db bun.IDB) (*OutboxStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &OutboxStore{
		db: db,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// WithTx returns a store bound to tx, so the outbox write commits together
// with the caller's business change.
func (s *OutboxStore) WithTx(tx bun.Tx) *OutboxStore {
	if s == nil {
		return nil
	}
	return &OutboxStore{db: tx, Now: s.Now}
}

func (s *OutboxStore) Enqueue(ctx context.Context, topic string, payload map[string]any) (core.OutboxMessage, error) {
	if s == nil || s.db == nil {
		return core.OutboxMessage{}, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return core.OutboxMessage{}, fmt.Errorf("sqlstore: outbox topic is required")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	record := &outboxRecord{
		Topic:     topic,
		Payload:   core.ClonePayload(payload),
		CreatedAt: s.now(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.OutboxMessage{}, err
	}
	return record.toDomain(), nil
}

func (s *OutboxStore) FetchNext(ctx context.Context) (core.OutboxMessage, bool, error) {
	pending, err := s.Pending(ctx, 1)
	if err != nil || len(pending) == 0 {
		return core.OutboxMessage{}, false, err
	}
	return pending[0], true, nil
}

func (s *OutboxStore) Pending(ctx context.Context, limit int) ([]core.OutboxMessage, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	var records []outboxRecord
	query := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.processed_at IS NULL").
		OrderExpr("?TableAlias.id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	out := make([]core.OutboxMessage, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// ClaimPending leases up to limit unprocessed messages, oldest first, by
// stamping claimed_until_ms in one statement. Postgres skips rows another
// claimer has locked.
func (s *OutboxStore) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]core.OutboxMessage, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	if lease <= 0 {
		lease = time.Minute
	}
	now := toMillis(s.now())

	query := fmt.Sprintf(`
UPDATE outbound_outbox
SET claimed_until_ms = ?
WHERE id IN (
	SELECT id
	FROM outbound_outbox
	WHERE processed_at IS NULL
	  AND (claimed_until_ms IS NULL OR claimed_until_ms <= ?)
	ORDER BY id ASC
	LIMIT ?
	%s
)
  AND processed_at IS NULL
  AND (claimed_until_ms IS NULL OR claimed_until_ms <= ?)
RETURNING id, topic, payload, created_at, processed_at, claimed_until_ms
`, s.lockClause())

	var records []outboxRecord
	err := s.db.NewRaw(query, now+lease.Milliseconds(), now, limit, now).Scan(ctx, &records)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	out := make([]core.OutboxMessage, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *OutboxStore) Get(ctx context.Context, id int64) (core.OutboxMessage, error) {
	if s == nil || s.db == nil {
		return core.OutboxMessage{}, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	record := &outboxRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.OutboxMessage{}, fmt.Errorf("%w: %d", core.ErrOutboxMessageNotFound, id)
		}
		return core.OutboxMessage{}, err
	}
	return record.toDomain(), nil
}

// MarkProcessed only writes processed_at while it is still null.
func (s *OutboxStore) MarkProcessed(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*outboxRecord)(nil)).
		Set("processed_at = ?", s.now()).
		Where("id = ?", id).
		Where("processed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affErr := result.RowsAffected(); affErr == nil && affected > 0 {
		return nil
	}
	_, err = s.Get(ctx, id)
	return err
}

func (s *OutboxStore) lockClause() string {
	if s.db.Dialect().Name() == dialect.PG {
		return "FOR UPDATE SKIP LOCKED"
	}
	return ""
}

func (s *OutboxStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var (
	_ core.OutboxStore   = (*OutboxStore)(nil)
	_ core.OutboxClaimer = (*OutboxStore)(nil)
)
