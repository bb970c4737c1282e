package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-outbound/ratelimit"
)

const receiverThrottleCacheKeyPrefix = "go-outbound::receiver_throttle::v1"

type receiverThrottleRecord struct {
	bun.BaseModel `bun:"table:outbound_receiver_throttle,alias:obt"`

	Receiver          string     `bun:"receiver,pk"`
	Limit             int        `bun:"rate_limit,notnull"`
	Remaining         int        `bun:"remaining,notnull"`
	ResetAt           *time.Time `bun:"reset_at,nullzero"`
	RetryAfterSeconds *int       `bun:"retry_after_seconds"`
	ThrottledUntil    *time.Time `bun:"throttled_until,nullzero"`
	LastStatus        int        `bun:"last_status,notnull"`
	Attempts          int        `bun:"attempts,notnull"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull"`
}

// ReceiverThrottleStore shares receiver throttle windows between workers that
// point at the same database.
type ReceiverThrottleStore struct {
	db *bun.DB
}

func NewReceiverThrottleStore(db *bun.DB) (*ReceiverThrottleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ReceiverThrottleStore{db: db}, nil
}

func (s *ReceiverThrottleStore) Get(ctx context.Context, receiver string) (ratelimit.State, error) {
	if s == nil || s.db == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: receiver throttle store is not configured")
	}
	receiver = normalizeReceiver(receiver)
	if receiver == "" {
		return ratelimit.State{}, fmt.Errorf("sqlstore: receiver is required")
	}
	record := &receiverThrottleRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.receiver = ?", receiver).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ratelimit.State{}, ratelimit.ErrStateNotFound
		}
		return ratelimit.State{}, err
	}
	return record.toDomain(), nil
}

func (s *ReceiverThrottleStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: receiver throttle store is not configured")
	}
	state.Receiver = normalizeReceiver(state.Receiver)
	if state.Receiver == "" {
		return fmt.Errorf("sqlstore: receiver is required")
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	record := newReceiverThrottleRecord(state)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*receiverThrottleRecord)(nil)).
			Where("?TableAlias.receiver = ?", record.Receiver).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			_, err = tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		_, err = tx.NewUpdate().
			Model(record).
			WherePK().
			Exec(ctx)
		return err
	})
}

func newReceiverThrottleRecord(state ratelimit.State) *receiverThrottleRecord {
	record := &receiverThrottleRecord{
		Receiver:       state.Receiver,
		Limit:          state.Limit,
		Remaining:      state.Remaining,
		ResetAt:        cloneTimePointer(state.ResetAt),
		ThrottledUntil: cloneTimePointer(state.ThrottledUntil),
		LastStatus:     state.LastStatus,
		Attempts:       state.Attempts,
		UpdatedAt:      state.UpdatedAt.UTC(),
	}
	if state.RetryAfter != nil && *state.RetryAfter > 0 {
		seconds := int((*state.RetryAfter + time.Second - 1) / time.Second)
		record.RetryAfterSeconds = &seconds
	}
	return record
}

func (r *receiverThrottleRecord) toDomain() ratelimit.State {
	state := ratelimit.State{
		Receiver:       r.Receiver,
		Limit:          r.Limit,
		Remaining:      r.Remaining,
		ResetAt:        cloneTimePointer(r.ResetAt),
		ThrottledUntil: cloneTimePointer(r.ThrottledUntil),
		LastStatus:     r.LastStatus,
		Attempts:       r.Attempts,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.RetryAfterSeconds != nil && *r.RetryAfterSeconds > 0 {
		value := time.Duration(*r.RetryAfterSeconds) * time.Second
		state.RetryAfter = &value
	}
	return state
}

// CachedReceiverThrottleStore reads throttle state through a cache and drops
// the cached entry on every write.
type CachedReceiverThrottleStore struct {
	base  ratelimit.StateStore
	cache repositorycache.CacheService
}

func NewCachedReceiverThrottleStore(
	base ratelimit.StateStore,
	cacheService repositorycache.CacheService,
) (*CachedReceiverThrottleStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base receiver throttle store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: receiver throttle cache service is required")
	}
	return &CachedReceiverThrottleStore{base: base, cache: cacheService}, nil
}

// ReceiverThrottleCacheKey returns go-outbound::receiver_throttle::v1::<receiver>
// with the receiver path-escaped.
func ReceiverThrottleCacheKey(receiver string) (string, error) {
	receiver = normalizeReceiver(receiver)
	if receiver == "" {
		return "", fmt.Errorf("sqlstore: receiver is required")
	}
	return receiverThrottleCacheKeyPrefix + "::" + url.PathEscape(receiver), nil
}

func (s *CachedReceiverThrottleStore) Get(ctx context.Context, receiver string) (ratelimit.State, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: cached receiver throttle store is not configured")
	}
	cacheKey, err := ReceiverThrottleCacheKey(receiver)
	if err != nil {
		return ratelimit.State{}, err
	}
	state, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (ratelimit.State, error) {
		fetched, fetchErr := s.base.Get(ctx, normalizeReceiver(receiver))
		if fetchErr != nil {
			return ratelimit.State{}, fetchErr
		}
		return cloneThrottleState(fetched), nil
	})
	if err != nil {
		return ratelimit.State{}, err
	}
	return cloneThrottleState(state), nil
}

func (s *CachedReceiverThrottleStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached receiver throttle store is not configured")
	}
	cacheKey, err := ReceiverThrottleCacheKey(state.Receiver)
	if err != nil {
		return err
	}
	if err := s.base.Upsert(ctx, cloneThrottleState(state)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func normalizeReceiver(receiver string) string {
	return strings.ToLower(strings.TrimSpace(receiver))
}

func cloneThrottleState(state ratelimit.State) ratelimit.State {
	cloned := state
	cloned.Receiver = normalizeReceiver(state.Receiver)
	cloned.ResetAt = cloneTimePointer(state.ResetAt)
	cloned.ThrottledUntil = cloneTimePointer(state.ThrottledUntil)
	if state.RetryAfter != nil {
		value := *state.RetryAfter
		cloned.RetryAfter = &value
	}
	return cloned
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

var (
	_ ratelimit.StateStore = (*ReceiverThrottleStore)(nil)
	_ ratelimit.StateStore = (*CachedReceiverThrottleStore)(nil)
)
