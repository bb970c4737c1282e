package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-outbound/core"
)

type SubscriptionStore struct {
	db   *bun.DB
	repo repository.Repository[*subscriptionRecord]
	Now  func() time.Time
}

func NewSubscriptionStore(db *bun.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	// Fan-out reads every subscription of a topic, so no default page size.
	repo := repository.NewRepositoryWithConfig[*subscriptionRecord](db, subscriptionHandlers(), nil)
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid subscription repository wiring: %w", err)
		}
	}
	return &SubscriptionStore{
		db:   db,
		repo: repo,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Add upserts on (topic, url). A lost insert race falls back to the update path.
func (s *SubscriptionStore) Add(ctx context.Context, topic, url, secret string) (core.WebhookSubscription, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	in := core.WebhookSubscription{
		Topic:  strings.TrimSpace(topic),
		URL:    strings.TrimSpace(url),
		Secret: secret,
	}
	if err := in.Validate(); err != nil {
		return core.WebhookSubscription{}, err
	}

	out, err := s.upsert(ctx, in)
	if err != nil && isUniqueViolation(err) {
		out, err = s.upsert(ctx, in)
	}
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	return out, nil
}

func (s *SubscriptionStore) upsert(ctx context.Context, in core.WebhookSubscription) (core.WebhookSubscription, error) {
	now := s.now()
	var out core.WebhookSubscription
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.findByTopicURLTx(ctx, tx, in.Topic, in.URL)
		if err != nil {
			return err
		}
		if existing == nil {
			record := &subscriptionRecord{
				ID:        uuid.NewString(),
				Topic:     in.Topic,
				URL:       in.URL,
				Secret:    in.Secret,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if _, createErr := tx.NewInsert().Model(record).Exec(ctx); createErr != nil {
				return createErr
			}
			out = record.toDomain()
			return nil
		}

		existing.Secret = in.Secret
		existing.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().
			Model(existing).
			Column("secret", "updated_at").
			Where("id = ?", existing.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = existing.toDomain()
		return nil
	})
	return out, err
}

func (s *SubscriptionStore) Get(ctx context.Context, id string) (core.WebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	return record.toDomain(), nil
}

func (s *SubscriptionStore) GetForTopic(ctx context.Context, topic string) ([]core.WebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("topic", "=", strings.TrimSpace(topic)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	return subscriptionsToDomain(records), nil
}

func (s *SubscriptionStore) List(ctx context.Context) ([]core.WebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("created_at ASC"))
	if err != nil {
		return nil, err
	}
	return subscriptionsToDomain(records), nil
}

func (s *SubscriptionStore) Remove(ctx context.Context, topic, url string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*subscriptionRecord)(nil)).
		Where("topic = ?", strings.TrimSpace(topic)).
		Where("url = ?", strings.TrimSpace(url)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SubscriptionStore) findByTopicURLTx(ctx context.Context, tx bun.Tx, topic, url string) (*subscriptionRecord, error) {
	record := &subscriptionRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.topic = ?", topic).
		Where("?TableAlias.url = ?", url).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if strings.TrimSpace(record.ID) == "" {
		return nil, nil
	}
	return record, nil
}

func (s *SubscriptionStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func subscriptionsToDomain(records []*subscriptionRecord) []core.WebhookSubscription {
	out := make([]core.WebhookSubscription, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out
}

var _ core.SubscriptionRegistry = (*SubscriptionStore)(nil)
