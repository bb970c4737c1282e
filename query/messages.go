package query

import "strings"

const (
	TypeListSubscriptions = "outbound.query.subscription.list"
	TypeGetOutboxMessage  = "outbound.query.outbox.get"
	TypeGetJob            = "outbound.query.job.get"
	TypeListDeadLetters   = "outbound.query.job.dead_letters"
)

// ListSubscriptionsMessage lists every subscription, or only those of Topic.
type ListSubscriptionsMessage struct {
	Topic string
}

func (ListSubscriptionsMessage) Type() string { return TypeListSubscriptions }

func (ListSubscriptionsMessage) Validate() error { return nil }

type GetOutboxMessageMessage struct {
	ID int64
}

func (GetOutboxMessageMessage) Type() string { return TypeGetOutboxMessage }

func (m GetOutboxMessageMessage) Validate() error {
	if m.ID <= 0 {
		return queryValidationError("id", "outbox id must be positive")
	}
	return nil
}

type GetJobMessage struct {
	ID int64
}

func (GetJobMessage) Type() string { return TypeGetJob }

func (m GetJobMessage) Validate() error {
	if m.ID <= 0 {
		return queryValidationError("id", "job id must be positive")
	}
	return nil
}

// ListDeadLettersMessage optionally narrows dead jobs to one job name prefix.
type ListDeadLettersMessage struct {
	NamePrefix string
	Limit      int
}

func (ListDeadLettersMessage) Type() string { return TypeListDeadLetters }

func (m ListDeadLettersMessage) Validate() error {
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if strings.ContainsAny(m.NamePrefix, " \t\n") {
		return queryValidationError("name_prefix", "name prefix must not contain whitespace")
	}
	return nil
}
