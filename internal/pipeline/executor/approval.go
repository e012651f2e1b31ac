package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PendingApproval is the externally persisted record of a deployment waiting
// for a human decision. Persisting it outside the process means a pending
// approval survives an orchestrator restart.
type PendingApproval struct {
	RequestID   string     `json:"requestId"`
	Tier        model.Tier `json:"tier"`
	VersionTag  string     `json:"versionTag"`
	Initiator   string     `json:"initiator"`
	RequestedAt time.Time  `json:"requestedAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
}

// Decision is the out-of-band approval signal, tied to one exact request.
type Decision struct {
	RequestID string    `json:"requestId"`
	Approved  bool      `json:"approved"`
	Approver  string    `json:"approver"`
	DecidedAt time.Time `json:"decidedAt"`
	Comment   string    `json:"comment,omitempty"`
}

// ApprovalStore persists pending approvals and their decisions.
type ApprovalStore interface {
	CreatePending(ctx context.Context, p *PendingApproval, ttl time.Duration) error
	GetPending(ctx context.Context, tier model.Tier) (*PendingApproval, error)
	Decide(ctx context.Context, d *Decision, ttl time.Duration) error
	GetDecision(ctx context.Context, requestID string) (*Decision, error)
	ClearPending(ctx context.Context, tier model.Tier) error
}

// RedisApprovalStore keeps pending approvals under approval:pending:<tier> and
// decisions under approval:decision:<requestID>, both with TTLs.
type RedisApprovalStore struct {
	redis *redis.Client
}

func NewRedisApprovalStore(rdb *redis.Client) *RedisApprovalStore {
	return &RedisApprovalStore{redis: rdb}
}

func pendingKey(tier model.Tier) string { return "approval:pending:" + string(tier) }

func decisionKey(requestID string) string { return "approval:decision:" + requestID }

func (s *RedisApprovalStore) CreatePending(ctx context.Context, p *PendingApproval, ttl time.Duration) error {
	if s.redis == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pending approval: %w", err)
	}
	if err := s.redis.Set(ctx, pendingKey(p.Tier), data, ttl+5*time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to store pending approval: %w", err)
	}
	log.Info().
		Str("request_id", p.RequestID).
		Str("tier", string(p.Tier)).
		Str("version", p.VersionTag).
		Time("expires_at", p.ExpiresAt).
		Msg("deployment awaiting approval")
	return nil
}

func (s *RedisApprovalStore) GetPending(ctx context.Context, tier model.Tier) (*PendingApproval, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	data, err := s.redis.Get(ctx, pendingKey(tier)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending approval: %w", err)
	}
	var p PendingApproval
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending approval: %w", err)
	}
	return &p, nil
}

func (s *RedisApprovalStore) Decide(ctx context.Context, d *Decision, ttl time.Duration) error {
	if s.redis == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	if err := s.redis.Set(ctx, decisionKey(d.RequestID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store decision: %w", err)
	}
	return nil
}

func (s *RedisApprovalStore) GetDecision(ctx context.Context, requestID string) (*Decision, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	data, err := s.redis.Get(ctx, decisionKey(requestID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	var d Decision
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	return &d, nil
}

func (s *RedisApprovalStore) ClearPending(ctx context.Context, tier model.Tier) error {
	if s.redis == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := s.redis.Del(ctx, pendingKey(tier)).Err(); err != nil {
		return fmt.Errorf("failed to clear pending approval: %w", err)
	}
	return nil
}
