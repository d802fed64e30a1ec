package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/sentinel"
)

const (
	keyPrefix  = "taskgate:exec:"
	DefaultTTL = 24 * time.Hour
)

// releaseScript deletes the claim only while it is still in progress.
// Returns 1 on delete, 0 when missing and -1 when already completed.
var releaseScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return 0
end
local e = cjson.decode(raw)
if e['state'] ~= ARGV[1] then
	return -1
end
return redis.call('DEL', KEYS[1])
`)

// Redis claims with SET NX. Records expire after ttl, which must outlive the
// approve-and-execute bucket so a replay inside the bucket still finds them.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func redisKey(tenantID id.TenantID, requestID string) string {
	return keyPrefix + tenantID.String() + ":" + requestID
}

func (s *Redis) Claim(ctx context.Context, e *models.Execution) error {
	c := *e
	c.State = models.ExecutionInProgress
	c.Result = nil
	c.CompletedAt = nil
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	ok, err := s.client.SetNX(ctx, redisKey(e.TenantID, e.RequestID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim execution: %w", err)
	}
	if !ok {
		return sentinel.ErrAlreadyExists
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, tenantID id.TenantID, requestID string) (*models.Execution, error) {
	raw, err := s.client.Get(ctx, redisKey(tenantID, requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	var e models.Execution
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return &e, nil
}

// Complete overwrites the claim with SET XX KEEPTTL so an expired claim is
// never resurrected.
func (s *Redis) Complete(ctx context.Context, tenantID id.TenantID, requestID string, result models.ExecutionResult, at time.Time) error {
	e, err := s.Get(ctx, tenantID, requestID)
	if err != nil {
		return err
	}
	if e.State == models.ExecutionCompleted {
		return sentinel.ErrInvalidState
	}
	e.State = models.ExecutionCompleted
	e.Result = &result
	e.CompletedAt = &at
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	err = s.client.SetArgs(ctx, redisKey(tenantID, requestID), raw, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("complete execution: %w", err)
	}
	return nil
}

func (s *Redis) Release(ctx context.Context, tenantID id.TenantID, requestID string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{redisKey(tenantID, requestID)}, string(models.ExecutionInProgress)).Int()
	if err != nil {
		return fmt.Errorf("release execution: %w", err)
	}
	switch n {
	case 0:
		return sentinel.ErrNotFound
	case -1:
		return sentinel.ErrInvalidState
	}
	return nil
}
