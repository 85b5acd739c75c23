package runlock

import (
	"context"
	"fmt"
	"time"

	"meridian-core-pos-layer/internal/domain"
	"meridian-core-pos-layer/internal/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the lock only when still held by this run, so an
// expired lock taken over by another run is never released from here.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// RedisRunGuard serializes sync runs per (tenant, integration) with a
// SET NX PX lock. The TTL bounds how long a crashed run can block the next
// one; live runs are expected to release well before it.
type RedisRunGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisRunGuard creates a run guard backed by the given Redis client
func NewRedisRunGuard(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisRunGuard {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisRunGuard{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire takes the guard for one (tenant, integration) pair
func (g *RedisRunGuard) Acquire(ctx context.Context, tenantID, integrationID string) (func(), error) {
	key := fmt.Sprintf("possync:run:%s:%s", tenantID, integrationID)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run guard: %w", err)
	}
	if !ok {
		return nil, domain.ErrSyncInProgress
	}

	release := func() {
		// Release must not inherit a cancelled run context
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := g.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			g.logger.Warn().
				Err(err).
				Str("tenantId", tenantID).
				Msg("Failed to release run guard, lock will expire by TTL")
		}
	}
	return release, nil
}

var _ ports.RunGuard = (*RedisRunGuard)(nil)
