// Package redis holds repositories backed by the shared Redis client.
package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"wavelink-backend/internal/database"
	"wavelink-backend/pkg/constants"
)

// PresenceRepository mirrors websocket connectivity into Redis so HTTP
// handlers and other instances can cheaply ask who is reachable. The
// in-process connection registry stays authoritative; this is a cache.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new presence repository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s", userID)
}

// SetOnline marks a user as online with a TTL, refreshed on every ping
func (r *PresenceRepository) SetOnline(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeSet(ctx, presenceKey(userID), "online", constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	r.client.SafeSAdd(ctx, "presence:online", userID.String())
	return nil
}

// Refresh extends the presence TTL for a connected user
func (r *PresenceRepository) Refresh(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeExpire(ctx, presenceKey(userID), constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// SetOffline removes a user's presence marker
func (r *PresenceRepository) SetOffline(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeDel(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	r.client.SafeSRem(ctx, "presence:online", userID.String())
	return nil
}

// IsOnline reports whether a user has a live presence marker. Degraded Redis
// reports offline, which only means push delivery is attempted more often.
func (r *PresenceRepository) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := r.client.SafeExists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return n > 0, nil
}
