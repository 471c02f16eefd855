package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"wavelink-backend/internal/database"
)

// PushTokenRepository stores device push tokens per user as a Redis set.
// Tokens are registered by the mobile clients and purged when the push
// provider reports them unregistered.
type PushTokenRepository struct {
	client *database.RedisClient
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *database.RedisClient) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func tokenKey(userID uuid.UUID) string {
	return fmt.Sprintf("push_tokens:%s", userID)
}

// RegisterToken associates a device token with a user
func (r *PushTokenRepository) RegisterToken(ctx context.Context, userID uuid.UUID, token string) error {
	if err := r.client.SafeSAdd(ctx, tokenKey(userID), token).Err(); err != nil {
		return fmt.Errorf("failed to register push token: %w", err)
	}
	return nil
}

// GetTokens returns all device tokens registered for a user
func (r *PushTokenRepository) GetTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	tokens, err := r.client.SafeSMembers(ctx, tokenKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get push tokens: %w", err)
	}
	return tokens, nil
}

// RemoveTokens drops tokens the provider reported as invalid
func (r *PushTokenRepository) RemoveTokens(ctx context.Context, userID uuid.UUID, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	members := make([]interface{}, len(tokens))
	for i, t := range tokens {
		members[i] = t
	}

	if err := r.client.SafeSRem(ctx, tokenKey(userID), members...).Err(); err != nil {
		return fmt.Errorf("failed to remove push tokens: %w", err)
	}
	return nil
}
