// Package push delivers call notifications to devices that have no live
// signaling connection (incoming call on a phone that is asleep).
package push

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wavelink-backend/pkg/logger"
)

// Provider defines the interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// TokenRepository resolves a user's registered device tokens
type TokenRepository interface {
	GetTokens(ctx context.Context, userID uuid.UUID) ([]string, error)
	RemoveTokens(ctx context.Context, userID uuid.UUID, tokens []string) error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// SendResult contains the result of a push send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}

// Service resolves tokens and dispatches notifications through a provider
type Service struct {
	provider Provider
	tokens   TokenRepository
}

// NewService creates a new push service
func NewService(provider Provider, tokens TokenRepository) *Service {
	return &Service{
		provider: provider,
		tokens:   tokens,
	}
}

// NotifyIncomingCall pushes an incoming-call notification to all of a user's devices
func (s *Service) NotifyIncomingCall(ctx context.Context, userID uuid.UUID, callID uuid.UUID, callerName, callType string) error {
	notification := &Notification{
		Title:    "Incoming call",
		Body:     callerName + " is calling you",
		Priority: "high",
		Sound:    "ringtone",
		Category: "incoming_call",
		Data: map[string]string{
			"type":      "incoming-call",
			"call_id":   callID.String(),
			"call_type": callType,
			"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		},
	}
	return s.sendToUser(ctx, userID, notification)
}

// NotifyCallEnded pushes a call-ended notification so ringing devices stop ringing
func (s *Service) NotifyCallEnded(ctx context.Context, userID uuid.UUID, callID uuid.UUID, reason string) error {
	notification := &Notification{
		Title:    "Call ended",
		Priority: "high",
		Category: "call_ended",
		Data: map[string]string{
			"type":    "call-ended",
			"call_id": callID.String(),
			"reason":  reason,
		},
	}
	return s.sendToUser(ctx, userID, notification)
}

func (s *Service) sendToUser(ctx context.Context, userID uuid.UUID, notification *Notification) error {
	tokens, err := s.tokens.GetTokens(ctx, userID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		logger.Debug("No push tokens registered for user",
			zap.String("user_id", userID.String()))
		return nil
	}

	result, err := s.provider.Send(ctx, notification, tokens)
	if err != nil {
		return err
	}

	// Invalid tokens are purged so dead devices are not retried forever
	if len(result.InvalidTokens) > 0 {
		if err := s.tokens.RemoveTokens(ctx, userID, result.InvalidTokens); err != nil {
			logger.Warn("Failed to remove invalid push tokens",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}

	logger.Debug("Push notification dispatched",
		zap.String("user_id", userID.String()),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount))
	return nil
}
