package push

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"wavelink-backend/pkg/logger"
)

// MockProvider records notifications instead of sending them. Used in
// development and in tests; refused in production at startup.
type MockProvider struct {
	mu   sync.Mutex
	sent []*Notification
}

// Send implements Provider
func (m *MockProvider) Send(_ context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.mu.Lock()
	m.sent = append(m.sent, notification)
	m.mu.Unlock()

	logger.Debug("Mock push notification",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))

	return &SendResult{SuccessCount: len(tokens)}, nil
}

// Sent returns a copy of the notifications recorded so far
func (m *MockProvider) Sent() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Notification, len(m.sent))
	copy(out, m.sent)
	return out
}
