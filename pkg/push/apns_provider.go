package push

import (
	"context"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"

	"wavelink-backend/pkg/logger"
)

// APNsProvider implements Provider for the Apple Push Notification Service.
// Call alerts are sent with high priority so devices ring promptly.
type APNsProvider struct {
	client   *apns2.Client
	bundleID string
}

// APNsConfig contains configuration for APNs provider
type APNsConfig struct {
	KeyPath  string // Path to .p8 private key file
	KeyID    string // 10-character Key ID from Apple Developer Portal
	TeamID   string // 10-character Team ID from Apple Developer Portal
	BundleID string // Bundle ID of the app (e.g., com.example.app)

	Production bool // Use production APNs endpoint (true) or sandbox (false)
}

// NewAPNsProvider creates a new token-authenticated APNs provider
func NewAPNsProvider(config *APNsConfig) (*APNsProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("APNs config is required")
	}
	if config.BundleID == "" {
		return nil, fmt.Errorf("BundleID is required")
	}
	if config.KeyPath == "" || config.KeyID == "" || config.TeamID == "" {
		return nil, fmt.Errorf("token authentication requires KeyPath, KeyID and TeamID")
	}

	authKey, err := token.AuthKeyFromFile(config.KeyPath)
	if err != nil {
		logger.Error("Failed to load APNs key file",
			zap.Error(err),
			zap.String("key_path", config.KeyPath),
			zap.String("key_id", config.KeyID))
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   config.KeyID,
		TeamID:  config.TeamID,
	})
	if config.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	logger.Info("APNs provider initialized",
		zap.String("bundle_id", config.BundleID),
		zap.String("key_id", config.KeyID),
		zap.Bool("production", config.Production))

	return &APNsProvider{
		client:   client,
		bundleID: config.BundleID,
	}, nil
}

// Send delivers the notification to each device token individually; APNs has
// no multicast endpoint.
func (a *APNsProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	if a.client == nil {
		return nil, fmt.Errorf("APNs client is not initialized")
	}
	if len(tokens) == 0 {
		return &SendResult{}, nil
	}

	result := &SendResult{}

	for _, deviceToken := range tokens {
		p := payload.NewPayload().
			AlertTitle(notification.Title).
			AlertBody(notification.Body)
		if notification.Sound != "" {
			p.Sound(notification.Sound)
		}
		if notification.Category != "" {
			p.Category(notification.Category)
		}
		for key, value := range notification.Data {
			p.Custom(key, value)
		}

		msg := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       a.bundleID,
			Payload:     p,
			Priority:    apns2.PriorityLow,
		}
		if notification.Priority == "high" {
			msg.Priority = apns2.PriorityHigh
		}

		resp, err := a.client.PushWithContext(ctx, msg)
		if err != nil {
			result.FailureCount++
			logger.Warn("Failed to send APNs notification",
				zap.Error(err),
				zap.String("device_token", deviceToken))
			continue
		}

		if resp.StatusCode == 200 {
			result.SuccessCount++
			continue
		}

		result.FailureCount++
		switch {
		case resp.StatusCode == 410,
			resp.Reason == apns2.ReasonUnregistered,
			resp.Reason == apns2.ReasonBadDeviceToken,
			resp.Reason == apns2.ReasonDeviceTokenNotForTopic:
			result.InvalidTokens = append(result.InvalidTokens, deviceToken)
		}
		logger.Warn("APNs notification rejected",
			zap.Int("status_code", resp.StatusCode),
			zap.String("reason", resp.Reason),
			zap.String("device_token", deviceToken))
	}

	logger.Debug("APNs batch send completed",
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))

	return result, nil
}
