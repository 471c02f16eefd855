// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// WebSocket constants
const (
	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single frame write
	WebSocketWriteTimeout = 10 * time.Second

	// WebSocketSendBuffer is the per-connection outbound queue size
	WebSocketSendBuffer = 256
)

// Call lifecycle constants
const (
	// CallInvitationExpiry is how long a group-call invitation stays pending
	CallInvitationExpiry = 2 * time.Minute

	// CallLockShards is the number of per-call mutex shards in the orchestrator
	CallLockShards = 64
)

// Time-related constants
const (
	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Presence constants
const (
	// PresenceTTL is how long a presence key lives without a refresh
	PresenceTTL = 5 * time.Minute
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)
