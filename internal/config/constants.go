package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
	DBConnectMaxTries = 5
)

// HTTP server timeouts
const (
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// WebSocket keepalive
const (
	WSWriteWait      = 10 * time.Second
	WSPongWait       = 60 * time.Second
	WSPingPeriod     = (WSPongWait * 9) / 10
	WSSendBufferSize = 256
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const PendingSweepInterval = time.Second

// Per-message handler deadline for database work
const MessageHandlerTimeout = 10 * time.Second

// Window for the Redis sliding-window limiters
const RateLimitWindow = time.Minute
