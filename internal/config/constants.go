package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 30 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Startup ping timeout for backends
const BackendPingTimeout = 5 * time.Second

// Background job intervals
const (
	CleanupJobInterval    = 5 * time.Minute
	StaleSweepJobInterval = time.Minute
)

// Request bodies above this size are rejected before decoding. Leaves headroom
// over the largest ciphertext the storage policy accepts.
const MaxRequestBodyBytes = 3 << 20

// CORS preflight cache duration in seconds
const CORSMaxAge = 300
