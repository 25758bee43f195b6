package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration for the GuardLane service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Budget     *Budget
	Retry      *Retry
	Governance *Governance
	Security   *Security
	Log        *Log
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds the admin HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds storage configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds the MySQL connection configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds the Redis connection configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Budget holds budget controller configuration.
type Budget struct {
	// DefaultAccountLimit is the total token limit assigned to an account
	// created lazily on first request.
	DefaultAccountLimit int64
	// DecisionTtl bounds how long cached idempotent decisions live.
	DecisionTtl *durationpb.Duration
}

// Retry holds retry worker and dead-letter configuration.
type Retry struct {
	MaxAttempts  int32
	BackoffBase  *durationpb.Duration
	BackoffMax   *durationpb.Duration
	PollInterval *durationpb.Duration
	Workers      int32
}

// Governance holds learning-governance configuration.
type Governance struct {
	// UpdateLogRetention bounds how long per-role update history is kept.
	UpdateLogRetention *durationpb.Duration
}

// Security holds encryption configuration.
type Security struct {
	// EncryptionKey is the base64-encoded 32-byte AES-256 key used to
	// encrypt dead-letter payloads at rest. Empty disables encryption.
	EncryptionKey string
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
