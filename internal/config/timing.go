package config

import "time"

// Default timing configurations used throughout the orchestrator
const (
	// DefaultSessionTimeout is used when a spawn request omits a timeout
	DefaultSessionTimeout = 30 * time.Minute

	// DefaultKillGrace is how long a terminated session gets between SIGTERM and SIGKILL
	DefaultKillGrace = 5 * time.Second

	// DefaultCredentialFetchTimeout bounds a single vault lookup
	DefaultCredentialFetchTimeout = 10 * time.Second

	// DefaultVerifyTimeout bounds a single upstream liveness check
	DefaultVerifyTimeout = 15 * time.Second

	// DefaultVerifyInterval is the minimum spacing between upstream liveness checks
	DefaultVerifyInterval = 200 * time.Millisecond

	// DefaultGitTimeout bounds clone/init/config for one workspace
	DefaultGitTimeout = 5 * time.Minute

	// DefaultShutdownTimeout bounds session teardown on daemon shutdown
	DefaultShutdownTimeout = 30 * time.Second
)
