package config

import "time"

// SecurityConfig controls the Security Kernel and the capability policies it enforces.
type SecurityConfig struct {
	// SigningSecretEnv names the environment variable holding the HMAC secret used to
	// sign capabilities. Defaults to SECURITY_SIGNING_SECRET.
	SigningSecretEnv string `yaml:"signing_secret_env"`
	// DevMode allows a compiled-in fallback secret when the environment variable is unset.
	// Must never be true in a production deployment.
	DevMode bool `yaml:"dev_mode"`
	// SweepInterval is how often expired capabilities are garbage-collected.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// AllowedOperations is the policy whitelist checked on request_capability; empty means unrestricted.
	AllowedOperations []string `yaml:"allowed_operations,omitempty"`
	// AllowedPathPrefixes is the policy whitelist of filesystem path prefixes.
	AllowedPathPrefixes []string `yaml:"allowed_path_prefixes,omitempty"`
	// AllowedTools is the policy whitelist of MCP tool names.
	AllowedTools []string `yaml:"allowed_tools,omitempty"`
	// RateLimitPerPrincipal bounds request_capability calls per principal per minute; 0 disables.
	RateLimitPerPrincipal int `yaml:"rate_limit_per_principal"`
	// PolicyBundlePath, if set, points to an OPA policy bundle evaluated in addition to the
	// whitelists above.
	PolicyBundlePath string `yaml:"policy_bundle_path,omitempty"`
}

// KeyManagerConfig controls RSA signing-key generation and rotation.
type KeyManagerConfig struct {
	KeySize         int           `yaml:"key_size"`
	RotationInterval time.Duration `yaml:"rotation_interval"`
	OverlapPeriod   time.Duration `yaml:"overlap_period"`
}

// TokenConfig controls issuance and stateless validation of wire-format capability tokens.
type TokenConfig struct {
	DefaultTTL          time.Duration `yaml:"default_ttl"`
	ClockSkew           time.Duration `yaml:"clock_skew"`
	ValidationCacheTTL  time.Duration `yaml:"validation_cache_ttl"`
	Issuer              string        `yaml:"issuer"`
}

// RevocationConfig controls the shared revoked-jti cache.
type RevocationConfig struct {
	RedisAddr      string        `yaml:"redis_addr"`
	BroadcastTopic string        `yaml:"broadcast_topic"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// PoolConfig controls the bounded-concurrency agent pool.
type PoolConfig struct {
	MaxConcurrent     int           `yaml:"max_concurrent"`
	QueueWaitTimeout  time.Duration `yaml:"queue_wait_timeout"`
	WorkerStartTimeout time.Duration `yaml:"worker_start_timeout"`
}

// ClusterConfig controls node discovery and heartbeat cadence.
type ClusterConfig struct {
	Strategy         ClusterStrategy `yaml:"strategy"`
	Members          []string        `yaml:"members,omitempty"`
	NodeID           string          `yaml:"node_id"`
	HeartbeatInterval time.Duration  `yaml:"heartbeat_interval"`
	NodeTimeout      time.Duration   `yaml:"node_timeout"`
	NATSURL          string          `yaml:"nats_url"`
	Namespace        string          `yaml:"namespace,omitempty"` // kubernetes strategy: pod namespace
	LabelSelector    string          `yaml:"label_selector,omitempty"`
}

// LoadBalancerConfig controls placement and automatic rebalancing.
type LoadBalancerConfig struct {
	Strategy           PlacementStrategy `yaml:"strategy"`
	LoadCheckInterval  time.Duration     `yaml:"load_check_interval"`
	RebalanceThreshold float64           `yaml:"rebalance_threshold"`
	AutoRebalance      bool              `yaml:"auto_rebalance"`
}

// WorkflowConfig controls the workflow coordinator's timeouts.
type WorkflowConfig struct {
	StepTimeout     time.Duration `yaml:"step_timeout"`
	WorkflowTimeout time.Duration `yaml:"workflow_timeout"`
}

// AuditConfig controls audit log buffering, rotation, and destinations.
type AuditConfig struct {
	ChecksumSecretEnv string        `yaml:"checksum_secret_env"`
	DevMode           bool          `yaml:"dev_mode"`
	MaxBufferSize     int           `yaml:"max_buffer_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	Dir               string        `yaml:"dir"`
	SyslogEnabled     bool          `yaml:"syslog_enabled"`
	SyslogNetwork     string        `yaml:"syslog_network,omitempty"`
	SyslogAddr        string        `yaml:"syslog_addr,omitempty"`
}

// ViolationConfig controls sliding-window thresholds and alert cooldowns.
type ViolationConfig struct {
	WindowDuration time.Duration    `yaml:"window_duration"`
	Cooldown       time.Duration    `yaml:"cooldown"`
	Thresholds     map[string]int   `yaml:"thresholds,omitempty"`
}

// MetricsConfig controls the in-memory metrics time series.
type MetricsConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	Retention      time.Duration `yaml:"retention"`
	ListenAddr     string        `yaml:"listen_addr"`
}

// RecoveryConfig controls periodic state snapshots and restoration.
type RecoveryConfig struct {
	BackupInterval time.Duration `yaml:"backup_interval"`
	BackupDir      string        `yaml:"backup_dir"`
	RetainCount    int           `yaml:"retain_count"`
	MaxAge         time.Duration `yaml:"max_age"`
}

// AdminConfig controls the thin HTTP admin surface (/healthz, /metrics, JWKS).
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// PostgresConfig controls the optional audit/session persistence mirror.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path,omitempty"`
}
