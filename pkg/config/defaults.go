package config

import "time"

// DefaultSecurityConfig returns the built-in Security Kernel defaults.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		SigningSecretEnv: "SECURITY_SIGNING_SECRET",
		DevMode:          false,
		SweepInterval:    5 * time.Minute,
	}
}

// DefaultKeyManagerConfig returns the built-in Key Manager defaults.
func DefaultKeyManagerConfig() *KeyManagerConfig {
	return &KeyManagerConfig{
		KeySize:          2048,
		RotationInterval: 30 * 24 * time.Hour,
		OverlapPeriod:    24 * time.Hour,
	}
}

// DefaultTokenConfig returns the built-in Token Issuer/Validator defaults.
func DefaultTokenConfig() *TokenConfig {
	return &TokenConfig{
		DefaultTTL:         1 * time.Hour,
		ClockSkew:          300 * time.Second,
		ValidationCacheTTL: 30 * time.Second,
		Issuer:             "agentforge",
	}
}

// DefaultRevocationConfig returns the built-in Revocation Cache defaults.
func DefaultRevocationConfig() *RevocationConfig {
	return &RevocationConfig{
		BroadcastTopic: "security:revocations",
		SweepInterval:  1 * time.Minute,
	}
}

// DefaultPoolConfig returns the built-in Agent Pool defaults.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxConcurrent:      10,
		QueueWaitTimeout:   60 * time.Second,
		WorkerStartTimeout: 5 * time.Second,
	}
}

// DefaultClusterConfig returns the built-in Cluster Manager defaults.
func DefaultClusterConfig() *ClusterConfig {
	return &ClusterConfig{
		Strategy:          ClusterStrategyStatic,
		HeartbeatInterval: 5 * time.Second,
		NodeTimeout:       15 * time.Second,
		NATSURL:           "nats://127.0.0.1:4222",
	}
}

// DefaultLoadBalancerConfig returns the built-in Load Balancer defaults.
func DefaultLoadBalancerConfig() *LoadBalancerConfig {
	return &LoadBalancerConfig{
		Strategy:           PlacementLeastLoaded,
		LoadCheckInterval:  10 * time.Second,
		RebalanceThreshold: 0.8,
		AutoRebalance:      true,
	}
}

// DefaultWorkflowConfig returns the built-in Workflow Coordinator defaults.
func DefaultWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		StepTimeout:     60 * time.Second,
		WorkflowTimeout: 300 * time.Second,
	}
}

// DefaultAuditConfig returns the built-in Audit Logger defaults.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		ChecksumSecretEnv: "AUDIT_CHECKSUM_SECRET",
		MaxBufferSize:     100,
		FlushInterval:     30 * time.Second,
		Dir:               "./data/audit",
	}
}

// DefaultViolationConfig returns the built-in Violation Monitor defaults.
func DefaultViolationConfig() *ViolationConfig {
	return &ViolationConfig{
		WindowDuration: 5 * time.Minute,
		Cooldown:       15 * time.Minute,
		Thresholds: map[string]int{
			"invalid_capability":    10,
			"permission_denied":     20,
			"token_revoked":         10,
			"rate_limit_exceeded":   5,
			"delegation_not_allowed": 10,
		},
	}
}

// DefaultMetricsConfig returns the built-in Metrics Collector defaults.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		SampleInterval: 30 * time.Second,
		Retention:      24 * time.Hour,
		ListenAddr:     ":9090",
	}
}

// DefaultRecoveryConfig returns the built-in Recovery defaults.
func DefaultRecoveryConfig() *RecoveryConfig {
	return &RecoveryConfig{
		BackupInterval: 5 * time.Minute,
		BackupDir:      "./data/backups",
		RetainCount:    24,
		MaxAge:         7 * 24 * time.Hour,
	}
}

// DefaultAdminConfig returns the built-in admin HTTP surface defaults.
func DefaultAdminConfig() *AdminConfig {
	return &AdminConfig{ListenAddr: ":8090"}
}

// DefaultPostgresConfig returns the built-in Postgres mirror defaults (disabled unless DSN is set).
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}
