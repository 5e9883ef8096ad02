// Package config loads and validates the agentforge core's YAML configuration:
// the security kernel's policies, key rotation cadence, cluster discovery, agent
// pool sizing, and every other tunable named in the design.
package config

// Config is the umbrella configuration object produced by Initialize and threaded
// through the rest of the system via an explicit context object rather than
// package-level globals, so tests can swap in fakes for any component.
type Config struct {
	configDir string

	Security     *SecurityConfig
	KeyManager   *KeyManagerConfig
	Token        *TokenConfig
	Revocation   *RevocationConfig
	Pool         *PoolConfig
	Cluster      *ClusterConfig
	LoadBalancer *LoadBalancerConfig
	Workflow     *WorkflowConfig
	Audit        *AuditConfig
	Violation    *ViolationConfig
	Metrics      *MetricsConfig
	Recovery     *RecoveryConfig
	Admin        *AdminConfig
	Postgres     *PostgresConfig
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarises configuration for startup logging.
type Stats struct {
	ClusterStrategy    ClusterStrategy
	PlacementStrategy  PlacementStrategy
	PoolMaxConcurrent  int
	ViolationRuleCount int
}

// Stats returns a small summary of the loaded configuration for startup logging.
func (c *Config) Stats() Stats {
	return Stats{
		ClusterStrategy:    c.Cluster.Strategy,
		PlacementStrategy:  c.LoadBalancer.Strategy,
		PoolMaxConcurrent:  c.Pool.MaxConcurrent,
		ViolationRuleCount: len(c.Violation.Thresholds),
	}
}
