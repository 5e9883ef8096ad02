package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the complete agentforge.yaml file structure. Every
// section is optional; omitted sections fall back to their built-in defaults.
type YAMLConfig struct {
	Security     *SecurityConfig     `yaml:"security"`
	KeyManager   *KeyManagerConfig   `yaml:"key_manager"`
	Token        *TokenConfig        `yaml:"token"`
	Revocation   *RevocationConfig   `yaml:"revocation"`
	Pool         *PoolConfig         `yaml:"pool"`
	Cluster      *ClusterConfig      `yaml:"cluster"`
	LoadBalancer *LoadBalancerConfig `yaml:"load_balancer"`
	Workflow     *WorkflowConfig     `yaml:"workflow"`
	Audit        *AuditConfig        `yaml:"audit"`
	Violation    *ViolationConfig    `yaml:"violation"`
	Metrics      *MetricsConfig      `yaml:"metrics"`
	Recovery     *RecoveryConfig     `yaml:"recovery"`
	Admin        *AdminConfig        `yaml:"admin"`
	Postgres     *PostgresConfig     `yaml:"postgres"`
}

// Initialize loads, merges with built-in defaults, and validates configuration.
// This is the primary entry point for configuration loading.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized",
		"cluster_strategy", stats.ClusterStrategy,
		"placement_strategy", stats.PlacementStrategy,
		"pool_max_concurrent", stats.PoolMaxConcurrent,
		"violation_rules", stats.ViolationRuleCount)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadAgentforgeYAML()
	if err != nil {
		return nil, NewLoadError("agentforge.yaml", err)
	}

	security := DefaultSecurityConfig()
	keyManager := DefaultKeyManagerConfig()
	token := DefaultTokenConfig()
	revocation := DefaultRevocationConfig()
	pool := DefaultPoolConfig()
	cluster := DefaultClusterConfig()
	loadBalancer := DefaultLoadBalancerConfig()
	workflow := DefaultWorkflowConfig()
	audit := DefaultAuditConfig()
	violation := DefaultViolationConfig()
	metrics := DefaultMetricsConfig()
	recovery := DefaultRecoveryConfig()
	admin := DefaultAdminConfig()
	postgres := DefaultPostgresConfig()

	if err := mergeInto(security, yamlCfg.Security); err != nil {
		return nil, fmt.Errorf("merging security config: %w", err)
	}
	if err := mergeInto(keyManager, yamlCfg.KeyManager); err != nil {
		return nil, fmt.Errorf("merging key_manager config: %w", err)
	}
	if err := mergeInto(token, yamlCfg.Token); err != nil {
		return nil, fmt.Errorf("merging token config: %w", err)
	}
	if err := mergeInto(revocation, yamlCfg.Revocation); err != nil {
		return nil, fmt.Errorf("merging revocation config: %w", err)
	}
	if err := mergeInto(pool, yamlCfg.Pool); err != nil {
		return nil, fmt.Errorf("merging pool config: %w", err)
	}
	if err := mergeInto(cluster, yamlCfg.Cluster); err != nil {
		return nil, fmt.Errorf("merging cluster config: %w", err)
	}
	if err := mergeInto(loadBalancer, yamlCfg.LoadBalancer); err != nil {
		return nil, fmt.Errorf("merging load_balancer config: %w", err)
	}
	if err := mergeInto(workflow, yamlCfg.Workflow); err != nil {
		return nil, fmt.Errorf("merging workflow config: %w", err)
	}
	if err := mergeInto(audit, yamlCfg.Audit); err != nil {
		return nil, fmt.Errorf("merging audit config: %w", err)
	}
	if err := mergeInto(violation, yamlCfg.Violation); err != nil {
		return nil, fmt.Errorf("merging violation config: %w", err)
	}
	if err := mergeInto(metrics, yamlCfg.Metrics); err != nil {
		return nil, fmt.Errorf("merging metrics config: %w", err)
	}
	if err := mergeInto(recovery, yamlCfg.Recovery); err != nil {
		return nil, fmt.Errorf("merging recovery config: %w", err)
	}
	if err := mergeInto(admin, yamlCfg.Admin); err != nil {
		return nil, fmt.Errorf("merging admin config: %w", err)
	}
	if err := mergeInto(postgres, yamlCfg.Postgres); err != nil {
		return nil, fmt.Errorf("merging postgres config: %w", err)
	}

	return &Config{
		configDir:    configDir,
		Security:     security,
		KeyManager:   keyManager,
		Token:        token,
		Revocation:   revocation,
		Pool:         pool,
		Cluster:      cluster,
		LoadBalancer: loadBalancer,
		Workflow:     workflow,
		Audit:        audit,
		Violation:    violation,
		Metrics:      metrics,
		Recovery:     recovery,
		Admin:        admin,
		Postgres:     postgres,
	}, nil
}

// mergeInto merges a user-supplied section (possibly nil) on top of the built-in
// default, preserving any default field the user section left unset.
func mergeInto[T any](dst *T, src *T) error {
	if src == nil {
		return nil
	}
	return mergo.Merge(dst, src, mergo.WithOverride)
}

func validate(cfg *Config) error {
	v := NewValidator(cfg)
	return v.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadAgentforgeYAML() (*YAMLConfig, error) {
	var cfg YAMLConfig
	if err := l.loadYAML("agentforge.yaml", &cfg); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			// A missing file is not fatal: every section has a usable built-in default.
			slog.Warn("agentforge.yaml not found, using built-in defaults", "dir", l.configDir)
			return &YAMLConfig{}, nil
		}
		return nil, err
	}
	return &cfg, nil
}
