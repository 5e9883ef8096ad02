package config

import (
	"fmt"
	"os"
)

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation, stopping at the first failure.
// Validated in dependency order: security/keys before token/cluster before
// everything that depends on them.
func (v *Validator) ValidateAll() error {
	if err := v.validateSecurity(); err != nil {
		return fmt.Errorf("security validation failed: %w", err)
	}
	if err := v.validateKeyManager(); err != nil {
		return fmt.Errorf("key_manager validation failed: %w", err)
	}
	if err := v.validateToken(); err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}
	if err := v.validatePool(); err != nil {
		return fmt.Errorf("pool validation failed: %w", err)
	}
	if err := v.validateCluster(); err != nil {
		return fmt.Errorf("cluster validation failed: %w", err)
	}
	if err := v.validateLoadBalancer(); err != nil {
		return fmt.Errorf("load_balancer validation failed: %w", err)
	}
	if err := v.validateWorkflow(); err != nil {
		return fmt.Errorf("workflow validation failed: %w", err)
	}
	if err := v.validateAudit(); err != nil {
		return fmt.Errorf("audit validation failed: %w", err)
	}
	if err := v.validateViolation(); err != nil {
		return fmt.Errorf("violation validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateSecurity() error {
	s := v.cfg.Security
	if s == nil {
		return fmt.Errorf("%w: security", ErrMissingRequiredField)
	}
	if s.SigningSecretEnv == "" {
		return NewValidationError("security", "signing_secret_env", ErrMissingRequiredField)
	}
	if os.Getenv(s.SigningSecretEnv) == "" && !s.DevMode {
		return NewValidationError("security", "signing_secret_env", ErrMissingSigningSecret)
	}
	if s.SweepInterval <= 0 {
		return NewValidationError("security", "sweep_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.RateLimitPerPrincipal < 0 {
		return NewValidationError("security", "rate_limit_per_principal", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateKeyManager() error {
	k := v.cfg.KeyManager
	if k.KeySize < 2048 {
		return NewValidationError("key_manager", "key_size", fmt.Errorf("%w: must be at least 2048 bits", ErrInvalidValue))
	}
	if k.RotationInterval <= 0 {
		return NewValidationError("key_manager", "rotation_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if k.OverlapPeriod <= 0 {
		return NewValidationError("key_manager", "overlap_period", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if k.OverlapPeriod >= k.RotationInterval {
		return NewValidationError("key_manager", "overlap_period", fmt.Errorf("%w: must be shorter than rotation_interval", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateToken() error {
	t := v.cfg.Token
	if t.DefaultTTL <= 0 {
		return NewValidationError("token", "default_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if t.ClockSkew < 0 {
		return NewValidationError("token", "clock_skew", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	if t.Issuer == "" {
		return NewValidationError("token", "issuer", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validatePool() error {
	p := v.cfg.Pool
	if p.MaxConcurrent < 1 {
		return NewValidationError("pool", "max_concurrent", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if p.QueueWaitTimeout <= 0 {
		return NewValidationError("pool", "queue_wait_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateCluster() error {
	c := v.cfg.Cluster
	if !c.Strategy.IsValid() {
		return NewValidationError("cluster", "strategy", fmt.Errorf("%w: %q", ErrInvalidValue, c.Strategy))
	}
	if c.Strategy == ClusterStrategyStatic && len(c.Members) == 0 {
		return NewValidationError("cluster", "members", fmt.Errorf("%w: static strategy requires at least one member", ErrMissingRequiredField))
	}
	if c.HeartbeatInterval <= 0 {
		return NewValidationError("cluster", "heartbeat_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.NodeTimeout <= c.HeartbeatInterval {
		return NewValidationError("cluster", "node_timeout", fmt.Errorf("%w: must exceed heartbeat_interval", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateLoadBalancer() error {
	lb := v.cfg.LoadBalancer
	if !lb.Strategy.IsValid() {
		return NewValidationError("load_balancer", "strategy", fmt.Errorf("%w: %q", ErrInvalidValue, lb.Strategy))
	}
	if lb.RebalanceThreshold <= 0 || lb.RebalanceThreshold > 1 {
		return NewValidationError("load_balancer", "rebalance_threshold", fmt.Errorf("%w: must be in (0, 1]", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateWorkflow() error {
	w := v.cfg.Workflow
	if w.StepTimeout <= 0 {
		return NewValidationError("workflow", "step_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if w.WorkflowTimeout < w.StepTimeout {
		return NewValidationError("workflow", "workflow_timeout", fmt.Errorf("%w: must be >= step_timeout", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateAudit() error {
	a := v.cfg.Audit
	if a.ChecksumSecretEnv == "" {
		return NewValidationError("audit", "checksum_secret_env", ErrMissingRequiredField)
	}
	if os.Getenv(a.ChecksumSecretEnv) == "" && !a.DevMode {
		return NewValidationError("audit", "checksum_secret_env", ErrMissingChecksumSecret)
	}
	if a.MaxBufferSize < 1 {
		return NewValidationError("audit", "max_buffer_size", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if a.Dir == "" {
		return NewValidationError("audit", "dir", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validateViolation() error {
	vc := v.cfg.Violation
	if vc.WindowDuration <= 0 {
		return NewValidationError("violation", "window_duration", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	for typ, threshold := range vc.Thresholds {
		if threshold < 1 {
			return NewValidationError("violation", "thresholds."+typ, fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
	}
	return nil
}
