// Command agentforged wires every agentforge component into a single
// process: the Security Kernel and its token/revocation layers, the
// distributed agent registry and workflow coordinator, cluster membership,
// metrics, and periodic recovery snapshots, then serves the admin HTTP
// surface until signalled to shut down. Grounded on the teacher's
// cmd/tarsy/main.go overall shape (flag parsing, .env loading,
// config.Initialize, ordered component construction, blocking run,
// graceful shutdown), adapted to this repo's Echo-based pkg/admin server
// in place of the teacher's gin router and services package.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/agentforge/core/pkg/admin"
	"github.com/agentforge/core/pkg/agent"
	"github.com/agentforge/core/pkg/audit"
	"github.com/agentforge/core/pkg/capability"
	"github.com/agentforge/core/pkg/cluster"
	"github.com/agentforge/core/pkg/config"
	"github.com/agentforge/core/pkg/eventbus"
	"github.com/agentforge/core/pkg/keymanager"
	"github.com/agentforge/core/pkg/loadbalancer"
	"github.com/agentforge/core/pkg/metrics"
	"github.com/agentforge/core/pkg/queue"
	"github.com/agentforge/core/pkg/recovery"
	"github.com/agentforge/core/pkg/registry"
	"github.com/agentforge/core/pkg/revocation"
	"github.com/agentforge/core/pkg/security"
	"github.com/agentforge/core/pkg/session"
	"github.com/agentforge/core/pkg/token"
	"github.com/agentforge/core/pkg/violation"
	"github.com/agentforge/core/pkg/workflow"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// devFallbackSigningSecret and devFallbackChecksumSecret are used only when
// DevMode is set and the configured environment variable is unset. Never
// reachable in a config that passed validation outside DevMode.
const (
	devFallbackSigningSecret  = "agentforge-dev-signing-secret-do-not-use-in-prod"
	devFallbackChecksumSecret = "agentforge-dev-checksum-secret-do-not-use-in-prod"
)

// resolveSecret reads envName, falling back to a compiled-in dev-only
// constant when the variable is unset. devMode is not consulted here:
// config.Validator has already rejected an unset variable outside dev
// mode, so the fallback is only reached in dev mode and this never
// returns empty.
func resolveSecret(envName, fallback string, devMode bool) []byte {
	if v := os.Getenv(envName); v != "" {
		return []byte(v)
	}
	slog.Warn("using compiled-in dev-mode secret fallback; unsafe for production", "env", envName)
	_ = devMode
	return []byte(fallback)
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Info("no .env file loaded, continuing with process environment", "path", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("agentforged starting",
		"cluster_strategy", stats.ClusterStrategy,
		"placement_strategy", stats.PlacementStrategy,
		"pool_max_concurrent", stats.PoolMaxConcurrent,
		"violation_rules", stats.ViolationRuleCount,
	)

	nodeID := cfg.Cluster.NodeID
	if nodeID == "" {
		nodeID = hostnameOrFallback()
	}

	bus, closeBus := newEventBus(cfg.Cluster)
	defer closeBus()

	signingSecret := resolveSecret(cfg.Security.SigningSecretEnv, devFallbackSigningSecret, cfg.Security.DevMode)
	checksumSecret := resolveSecret(cfg.Audit.ChecksumSecretEnv, devFallbackChecksumSecret, cfg.Audit.DevMode)

	auditLogger, err := audit.NewLogger(nodeID, checksumSecret, cfg.Audit)
	if err != nil {
		slog.Error("audit logger init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			slog.Warn("audit logger close error", "error", err)
		}
	}()

	var policy *security.PolicyEvaluator
	policy, err = security.NewPolicyEvaluator(ctx, cfg.Security.PolicyBundlePath)
	if err != nil {
		slog.Error("policy evaluator init failed", "error", err)
		os.Exit(1)
	}

	signer := capability.NewSigner(signingSecret)
	kernel := security.NewKernel(signer, policy, auditLogger,
		security.WithAllowedOperations(cfg.Security.AllowedOperations),
		security.WithAllowedPaths(cfg.Security.AllowedPathPrefixes),
		security.WithAllowedTools(cfg.Security.AllowedTools),
		security.WithRateLimit(cfg.Security.RateLimitPerPrincipal),
	)

	keys, err := keymanager.New(cfg.KeyManager.KeySize, cfg.KeyManager.RotationInterval, cfg.KeyManager.OverlapPeriod)
	if err != nil {
		slog.Error("key manager init failed", "error", err)
		os.Exit(1)
	}

	redisClient := newRedisClientOrNil(cfg.Revocation.RedisAddr)
	revocationCache := revocation.New(redisClient, bus, cfg.Revocation.BroadcastTopic)

	violationMonitor := violation.New(cfg.Violation, bus)

	issuer := token.NewIssuer(keys, revocationCache, cfg.Token.Issuer, cfg.Token.DefaultTTL)
	validator := token.NewValidator(keys, revocationCache, violationMonitor, cfg.Token.ClockSkew, cfg.Token.ValidationCacheTTL)
	// issuer and validator are constructed here (capability tokens are
	// meaningless without both) but not called from this ambient-only
	// binary: issuing/validating tokens is the external application API's
	// job, the same out-of-scope surface SPEC_FULL.md's ambient stack
	// section excludes from cmd/agentforged.
	_, _ = issuer, validator

	agentRegistry := agent.NewRegistry() // left empty: downstream deployments Register their own agent types

	sessionManager := session.NewManager(agentRegistry, bus)

	pool := queue.NewPool(cfg.Pool.MaxConcurrent)
	_ = pool // available for agent types that want bounded-concurrency execution; none registered here

	distRegistry := registry.New(nodeID)
	go func() {
		if err := distRegistry.Gossip(ctx, bus, cfg.Cluster.HeartbeatInterval); err != nil {
			slog.Warn("registry gossip stopped", "error", err)
		}
	}()
	remoteOps := newUnimplementedRemoteOps()
	supervisor := registry.NewSupervisor(distRegistry, remoteOps)

	discovery := newDiscovery(cfg.Cluster)
	clusterManager := cluster.NewManager(nodeID, bus, discovery, cfg.Cluster.HeartbeatInterval, cfg.Cluster.NodeTimeout,
		cluster.WithAgentCount(func() int { return len(distRegistry.ListOnNode(nodeID)) }),
	)

	balancer := loadbalancer.New(distRegistry, supervisor, cfg.LoadBalancer)
	_ = balancer

	dispatcher := &localDispatcher{sessions: sessionManager}
	coordinator := workflow.New(distRegistry, dispatcher, cfg.Workflow)
	_ = coordinator

	reg := prometheus.NewRegistry()
	collector := metrics.New(cfg.Metrics, metrics.ComponentScores{
		KernelStatus:           kernelHealthScore(kernel),
		ViolationRate:          violationHealthScore(violationMonitor),
		CapabilityCount:        capabilityHealthScore(kernel),
		ValidationLatencyScore: func() float64 { return 100 },
		AuditErrorScore:        auditHealthScore(auditLogger),
	}, reg)

	recoveryManager := recovery.New(cfg.Recovery, kernel, distRegistry, sessionManager, cfg, nil)

	scheduler := recovery.NewScheduler()
	registerRecoveryJobs(scheduler, kernel, keys, revocationCache, auditLogger, collector, recoveryManager, cfg)
	scheduler.Start()
	defer func() { <-scheduler.Stop() }()

	if err := clusterManager.Start(ctx); err != nil {
		slog.Error("cluster manager start failed", "error", err)
		os.Exit(1)
	}

	adminServer := admin.New(collector, keys, reg)
	go func() {
		if err := adminServer.Start(cfg.Admin.ListenAddr); err != nil {
			slog.Error("admin server stopped", "error", err)
		}
	}()

	slog.Info("agentforged ready", "node", nodeID, "admin_addr", cfg.Admin.ListenAddr)

	<-ctx.Done()
	slog.Info("agentforged shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), admin.ShutdownTimeout())
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("admin server shutdown error", "error", err)
	}
}

func hostnameOrFallback() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "node-1"
	}
	return h
}

func newEventBus(cfg *config.ClusterConfig) (eventbus.EventBus, func()) {
	if cfg.NATSURL != "" {
		bus, err := eventbus.NewNATSEventBus(cfg.NATSURL)
		if err != nil {
			slog.Warn("nats event bus unavailable, falling back to local in-process bus", "error", err)
			local := eventbus.NewLocalEventBus()
			return local, func() { _ = local.Close() }
		}
		return bus, func() { _ = bus.Close() }
	}
	local := eventbus.NewLocalEventBus()
	return local, func() { _ = local.Close() }
}

func newRedisClientOrNil(addr string) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}

func newDiscovery(cfg *config.ClusterConfig) cluster.Discovery {
	switch cfg.Strategy {
	case config.ClusterStrategyKubernetes:
		// In-cluster Kubernetes client construction is deliberately deferred
		// to a deployment-specific build; the static member list strategy
		// covers the single-binary case this command targets directly.
		slog.Warn("kubernetes discovery strategy configured but not wired in this binary, falling back to static members")
		return &cluster.StaticDiscovery{Members: cfg.Members}
	case config.ClusterStrategyMulticast:
		return &cluster.MulticastDiscovery{}
	default:
		return &cluster.StaticDiscovery{Members: cfg.Members}
	}
}

// localDispatcher implements workflow.Dispatcher against subagents spawned
// through the session manager, addressing them by agent id.
type localDispatcher struct {
	sessions *session.Manager
}

func (d *localDispatcher) ExecuteTask(ctx context.Context, agentID string, spec agent.TaskSpec) (agent.TaskResult, error) {
	rt, err := d.sessions.RuntimeFor(agentID)
	if err != nil {
		return agent.TaskResult{}, fmt.Errorf("dispatching task to %s: %w", agentID, err)
	}
	return rt.ExecuteTask(ctx, spec)
}

func (d *localDispatcher) Notify(_ context.Context, agentID string, payload any) error {
	rt, err := d.sessions.RuntimeFor(agentID)
	if err != nil {
		return fmt.Errorf("notifying %s: %w", agentID, err)
	}
	return rt.Coordinate(payload)
}

// newUnimplementedRemoteOps returns a registry.RemoteOps that always fails.
// Real cross-node agent migration needs a concrete RPC transport (gRPC, NATS
// request/reply) that is out of scope for this single-binary entrypoint; a
// deployment that runs agentforged across multiple nodes supplies its own
// RemoteOps implementation instead of this stub.
func newUnimplementedRemoteOps() registry.RemoteOps {
	return unimplementedRemoteOps{}
}

type unimplementedRemoteOps struct{}

func (unimplementedRemoteOps) Snapshot(_ context.Context, node, agentID string) ([]byte, error) {
	return nil, fmt.Errorf("remote snapshot of %s on %s: %w", agentID, node, errRemoteOpsUnimplemented)
}

func (unimplementedRemoteOps) Terminate(_ context.Context, node, agentID string) error {
	return fmt.Errorf("remote terminate of %s on %s: %w", agentID, node, errRemoteOpsUnimplemented)
}

func (unimplementedRemoteOps) Start(_ context.Context, node, agentType string, _ []byte) (string, error) {
	return "", fmt.Errorf("remote start of %s on %s: %w", agentType, node, errRemoteOpsUnimplemented)
}

var errRemoteOpsUnimplemented = errors.New("remote agent transport not configured for this binary")

// kernelHealthScore reports 100 minus a penalty per open policy/permission
// denial observed since start, floored at 0.
func kernelHealthScore(k *security.Kernel) func() float64 {
	return func() float64 {
		s := k.Stats()
		penalty := float64(s.PolicyDenials+s.PermissionDenials) * 0.5
		return clampScore(100 - penalty)
	}
}

func capabilityHealthScore(k *security.Kernel) func() float64 {
	return func() float64 {
		n := len(k.Snapshot())
		// An idle kernel (zero live capabilities) is healthy, not penalized;
		// this feeds the blend as "capacity available", not "load".
		if n == 0 {
			return 100
		}
		return clampScore(100 - float64(n)/10)
	}
}

func violationHealthScore(m *violation.Monitor) func() float64 {
	return func() float64 {
		return clampScore(100 - float64(m.RecentCount())*2)
	}
}

func auditHealthScore(l *audit.Logger) func() float64 {
	return func() float64 {
		return clampScore(100 - float64(l.ErrorCount())*5)
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// registerRecoveryJobs schedules every package's externally-driven
// periodic method onto the shared cron instance.
func registerRecoveryJobs(
	s *recovery.Scheduler,
	kernel *security.Kernel,
	keys *keymanager.Manager,
	revocationCache *revocation.Cache,
	auditLogger *audit.Logger,
	collector *metrics.Collector,
	recoveryManager *recovery.Manager,
	cfg *config.Config,
) {
	must := func(name string, interval time.Duration, run func(ctx context.Context) error) {
		if err := s.AddJob(recovery.Job{Name: name, Interval: interval, Run: run}); err != nil {
			slog.Error("scheduling recovery job failed", "job", name, "error", err)
		}
	}

	must("security-sweep", cfg.Security.SweepInterval, func(ctx context.Context) error {
		kernel.Sweep(time.Now())
		return nil
	})
	must("keymanager-rotate", cfg.KeyManager.RotationInterval, func(ctx context.Context) error {
		return keys.Rotate()
	})
	must("keymanager-sweep", 1*time.Minute, func(ctx context.Context) error {
		keys.Sweep(time.Now())
		return nil
	})
	must("revocation-sweep", cfg.Revocation.SweepInterval, func(ctx context.Context) error {
		revocationCache.Sweep(time.Now())
		return nil
	})
	must("audit-flush", cfg.Audit.FlushInterval, func(ctx context.Context) error {
		return auditLogger.Flush()
	})
	must("metrics-sample", cfg.Metrics.SampleInterval, func(ctx context.Context) error {
		collector.Sample(time.Now())
		return nil
	})
	must("recovery-backup", cfg.Recovery.BackupInterval, func(ctx context.Context) error {
		_, err := recoveryManager.CreateBackup(ctx)
		return err
	})
}
