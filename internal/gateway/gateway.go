package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/authgate/internal/audit"
	"github.com/vyrodovalexey/authgate/internal/authrequest"
	"github.com/vyrodovalexey/authgate/internal/config"
	"github.com/vyrodovalexey/authgate/internal/health"
	"github.com/vyrodovalexey/authgate/internal/middleware"
	"github.com/vyrodovalexey/authgate/internal/observability"
	"github.com/vyrodovalexey/authgate/internal/pipeline"
	"github.com/vyrodovalexey/authgate/internal/proxy"
)

// metricsNamespace prefixes every metric the gateway exposes.
const metricsNamespace = "authgate"

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway runs the servers of one configuration.
type Gateway struct {
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	version string

	engine  *pipeline.Engine
	gate    *authrequest.Gate
	builder *builder
	checker *health.Checker

	audit        *audit.AtomicLogger
	auditMetrics *audit.Metrics

	mu        sync.RWMutex
	config    *config.Config
	current   *build
	listeners []*Listener
	limiters  []*middleware.RateLimiter
	side      *Listener

	state     atomic.Int32
	startTime time.Time
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics sets the process metrics. When unset the gateway creates its
// own registry.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// WithTracer enables a server span per request.
func WithTracer(tracer *observability.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = tracer
	}
}

// WithVersion sets the version reported by the liveness endpoint.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// New builds a gateway for cfg. cfg must have been validated.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	g := &Gateway{
		logger:  observability.NopLogger(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = observability.NewMetrics(metricsNamespace)
	}

	registry := g.metrics.Registry()
	authMetrics := authrequest.NewMetricsWithRegisterer(metricsNamespace, registry)
	authMetrics.Init()
	healthMetrics := health.NewMetrics(metricsNamespace, registry)
	healthMetrics.Init()

	g.auditMetrics = audit.NewMetricsWithRegisterer(metricsNamespace, registry)
	auditLogger, err := g.newAuditLogger(&cfg.Audit)
	if err != nil {
		return nil, err
	}
	if cfg.Audit.Enabled {
		g.auditMetrics.Init()
	}
	g.audit = audit.NewAtomicLogger(auditLogger)

	g.builder = &builder{
		logger:       g.logger,
		metrics:      g.metrics,
		proxyMetrics: proxy.NewMetrics(metricsNamespace, registry),
	}

	b, err := g.builder.build(cfg)
	if err != nil {
		_ = auditLogger.Close()
		return nil, fmt.Errorf("failed to build gateway: %w", err)
	}

	g.engine = pipeline.NewEngine(b.snapshot,
		pipeline.WithLogger(g.logger.Named("pipeline")),
		pipeline.WithMetrics(g.metrics),
	)
	g.gate = authrequest.NewGate(g.engine,
		authrequest.WithLogger(g.logger.Named(authrequest.HandlerName)),
		authrequest.WithMetrics(authMetrics),
		authrequest.WithAuditLogger(g.audit),
	)
	g.gate.Register(g.engine)

	g.checker = health.NewChecker(g.version, health.WithMetrics(healthMetrics))
	g.checker.RegisterCheck("gateway", g.checkRunning)
	g.checker.RegisterCheck("upstreams", g.checkUpstreams)

	g.config = cfg
	g.current = b
	g.state.Store(int32(StateStopped))

	return g, nil
}

// Start binds every server and, when enabled, the metrics side server.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrGatewayNotStopped
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cfg := g.config
	g.logger.Info("starting gateway", observability.Int("servers", len(cfg.Servers)))

	for i := range cfg.Servers {
		sc := &cfg.Servers[i]
		l := NewListener(sc.Name, sc.Listen, g.serverHandler(sc), g.logger.Named("listener"))
		if err := l.Start(ctx); err != nil {
			g.rollback(ctx)
			return fmt.Errorf("failed to start server %s: %w", sc.Name, err)
		}
		g.listeners = append(g.listeners, l)
	}

	if cfg.Metrics.Enabled {
		g.side = NewListener("metrics", cfg.Metrics.Listen, g.sideHandler(cfg.Metrics.Path), g.logger.Named("listener"))
		if err := g.side.Start(ctx); err != nil {
			g.rollback(ctx)
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	g.checker.SetDraining(false)
	g.startTime = time.Now()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started", observability.Int("listeners", len(g.listeners)))
	return nil
}

// serverHandler wraps the engine's handler for one server in the outer
// middleware.
func (g *Gateway) serverHandler(sc *config.ServerConfig) http.Handler {
	var h = g.engine.Handler(sc.Name)

	rateLimit, limiter := middleware.RateLimitFromConfig(sc.Name, sc.RateLimit,
		middleware.WithRateLimiterLogger(g.logger.Named("ratelimit")),
		middleware.WithRateLimiterMetrics(g.metrics),
	)
	if limiter != nil {
		g.limiters = append(g.limiters, limiter)
	}
	h = rateLimit(h)

	h = middleware.Logging(g.logger.Named("access").With(observability.String("server", sc.Name)))(h)
	if g.tracer != nil {
		h = observability.TracingMiddleware(g.tracer)(h)
	}
	h = middleware.RequestID()(h)
	h = middleware.Recovery(g.logger)(h)
	h = observability.MetricsMiddleware(g.metrics)(h)

	return h
}

// rollback undoes a partial Start. g.mu must be held.
func (g *Gateway) rollback(ctx context.Context) {
	listeners, limiters := g.detach()
	if err := stopListeners(ctx, listeners, limiters); err != nil {
		g.logger.Warn("failed to stop listeners after start failure", observability.Error(err))
	}
	g.state.Store(int32(StateStopped))
}

func (g *Gateway) sideHandler(metricsPath string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, g.metrics.Handler())
	mux.Handle("/health", g.checker.LivenessHandler())
	mux.Handle("/ready", g.checker.ReadinessHandler())
	return mux
}

// Stop drains readiness and shuts every listener down.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrGatewayNotRunning
	}

	g.logger.Info("stopping gateway")
	g.checker.SetDraining(true)

	g.mu.Lock()
	listeners, limiters := g.detach()
	current := g.current
	g.mu.Unlock()

	err := stopListeners(ctx, listeners, limiters)
	current.close()

	g.state.Store(int32(StateStopped))
	g.logger.Info("gateway stopped")
	return err
}

// detach removes the running listeners and limiters from g. g.mu must be
// held.
func (g *Gateway) detach() ([]*Listener, []*middleware.RateLimiter) {
	listeners := g.listeners
	if g.side != nil {
		listeners = append(listeners, g.side)
	}
	limiters := g.limiters

	g.listeners = nil
	g.limiters = nil
	g.side = nil

	return listeners, limiters
}

// stopListeners stops all listeners concurrently, then the limiters.
func stopListeners(ctx context.Context, listeners []*Listener, limiters []*middleware.RateLimiter) error {
	var (
		wg   sync.WaitGroup
		errs = make([]error, len(listeners))
	)
	for i, l := range listeners {
		wg.Add(1)
		go func(i int, l *Listener) {
			defer wg.Done()
			errs[i] = l.Stop(ctx)
		}(i, l)
	}
	wg.Wait()

	for _, rl := range limiters {
		rl.Stop()
	}

	return errors.Join(errs...)
}

// Reload validates cfg and swaps the locations it describes into the
// engine. On error the running configuration is kept.
func (g *Gateway) Reload(cfg *config.Config) error {
	err := g.reload(cfg)
	g.audit.LogEvent(context.Background(), audit.ConfigurationEvent(audit.ActionConfigReload, err))
	if err != nil {
		g.metrics.RecordConfigReload(false)
		g.logger.Error("configuration reload failed, keeping previous configuration", observability.Error(err))
		return err
	}
	g.metrics.RecordConfigReload(true)
	return nil
}

func (g *Gateway) reload(cfg *config.Config) error {
	if cfg == nil {
		return ErrNilConfig
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	b, err := g.builder.build(cfg)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if listenersChanged(g.config, cfg) {
		g.logger.Warn("server listen addresses or rate limits changed, restart to apply")
	}

	if !reflect.DeepEqual(g.config.Audit, cfg.Audit) {
		auditLogger, err := g.newAuditLogger(&cfg.Audit)
		if err != nil {
			b.close()
			return err
		}
		if err := g.audit.Swap(auditLogger).Close(); err != nil {
			g.logger.Warn("failed to close previous audit logger", observability.Error(err))
		}
	}

	g.engine.Reload(b.snapshot)
	old := g.current
	g.current = b
	g.config = cfg
	old.close()

	g.logger.Info("configuration reloaded",
		observability.Int("servers", len(cfg.Servers)),
		observability.Int("upstreams", len(cfg.Upstreams)),
	)
	return nil
}

// newAuditLogger builds the audit logger described by ac.
func (g *Gateway) newAuditLogger(ac *config.AuditConfig) (audit.Logger, error) {
	cfg := &audit.Config{
		Enabled:       ac.Enabled,
		Output:        ac.Output,
		Format:        ac.Format,
		Headers:       ac.Headers,
		SubjectHeader: ac.SubjectHeader,
		RedactFields:  ac.RedactFields,
		SkipPaths:     ac.SkipPaths,
	}
	if cfg.RedactFields == nil {
		cfg.RedactFields = audit.DefaultConfig().RedactFields
	}
	if ac.Events != nil {
		cfg.Events = &audit.EventsConfig{
			Authorization: ac.Events.Authorization,
			Configuration: ac.Events.Configuration,
		}
	}

	logger, err := audit.NewLogger(cfg,
		audit.WithLoggerLogger(g.logger.Named("audit")),
		audit.WithLoggerMetrics(g.auditMetrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}
	if ac.Enabled {
		g.logger.Info("audit logging enabled",
			observability.String("output", cfg.GetEffectiveOutput()),
			observability.String("format", cfg.GetEffectiveFormat()),
		)
	}
	return logger, nil
}

// Close releases the audit log output. The gateway must be stopped.
func (g *Gateway) Close() error {
	return g.audit.Close()
}

func listenersChanged(old, cfg *config.Config) bool {
	if len(old.Servers) != len(cfg.Servers) {
		return true
	}
	for i := range old.Servers {
		a, b := old.Servers[i], cfg.Servers[i]
		if a.Name != b.Name || a.Listen != b.Listen {
			return true
		}
		if (a.RateLimit == nil) != (b.RateLimit == nil) || (a.RateLimit != nil && *a.RateLimit != *b.RateLimit) {
			return true
		}
	}
	return false
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// Config returns the active configuration.
func (g *Gateway) Config() *config.Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// Addr returns the bound address of the named server, or nil.
func (g *Gateway) Addr(server string) net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, l := range g.listeners {
		if l.Name() == server {
			return l.Addr()
		}
	}
	return nil
}

// MetricsAddr returns the bound address of the metrics server, or nil.
func (g *Gateway) MetricsAddr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.side == nil {
		return nil
	}
	return g.side.Addr()
}

func (g *Gateway) checkRunning(context.Context) health.Check {
	state := g.State()
	if state != StateRunning {
		return health.Check{Status: health.StatusUnhealthy, Message: state.String()}
	}
	return health.Check{Status: health.StatusHealthy, Message: state.String()}
}

func (g *Gateway) checkUpstreams(context.Context) health.Check {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var open []string
	for name, u := range g.current.upstreams {
		if u.CircuitOpen() {
			open = append(open, name)
		}
	}
	if len(open) > 0 {
		return health.Check{
			Status:  health.StatusDegraded,
			Message: fmt.Sprintf("circuit open: %v", open),
		}
	}
	return health.Check{Status: health.StatusHealthy}
}
