// Package daemon builds the runtime from configuration and owns its
// lifecycle: tracing, reasoning client, engine, builtin tools and the
// optional gateway.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/stepwise/internal/config"
	"github.com/harun/stepwise/internal/logger"
	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/agent"
	"github.com/harun/stepwise/pkg/browser"
	"github.com/harun/stepwise/pkg/capability"
	"github.com/harun/stepwise/pkg/coretools"
	"github.com/harun/stepwise/pkg/engine"
	"github.com/harun/stepwise/pkg/gateway"
	"github.com/harun/stepwise/pkg/reasoning"
)

// ErrNotRunning is returned by Stop on a stopped daemon.
var ErrNotRunning = errors.New("daemon is not running")

// Options selects optional parts of the runtime.
type Options struct {
	// Gateway serves the remote HTTP API and writes a PID file.
	Gateway bool
	// Completer replaces the provider client built from the config.
	Completer reasoning.Completer
	// Extractor replaces the headless browser behind the page tool.
	Extractor coretools.PageExtractor
	// StatsInterval is the period of the maintenance loop. Zero uses 30s.
	StatsInterval time.Duration
}

// Daemon represents the Stepwise runtime
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	opts   Options

	metrics   *observability.Metrics
	audit     *observability.AuditLogger
	tracer    *tracing.Provider
	extractor *browser.Extractor
	engine    *engine.Engine
	gateway   *gateway.Server
	tools     []string

	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime   time.Time
	running     bool
	mu          sync.RWMutex
	releaseOnce sync.Once
}

// Status is a snapshot of the daemon state.
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Sessions  int
	Tools     int
}

// New creates a new daemon instance. Nothing is started yet.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		logger:  log,
		opts:    opts,
		metrics: observability.NewMetrics(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := d.initialize(); err != nil {
		cancel()
		d.release()
		return nil, err
	}

	d.eventLoop = NewEventLoop(d, opts.StatsInterval)
	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

// initialize builds components in dependency order.
func (d *Daemon) initialize() error {
	zl := d.logger.Zerolog()

	tracer, err := tracing.Setup(d.config.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	d.tracer = tracer
	zl.Debug().Bool("enabled", d.config.Tracing.Enabled).Msg("Tracing initialized")

	if path := d.config.AuditLogPath(); path != "" {
		audit, err := observability.OpenAuditLog(path)
		if err != nil {
			return fmt.Errorf("failed to initialize audit log: %w", err)
		}
		d.audit = audit
		zl.Debug().Str("path", path).Msg("Audit log initialized")
	} else {
		d.audit = observability.NewAuditLogger(d.logger.Component("audit"))
	}

	completer := d.opts.Completer
	if completer == nil {
		client, err := agent.NewClient(agent.Config{
			Logger:     zl,
			Profiles:   d.config.AuthProfiles(),
			MaxRetries: d.config.Reasoning.MaxRetries,
			Cooldown:   d.config.Reasoning.Cooldown,
		})
		if err != nil {
			return fmt.Errorf("failed to create reasoning client: %w", err)
		}
		completer = client
	}

	brain, err := reasoning.New(reasoning.Config{
		Logger:       zl,
		Metrics:      d.metrics,
		Completer:    completer,
		Model:        d.config.Reasoning.Model,
		Temperature:  d.config.Reasoning.Temperature,
		MaxTokens:    d.config.Reasoning.MaxTokens,
		InlineImages: d.config.Reasoning.InlineImages,
	})
	if err != nil {
		return fmt.Errorf("failed to create reasoning service: %w", err)
	}

	d.engine = engine.New(engine.Config{
		Logger:          zl,
		Metrics:         d.metrics,
		Audit:           d.audit,
		Reasoning:       brain,
		Tools:           capability.NewRegistry(),
		DefaultMaxSteps: d.config.Engine.DefaultMaxSteps,
		CallTimeout:     d.config.Engine.CallTimeout,
		QueueWarnAfter:  d.config.Engine.QueueWarnAfter,
		TranscriptDir:   d.config.TranscriptDir(),
	})

	extractor := d.opts.Extractor
	if extractor == nil && d.config.Tools.Browser.Enabled {
		d.extractor = browser.NewExtractor(d.config.Tools.Browser.Config, zl)
		extractor = d.extractor
	}
	toolOpts := coretools.Options{
		Logger:            zl,
		Policy:            d.config.ToolPolicy(),
		HTTPClient:        &http.Client{Timeout: d.config.Tools.HTTPTimeout},
		WikipediaEndpoint: d.config.Tools.WikipediaEndpoint,
		SearchEndpoint:    d.config.Tools.SearchEndpoint,
		NewsFetchEndpoint: d.config.Tools.NewsFetchEndpoint,
		NewsAPIEndpoint:   d.config.Tools.NewsAPIEndpoint,
		NewsAPIKey:        d.config.Tools.NewsAPIKey,
		Extractor:         extractor,
		Model:             d.config.Reasoning.Model,
		Temperature:       d.config.Reasoning.Temperature,
		ManifestDir:       d.config.Tools.ManifestsDir,
	}
	if d.config.Tools.Generalist {
		toolOpts.Completer = completer
	}
	tools, err := coretools.Register(d.engine, toolOpts)
	if err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	d.tools = tools

	if d.opts.Gateway {
		gw, err := gateway.NewServer(gateway.Config{
			Host:              d.config.Gateway.Host,
			Port:              d.config.Gateway.Port,
			SharedSecret:      d.config.Gateway.SharedSecret,
			Engine:            d.engine,
			Logger:            zl,
			Metrics:           d.metrics,
			RequestsPerMinute: d.config.Gateway.RequestsPerMinute,
			MaxConcurrent:     d.config.Gateway.MaxConcurrent,
			IdempotencyTTL:    d.config.Gateway.IdempotencyTTL,
			WriteTimeout:      d.config.Gateway.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway: %w", err)
		}
		d.gateway = gw
	}
	return nil
}

// Start starts the engine, then the gateway when enabled.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.mu.Unlock()

	ctx := tracing.WithTraceID(d.ctx, tracing.NewID())
	log := tracing.LoggerFromContext(ctx, d.logger.Zerolog())
	log.Info().Msg("Starting Stepwise")

	if d.gateway != nil {
		if err := d.lifecycle.Start(); err != nil {
			return fmt.Errorf("failed to start lifecycle manager: %w", err)
		}
	}

	if err := d.engine.Start(); err != nil {
		d.stopLifecycle()
		return fmt.Errorf("failed to start engine: %w", err)
	}

	if d.gateway != nil {
		if err := d.gateway.Start(); err != nil {
			_ = d.engine.Stop(context.Background(), false)
			d.stopLifecycle()
			return fmt.Errorf("failed to start gateway: %w", err)
		}
		log.Info().Str("addr", d.gateway.Addr().String()).Msg("Gateway started")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	d.mu.Lock()
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	log.Info().Strs("tools", d.tools).Msg("Stepwise started")
	return nil
}

// Stop closes the gateway, drains the engine within the configured drain
// timeout and releases every resource.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrNotRunning
	}
	d.running = false
	d.mu.Unlock()

	log := tracing.LoggerFromContext(tracing.WithTraceID(ctx, tracing.NewID()), d.logger.Zerolog())
	log.Info().Msg("Stopping Stepwise")

	var errs []error
	if d.gateway != nil {
		if err := d.gateway.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to stop gateway")
			errs = append(errs, err)
		}
	}

	drainCtx := ctx
	if timeout := d.config.Engine.DrainTimeout; timeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := d.engine.Stop(drainCtx, true); err != nil {
		log.Error().Err(err).Msg("Engine did not drain cleanly")
		errs = append(errs, err)
	}

	d.cancel()
	d.wg.Wait()
	d.stopLifecycle()
	d.release()

	log.Info().Msg("Stepwise stopped")
	return errors.Join(errs...)
}

// Close releases a daemon that was never started. It is a no-op while
// running; use Stop instead.
func (d *Daemon) Close() {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if running {
		return
	}
	d.cancel()
	d.release()
}

// release closes resources that New may have opened.
func (d *Daemon) release() {
	d.releaseOnce.Do(d.closeResources)
}

func (d *Daemon) closeResources() {
	zl := d.logger.Zerolog()
	if d.extractor != nil {
		if err := d.extractor.Close(); err != nil {
			zl.Error().Err(err).Msg("Failed to close browser")
		}
	}
	if d.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.tracer.Shutdown(shutdownCtx); err != nil {
			zl.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
	}
	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			zl.Error().Err(err).Msg("Failed to close audit log")
		}
	}
}

func (d *Daemon) stopLifecycle() {
	if d.gateway == nil {
		return
	}
	if err := d.lifecycle.Stop(); err != nil {
		zl := d.logger.Zerolog()
		zl.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}
}

// Wait blocks until SIGINT or SIGTERM, or until ctx ends, then stops the
// daemon.
func (d *Daemon) Wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	zl := d.logger.Zerolog()
	zl.Info().Msg("Shutdown requested")

	return d.Stop(context.Background())
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Sessions: len(d.engine.Sessions()),
		Tools:    len(d.tools),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// Engine returns the engine.
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// Gateway returns the gateway server, nil when disabled.
func (d *Daemon) Gateway() *gateway.Server {
	return d.gateway
}

// GatewayAddr returns the bound gateway address, nil before Start.
func (d *Daemon) GatewayAddr() net.Addr {
	if d.gateway == nil {
		return nil
	}
	return d.gateway.Addr()
}

// Tools returns the registered tool ids.
func (d *Daemon) Tools() []string {
	return d.tools
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}
