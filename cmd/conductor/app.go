package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/avollmer/conductor/pkg/agents"
	"github.com/avollmer/conductor/pkg/config"
	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/discovery"
	"github.com/avollmer/conductor/pkg/llm"
	"github.com/avollmer/conductor/pkg/pipeline"
	"github.com/avollmer/conductor/pkg/registry"
	"github.com/avollmer/conductor/pkg/router"
	"github.com/avollmer/conductor/pkg/services"
	"github.com/avollmer/conductor/pkg/telemetry"
)

// app holds the wired runtime: registry, router, and executor built
// from one configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	router   *router.Router
	executor *pipeline.Executor

	announceStop      context.CancelFunc
	auditClose        func() error
	telemetryShutdown telemetry.ShutdownFunc
}

// capabilityDescriptions drive both the capabilities listing and the
// MCP tool registration.
var capabilityDescriptions = map[string]string{
	agents.LektorName:    "Corrects grammar, spelling, and sentence structure in German text",
	agents.OptimizerName: "Rewrites text in a requested tonality (locker, freundlich, direkt, sachlich, professionell)",
	agents.SentimentName: "Classifies text polarity with confidence score and optional emotions",
	agents.QueryRefName:  "Expands terse search queries into detailed, precise ones",
	services.SearchName:  "Searches the web and returns titles, links, and snippets",
	services.WebName:     "Renders a page in a headless browser and extracts readable text",
	services.TimeName:    "Answers time queries against an NTP server",
}

func newApp(cfg *config.Config) (*app, error) {
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	shutdown, err := telemetry.Init("conductor", version, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	a := &app{
		cfg:               cfg,
		logger:            logger,
		telemetryShutdown: shutdown,
	}

	metrics, err := telemetry.NewDispatchMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	directory, err := newDirectory(cfg.Discovery)
	if err != nil {
		return nil, err
	}

	regOpts := []registry.Option{
		registry.WithLogger(logger),
		registry.WithStateObserver(func(name string, state core.CapabilityState) {
			metrics.RecordCapabilityState(context.Background(), name, state)
		}),
	}
	if directory != nil {
		regOpts = append(regOpts, registry.WithDirectory(directory))
	}
	a.registry = registry.New(regOpts...)

	if err := a.registerBuiltins(); err != nil {
		return nil, err
	}
	if err := a.startAnnounce(); err != nil {
		return nil, err
	}

	a.router = router.New(a.registry,
		router.WithTimeout(time.Duration(cfg.Capabilities.TimeoutSeconds)*time.Second),
		router.WithMetrics(metrics),
		router.WithLogger(logger),
	)

	audit, err := a.openAuditStore()
	if err != nil {
		return nil, err
	}
	a.executor = pipeline.NewExecutor(a.router,
		pipeline.WithMaxInFlight(cfg.Pipeline.MaxInFlight),
		pipeline.WithAuditStore(audit),
		pipeline.WithLogger(logger),
	)

	return a, nil
}

// newDirectory builds the discovery resolver: static endpoints from
// config take priority, the remote directory fills in the rest.
// Returns nil when discovery is disabled.
func newDirectory(cfg config.DiscoveryConfig) (registry.Directory, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var providers []discovery.Provider
	if len(cfg.Static) > 0 {
		entries := make([]discovery.Endpoint, 0, len(cfg.Static))
		for _, e := range cfg.Static {
			entries = append(entries, discovery.Endpoint{
				Name: e.Name,
				Kind: core.CapabilityKind(e.Kind),
				URL:  e.URL,
			})
		}
		providers = append(providers, discovery.NewStaticProvider(entries...))
	}
	if cfg.DirectoryURL != "" {
		provider := discovery.NewDirectoryProvider(cfg.DirectoryURL)
		provider.AuthToken = cfg.Token
		providers = append(providers, provider)
	}
	if len(providers) == 0 {
		return nil, nil
	}
	resolver, err := discovery.NewResolver(providers...)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	return resolver, nil
}

// startAnnounce publishes this process's capabilities to the directory
// on a heartbeat when announcing is enabled.
func (a *app) startAnnounce() error {
	cfg := a.cfg.Discovery
	if !cfg.Enabled || !cfg.Announce {
		return nil
	}
	if cfg.DirectoryURL == "" {
		return fmt.Errorf("discovery.directory_url is required when announce is enabled")
	}
	if cfg.AdvertiseURL == "" {
		return fmt.Errorf("discovery.advertise_url is required when announce is enabled")
	}

	provider := discovery.NewDirectoryProvider(cfg.DirectoryURL)
	provider.AuthToken = cfg.Token

	states := a.registry.HealthSnapshot()
	endpoints := make([]discovery.Endpoint, 0, len(states))
	for name := range states {
		desc, ok := a.registry.Descriptor(name)
		if !ok {
			continue
		}
		endpoints = append(endpoints, discovery.Endpoint{
			Name: name,
			Kind: desc.Kind,
			URL:  cfg.AdvertiseURL,
		})
	}

	stop, err := discovery.StartAnnounce(context.Background(), provider, endpoints,
		time.Duration(cfg.HeartbeatSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("discovery announce: %w", err)
	}
	a.announceStop = stop
	return nil
}

// registerBuiltins declares every built-in capability. Factories run
// lazily on first dispatch, so an unreachable backend only fails the
// capability that needs it.
func (a *app) registerBuiltins() error {
	cfg := a.cfg
	provider := llm.NewOpenAI(cfg.LLM.BaseURL, cfg.LLM.APIKey)
	provider.DefaultTemperature = cfg.LLM.Temperature

	descriptors := []core.Descriptor{
		{Name: agents.LektorName, Kind: core.KindAgent, Factory: func() (core.Capability, error) {
			return agents.NewLektor(provider, cfg.LLM.ModelFor(agents.LektorName)), nil
		}},
		{Name: agents.OptimizerName, Kind: core.KindAgent, Factory: func() (core.Capability, error) {
			return agents.NewOptimizer(provider, cfg.LLM.ModelFor(agents.OptimizerName)), nil
		}},
		{Name: agents.SentimentName, Kind: core.KindAgent, Factory: func() (core.Capability, error) {
			return agents.NewSentiment(provider, cfg.LLM.ModelFor(agents.SentimentName)), nil
		}},
		{Name: agents.QueryRefName, Kind: core.KindAgent, Factory: func() (core.Capability, error) {
			return agents.NewQueryRef(), nil
		}},
		{Name: services.SearchName, Kind: core.KindService, Factory: func() (core.Capability, error) {
			return services.NewSearch(cfg.Search)
		}},
		{Name: services.WebName, Kind: core.KindService, Factory: func() (core.Capability, error) {
			return services.NewWeb(cfg.Web), nil
		}},
		{Name: services.TimeName, Kind: core.KindService, Factory: func() (core.Capability, error) {
			return services.NewTime(cfg.Time), nil
		}},
	}
	for i := range descriptors {
		descriptors[i].Timeout = cfg.Capabilities.Timeout(descriptors[i].Name)
		if err := a.registry.Register(descriptors[i]); err != nil {
			return fmt.Errorf("register %s: %w", descriptors[i].Name, err)
		}
	}
	return nil
}

func (a *app) openAuditStore() (pipeline.AuditStore, error) {
	switch a.cfg.Pipeline.Audit.Driver {
	case "", "memory":
		return pipeline.NewMemoryAuditStore(), nil
	case "sqlite":
		store, err := pipeline.OpenSQLiteAuditStore(a.cfg.Pipeline.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		a.auditClose = store.Close
		return store, nil
	default:
		return nil, fmt.Errorf("unknown audit driver %q", a.cfg.Pipeline.Audit.Driver)
	}
}

// close stops the announce heartbeat, releases backends, the audit
// store, and telemetry in that order. Runs on a fresh context so
// shutdown still completes after the signal context is cancelled.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.announceStop != nil {
		a.announceStop()
	}
	if err := a.registry.ShutdownAll(ctx); err != nil {
		a.logger.Warn("capability shutdown incomplete", slog.String("error", err.Error()))
	}
	if a.auditClose != nil {
		if err := a.auditClose(); err != nil {
			a.logger.Warn("audit store close failed", slog.String("error", err.Error()))
		}
	}
	if a.telemetryShutdown != nil {
		if err := a.telemetryShutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
}
