package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/toolgateway/config"
	"github.com/jonwraymond/toolgateway/discovery"
	"github.com/jonwraymond/toolgateway/dispatch"
	"github.com/jonwraymond/toolgateway/logging"
	"github.com/jonwraymond/toolgateway/metrics"
	"github.com/jonwraymond/toolgateway/platform"
	"github.com/jonwraymond/toolgateway/provider"
	"github.com/jonwraymond/toolgateway/registry"
	"github.com/jonwraymond/toolgateway/resilience"
	"github.com/jonwraymond/toolgateway/server"
	"github.com/jonwraymond/toolgateway/session"
	"github.com/jonwraymond/toolgateway/transport"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			stdio, _ := cmd.Flags().GetBool("stdio")
			addr, _ := cmd.Flags().GetString("addr")

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, stdio)
		},
	}
	cmd.Flags().StringP("config", "c", "", "path to a YAML configuration file")
	cmd.Flags().Bool("stdio", false, "serve a single client over stdin/stdout")
	cmd.Flags().String("addr", "", "listen address, overrides server.addr")
	return cmd
}

// gateway is the assembled process.
type gateway struct {
	cfg        *config.Config
	log        zerolog.Logger
	prom       *prometheus.Registry
	metrics    *metrics.Metrics
	sessions   *session.Registry
	discovery  *discovery.Discovery
	dispatcher *dispatch.Dispatcher
	server     *server.Server
	clients    *transport.Manager
	platform   *platform.Client
}

func newGateway(cfg *config.Config, log zerolog.Logger) (*gateway, error) {
	g := &gateway{cfg: cfg, log: log, prom: prometheus.NewRegistry()}
	g.prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	g.metrics = metrics.New(g.prom)

	limits := resilience.NewLimiterSet(cfg.Limits(), nil)

	catalogs := provider.Catalogs{cfg.Catalog()}
	if cfg.Platform.BaseURL != "" {
		client, err := platform.NewClient(platform.Options{
			BaseURL: cfg.Platform.BaseURL,
			Token:   cfg.Platform.Token,
			Timeout: cfg.Platform.Timeout,
			Limits:  limits,
			Retry:   cfg.Retry(),
			Logger:  log,
		})
		if err != nil {
			return nil, err
		}
		g.platform = client
		catalogs = append(catalogs, client)
	}

	g.clients = transport.NewManager(transport.Options{
		Mode:          transport.Mode(cfg.Server.Mode),
		TTL:           cfg.Sessions.TTL,
		MaxSessions:   cfg.Sessions.MaxSessions,
		SweepInterval: cfg.Sessions.SweepInterval,
		Logger:        log,
		Metrics:       g.metrics,
	})

	g.sessions = session.NewRegistry(session.Options{
		Dialer: session.MCPDialer{
			ClientName:    cfg.Server.Name,
			ClientVersion: version,
			HTTPTimeout:   cfg.Timeouts.ToolCall,
		},
		Attempts: cfg.Resilience.ConnectAttempts,
		Delay:    cfg.Resilience.ConnectDelay,
		Logger:   log,
		OnDial:   g.metrics.Dial,
	})

	disc, err := discovery.New(discovery.Options{
		Catalog:        catalogs,
		Sessions:       g.sessions,
		Registry:       registry.New(registry.Options{Logger: log}),
		IdentifierMode: discovery.IdentifierMode(cfg.Discovery.IdentifierMode),
		CacheTTL:       cfg.Discovery.CacheTTL,
		ListTimeout:    cfg.Timeouts.List,
		Concurrency:    cfg.Discovery.Concurrency,
		OnRefresh: func(r discovery.Report) {
			if !r.Changed {
				return
			}
			if n := server.NotifyListChanged(g.clients); n > 0 {
				log.Debug().Int("notifications", n).Msg("list changed notifications queued")
			}
		},
		Logger:  log,
		Metrics: g.metrics,
	})
	if err != nil {
		return nil, err
	}
	g.discovery = disc

	dopts := dispatch.Options{
		Discovery:       disc,
		Limits:          limits,
		Breaker:         cfg.Breaker(),
		Retry:           cfg.Retry(),
		Timeouts:        cfg.DispatchTimeouts(),
		ActivityTimeout: cfg.Timeouts.Activity,
		Logger:          log,
		Metrics:         g.metrics,
	}
	if g.platform != nil {
		dopts.Activity = g.platform
	}
	if g.dispatcher, err = dispatch.New(dopts); err != nil {
		return nil, err
	}

	sopts := server.Options{
		Dispatcher:       g.dispatcher,
		Info:             server.Info{Name: cfg.Server.Name, Version: version},
		Instructions:     cfg.Server.Instructions,
		ProtocolVersions: cfg.Server.ProtocolVersions,
		Logger:           log,
	}
	if g.platform != nil {
		sopts.InstructionsFunc = g.platform.Instructions
	}
	if g.server, err = server.New(sopts); err != nil {
		return nil, err
	}
	return g, nil
}

// handler returns the HTTP surface for the configured server.
func (g *gateway) handler() http.Handler {
	opts := server.HTTPOptions{
		Path:         g.cfg.Server.Path,
		Sessions:     g.clients,
		APIKey:       g.cfg.Server.APIKey,
		MaxBodyBytes: g.cfg.Server.MaxBodyBytes,
	}
	if g.cfg.Server.Metrics {
		opts.Gatherer = g.prom
	}
	return g.server.Handler(opts)
}

// close releases everything in dependency order: client sessions first, then
// the schedule, pending activity and finally provider connections.
func (g *gateway) close() {
	g.clients.Shutdown()
	g.discovery.Stop()
	g.dispatcher.Wait()
	if err := g.sessions.Close(); err != nil {
		g.log.Warn().Err(err).Msg("closing provider sessions")
	}
	if err := g.discovery.Registry().Close(); err != nil {
		g.log.Warn().Err(err).Msg("closing registry")
	}
}

func serve(ctx context.Context, cfg *config.Config, stdio bool) error {
	log := logging.New(cfg.Log())

	g, err := newGateway(cfg, log)
	if err != nil {
		return err
	}
	defer g.close()

	if _, err := g.discovery.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial discovery failed, serving with an empty registry")
	}
	if err := g.discovery.Start(cfg.Discovery.Schedule); err != nil {
		return err
	}

	if stdio {
		log.Info().Msg("serving over stdio")
		return g.server.ServeStdio(ctx, os.Stdin, os.Stdout)
	}

	g.clients.Start()
	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("path", cfg.Server.Path).
		Str("mode", cfg.Server.Mode).
		Msg("serving over http")
	return server.ListenAndServe(ctx, cfg.Server.Addr, g.handler(), shutdownTimeout)
}
