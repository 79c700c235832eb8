// Package biddergw assembles the bidder gateway: configuration, bidder
// registry, durable store, history sinks and the HTTP surface.
package biddergw

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chinnucsk/bidder-gateway/internal/config"
	"github.com/chinnucsk/bidder-gateway/internal/history"
	hfactory "github.com/chinnucsk/bidder-gateway/internal/history/factory"
	"github.com/chinnucsk/bidder-gateway/internal/logger"
	"github.com/chinnucsk/bidder-gateway/internal/manager"
	"github.com/chinnucsk/bidder-gateway/internal/metrics"
	"github.com/chinnucsk/bidder-gateway/internal/process"
	"github.com/chinnucsk/bidder-gateway/internal/server"
	"github.com/chinnucsk/bidder-gateway/internal/store"
	sfactory "github.com/chinnucsk/bidder-gateway/internal/store/factory"
	itls "github.com/chinnucsk/bidder-gateway/internal/tls"
)

type Config = config.Config

type State = manager.State

type StartRequest = manager.StartRequest

type Record = store.Record

const shutdownTimeout = 5 * time.Second

// LoadConfig reads a TOML file plus BIDDERGW_* overrides.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Gateway owns every long-lived component of a running gateway.
type Gateway struct {
	cfg       *Config
	log       *slog.Logger
	logCloser io.Closer
	st        store.Store
	sinks     []history.Sink
	reg       *manager.Registry
	handler   http.Handler
	tlsConfig *tls.Config
}

// New wires a Gateway from cfg. The caller must Close it.
func New(cfg *Config) (g *Gateway, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g = &Gateway{cfg: cfg}
	defer func() {
		if err != nil {
			_ = g.Close()
		}
	}()

	g.log, g.logCloser, err = logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Color:      cfg.Log.Color,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	if g.tlsConfig, err = itls.Setup(cfg.Server.TLS); err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}

	g.st, err = sfactory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if err := g.st.EnsureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("store schema: %w", err)
	}

	for _, h := range cfg.History {
		s, err := hfactory.NewSinkFromDSN(h.DSN)
		if err != nil {
			return nil, fmt.Errorf("history %q: %w", h.DSN, err)
		}
		g.sinks = append(g.sinks, s)
	}

	g.reg, err = manager.New(manager.Options{
		Launcher: &process.Launcher{
			ExecRoot:         cfg.Paths.ExecDir,
			ConfigDir:        cfg.Paths.ConfigDir,
			DiscoverTimeout:  cfg.Discovery.Timeout,
			DiscoverInterval: cfg.Discovery.Interval,
			Logger:           g.log,
		},
		Logs:    &logger.BidderLogs{Dir: cfg.Paths.LogDir},
		Store:   g.st,
		History: g.sinks,
		Logger:  g.log,
	})
	if err != nil {
		return nil, err
	}

	var mh http.Handler
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		if cfg.Metrics.Listen == "" {
			mh = metrics.Handler()
		}
	}
	rt, err := server.NewRouter(g.reg, server.Options{
		BasePath:     cfg.Server.BasePath,
		ConfigServer: cfg.Server.ConfigServer,
		Logger:       g.log,
		Metrics:      mh,
	})
	if err != nil {
		return nil, err
	}
	g.handler = rt.Handler()
	return g, nil
}

// Logger returns the gateway's own logger.
func (g *Gateway) Logger() *slog.Logger { return g.log }

// Handler serves the agent API.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Registry exposes the bidder registry for embedding.
func (g *Gateway) Registry() *manager.Registry { return g.reg }

// Replay registers the bidders recorded by a previous run.
func (g *Gateway) Replay(ctx context.Context) (int, error) { return g.reg.Replay(ctx) }

// Serve listens on the configured addresses until ctx is done or a listener
// fails, then shuts the servers down.
func (g *Gateway) Serve(ctx context.Context) error {
	api := server.NewServer(g.cfg.Server.Listen, g.handler)
	api.TLSConfig = g.tlsConfig
	servers := []*http.Server{api}
	if g.cfg.Metrics.Enabled && g.cfg.Metrics.Listen != "" {
		servers = append(servers, server.NewServer(g.cfg.Metrics.Listen, metrics.Handler()))
	}

	errCh := make(chan error, len(servers))
	for _, s := range servers {
		g.log.Info("listening", "addr", s.Addr, "tls", s.TLSConfig != nil)
		go func(s *http.Server) {
			var err error
			if s.TLSConfig != nil {
				err = s.ListenAndServeTLS("", "")
			} else {
				err = s.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", s.Addr, err)
			}
		}(s)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(sctx); err != nil {
			g.log.Warn("shutdown", "addr", s.Addr, "error", err)
		}
	}
	return serveErr
}

// Close releases the store, history sinks and log file. Running bidders
// are left alone.
func (g *Gateway) Close() error {
	var errs []error
	for _, s := range g.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	if g.st != nil {
		errs = append(errs, g.st.Close())
	}
	if g.logCloser != nil {
		errs = append(errs, g.logCloser.Close())
	}
	return errors.Join(errs...)
}
