package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	oauth "github.com/giantswarm/oauth2-stateless"
	"github.com/giantswarm/oauth2-stateless/instrumentation"
	"github.com/giantswarm/oauth2-stateless/security"
	"github.com/giantswarm/oauth2-stateless/tokengen"
	"github.com/giantswarm/oauth2-stateless/web"
	"github.com/giantswarm/oauth2-stateless/web/fiberweb"
	"github.com/giantswarm/oauth2-stateless/web/ginweb"
)

const (
	// shutdownTimeout bounds graceful shutdown of the listeners
	shutdownTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// Server is the assembled authorization server
type Server struct {
	cfg    Config
	logger *slog.Logger

	provider *oauth.Provider
	stores   *Stores
	auditor  *security.Auditor
	inst     *instrumentation.Instrumentation
	registry *prometheus.Registry
}

// NewServer opens the stores, registers the configured clients and builds
// the provider with its grants
func NewServer(ctx context.Context, cfg Config, version string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		inst, err := instrumentation.New(instrumentation.Config{
			Enabled:              true,
			ServiceName:          cfg.Metrics.ServiceName,
			ServiceVersion:       version,
			MetricsExporter:      instrumentation.ExporterPrometheus,
			PrometheusRegisterer: s.registry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
		s.inst = inst
	}

	strategy, generator, err := newGenerator(cfg.Tokens)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}

	s.stores, err = OpenStores(ctx, &s.cfg, strategy, s.inst, logger)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	if err := s.stores.SeedClients(ctx, cfg.Clients); err != nil {
		s.Close(ctx)
		return nil, err
	}

	s.auditor = security.NewAuditor(logger, cfg.Audit.Enabled)
	if cfg.Audit.FailuresPerSecond > 0 {
		s.auditor.SetThrottle(security.NewThrottle(cfg.Audit.FailuresPerSecond, max(cfg.Audit.FailureBurst, 1), logger))
	}

	s.provider, err = oauth.NewProvider(oauth.Config{
		AuthorizePath:        cfg.Endpoints.Authorize,
		TokenPath:            cfg.Endpoints.Token,
		RevokePath:           cfg.Endpoints.Revoke,
		UniqueToken:          cfg.UniqueToken,
		AuthorizationCodeTTL: cfg.Endpoints.CodeTTL,
		Logger:               logger,
		Auditor:              s.auditor,
		Instrumentation:      s.inst,
	}, s.stores.Clients, s.stores.Codes, s.stores.Tokens, generator)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}

	if err := s.addGrants(); err != nil {
		s.Close(ctx)
		return nil, err
	}

	logger.Info("Authorization server configured",
		"framework", cfg.Framework,
		"storage", cfg.Storage.Backend,
		"token_strategy", cfg.Tokens.Strategy,
		"grants", cfg.EnabledGrants(),
		"clients", len(cfg.Clients))
	return s, nil
}

// newGenerator builds the token strategy and lifetime policy. Stateless
// tokens carry their own expiry, so the advertised lifetimes follow it.
func newGenerator(cfg TokensConfig) (tokengen.Strategy, *tokengen.Generator, error) {
	expiresIn := cfg.ExpiresIn
	refreshExpiresIn := cfg.RefreshExpiresIn

	var strategy tokengen.Strategy
	switch cfg.Strategy {
	case StrategyUUID:
		strategy = tokengen.UUID{}
	case StrategyVerifier:
		strategy = tokengen.Verifier{}
	case StrategyStateless:
		signer, err := tokengen.NewStateless([]byte(cfg.Secret),
			tokengen.WithAccessTTL(cfg.AccessTTL),
			tokengen.WithRefreshTTL(cfg.RefreshTTL))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create stateless tokens: %w", err)
		}
		strategy = signer

		expiresIn = make(map[string]int64, len(cfg.ExpiresIn))
		for grant, seconds := range cfg.ExpiresIn {
			if seconds > 0 {
				expiresIn[grant] = int64(cfg.AccessTTL / time.Second)
			}
		}
		refreshExpiresIn = int64(cfg.RefreshTTL / time.Second)
	default:
		strategy = tokengen.NewRandomBytes(cfg.Length)
	}

	return strategy, tokengen.New(strategy,
		tokengen.WithExpiresIn(expiresIn),
		tokengen.WithRefreshExpiresIn(refreshExpiresIn),
	), nil
}

func (s *Server) addGrants() error {
	// Paths lists the authorization endpoint first
	site := NewSite(s.cfg.Users, s.provider.Paths()[0], s.auditor)
	scopes := oauth.WithScopes(s.cfg.Scopes.Available, s.cfg.Scopes.Default...)

	for _, name := range s.cfg.EnabledGrants() {
		var grant any
		switch name {
		case oauth.GrantTypeAuthorizationCode:
			grant = oauth.NewAuthorizationCodeGrant(site, scopes)
		case oauth.GrantTypeImplicit:
			grant = oauth.NewImplicitGrant(site, scopes)
		case oauth.GrantTypePassword:
			grant = oauth.NewResourceOwnerGrant(site, scopes)
		case oauth.GrantTypeClientCredentials:
			grant = oauth.NewClientCredentialsGrant(scopes)
		case oauth.GrantTypeRefreshToken:
			opts := []oauth.GrantOption{scopes}
			if s.cfg.ReissueRefreshTokens {
				opts = append(opts, oauth.WithReissueRefreshTokens())
			}
			grant = oauth.NewRefreshTokenGrant(opts...)
		default:
			return fmt.Errorf("unknown grant %q", name)
		}
		if err := s.provider.AddGrant(grant); err != nil {
			return err
		}
	}
	return nil
}

// Provider returns the configured provider
func (s *Server) Provider() *oauth.Provider {
	return s.provider
}

func (s *Server) webOptions() web.Options {
	return web.Options{
		Logger:            s.logger,
		MaxBodyBytes:      s.cfg.MaxBodyBytes,
		TrustProxy:        s.cfg.TrustProxy,
		TrustedProxyCount: s.cfg.TrustedProxyCount,
	}
}

// Handler returns the HTTP handler for the net/http and gin frameworks.
// Besides the provider endpoints it serves GET /healthz.
func (s *Server) Handler() http.Handler {
	if s.cfg.Framework == FrameworkGin {
		if s.cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		engine := gin.New()
		engine.Use(gin.Recovery(), ginweb.RequestID())
		ginweb.Register(engine, s.provider, s.webOptions())
		engine.GET("/healthz", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		return engine
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	handler := web.NewHandler(s.provider, s.webOptions())
	handler.Next = mux
	return security.RequestIDMiddleware(handler)
}

// FiberApp returns the fiber application for the fiber framework
func (s *Server) FiberApp() *fiber.App {
	cfg := fiber.Config{DisableStartupMessage: true}
	if s.cfg.MaxBodyBytes > 0 {
		cfg.BodyLimit = int(s.cfg.MaxBodyBytes)
	}
	app := fiber.New(cfg)
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	fiberweb.Register(app, s.provider, s.webOptions())
	return app
}

// MetricsHandler serves the Prometheus registry, or nil when metrics are off
func (s *Server) MetricsHandler() http.Handler {
	if s.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Run serves until ctx is cancelled, then shuts the listeners down
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.Framework == FrameworkFiber {
		app := s.FiberApp()
		ln, err := net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
		}
		g.Go(func() error {
			s.logger.Info("Serving OAuth endpoints", "address", ln.Addr().String(), "framework", s.cfg.Framework)
			return app.Listener(ln)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return app.ShutdownWithContext(shutdownCtx)
		})
	} else {
		serveHTTP(ctx, g, s.logger, "OAuth endpoints", s.cfg.Listen, s.Handler())
	}

	if metrics := s.MetricsHandler(); metrics != nil && s.cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics)
		serveHTTP(ctx, g, s.logger, "metrics", s.cfg.MetricsListen, mux)
	}

	return g.Wait()
}

func serveHTTP(ctx context.Context, g *errgroup.Group, logger *slog.Logger, name, addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	g.Go(func() error {
		logger.Info("Serving "+name, "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// Close releases stores and flushes instrumentation
func (s *Server) Close(ctx context.Context) {
	if s.stores != nil {
		s.stores.Close()
	}
	if s.auditor != nil {
		s.auditor.Stop()
	}
	if s.inst != nil {
		if err := s.inst.Shutdown(ctx); err != nil {
			s.logger.Warn("Error shutting down instrumentation", "error", err)
		}
	}
}
