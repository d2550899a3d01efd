package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"linerelay/internal/api"
	"linerelay/internal/channel"
	"linerelay/internal/config"
	"linerelay/internal/domain"
	"linerelay/internal/metrics"
	"linerelay/internal/relay"
	"linerelay/internal/salesforce"
	"linerelay/internal/store"
)

// app holds the wired components of a running relay.
type app struct {
	httpClient *http.Client
	sessions   *salesforce.SessionManager
	crm        *salesforce.Client
	deliveries *store.SQLiteStore
	dispatcher *relay.Dispatcher
	server     *api.Server
	keepalive  *salesforce.Keepalive
	closers    []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", "err", err)
		}
	}
}

func loginMethod(cfg *config.Config) string {
	if cfg.Salesforce.UsesOAuth2() {
		return "oauth2"
	}
	return "soap"
}

func envStatus(cfg *config.Config) api.EnvironmentStatus {
	return api.EnvironmentStatus{
		HasUsername:   cfg.Salesforce.Username != "",
		HasPassword:   cfg.Salesforce.Password != "",
		HasToken:      cfg.Salesforce.SecurityToken != "",
		HasLineSecret: cfg.Line.ChannelSecret != "",
		HasLineToken:  cfg.Line.ChannelAccessToken != "",
	}
}

func newHTTPClient(cfg *config.Config) *http.Client {
	return salesforce.SharedHTTPClient(time.Duration(cfg.Salesforce.ClientTimeoutSeconds) * time.Second)
}

// newSessionManager builds the session manager with the configured cache
// backend and login method. The returned func releases the cache.
func newSessionManager(ctx context.Context, cfg *config.Config, httpClient *http.Client) (*salesforce.SessionManager, func() error, error) {
	sf := cfg.Salesforce

	var auth salesforce.Authenticator
	if sf.UsesOAuth2() {
		auth = salesforce.NewOAuth2Login(sf.LoginURL, sf.ClientID, sf.ClientSecret, httpClient)
	} else {
		auth = salesforce.NewSOAPLogin(sf.LoginURL, sf.APIVersion, httpClient)
	}

	var cache salesforce.SessionCache = salesforce.NewMemoryCache()
	closeCache := func() error { return nil }
	if cfg.Session.Backend == "redis" {
		rc, err := salesforce.NewRedisCache(ctx, salesforce.RedisCacheConfig{
			Address:  cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
			Prefix:   cfg.Session.KeyPrefix,
			TTL:      time.Duration(cfg.Session.TTLMinutes) * time.Minute,
		})
		if err != nil {
			return nil, nil, err
		}
		cache = rc
		closeCache = rc.Close
		logger.Info("salesforce session cache", "backend", "redis", "addr", cfg.Session.RedisAddr)
	}

	m := salesforce.NewSessionManager(salesforce.SessionManagerConfig{
		Credentials: salesforce.Credentials{
			Username:      sf.Username,
			Password:      sf.Password,
			SecurityToken: sf.SecurityToken,
		},
		Auth:   auth,
		Cache:  cache,
		Logger: logger,
	})
	return m, closeCache, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{httpClient: newHTTPClient(cfg)}

	sessions, closeCache, err := newSessionManager(ctx, cfg, a.httpClient)
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	a.sessions = sessions
	a.closers = append(a.closers, closeCache)

	sf := cfg.Salesforce
	a.crm = salesforce.NewClient(salesforce.ClientConfig{
		Sessions:   sessions,
		APIVersion: sf.APIVersion,
		HTTPClient: a.httpClient,
		Limiter:    salesforce.NewRateLimiter(sf.RateLimitPerSec),
		Logger:     logger,
	})

	a.deliveries, err = store.NewSQLiteStore(cfg.Delivery.DBPath, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("delivery store: %w", err)
	}
	a.closers = append(a.closers, a.deliveries.Close)

	cases := relay.NewCaseService(relay.CaseServiceConfig{
		Sessions:     sessions,
		Store:        a.crm,
		ContactField: sf.ContactLineField,
		Logger:       logger,
	})

	var replier domain.Replier
	if cfg.Line.ReplyEnabled {
		replier = channel.NewLineReplier(channel.LineReplierConfig{
			AccessToken: cfg.Line.ChannelAccessToken,
			Endpoint:    cfg.Line.ReplyEndpoint,
			Logger:      logger,
		})
	}

	processor := relay.NewProcessor(relay.ProcessorConfig{
		Cases:         cases,
		Replier:       replier,
		Log:           a.deliveries,
		ReplyTemplate: cfg.Line.ReplyTemplate,
		Logger:        logger,
	})
	a.dispatcher = relay.NewDispatcher(processor, logger)

	webhook := channel.NewLine(channel.LineConfig{
		ChannelSecret: cfg.Line.ChannelSecret,
		Sink:          a.dispatcher,
		Logger:        logger,
	})

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Handler()
	}

	a.server = api.NewServer(api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Environment:     cfg.Server.Environment,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		CORSOrigins:     cfg.Server.CORSOrigins,
		WebhookPath:     cfg.Line.WebhookPath,
		Webhook:         webhook,
		Sessions:        sessions,
		Accounts:        a.crm,
		AccountsLimit:   sf.AccountsLimit,
		Deliveries:      a.dispatcher,
		History:         a.deliveries,
		EnvStatus:       envStatus(cfg),
		MetricsPath:     cfg.Metrics.Path,
		MetricsHandler:  metricsHandler,
		Logger:          logger,
	})

	if sf.KeepaliveCron != "" {
		a.keepalive, err = salesforce.NewKeepalive(sf.KeepaliveCron, a.crm, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if !cfg.Salesforce.HasCredentials() {
		logger.Warn("salesforce credentials not configured; webhooks will be acknowledged but cases cannot be created")
	}
	if cfg.Line.ChannelSecret == "" {
		logger.Warn("LINE channel secret not configured; every webhook will be rejected")
	}
	if cfg.Salesforce.ConnectOnStart && cfg.Salesforce.HasCredentials() {
		if _, err := a.sessions.EnsureSession(ctx); err != nil {
			logger.Warn("salesforce not connected at startup, will retry on first use", "err", err)
		}
	}

	retention := time.Duration(cfg.Delivery.RetentionMinutes) * time.Minute

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Start(gctx) })
	if a.keepalive != nil {
		g.Go(func() error { return a.keepalive.Run(gctx) })
	}
	g.Go(func() error {
		a.prune(gctx, retention)
		return nil
	})

	runErr := g.Wait()
	logger.Info("shutting down, waiting for in-flight deliveries...")

	drainCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := a.dispatcher.Wait(drainCtx); err != nil {
		logger.Warn("shutdown timed out with deliveries still running", "err", err)
	} else {
		logger.Info("shutdown complete")
	}
	return runErr
}

// prune periodically forgets finished deliveries and old delivery log rows.
func (a *app) prune(ctx context.Context, retention time.Duration) {
	interval := min(retention, 10*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := a.dispatcher.Clean(retention)
			pruned, err := a.deliveries.Prune(ctx, retention)
			if err != nil {
				logger.Warn("delivery log prune failed", "err", err)
			}
			if removed > 0 || pruned > 0 {
				logger.Debug("pruned deliveries", "tracked", removed, "logged", pruned)
			}
		}
	}
}
