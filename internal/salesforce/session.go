// Package salesforce talks to the Salesforce login and REST APIs and owns the
// process-wide CRM session.
package salesforce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

// Credentials are the username-password login inputs.
type Credentials struct {
	Username      string
	Password      string
	SecurityToken string
}

// Complete reports whether a login can be attempted at all.
func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// secret is the password with the security token appended, as Salesforce expects.
func (c Credentials) secret() string {
	return c.Password + c.SecurityToken
}

// Authenticator performs one login round trip.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (*domain.Session, error)
	Method() string
}

// SessionCache stores the current session. Get returns nil, nil on a miss.
type SessionCache interface {
	Get(ctx context.Context) (*domain.Session, error)
	Set(ctx context.Context, s *domain.Session) error
	Invalidate(ctx context.Context) error
}

// MemoryCache keeps the session in process memory.
type MemoryCache struct {
	mu      sync.RWMutex
	session *domain.Session
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (m *MemoryCache) Get(_ context.Context) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *MemoryCache) Set(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.session = &cp
	return nil
}

func (m *MemoryCache) Invalidate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

// SessionManagerConfig configures the session manager.
type SessionManagerConfig struct {
	Credentials Credentials
	Auth        Authenticator
	Cache       SessionCache // default: MemoryCache
	Logger      *slog.Logger
}

// SessionManager implements domain.SessionProvider. Concurrent callers that
// miss the cache may each log in; the last session written wins.
type SessionManager struct {
	creds  Credentials
	auth   Authenticator
	cache  SessionCache
	logger *slog.Logger
}

func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SessionManager{
		creds:  cfg.Credentials,
		auth:   cfg.Auth,
		cache:  cfg.Cache,
		logger: cfg.Logger,
	}
}

// EnsureSession returns the cached session, logging in when there is none.
func (m *SessionManager) EnsureSession(ctx context.Context) (*domain.Session, error) {
	if s := m.Current(ctx); s.Valid() {
		return s, nil
	}

	if !m.creds.Complete() {
		return nil, &domain.AuthError{Reason: "missing credentials", Err: domain.ErrMissingCredentials}
	}

	method := m.auth.Method()
	s, err := m.auth.Login(ctx, m.creds)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues(method, "failed").Inc()
		m.logger.Error("salesforce login failed", "method", method, "user", m.creds.Username, "err", err)
		if domain.IsAuthError(err) {
			return nil, err
		}
		return nil, &domain.AuthError{Reason: "login failed", Err: err}
	}
	if s.IssuedAt.IsZero() {
		s.IssuedAt = time.Now()
	}

	if err := m.cache.Set(ctx, s); err != nil {
		m.logger.Warn("cannot cache salesforce session", "err", err)
	}
	metrics.LoginsTotal.WithLabelValues(method, "success").Inc()
	m.logger.Info("salesforce login ok", "method", method, "user_id", s.UserID, "instance", s.InstanceURL)
	return s, nil
}

// Current returns the cached session or nil. It never logs in.
func (m *SessionManager) Current(ctx context.Context) *domain.Session {
	s, err := m.cache.Get(ctx)
	if err != nil {
		m.logger.Warn("cannot read cached salesforce session", "err", err)
		return nil
	}
	return s
}

// Invalidate drops the cached session.
func (m *SessionManager) Invalidate(ctx context.Context) {
	if err := m.cache.Invalidate(ctx); err != nil {
		m.logger.Warn("cannot invalidate salesforce session", "err", err)
	}
	metrics.SessionInvalidations.Inc()
	m.logger.Info("salesforce session invalidated")
}
