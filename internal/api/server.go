// Package api serves the relay's HTTP surface: the LINE webhook, CRM read
// endpoints, status pages and metrics.
package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"linerelay/internal/domain"
	"linerelay/internal/relay"
)

// ServiceName is reported by /health and the index page.
const ServiceName = "Salesforce-LINE-Bot"

const maxAccountsLimit = 200

//go:embed templates/*.html
var templatesFS embed.FS

// DeliveryTracker exposes in-flight and recently finished deliveries.
type DeliveryTracker interface {
	Get(id string) (*relay.Delivery, bool)
}

// DeliveryHistory reads the persisted delivery log.
type DeliveryHistory interface {
	Recent(ctx context.Context, limit int) ([]domain.DeliveryRecord, error)
	ByDelivery(ctx context.Context, deliveryID string) ([]domain.DeliveryRecord, error)
}

// EnvironmentStatus says which secrets are configured, never their values.
type EnvironmentStatus struct {
	HasUsername   bool `json:"has_username"`
	HasPassword   bool `json:"has_password"`
	HasToken      bool `json:"has_token"`
	HasLineSecret bool `json:"has_line_secret"`
	HasLineToken  bool `json:"has_line_token"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string
	Port            int
	Environment     string
	ShutdownTimeout time.Duration
	CORSOrigins     []string // empty disables CORS headers

	WebhookPath string
	Webhook     http.Handler

	Sessions      domain.SessionProvider
	Accounts      domain.AccountReader
	AccountsLimit int

	Deliveries DeliveryTracker
	History    DeliveryHistory // optional

	EnvStatus EnvironmentStatus

	MetricsPath    string
	MetricsHandler http.Handler // nil disables /metrics

	Logger *slog.Logger
}

// Server is the relay's HTTP server.
type Server struct {
	cfg    ServerConfig
	tmpl   *template.Template
	logger *slog.Logger
	server *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook/line"
	}
	if cfg.AccountsLimit <= 0 {
		cfg.AccountsLimit = 10
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &Server{
		cfg:    cfg,
		tmpl:   template.Must(template.ParseFS(templatesFS, "templates/*.html")),
		logger: cfg.Logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /test", s.handleTest)
	mux.HandleFunc("GET /connection-status", s.handleConnectionStatus)
	mux.HandleFunc("GET /accounts", s.handleAccounts)
	mux.HandleFunc("GET /deliveries", s.handleDeliveries)
	mux.HandleFunc("GET /deliveries/{id}", s.handleDelivery)

	if s.cfg.Webhook != nil {
		mux.Handle(s.cfg.WebhookPath, s.cfg.Webhook)
	}
	if s.cfg.MetricsHandler != nil && s.cfg.MetricsPath != "" {
		mux.Handle("GET "+s.cfg.MetricsPath, s.cfg.MetricsHandler)
	}

	return corsMiddleware(s.cfg.CORSOrigins, mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", "addr", "http://"+addr, "webhook", s.cfg.WebhookPath, "env", s.cfg.Environment)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

type endpoint struct {
	Method, Path, Description string
}

func (s *Server) handleIndex(rw http.ResponseWriter, r *http.Request) {
	endpoints := []endpoint{
		{"POST", s.cfg.WebhookPath, "LINE webhook"},
		{"GET", "/accounts", "Salesforce accounts (?limit=)"},
		{"GET", "/connection-status", "Salesforce session and configured secrets"},
		{"GET", "/deliveries", "recent processed events"},
		{"GET", "/deliveries/{id}", "status of one webhook delivery"},
		{"GET", "/health", "liveness"},
		{"GET", "/test", "smoke test"},
	}
	if s.cfg.MetricsHandler != nil {
		endpoints = append(endpoints, endpoint{"GET", s.cfg.MetricsPath, "Prometheus metrics"})
	}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(rw, "index.html", map[string]any{
		"Service":     ServiceName,
		"Environment": s.cfg.Environment,
		"Connected":   s.cfg.Sessions != nil && s.cfg.Sessions.Current(r.Context()).Valid(),
		"Endpoints":   endpoints,
	}); err != nil {
		s.logger.Error("template error", "template", "index", "err", err)
	}
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":      "OK",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"service":     ServiceName,
		"environment": s.cfg.Environment,
	})
}

func (s *Server) handleTest(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":      "Server is running!",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": s.cfg.Environment,
		"port":        s.cfg.Port,
	})
}

func (s *Server) handleConnectionStatus(rw http.ResponseWriter, r *http.Request) {
	sf := map[string]any{"connected": false, "userId": nil, "organizationId": nil}
	if s.cfg.Sessions != nil {
		if sess := s.cfg.Sessions.Current(r.Context()); sess.Valid() {
			sf["connected"] = true
			sf["userId"] = sess.UserID
			sf["organizationId"] = sess.OrganizationID
		}
	}

	writeJSON(rw, http.StatusOK, map[string]any{
		"salesforce": sf,
		"environment": map[string]any{
			"env":             s.cfg.Environment,
			"has_username":    s.cfg.EnvStatus.HasUsername,
			"has_password":    s.cfg.EnvStatus.HasPassword,
			"has_token":       s.cfg.EnvStatus.HasToken,
			"has_line_secret": s.cfg.EnvStatus.HasLineSecret,
			"has_line_token":  s.cfg.EnvStatus.HasLineToken,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAccounts(rw http.ResponseWriter, r *http.Request) {
	limit := s.cfg.AccountsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"success": false, "error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxAccountsLimit {
		limit = maxAccountsLimit
	}

	ctx := r.Context()
	sess, err := s.cfg.Sessions.EnsureSession(ctx)
	if err != nil {
		s.logger.Error("accounts: not connected to salesforce", "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]any{
			"success":    false,
			"error":      err.Error(),
			"suggestion": "Check Salesforce credentials and security token, then /connection-status",
		})
		return
	}

	accounts, err := s.cfg.Accounts.ListAccounts(ctx, limit)
	if err != nil {
		s.logger.Error("accounts query failed", "err", err)
		s.cfg.Sessions.Invalidate(ctx)
		writeJSON(rw, http.StatusInternalServerError, map[string]any{
			"success":    false,
			"error":      err.Error(),
			"suggestion": "Check Salesforce credentials and security token",
		})
		return
	}

	writeJSON(rw, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(accounts),
		"connection": map[string]any{
			"connected": true,
			"userId":    sess.UserID,
		},
		"accounts": accounts,
	})
}

func (s *Server) handleDeliveries(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeJSON(rw, http.StatusOK, map[string]any{"count": 0, "records": []domain.DeliveryRecord{}})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, 500)
		}
	}
	recs, err := s.cfg.History.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("delivery log query failed", "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"count": len(recs), "records": recs})
}

func (s *Server) handleDelivery(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var delivery *relay.Delivery
	if s.cfg.Deliveries != nil {
		delivery, _ = s.cfg.Deliveries.Get(id)
	}
	var recs []domain.DeliveryRecord
	if s.cfg.History != nil {
		var err error
		recs, err = s.cfg.History.ByDelivery(r.Context(), id)
		if err != nil {
			s.logger.Warn("delivery log query failed", "delivery", id, "err", err)
		}
	}

	if delivery == nil && len(recs) == 0 {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "delivery not found"})
		return
	}
	if recs == nil {
		recs = []domain.DeliveryRecord{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"id": id, "delivery": delivery, "records": recs})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
