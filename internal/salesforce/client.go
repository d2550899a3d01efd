package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

// APIError is a non-2xx response from the Salesforce REST API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("salesforce: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("salesforce: HTTP %d: %s", e.StatusCode, e.Message)
}

// SessionExpired reports whether the error means the access token was rejected.
func (e *APIError) SessionExpired() bool {
	return e.StatusCode == http.StatusUnauthorized || e.Code == "INVALID_SESSION_ID"
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var errs []struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(body, &errs); err == nil && len(errs) > 0 {
		apiErr.Code = errs[0].ErrorCode
		apiErr.Message = errs[0].Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}

// NewRateLimiter returns a limiter allowing perSec requests per second, or nil
// (unlimited) when perSec <= 0.
func NewRateLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// ClientConfig configures the REST client.
type ClientConfig struct {
	Sessions   domain.SessionProvider
	APIVersion string
	HTTPClient *http.Client
	Limiter    *rate.Limiter // nil = unlimited
	Logger     *slog.Logger
}

// Client is a minimal Salesforce REST client. It implements domain.CaseStore
// and domain.AccountReader.
type Client struct {
	sessions   domain.SessionProvider
	apiVersion string
	http       *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		sessions:   cfg.Sessions,
		apiVersion: cfg.APIVersion,
		http:       cfg.HTTPClient,
		limiter:    cfg.Limiter,
		logger:     cfg.Logger,
	}
}

// do runs one authenticated REST call. A rejected session is invalidated and
// reported as *domain.AuthError.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit: %w", op, err)
		}
	}

	sess, err := c.sessions.EnsureSession(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	endpoint := fmt.Sprintf("%s/services/data/v%s%s", sess.InstanceURL, c.apiVersion, path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.CRMRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, data)
		if apiErr.SessionExpired() {
			c.sessions.Invalidate(ctx)
			return &domain.AuthError{Reason: "session rejected", Err: apiErr}
		}
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

type queryResult[T any] struct {
	TotalSize int  `json:"totalSize"`
	Done      bool `json:"done"`
	Records   []T  `json:"records"`
}

func query[T any](ctx context.Context, c *Client, op, soql string) ([]T, error) {
	var res queryResult[T]
	if err := c.do(ctx, op, http.MethodGet, "/query?q="+url.QueryEscape(soql), nil, &res); err != nil {
		return nil, err
	}
	return res.Records, nil
}

type createResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Errors  []struct {
		Message    string `json:"message"`
		StatusCode string `json:"statusCode"`
	} `json:"errors"`
}

// Create inserts one sObject record and returns its id.
func (c *Client) Create(ctx context.Context, sobject string, record any) (string, error) {
	var res createResult
	op := "create_" + strings.ToLower(sobject)
	if err := c.do(ctx, op, http.MethodPost, "/sobjects/"+sobject+"/", record, &res); err != nil {
		return "", err
	}
	if !res.Success || res.ID == "" {
		apiErr := &APIError{StatusCode: http.StatusOK, Message: "create reported no success"}
		if len(res.Errors) > 0 {
			apiErr.Code = res.Errors[0].StatusCode
			apiErr.Message = res.Errors[0].Message
		}
		return "", apiErr
	}
	return res.ID, nil
}

// FindContact returns the first Contact whose field equals value, or nil when
// there is none.
func (c *Client) FindContact(ctx context.Context, field, value string) (*domain.Contact, error) {
	if !ValidFieldName(field) {
		return nil, fmt.Errorf("invalid contact field name %q", field)
	}
	soql := fmt.Sprintf("SELECT Id, Name FROM Contact WHERE %s = %s LIMIT 1", field, Quote(value))
	contacts, err := query[domain.Contact](ctx, c, "find_contact", soql)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return &contacts[0], nil
}

// InsertCase creates a Case and returns its id.
func (c *Client) InsertCase(ctx context.Context, cs domain.Case) (string, error) {
	return c.Create(ctx, "Case", cs)
}

// ListAccounts returns up to limit Accounts.
func (c *Client) ListAccounts(ctx context.Context, limit int) ([]domain.Account, error) {
	if limit <= 0 {
		limit = 10
	}
	soql := fmt.Sprintf("SELECT Id, Name, Type, Industry, Phone, Website FROM Account LIMIT %d", limit)
	accounts, err := query[domain.Account](ctx, c, "list_accounts", soql)
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	return accounts, nil
}

// Ping fetches the API version resource list, which only succeeds with a live session.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/", nil, nil)
}
