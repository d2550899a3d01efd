package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

const defaultReplyEndpoint = "https://api.line.me/v2/bot/message/reply"

// LineReplierConfig configures the LINE reply client.
type LineReplierConfig struct {
	AccessToken string
	Endpoint    string // default: https://api.line.me/v2/bot/message/reply
	Client      *http.Client
	Logger      *slog.Logger
}

// LineReplier implements domain.Replier against the LINE Messaging API.
type LineReplier struct {
	accessToken string
	endpoint    string
	client      *http.Client
	logger      *slog.Logger
}

func NewLineReplier(cfg LineReplierConfig) *LineReplier {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultReplyEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LineReplier{
		accessToken: cfg.AccessToken,
		endpoint:    cfg.Endpoint,
		client:      cfg.Client,
		logger:      cfg.Logger,
	}
}

type replyRequest struct {
	ReplyToken string         `json:"replyToken"`
	Messages   []replyMessage `json:"messages"`
}

type replyMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Reply sends a single text message for replyToken. It is never retried.
func (l *LineReplier) Reply(ctx context.Context, replyToken, text string) error {
	if l.accessToken == "" {
		metrics.RepliesTotal.WithLabelValues("failed").Inc()
		return &domain.ReplyError{Err: fmt.Errorf("channel access token not configured")}
	}
	if replyToken == "" {
		metrics.RepliesTotal.WithLabelValues("failed").Inc()
		return &domain.ReplyError{Err: fmt.Errorf("empty reply token")}
	}

	body, err := json.Marshal(replyRequest{
		ReplyToken: replyToken,
		Messages:   []replyMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return &domain.ReplyError{Err: fmt.Errorf("marshal: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return &domain.ReplyError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.accessToken)

	resp, err := l.client.Do(req)
	if err != nil {
		metrics.RepliesTotal.WithLabelValues("failed").Inc()
		return &domain.ReplyError{Err: fmt.Errorf("send: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		metrics.RepliesTotal.WithLabelValues("failed").Inc()
		return &domain.ReplyError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	metrics.RepliesTotal.WithLabelValues("sent").Inc()
	l.logger.Debug("line reply sent", "text_len", len(text))
	return nil
}
