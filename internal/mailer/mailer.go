// Package mailer delivers transactional email (verification links,
// password resets) through a JSON HTTP provider. Delivery is
// best-effort: callers log failures and move on, since every token
// that rides an email can be re-requested.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Message is a single outbound email.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	TextBody string `json:"text_body"`
}

// Mailer sends a message. Implementations must honor ctx cancellation
// and return once the provider has accepted or definitively rejected
// the message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPMailer posts messages to a provider endpoint, retrying transient
// failures with exponential backoff inside a bounded window.
type HTTPMailer struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
	logger   *zap.Logger

	maxElapsed time.Duration
}

// NewHTTP builds a mailer for the given provider endpoint. The whole
// send, retries included, is bounded by maxElapsed.
func NewHTTP(endpoint, apiKey, from string, maxElapsed time.Duration, logger *zap.Logger) *HTTPMailer {
	if maxElapsed <= 0 {
		maxElapsed = 15 * time.Second
	}
	return &HTTPMailer{
		endpoint:   endpoint,
		apiKey:     apiKey,
		from:       from,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		maxElapsed: maxElapsed,
	}
}

func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(struct {
		From string `json:"from"`
		Message
	}{From: m.from, Message: msg})
	if err != nil {
		return fmt.Errorf("encoding mail: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = m.maxElapsed

	attempt := 0
	op := func() error {
		attempt++
		return m.post(ctx, body)
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		m.logger.Warn("mail delivery failed",
			zap.String("to", msg.To),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return err
	}
	return nil
}

func (m *HTTPMailer) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("mail provider returned %d", resp.StatusCode)
	default:
		// 4xx other than rate limiting will not improve on retry.
		return backoff.Permanent(fmt.Errorf("mail provider rejected message: %d", resp.StatusCode))
	}
}

// LogMailer writes messages to the log instead of sending them. Used
// in development and whenever no provider is configured.
type LogMailer struct {
	Logger *zap.Logger
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.Logger.Info("mail (not sent, no provider configured)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.TextBody))
	return nil
}
