// Package sms provides the SMS channel notifier over HTTP gateways. Each
// configured gateway is registered as its own provider.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
)

const (
	defaultRateLimit = 10.0
	defaultTimeout   = 10 * time.Second
)

// ErrDisabled is returned by Publish when the gateway is disabled.
var ErrDisabled = errors.New("sms gateway disabled")

// GatewayConfig holds one SMS gateway configuration.
type GatewayConfig struct {
	Name      string        `koanf:"name"`
	Enabled   bool          `koanf:"enabled"`
	URL       string        `koanf:"url"`
	APIKey    string        `koanf:"api_key"`
	From      string        `koanf:"from"`
	RateLimit float64       `koanf:"rate_limit"`
	Timeout   time.Duration `koanf:"timeout"`
}

// Sender implements the SMS channel notifier for one gateway.
type Sender struct {
	config     GatewayConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	apiURL     string
}

// NewSender creates a new SMS sender.
// Returns error if enabled but required config is missing.
func NewSender(config GatewayConfig) (*Sender, error) {
	if config.Name == "" {
		return nil, errors.New("sms sender: gateway name is required")
	}
	if config.Enabled {
		if config.URL == "" {
			return nil, fmt.Errorf("sms sender %s: url is required when enabled", config.Name)
		}
		if config.APIKey == "" {
			return nil, fmt.Errorf("sms sender %s: api key is required when enabled", config.Name)
		}
	}

	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		apiURL:     config.URL,
	}, nil
}

// Init implements notifications.ChannelNotifier.
func (s *Sender) Init(context.Context) error {
	slog.Info("sms sender configured",
		"gateway", s.config.Name,
		"enabled", s.config.Enabled,
		"rate_limit", s.config.RateLimit,
	)
	return nil
}

// Protocol returns the channel type.
func (s *Sender) Protocol() domain.ChannelType {
	return domain.ChannelTypeSMS
}

// Provider returns the gateway name.
func (s *Sender) Provider() string {
	return s.config.Name
}

// Publish texts n.Body to every destination of the channel. Partial delivery
// is reported as success so accepted numbers are not texted again.
func (s *Sender) Publish(ctx context.Context, n notifications.Notification) (*domain.ChannelResponse, error) {
	if !s.config.Enabled {
		return nil, notifications.NewNonRetryableError(ErrDisabled)
	}

	numbers := normalizeNumbers(n.Channel.Destinations)
	if len(numbers) == 0 {
		return notifications.NewResponse(n, s.config.Name, domain.ResponseStatusMissingDestination, ""), nil
	}

	var (
		delivered []string
		failures  []error
	)
	for _, to := range numbers {
		if err := s.send(ctx, to, n); err != nil {
			ctxlog.FromContext(ctx).Warn("sms send failed",
				"gateway", s.config.Name,
				"error", err,
			)
			failures = append(failures, err)
			continue
		}
		delivered = append(delivered, to)
	}

	if len(delivered) == 0 {
		return nil, failures[0]
	}

	resp := notifications.NewResponse(n, s.config.Name, domain.ResponseStatusSuccess, strings.Join(delivered, ","))
	if len(failures) > 0 {
		resp.ErrorMessage = fmt.Sprintf("%d of %d numbers failed: %v", len(failures), len(numbers), errors.Join(failures...))
	}
	return resp, nil
}

// SetupChannel implements notifications.ChannelNotifier. SMS needs no
// provisioning.
func (s *Sender) SetupChannel(context.Context, domain.NotificationConfig, domain.Channel) (*domain.ChannelResponse, error) {
	return nil, nil
}

// DestroyChannel implements notifications.ChannelNotifier.
func (s *Sender) DestroyChannel(context.Context, string, map[string]any) (*domain.ChannelResponse, error) {
	return nil, nil
}

type sendRequest struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Reference string `json:"reference,omitempty"`
}

type gatewayResponse struct {
	MessageID  string `json:"message_id,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (s *Sender) send(ctx context.Context, to string, n notifications.Notification) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	payload := sendRequest{
		From: s.config.From,
		To:   to,
		Text: n.Body,
	}
	if n.Alert != nil {
		payload.Reference = n.Alert.ID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp)
}

func (s *Sender) handleResponse(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	var result gatewayResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			result.Error = string(raw)
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		slog.Debug("sms accepted", "gateway", s.config.Name, "message_id", result.MessageID)
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			RetryAfter: retryAfter(resp.Header.Get("Retry-After"), result.RetryAfter),
			Message:    result.Error,
		}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &PermanentError{Code: resp.StatusCode, Message: "invalid gateway credentials"}

	case resp.StatusCode >= 500:
		return &RetryableError{Code: resp.StatusCode, Message: result.Error}

	default:
		return &PermanentError{Code: resp.StatusCode, Message: result.Error}
	}
}

func retryAfter(header string, bodySeconds int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if bodySeconds > 0 {
		return time.Duration(bodySeconds) * time.Second
	}
	return defaultRetryAfter
}

// normalizeNumbers strips formatting characters and drops duplicates.
func normalizeNumbers(destinations []string) []string {
	seen := make(map[string]struct{}, len(destinations))
	out := make([]string, 0, len(destinations))
	for _, d := range destinations {
		number := strings.Map(func(r rune) rune {
			switch r {
			case ' ', '-', '(', ')', '.':
				return -1
			}
			return r
		}, d)
		if number == "" {
			continue
		}
		if _, dup := seen[number]; dup {
			continue
		}
		seen[number] = struct{}{}
		out = append(out, number)
	}
	return out
}
