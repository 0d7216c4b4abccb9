// Package push provides the mobile push channel notifier via an HTTP push
// gateway. Device tokens are registered with the gateway when a channel is
// set up and remembered in the association store.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/keystore"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
)

const (
	defaultProvider = "fcm"
	defaultTimeout  = 10 * time.Second

	// EventDataUserID is the DestroyChannel event field naming the token owner.
	EventDataUserID = "user_id"
)

// ErrDisabled is returned by Publish when the sender is disabled.
var ErrDisabled = errors.New("push sender disabled")

// Config holds push sender configuration.
type Config struct {
	Enabled  bool          `koanf:"enabled"`
	Provider string        `koanf:"provider"`
	URL      string        `koanf:"url"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
}

// Sender implements the push channel notifier.
type Sender struct {
	config       Config
	httpClient   *http.Client
	associations keystore.KeyStore
}

// NewSender creates a new push sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config, associations keystore.KeyStore) (*Sender, error) {
	if config.Enabled && config.URL == "" {
		return nil, errors.New("push sender: gateway url is required when enabled")
	}
	if associations == nil {
		return nil, errors.New("push sender: association store is required")
	}
	if config.Provider == "" {
		config.Provider = defaultProvider
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	config.URL = strings.TrimRight(config.URL, "/")

	return &Sender{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
		associations: associations,
	}, nil
}

// Init implements notifications.ChannelNotifier.
func (s *Sender) Init(context.Context) error {
	slog.Info("push sender configured",
		"enabled", s.config.Enabled,
		"provider", s.config.Provider,
		"gateway", maskURL(s.config.URL),
	)
	return nil
}

// Protocol returns the channel type.
func (s *Sender) Protocol() domain.ChannelType {
	return domain.ChannelTypePush
}

// Provider returns the provider name.
func (s *Sender) Provider() string {
	return s.config.Provider
}

type sendRequest struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title,omitempty"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

type sendResponse struct {
	Success       int      `json:"success"`
	Failure       int      `json:"failure"`
	InvalidTokens []string `json:"invalid_tokens,omitempty"`
}

type registrationRequest struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id,omitempty"`
	VehicleID string `json:"vehicle_id,omitempty"`
}

// Publish pushes n to every device token of the channel. Tokens the gateway
// reports as invalid lose their association.
func (s *Sender) Publish(ctx context.Context, n notifications.Notification) (*domain.ChannelResponse, error) {
	if !s.config.Enabled {
		return nil, notifications.NewNonRetryableError(ErrDisabled)
	}

	tokens := compact(n.Channel.Destinations)
	if len(tokens) == 0 {
		return notifications.NewResponse(n, s.config.Provider, domain.ResponseStatusMissingDestination, ""), nil
	}

	payload := sendRequest{
		Tokens: tokens,
		Title:  n.Subject,
		Body:   n.Body,
	}
	if n.Alert != nil {
		payload.Data = map[string]string{
			"alert_id":   n.Alert.ID,
			"vehicle_id": n.Alert.VehicleID,
			"event_type": n.Alert.EventType,
		}
	}

	var result sendResponse
	if err := s.post(ctx, "/send", payload, &result); err != nil {
		return nil, err
	}

	for _, token := range result.InvalidTokens {
		if err := s.associations.Delete(ctx, token); err != nil {
			ctxlog.FromContext(ctx).Warn("failed to drop invalid token association", "error", err)
		}
	}

	if result.Success == 0 && result.Failure > 0 {
		return nil, &PermanentError{Message: fmt.Sprintf("all %d tokens rejected", result.Failure)}
	}

	delivered := slices.DeleteFunc(slices.Clone(tokens), func(t string) bool {
		return slices.Contains(result.InvalidTokens, t)
	})
	resp := notifications.NewResponse(n, s.config.Provider, domain.ResponseStatusSuccess, strings.Join(delivered, ","))
	if result.Failure > 0 {
		resp.ErrorMessage = fmt.Sprintf("%d tokens rejected", result.Failure)
	}
	return resp, nil
}

// SetupChannel registers the channel's device tokens with the gateway and
// associates each token with the config owner.
func (s *Sender) SetupChannel(ctx context.Context, cfg domain.NotificationConfig, ch domain.Channel) (*domain.ChannelResponse, error) {
	tokens := compact(ch.Destinations)
	if !s.config.Enabled || len(tokens) == 0 {
		return nil, nil
	}

	for _, token := range tokens {
		req := registrationRequest{Token: token, UserID: cfg.UserID, VehicleID: cfg.VehicleID}
		if err := s.post(ctx, "/register", req, nil); err != nil {
			return nil, fmt.Errorf("register token: %w", err)
		}
		if err := s.associations.PutValue(ctx, token, cfg.UserID); err != nil {
			return nil, fmt.Errorf("associate token: %w", err)
		}
	}

	return &domain.ChannelResponse{
		Channel:     domain.ChannelTypePush,
		Provider:    s.config.Provider,
		Status:      domain.ResponseStatusSuccess,
		Destination: strings.Join(tokens, ","),
		Timestamp:   time.Now().UTC(),
	}, nil
}

// DestroyChannel deregisters the device token key and forgets its owner.
// eventData may carry EventDataUserID to guard against removing a token
// that was re-associated to another user.
func (s *Sender) DestroyChannel(ctx context.Context, key string, eventData map[string]any) (*domain.ChannelResponse, error) {
	if !s.config.Enabled || key == "" {
		return nil, nil
	}

	if userID, _ := eventData[EventDataUserID].(string); userID != "" {
		owner, found, err := s.associations.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("lookup token owner: %w", err)
		}
		if found && owner != userID {
			return nil, &PermanentError{Message: "token is associated with another user"}
		}
	}

	if err := s.post(ctx, "/deregister", registrationRequest{Token: key}, nil); err != nil {
		return nil, fmt.Errorf("deregister token: %w", err)
	}
	if err := s.associations.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("drop token association: %w", err)
	}

	return &domain.ChannelResponse{
		Channel:     domain.ChannelTypePush,
		Provider:    s.config.Provider,
		Status:      domain.ResponseStatusSuccess,
		Destination: key,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// TokenOwner returns the user a device token is registered to.
func (s *Sender) TokenOwner(ctx context.Context, token string) (string, bool, error) {
	return s.associations.Get(ctx, token)
}

func (s *Sender) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL+path, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "key="+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, out)
}

func (s *Sender) handleResponse(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return &PermanentError{Code: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
			}
		}
		return nil

	case http.StatusBadRequest:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("bad request: %s", string(body)),
		}

	case http.StatusUnauthorized, http.StatusForbidden:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid gateway credentials",
		}

	case http.StatusNotFound:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "unknown token",
		}

	case http.StatusTooManyRequests:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: "rate limited",
		}

	default:
		if resp.StatusCode >= 500 {
			return &RetryableError{
				Code:    resp.StatusCode,
				Message: fmt.Sprintf("server error: %s", string(body)),
			}
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

func compact(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// maskURL hides part of the URL for logging.
func maskURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}
