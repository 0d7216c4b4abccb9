package email

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/keystore"
	"github.com/bissquit/alert-relay/internal/notifications"
)

func newBounceStore(t *testing.T) keystore.KeyStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return keystore.NewRedisStore(client, keystore.StoreUserBounce, 0)
}

func validConfig() Config {
	return Config{
		Enabled:     true,
		SMTPHost:    "smtp.example.com",
		FromAddress: "Alerts <alerts@example.com>",
	}
}

// recordingSend replaces the SMTP transport.
type recordingSend struct {
	mu      sync.Mutex
	batches [][]string
	subject string
	err     error
}

func (r *recordingSend) send(_ context.Context, subject, _ string, recipients []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subject = subject
	r.batches = append(r.batches, recipients)
	return r.err
}

func newTestSender(t *testing.T, config Config) (*Sender, *recordingSend) {
	t.Helper()
	sender, err := NewSender(config, newBounceStore(t))
	require.NoError(t, err)
	rec := &recordingSend{}
	sender.send = rec.send
	return sender, rec
}

func emailNotification(destinations ...string) notifications.Notification {
	return notifications.Notification{
		Alert:    &domain.Alert{ID: "a1", VehicleID: "vin-1"},
		Channel:  domain.Channel{Type: domain.ChannelTypeEmail, Enabled: true, Destinations: destinations},
		Template: "email_alert",
		Subject:  "[Alert] Theft Alarm",
		Body:     "Alarm triggered",
	}
}

func TestNewSender_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "enabled without smtp host",
			config: Config{
				Enabled:     true,
				FromAddress: "test@example.com",
			},
			wantErr: "SMTP host is required",
		},
		{
			name: "enabled without from address",
			config: Config{
				Enabled:  true,
				SMTPHost: "smtp.example.com",
			},
			wantErr: "from address is required",
		},
		{
			name: "disabled - no validation",
			config: Config{
				Enabled: false,
			},
			wantErr: "",
		},
		{
			name: "valid config",
			config: Config{
				Enabled:     true,
				SMTPHost:    "smtp.example.com",
				FromAddress: "test@example.com",
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewSender(tt.config, newBounceStore(t))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, sender)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, sender)
			}
		})
	}
}

func TestNewSender_Defaults(t *testing.T) {
	config := Config{
		Enabled:     true,
		SMTPHost:    "smtp.example.com",
		FromAddress: "test@example.com",
	}

	sender, err := NewSender(config, newBounceStore(t))
	require.NoError(t, err)

	// Check defaults applied
	assert.Equal(t, 587, sender.config.SMTPPort)
	assert.Equal(t, 50, sender.config.BatchSize)
}

func TestNewSender_AuthSetup(t *testing.T) {
	t.Run("with credentials", func(t *testing.T) {
		config := Config{
			Enabled:      true,
			SMTPHost:     "smtp.example.com",
			FromAddress:  "test@example.com",
			SMTPUser:     "user",
			SMTPPassword: "pass",
		}

		sender, err := NewSender(config, newBounceStore(t))
		require.NoError(t, err)
		assert.NotNil(t, sender.auth)
	})

	t.Run("without credentials", func(t *testing.T) {
		config := Config{
			Enabled:     true,
			SMTPHost:    "smtp.example.com",
			FromAddress: "test@example.com",
		}

		sender, err := NewSender(config, newBounceStore(t))
		require.NoError(t, err)
		assert.Nil(t, sender.auth)
	})
}

func TestNewSender_RequiresBounceStore(t *testing.T) {
	sender, err := NewSender(validConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bounce store is required")
	assert.Nil(t, sender)
}

func TestSender_Protocol(t *testing.T) {
	sender, _ := newTestSender(t, validConfig())

	assert.Equal(t, domain.ChannelTypeEmail, sender.Protocol())
	assert.Equal(t, "smtp", sender.Provider())
	assert.NoError(t, sender.Init(context.Background()))
}

func TestSender_Publish(t *testing.T) {
	sender, rec := newTestSender(t, validConfig())

	resp, err := sender.Publish(context.Background(), emailNotification("Owner <Owner@Example.com>", "owner@example.com", "second@example.com"))

	require.NoError(t, err)
	assert.Equal(t, domain.ResponseStatusSuccess, resp.Status)
	assert.Equal(t, "owner@example.com,second@example.com", resp.Destination)
	assert.Equal(t, "email_alert", resp.Template)
	assert.Equal(t, "[Alert] Theft Alarm", rec.subject)
	assert.Equal(t, [][]string{{"owner@example.com", "second@example.com"}}, rec.batches)
}

func TestSender_Publish_SkipsBouncedAddresses(t *testing.T) {
	sender, rec := newTestSender(t, validConfig())
	ctx := context.Background()

	require.NoError(t, sender.RecordBounce(ctx, " Bounced@Example.com "))

	resp, err := sender.Publish(ctx, emailNotification("bounced@example.com", "ok@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "ok@example.com", resp.Destination)
	assert.Equal(t, [][]string{{"ok@example.com"}}, rec.batches)
}

func TestSender_Publish_MissingDestination(t *testing.T) {
	sender, rec := newTestSender(t, validConfig())
	ctx := context.Background()
	require.NoError(t, sender.RecordBounce(ctx, "bounced@example.com"))

	for _, n := range []notifications.Notification{
		emailNotification(),
		emailNotification("bounced@example.com", "  "),
	} {
		resp, err := sender.Publish(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, domain.ResponseStatusMissingDestination, resp.Status)
	}
	assert.Empty(t, rec.batches)
}

func TestSender_Publish_Batches(t *testing.T) {
	config := validConfig()
	config.BatchSize = 2
	sender, rec := newTestSender(t, config)

	_, err := sender.Publish(context.Background(), emailNotification("a@x.io", "b@x.io", "c@x.io"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a@x.io", "b@x.io"}, {"c@x.io"}}, rec.batches)
}

func TestSender_Publish_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "temporary smtp failure", err: errors.New("421 Service not available"), retryable: true},
		{name: "permanent smtp failure", err: errors.New("550 Mailbox not found"), retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, rec := newTestSender(t, validConfig())
			rec.err = tt.err

			resp, err := sender.Publish(context.Background(), emailNotification("a@x.io"))
			assert.Nil(t, resp)

			var re *notifications.RetryableError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.retryable, re.IsRetryable())
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestSender_Publish_Disabled(t *testing.T) {
	sender, rec := newTestSender(t, Config{})

	_, err := sender.Publish(context.Background(), emailNotification("a@x.io"))
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Empty(t, rec.batches)
}

func TestSender_RecordBounce_Empty(t *testing.T) {
	sender, _ := newTestSender(t, validConfig())

	err := sender.RecordBounce(context.Background(), "   ")
	assert.ErrorIs(t, err, keystore.ErrEmptyKey)
}

func TestSender_SetupAndDestroyAreNoops(t *testing.T) {
	sender, _ := newTestSender(t, validConfig())
	ctx := context.Background()

	resp, err := sender.SetupChannel(ctx, domain.NotificationConfig{}, domain.Channel{Type: domain.ChannelTypeEmail})
	assert.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = sender.DestroyChannel(ctx, "key", nil)
	assert.NoError(t, err)
	assert.Nil(t, resp)
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{
			input:    "user@example.com",
			expected: "user@example.com",
		},
		{
			input:    "Test User <user@example.com>",
			expected: "user@example.com",
		},
		{
			input:    "<user@example.com>",
			expected: "user@example.com",
		},
		{
			input:    "Fleet Alerts <noreply@alerts.example.com>",
			expected: "noreply@alerts.example.com",
		},
		{
			input:    "invalid<",
			expected: "invalid<",
		},
		{
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := extractEmail(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSender_BuildMessage(t *testing.T) {
	sender := &Sender{
		config: Config{
			FromAddress: "Alerts <noreply@example.com>",
		},
	}

	msg := sender.buildMessage("Test Subject", "Test body content")
	msgStr := string(msg)

	// Check required headers
	assert.Contains(t, msgStr, "From: Alerts <noreply@example.com>\r\n")
	assert.Contains(t, msgStr, "To: undisclosed-recipients:;\r\n")
	assert.Contains(t, msgStr, "Subject: Test Subject\r\n")
	assert.Contains(t, msgStr, "MIME-Version: 1.0\r\n")
	assert.Contains(t, msgStr, "Content-Type: text/plain; charset=\"utf-8\"\r\n")
	assert.Contains(t, msgStr, "\r\n\r\n") // Header-body separator
	assert.Contains(t, msgStr, "Test body content")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "nil error",
			err:       nil,
			retryable: false,
		},
		{
			name:      "421 service unavailable",
			err:       errors.New("421 Service not available"),
			retryable: true,
		},
		{
			name:      "450 mailbox unavailable",
			err:       errors.New("450 Mailbox unavailable"),
			retryable: true,
		},
		{
			name:      "451 local error",
			err:       errors.New("451 Local error in processing"),
			retryable: true,
		},
		{
			name:      "452 insufficient storage",
			err:       errors.New("452 Insufficient storage"),
			retryable: true,
		},
		{
			name:      "552 mailbox full",
			err:       errors.New("552 Mailbox full"),
			retryable: true,
		},
		{
			name:      "550 mailbox not found",
			err:       errors.New("550 Mailbox not found"),
			retryable: false,
		},
		{
			name:      "535 auth failed",
			err:       errors.New("535 Authentication failed"),
			retryable: false,
		},
		{
			name:      "generic error",
			err:       errors.New("some random error"),
			retryable: false,
		},
		{
			name:      "timeout error",
			err:       &timeoutError{},
			retryable: true,
		},
		{
			name:      "network operation error",
			err:       &net.OpError{Op: "dial", Err: errors.New("connection refused")},
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryable(tt.err)
			assert.Equal(t, tt.retryable, result)
		})
	}
}

// timeoutError implements net.Error for testing
type timeoutError struct{}

func (e *timeoutError) Error() string { return "timeout" }
func (e *timeoutError) Timeout() bool { return true }
func (e *timeoutError) Temporary() bool { return true }

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "User@Example.COM", expected: "user@example.com"},
		{input: "  Owner <Owner@Example.com> ", expected: "owner@example.com"},
		{input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeAddress(tt.input))
		})
	}
}
