// Package email provides the email channel notifier via SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/keystore"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
)

// ProviderName identifies the SMTP provider.
const ProviderName = "smtp"

// ErrDisabled is returned by Publish when the sender is disabled.
var ErrDisabled = errors.New("email sender disabled")

// Config holds email sender configuration.
type Config struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
	BatchSize    int    `koanf:"batch_size"`
}

// Sender implements the email channel notifier. Addresses recorded in the
// bounce store are never mailed.
type Sender struct {
	config  Config
	auth    smtp.Auth
	bounces keystore.KeyStore
	send    func(ctx context.Context, subject, body string, recipients []string) error
}

// NewSender creates a new email sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config, bounces keystore.KeyStore) (*Sender, error) {
	if config.Enabled {
		if config.SMTPHost == "" {
			return nil, errors.New("email sender: SMTP host is required when enabled")
		}
		if config.FromAddress == "" {
			return nil, errors.New("email sender: from address is required when enabled")
		}
	}
	if bounces == nil {
		return nil, errors.New("email sender: bounce store is required")
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	if config.BatchSize == 0 {
		config.BatchSize = 50
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	s := &Sender{
		config:  config,
		auth:    auth,
		bounces: bounces,
	}
	s.send = s.sendEmail
	return s, nil
}

// Init implements notifications.ChannelNotifier.
func (s *Sender) Init(context.Context) error {
	slog.Info("email sender configured",
		"enabled", s.config.Enabled,
		"smtp_host", s.config.SMTPHost,
		"smtp_port", s.config.SMTPPort,
		"from_address", s.config.FromAddress,
		"batch_size", s.config.BatchSize,
	)
	return nil
}

// Protocol returns the channel type.
func (s *Sender) Protocol() domain.ChannelType {
	return domain.ChannelTypeEmail
}

// Provider returns the provider name.
func (s *Sender) Provider() string {
	return ProviderName
}

// Publish mails n to every non-bounced destination of its channel.
func (s *Sender) Publish(ctx context.Context, n notifications.Notification) (*domain.ChannelResponse, error) {
	if !s.config.Enabled {
		return nil, notifications.NewNonRetryableError(ErrDisabled)
	}

	recipients := s.deliverable(ctx, n.Channel.Destinations)
	if len(recipients) == 0 {
		return notifications.NewResponse(n, ProviderName, domain.ResponseStatusMissingDestination, ""), nil
	}

	if err := s.sendBatch(ctx, n.Subject, n.Body, recipients); err != nil {
		if IsRetryable(err) {
			return nil, notifications.NewRetryableError(err)
		}
		return nil, notifications.NewNonRetryableError(err)
	}

	return notifications.NewResponse(n, ProviderName, domain.ResponseStatusSuccess, strings.Join(recipients, ",")), nil
}

// SetupChannel implements notifications.ChannelNotifier. Email needs no
// provisioning.
func (s *Sender) SetupChannel(context.Context, domain.NotificationConfig, domain.Channel) (*domain.ChannelResponse, error) {
	return nil, nil
}

// DestroyChannel implements notifications.ChannelNotifier.
func (s *Sender) DestroyChannel(context.Context, string, map[string]any) (*domain.ChannelResponse, error) {
	return nil, nil
}

// RecordBounce marks address as undeliverable.
func (s *Sender) RecordBounce(ctx context.Context, address string) error {
	addr := normalizeAddress(address)
	if addr == "" {
		return keystore.ErrEmptyKey
	}
	if err := s.bounces.Put(ctx, addr); err != nil {
		return fmt.Errorf("record bounce: %w", err)
	}
	return nil
}

// deliverable drops bounced and duplicate addresses. A bounce lookup failure
// keeps the address.
func (s *Sender) deliverable(ctx context.Context, destinations []string) []string {
	log := ctxlog.FromContext(ctx)
	seen := make(map[string]struct{}, len(destinations))
	out := make([]string, 0, len(destinations))

	for _, d := range destinations {
		addr := normalizeAddress(d)
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		bounced, err := s.bounces.KeyExists(ctx, addr)
		if err != nil {
			log.Warn("bounce lookup failed, keeping address", "error", err)
		} else if bounced {
			log.Debug("skipping bounced address")
			continue
		}
		out = append(out, addr)
	}
	return out
}

// sendBatch sends one message to all recipients using BCC.
// Recipients are split into batches to respect SMTP server limits.
func (s *Sender) sendBatch(ctx context.Context, subject, body string, recipients []string) error {
	var lastErr error
	for i := 0; i < len(recipients); i += s.config.BatchSize {
		end := min(i+s.config.BatchSize, len(recipients))
		batch := recipients[i:end]

		if err := s.send(ctx, subject, body, batch); err != nil {
			slog.Error("failed to send email batch",
				"batch_start", i,
				"batch_size", len(batch),
				"error", err,
			)
			lastErr = err
			continue
		}

		slog.Debug("email batch sent",
			"batch_start", i,
			"batch_size", len(batch),
		)
	}

	return lastErr
}

// sendEmail sends an email to the specified recipients.
func (s *Sender) sendEmail(ctx context.Context, subject, body string, recipients []string) error {
	msg := s.buildMessage(subject, body)
	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)

	tlsConfig := &tls.Config{
		ServerName: s.config.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	return s.sendWithSTARTTLS(ctx, addr, tlsConfig, recipients, msg)
}

// buildMessage constructs the email message with headers.
func (s *Sender) buildMessage(subject, body string) []byte {
	var msg strings.Builder

	// Headers in deterministic order
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.FromAddress))
	msg.WriteString("To: undisclosed-recipients:;\r\n")
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	return []byte(msg.String())
}

// sendWithSTARTTLS sends an email using STARTTLS (port 587).
func (s *Sender) sendWithSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config, recipients []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	from := extractEmail(s.config.FromAddress)
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}

	// Recipients go in the envelope only.
	var addedRecipients int
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			slog.Warn("failed to add recipient",
				"error", err,
			)
			continue
		}
		addedRecipients++
	}

	if addedRecipients == 0 {
		return errors.New("no valid recipients")
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}

	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the email address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(extractEmail(address)))
}

// IsRetryable determines if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection refused
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errStr := err.Error()

	// SMTP 4xx codes are temporary failures
	if strings.Contains(errStr, "421") || // Service not available
		strings.Contains(errStr, "450") || // Mailbox unavailable
		strings.Contains(errStr, "451") || // Local error
		strings.Contains(errStr, "452") { // Insufficient storage
		return true
	}

	// 552 - Mailbox full is sometimes retryable
	if strings.Contains(errStr, "552") {
		return true
	}

	return false
}
