package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Sender delivers a single message
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTPSender delivers mail through an SMTP relay. In development this is
// MailHog, which speaks plain SMTP without authentication.
type SMTPSender struct {
	config config.MailConfig
	logger *logrus.Entry
	auth   smtp.Auth
	now    func() time.Time
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	s := &SMTPSender{
		config: cfg,
		logger: utils.Component("smtp_sender"),
		now:    time.Now,
	}
	if cfg.Username != "" && cfg.Password != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s
}

// Send sends msg and returns an EXTERNAL_ERROR when the relay refuses it.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	start := time.Now()

	if err := ValidateMessage(msg); err != nil {
		return err
	}

	payload := s.buildMessage(msg)

	var err error
	if s.config.UseTLS {
		err = s.sendTLS(ctx, msg.To, payload)
	} else {
		err = s.sendPlain(ctx, msg.To, payload)
	}

	fields := logrus.Fields{
		"message_id":  msg.ID,
		"kind":        msg.Kind,
		"recipients":  len(msg.To),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("Email delivery failed")
		return utils.NewAppError(utils.ErrCodeExternal, "Failed to send email", err.Error())
	}

	s.logger.WithFields(fields).Debug("Email sent")
	return nil
}

func (s *SMTPSender) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.config.Timeout}
	if s.config.UseTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: s.config.Host},
		}
		return tlsDialer.DialContext(ctx, "tcp", s.config.Address())
	}
	return dialer.DialContext(ctx, "tcp", s.config.Address())
}

// sendTLS sends over an implicit TLS connection (SMTPS)
func (s *SMTPSender) sendTLS(ctx context.Context, to []string, message string) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect with TLS: %w", err)
	}
	return s.deliver(conn, to, message, false)
}

// sendPlain sends over a plain connection, upgrading with STARTTLS when
// configured and offered by the server.
func (s *SMTPSender) sendPlain(ctx context.Context, to []string, message string) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return s.deliver(conn, to, message, s.config.UseStartTLS)
}

func (s *SMTPSender) deliver(conn net.Conn, to []string, message string, startTLS bool) error {
	if s.config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.config.Timeout))
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if startTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
				return fmt.Errorf("starttls failed: %w", err)
			}
		}
	}

	if s.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(s.auth); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
		}
	}

	if err := client.Mail(s.config.FromEmail); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := writer.Write([]byte(message)); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}

	return client.Quit()
}

// buildMessage renders headers and body
func (s *SMTPSender) buildMessage(msg *Message) string {
	var b strings.Builder

	if s.config.FromName != "" {
		b.WriteString(fmt.Sprintf("From: %s <%s>\r\n", s.config.FromName, s.config.FromEmail))
	} else {
		b.WriteString(fmt.Sprintf("From: %s\r\n", s.config.FromEmail))
	}
	b.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", s.now().Format(time.RFC1123Z)))
	if msg.ID != "" {
		b.WriteString(fmt.Sprintf("Message-ID: %s\r\n", msg.ID))
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")

	// Normalise line endings for the wire
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	return b.String()
}

// ValidateMessage checks recipients and subject
func ValidateMessage(msg *Message) error {
	if msg == nil || len(msg.To) == 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Email recipients are required")
	}
	if msg.Subject == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Email subject is required")
	}
	for _, email := range msg.To {
		if !IsValidEmail(email) {
			return utils.NewAppError(utils.ErrCodeValidation, "Invalid email address", email)
		}
	}
	return nil
}

// IsValidEmail performs basic address validation
func IsValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}

	local, domain := parts[0], parts[1]
	if len(local) == 0 || len(domain) == 0 {
		return false
	}
	if len(local) > 64 || len(domain) > 253 {
		return false
	}
	return !strings.ContainsAny(email, " \r\n")
}
