// Package notify tells operators about failed sync runs.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"sipp-sync/internal/model"
)

// Notifier is told about every run that ended with an error.
type Notifier interface {
	NotifyRunFailed(ctx context.Context, log model.SyncLog) error
}

// LogNotifier only writes the failure to the log. It is used when
// SIPP_SYNC_NOTIFICATIONS_ENABLED is false.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) NotifyRunFailed(ctx context.Context, log model.SyncLog) error {
	msg := ""
	if log.ErrorMessage != nil {
		msg = *log.ErrorMessage
	}
	n.Logger.WarnContext(ctx, "SIPP sync run failed", "entity", log.EntityType, "run_id", log.RunID, "error", msg)
	return nil
}

// SMTPSettings configures EmailNotifier.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailNotifier mails a plain-text failure report to a fixed list of recipients.
type EmailNotifier struct {
	smtp       SMTPSettings
	recipients []string
	timeout    time.Duration
}

func NewEmailNotifier(settings SMTPSettings, recipients []string) *EmailNotifier {
	return &EmailNotifier{
		smtp:       settings,
		recipients: recipients,
		timeout:    30 * time.Second,
	}
}

func (n *EmailNotifier) NotifyRunFailed(ctx context.Context, log model.SyncLog) error {
	if len(n.recipients) == 0 {
		return nil
	}
	msg := buildMessage(n.smtp.From, n.recipients, log)
	return n.send(ctx, msg)
}

func buildMessage(from string, to []string, log model.SyncLog) string {
	errMsg := "unknown error"
	if log.ErrorMessage != nil {
		errMsg = *log.ErrorMessage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: [SIPP sync] %s %s sync failed\r\n", log.EntityType, log.SyncType)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Entity:   %s\r\n", log.EntityType)
	fmt.Fprintf(&b, "Type:     %s\r\n", log.SyncType)
	fmt.Fprintf(&b, "Run:      %s\r\n", log.RunID)
	fmt.Fprintf(&b, "Started:  %s\r\n", log.StartTime.Format(time.RFC3339))
	if log.EndTime != nil {
		fmt.Fprintf(&b, "Finished: %s\r\n", log.EndTime.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Fetched:  %d (created %d, updated %d)\r\n", log.RecordsFetched, log.RecordsCreated, log.RecordsUpdated)
	fmt.Fprintf(&b, "\r\nError: %s\r\n", errMsg)
	return b.String()
}

func (n *EmailNotifier) send(ctx context.Context, msg string) error {
	addr := net.JoinHostPort(n.smtp.Host, fmt.Sprint(n.smtp.Port))

	dialer := &net.Dialer{Timeout: n.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, n.smtp.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.smtp.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if n.smtp.Username != "" && n.smtp.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", n.smtp.Username, n.smtp.Password, n.smtp.Host)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(n.smtp.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range n.recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open message body: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return client.Quit()
}
