package worker

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursedeck/backend/pkg/queue"
)

// Mailer delivers a single email.
type Mailer interface {
	Send(ctx context.Context, to, subject, bodyHTML string) error
}

// SMTPMailer sends mail via plain SMTP auth through a standard relay.
type SMTPMailer struct {
	Host        string
	Port        int
	User        string
	Pass        string
	FromAddress string
	FromName    string
}

// Send implements Mailer.
func (m *SMTPMailer) Send(_ context.Context, to, subject, bodyHTML string) error {
	if m.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	var auth smtp.Auth
	if m.User != "" {
		auth = smtp.PlainAuth("", m.User, m.Pass, m.Host)
	}
	from := m.FromAddress
	headers := []string{
		fmt.Sprintf("From: %s <%s>", m.FromName, from),
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
	}
	msg := strings.Join(headers, "\r\n") + "\r\n\r\n" + bodyHTML + "\r\n"
	return smtp.SendMail(addr, auth, from, []string{to}, []byte(msg))
}

// EmailLogMarker flips email log rows after a delivery attempt.
type EmailLogMarker interface {
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

// EmailProcessor handles email jobs: deliver via the mailer and record the
// outcome on the email log row.
type EmailProcessor struct {
	mailer Mailer
	logs   EmailLogMarker
	logger *zap.Logger
}

// NewEmailProcessor creates an email delivery processor. logs may be nil.
func NewEmailProcessor(mailer Mailer, logs EmailLogMarker, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{mailer: mailer, logs: logs, logger: logger}
}

// Process implements Processor.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.EmailPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}

	if err := p.mailer.Send(ctx, payload.RecipientEmail, payload.Subject, payload.BodyHTML); err != nil {
		if p.logs != nil && payload.EmailLogID != uuid.Nil {
			if mErr := p.logs.MarkFailed(ctx, payload.EmailLogID, err.Error()); mErr != nil {
				p.logger.Warn("mark email failed errored", zap.Error(mErr))
			}
		}
		return fmt.Errorf("send %s to %s: %w", payload.Kind, payload.RecipientEmail, err)
	}

	if p.logs != nil && payload.EmailLogID != uuid.Nil {
		if err := p.logs.MarkSent(ctx, payload.EmailLogID, time.Now()); err != nil {
			p.logger.Warn("mark email sent errored", zap.Error(err))
		}
	}
	p.logger.Info("email delivered", zap.String("kind", payload.Kind), zap.String("to", payload.RecipientEmail))
	return nil
}
