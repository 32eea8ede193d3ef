// Package notify tells task owners that their prediction finished.
package notify

import (
	"context"
	"fmt"

	"github.com/nadmax/forecastd/internal/task"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

type Recipient struct {
	Name    string
	Address string
}

type Notifier interface {
	TaskFinished(ctx context.Context, to Recipient, t *task.Task) error
}

type Noop struct{}

func (Noop) TaskFinished(ctx context.Context, to Recipient, t *task.Task) error {
	return nil
}

type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type SendGrid struct {
	client mailClient
	from   *mail.Email
	logger *zap.Logger
}

func NewSendGrid(apiKey, fromName, fromAddress string, logger *zap.Logger) *SendGrid {
	return newSendGrid(sendgrid.NewSendClient(apiKey), fromName, fromAddress, logger)
}

func newSendGrid(client mailClient, fromName, fromAddress string, logger *zap.Logger) *SendGrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGrid{
		client: client,
		from:   mail.NewEmail(fromName, fromAddress),
		logger: logger,
	}
}

func (s *SendGrid) TaskFinished(ctx context.Context, to Recipient, t *task.Task) error {
	subject, body := render(t)
	email := mail.NewSingleEmail(s.from, subject, mail.NewEmail(to.Name, to.Address), body, body)

	response, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	s.logger.Debug("task notification sent",
		zap.Int64("task_id", t.ID),
		zap.Int("status", response.StatusCode),
	)
	return nil
}

func render(t *task.Task) (subject, body string) {
	switch t.Status {
	case task.CompletedStatus:
		subject = fmt.Sprintf("Prediction %q completed", t.Name)
		body = fmt.Sprintf("Task #%d finished in %.2fs.", t.ID, t.Duration.Float64)
		if t.Metrics != nil {
			body += fmt.Sprintf(" MSE %.4f, MAE %.4f, RMSE %.4f.", t.Metrics.MSE, t.Metrics.MAE, t.Metrics.RMSE)
		}
	default:
		subject = fmt.Sprintf("Prediction %q failed", t.Name)
		body = fmt.Sprintf("Task #%d failed: %s", t.ID, t.FailureReason.String)
	}
	return subject, body
}
