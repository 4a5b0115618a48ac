// internal/notify/email.go

// Package notify delivers critical alert notifications to operators.
// The monitor calls it synchronously from the alert path, so senders
// keep their own timeouts short and never block on retries.
package notify

import (
	"context"
	"fmt"
	"time"

	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/models"
)

// EmailSender is the sending surface the notifier needs. Satisfied by
// aws.SESClient.
type EmailSender interface {
	SendPlainEmail(ctx context.Context, from string, to []string, subject, body string) error
}

type EmailNotifier struct {
	sender  EmailSender
	from    string
	to      []string
	timeout time.Duration
	logger  logger.Logger
}

func NewEmailNotifier(sender EmailSender, from string, to []string, log logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		sender:  sender,
		from:    from,
		to:      to,
		timeout: 10 * time.Second,
		logger:  log,
	}
}

// NotifyCritical emails the operator list about a critical alert.
func (n *EmailNotifier) NotifyCritical(ctx context.Context, alert *models.Alert) error {
	if len(n.to) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	subject := fmt.Sprintf("[%s] %s", alert.Severity, alert.Type)
	body := formatAlertBody(alert)

	if err := n.sender.SendPlainEmail(ctx, n.from, n.to, subject, body); err != nil {
		n.logger.Error("Critical alert email failed", map[string]interface{}{
			"alertId": alert.ID,
			"type":    string(alert.Type),
			"error":   err.Error(),
		})
		return err
	}

	n.logger.Info("Critical alert email sent", map[string]interface{}{
		"alertId":    alert.ID,
		"type":       string(alert.Type),
		"recipients": len(n.to),
	})
	return nil
}

func formatAlertBody(alert *models.Alert) string {
	body := fmt.Sprintf(
		"Alert: %s\nSeverity: %s\nMessage: %s\nRaised at: %s\n",
		alert.Type, alert.Severity, alert.Message,
		alert.CreatedAt.Format(time.RFC3339),
	)
	if alert.CampaignID != "" {
		body += fmt.Sprintf("Campaign: %s\n", alert.CampaignID)
	}
	if alert.Threshold != 0 {
		body += fmt.Sprintf("Observed: %.4f (threshold %.4f)\n", alert.Value, alert.Threshold)
	}
	return body
}
