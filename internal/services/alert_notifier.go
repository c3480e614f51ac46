package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/jcalloway/bastion/internal/models"
)

// AlertNotifier delivers suspicious activity alerts to an operator channel
type AlertNotifier interface {
	Notify(ctx context.Context, alert *models.SuspiciousActivityAlert) error
}

// SESAlertNotifier emails alerts to the security operations address via AWS SES
type SESAlertNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	toAddress   string
	logger      *slog.Logger
}

// NewSESAlertNotifier creates a new SES-backed notifier
func NewSESAlertNotifier(region, fromAddress, toAddress string, logger *slog.Logger) (*SESAlertNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESAlertNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		toAddress:   toAddress,
		logger:      logger,
	}, nil
}

// Notify sends one alert email
func (n *SESAlertNotifier) Notify(ctx context.Context, alert *models.SuspiciousActivityAlert) error {
	accountID := "unknown"
	if alert.AccountID != nil {
		accountID = alert.AccountID.String()
	}

	subject := fmt.Sprintf("[%s] Suspicious activity alert %s", strings.ToUpper(alert.Severity), alert.ID)

	textBody := fmt.Sprintf(`A suspicious activity alert was raised.

Alert ID:     %s
Severity:     %s
Risk score:   %d
Risk factors: %s
Account:      %s
Event:        %s
Raised at:    %s

Review the alert in the audit console and update its status when triaged.
`,
		alert.ID,
		alert.Severity,
		alert.RiskScore,
		strings.Join(alert.RiskFactors, ", "),
		accountID,
		alert.EventID,
		alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
	)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{n.toAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	n.logger.Info("alert notification sent",
		slog.String("alert_id", alert.ID.String()),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// NoopAlertNotifier discards notifications. Used when alert email is disabled;
// alerts remain queryable through the audit API either way.
type NoopAlertNotifier struct{}

func (NoopAlertNotifier) Notify(ctx context.Context, alert *models.SuspiciousActivityAlert) error {
	return nil
}
