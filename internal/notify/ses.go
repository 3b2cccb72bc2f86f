package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog/log"
)

// SESClient wraps AWS SESv2 sending.
type SESClient struct {
	client *sesv2.Client
	sender string
}

// NewSESClient initializes an SES client using static credentials and region.
func NewSESClient(accessKeyID, secretAccessKey, region, sender string) (*SESClient, error) {
	if accessKeyID == "" || secretAccessKey == "" || region == "" {
		return nil, fmt.Errorf("ses credentials and region are required")
	}
	if sender == "" {
		return nil, fmt.Errorf("ses sender is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SESClient{
		client: sesv2.NewFromConfig(awsCfg),
		sender: sender,
	}, nil
}

// Send delivers a simple email to a single recipient.
func (c *SESClient) Send(ctx context.Context, recipient, subject, body string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("ses client is not initialized")
	}
	if recipient == "" {
		return fmt.Errorf("recipient is required")
	}

	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
		FromEmailAddress: aws.String(c.sender),
	}

	if _, err := c.client.SendEmail(ctx, input); err != nil {
		log.Error().
			Err(err).
			Str("recipient", recipient).
			Str("subject", subject).
			Time("timestamp", time.Now().UTC()).
			Msg("Failed to send SES email")
		return fmt.Errorf("send ses email: %w", err)
	}

	return nil
}

// EmailSender provides a testable abstraction over SES delivery.
type EmailSender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Directory resolves a user id to a deliverable email address. The identity
// provider owns user records, so this is the only surface the notifier needs.
type Directory interface {
	EmailFor(ctx context.Context, userID string) (string, error)
}

// DirectoryFunc adapts a function to the Directory interface.
type DirectoryFunc func(ctx context.Context, userID string) (string, error)

func (f DirectoryFunc) EmailFor(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// EmailNotifier delivers notifications by email. Delivery failures are
// logged and swallowed; the engine never rolls back state because a
// notification could not be sent.
type EmailNotifier struct {
	sender    EmailSender
	directory Directory
}

func NewEmailNotifier(sender EmailSender, directory Directory) *EmailNotifier {
	return &EmailNotifier{sender: sender, directory: directory}
}

func (n *EmailNotifier) Notify(ctx context.Context, notification Notification) {
	logger := log.Ctx(ctx).With().
		Str("component", "notifier").
		Str("user_id", notification.UserID).
		Str("category", notification.Category).
		Logger()

	recipient, err := n.directory.EmailFor(ctx, notification.UserID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve notification recipient")
		return
	}

	body := notification.Body
	if notification.DeepLink != "" {
		body = body + "\n\n" + notification.DeepLink
	}
	if err := n.sender.Send(ctx, recipient, notification.Title, body); err != nil {
		logger.Error().Err(err).Msg("Failed to deliver notification email")
		return
	}
	logger.Debug().Msg("Notification delivered")
}
