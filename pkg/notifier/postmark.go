package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

var ErrInvalidConfig = errors.New("invalid notifier config")

// PostmarkConfig holds credentials and sender identity for email delivery.
type PostmarkConfig struct {
	ServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail  string `env:"NOTIFIER_SENDER_EMAIL"`
}

// PostmarkNotifier sends billing notifications as transactional emails.
type PostmarkNotifier struct {
	client *postmark.Client
	sender string
}

func NewPostmarkNotifier(cfg PostmarkConfig) (*PostmarkNotifier, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: ServerToken is required", ErrInvalidConfig)
	}
	if cfg.AccountToken == "" {
		return nil, fmt.Errorf("%w: AccountToken is required", ErrInvalidConfig)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: SenderEmail is required", ErrInvalidConfig)
	}

	return &PostmarkNotifier{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		sender: cfg.SenderEmail,
	}, nil
}

func (n *PostmarkNotifier) Notify(ctx context.Context, event EventType, email string, payload map[string]any) error {
	if email == "" {
		// Nothing to deliver to; callers treat notifications as best effort.
		return nil
	}

	subject, body := render(event, payload)

	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:     n.sender,
		To:       email,
		Subject:  subject,
		TextBody: body,
		Tag:      string(event),
	})
	if err != nil {
		return fmt.Errorf("failed to send %s notification: %w", event, err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error %d sending %s notification: %s", resp.ErrorCode, event, resp.Message)
	}
	return nil
}

func render(event EventType, payload map[string]any) (subject, body string) {
	switch event {
	case EventSubscriptionCanceled:
		subject = "Your subscription has been canceled"
		body = fmt.Sprintf("Your subscription is canceled and remains active until %v.", payload["end_date"])
	case EventSubscriptionReactivated:
		subject = "Your subscription is active again"
		body = "Your scheduled cancellation was reverted; billing continues as before."
	case EventPlanChanged:
		subject = "Your plan has changed"
		body = fmt.Sprintf("Your plan changed from %v to %v.", payload["old_plan"], payload["new_plan"])
	case EventPaymentFailed:
		subject = "Payment failed"
		body = fmt.Sprintf("Your latest payment failed: %v. Please update your payment method.", payload["reason"])
	case EventRefundProcessed:
		subject = "Refund processed"
		body = fmt.Sprintf("Your refund of %v has been processed.", payload["amount"])
	default:
		subject = "Subscription update"
		body = "Your subscription was updated."
	}
	return subject, body
}
