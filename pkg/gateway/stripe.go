package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig holds Stripe API credentials and client settings.
type StripeConfig struct {
	APIKey        string        `env:"STRIPE_API_KEY,required"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	Timeout       time.Duration `env:"STRIPE_TIMEOUT" envDefault:"5s"`
}

// StripeGateway implements PaymentGateway on the official Stripe SDK.
type StripeGateway struct {
	api    *client.API
	secret string
}

// NewStripeGateway creates a Stripe-backed gateway. The HTTP client carries a
// bounded timeout so webhook handlers never hang on a stuck remote call.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	api := &client.API{}
	api.Init(cfg.APIKey, stripe.NewBackends(&http.Client{Timeout: timeout}))

	return &StripeGateway{api: api, secret: cfg.WebhookSecret}, nil
}

func (g *StripeGateway) Subscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return normalizeSubscription(sub), nil
}

func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return normalizeSubscription(sub), nil
}

func (g *StripeGateway) Resume(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return normalizeSubscription(sub), nil
}

func (g *StripeGateway) SwapPrice(ctx context.Context, id, priceID string) (*Subscription, error) {
	// The price lives on the subscription's single item, so fetch the item ID
	// first. Stripe rejects updates that add a second item for the same plan.
	current, err := g.api.Subscriptions.Get(id, subParams(ctx))
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	if len(current.Items.Data) == 0 {
		return nil, errors.Join(ErrRemote, errors.New("remote subscription has no items"))
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return normalizeSubscription(sub), nil
}

func (g *StripeGateway) Cancel(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Cancel(id, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return normalizeSubscription(sub), nil
}

func (g *StripeGateway) Refund(ctx context.Context, paymentID string, amount int64) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentID),
	}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	params.Context = ctx

	refund, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}

	return &Refund{
		ID:       refund.ID,
		Amount:   refund.Amount,
		Currency: string(refund.Currency),
		Status:   string(refund.Status),
	}, nil
}

// VerifyWebhook validates the Stripe-Signature header over the raw body.
// The body must be the exact bytes Stripe sent; re-serialized JSON fails
// verification.
func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	evt, err := webhook.ConstructEvent(payload, signature, g.secret)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	return &Event{
		ID:   evt.ID,
		Type: string(evt.Type),
		Data: evt.Data.Raw,
	}, nil
}

func subParams(ctx context.Context) *stripe.SubscriptionParams {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return params
}

func normalizeSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	return out
}

// wrapStripeErr distinguishes "the remote object is gone" from every other
// gateway failure. Only the former is recoverable with a local fallback.
func wrapStripeErr(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound {
			return errors.Join(ErrResourceMissing, err)
		}
	}
	return errors.Join(ErrRemote, err)
}
