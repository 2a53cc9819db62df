package gateway

import "errors"

var (
	ErrMissingAPIKey        = errors.New("stripe API key is required")
	ErrMissingWebhookSecret = errors.New("stripe webhook secret is required")

	// ErrResourceMissing means the remote object no longer exists. Callers
	// may recover with a local fallback; every other gateway error is fatal
	// to the operation that triggered the call.
	ErrResourceMissing = errors.New("remote resource missing")

	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrRemote           = errors.New("payment gateway request failed")
)
