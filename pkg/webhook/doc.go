// Package webhook receives and routes signed Stripe webhook events.
//
// Signature verification runs over the raw, unparsed request body, so the
// dispatcher must be mounted on a route with no body-touching middleware.
// Verified events route by type to idempotent handlers backed by the
// subscription engine; unknown types and handler failures both acknowledge
// with success so Stripe never ends up in an infinite redelivery loop over
// application-level errors.
package webhook
