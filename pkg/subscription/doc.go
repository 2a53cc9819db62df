// Package subscription implements the subscription reconciliation engine:
// the single owner of all lifecycle state transitions for user subscriptions.
//
// Two sources of truth exist for a subscription - the local store and the
// payment gateway - and they drift under eventual consistency, partial
// failures, and out-of-order webhook delivery. The engine funnels every write
// through Update, which sanitizes end dates, enforces the expiry invariant,
// and keeps the derived user role in sync, so both user actions and webhook
// events converge on the same record regardless of arrival order.
package subscription
