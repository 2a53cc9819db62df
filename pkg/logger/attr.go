package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// EventType records the webhook event type under the key "event_type".
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// SubscriptionID records the remote subscription identifier.
func SubscriptionID(id string) slog.Attr {
	return slog.String("subscription_id", id)
}

// CustomerID records the remote customer identifier.
func CustomerID(id string) slog.Attr {
	return slog.String("customer_id", id)
}

// Plan records the billing plan name under the key "plan".
func Plan(plan any) slog.Attr {
	if plan == nil {
		return slog.Attr{}
	}
	return slog.Any("plan", plan)
}
