package payment

import (
	"context"
	"errors"
)

var ErrPersistFailed = errors.New("failed to persist payment record")

// Store persists payment and invoice mirrors. Upserts are keyed by remote ID
// so webhook redelivery overwrites rather than duplicates.
type Store interface {
	UpsertPayment(ctx context.Context, p Payment) error
	UpsertInvoice(ctx context.Context, inv Invoice) error
}
