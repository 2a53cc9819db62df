package roles

import (
	"context"

	"github.com/google/uuid"
)

// Role is the authorization role derived from a user's subscription state.
type Role string

const (
	RoleUser    Role = "user"
	RolePremium Role = "premium"
)

// Store persists the derived role projection. The subscription engine is the
// only writer; everything else treats roles as read-only.
type Store interface {
	SetRole(ctx context.Context, userID uuid.UUID, role Role) error
}
