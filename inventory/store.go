package inventory

import (
	"context"

	"github.com/next-trace/scg-parking-bus/parking"
)

// SpaceStore persists spaces. ListSpaces returns matches ordered by id ascending.
type SpaceStore interface {
	GetSpace(ctx context.Context, id int64) (parking.Space, bool, error)
	SaveSpace(ctx context.Context, s parking.Space) error
	ListSpaces(ctx context.Context, t parking.VehicleType, st parking.Status) ([]parking.Space, error)
}

// SessionStore persists sessions and hands out their ids.
type SessionStore interface {
	NextSessionID(ctx context.Context) (int64, error)
	GetSession(ctx context.Context, id int64) (parking.Session, bool, error)
	SaveSession(ctx context.Context, s parking.Session) error
}

// Store is the key-value repository the inventory runs on.
type Store interface {
	SpaceStore
	SessionStore
}

// Biller prices a session whose end time and duration are set.
type Biller interface {
	Compute(ctx context.Context, s parking.Session) (parking.Billing, error)
}

// BillerFunc adapts a function to Biller.
type BillerFunc func(ctx context.Context, s parking.Session) (parking.Billing, error)

func (f BillerFunc) Compute(ctx context.Context, s parking.Session) (parking.Billing, error) {
	return f(ctx, s)
}
