package inventory

import (
	"context"
	"fmt"

	berr "github.com/next-trace/scg-parking-bus/contract/errors"
	"github.com/next-trace/scg-parking-bus/parking"
)

// Counts is the number of spaces to provision per vehicle type.
type Counts map[parking.VehicleType]int

// Provision creates the configured spaces with contiguous ids from 1: GASOLINE first,
// then KW20, then KW50. Ids that already exist are left untouched, so running it again
// against the same store is a no-op.
func (s *Service) Provision(ctx context.Context, counts Counts) (int, error) {
	for t, n := range counts {
		if n < 0 || !t.Valid() {
			return 0, fmt.Errorf("provision %s=%d: %w", t, n, berr.ErrMalformedRequest)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		id      int64 = 1
		created int
	)

	for _, t := range parking.VehicleTypes {
		for range counts[t] {
			_, found, err := s.store.GetSpace(ctx, id)
			if err != nil {
				return created, fmt.Errorf("provision space %d: %w", id, err)
			}

			if !found {
				if err := s.store.SaveSpace(ctx, parking.NewSpace(id, t)); err != nil {
					return created, fmt.Errorf("provision space %d: %w", id, err)
				}

				created++
			}

			id++
		}
	}

	s.cache.reset()
	s.logger.InfoContext(ctx, "spaces provisioned", "created", created, "total", id-1)

	return created, nil
}
