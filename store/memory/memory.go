// Package memory is a map-backed inventory store for tests, examples and single-process runs.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/next-trace/scg-parking-bus/inventory"
	"github.com/next-trace/scg-parking-bus/parking"
)

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	spaces   map[int64]parking.Space
	sessions map[int64]parking.Session
	lastID   int64
}

var _ inventory.Store = (*Store)(nil)

// Option configures a Store instance.
type Option func(*Store)

// WithFirstSessionID makes the first allocated session id equal to id.
func WithFirstSessionID(id int64) Option {
	return func(s *Store) { s.lastID = id - 1 }
}

func New(opts ...Option) *Store {
	s := &Store{
		spaces:   make(map[int64]parking.Space),
		sessions: make(map[int64]parking.Session),
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

func (s *Store) GetSpace(_ context.Context, id int64) (parking.Space, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sp, ok := s.spaces[id]

	return cloneSpace(sp), ok, nil
}

func (s *Store) SaveSpace(_ context.Context, sp parking.Space) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spaces[sp.ID] = cloneSpace(sp)

	return nil
}

func (s *Store) ListSpaces(_ context.Context, t parking.VehicleType, st parking.Status) ([]parking.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []parking.Space

	for _, sp := range s.spaces {
		if sp.Type == t && sp.Status == st {
			out = append(out, cloneSpace(sp))
		}
	}

	slices.SortFunc(out, func(a, b parking.Space) int { return cmp.Compare(a.ID, b.ID) })

	return out, nil
}

// Spaces returns every space ordered by id.
func (s *Store) Spaces() []parking.Space {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]parking.Space, 0, len(s.spaces))
	for _, sp := range s.spaces {
		out = append(out, cloneSpace(sp))
	}

	slices.SortFunc(out, func(a, b parking.Space) int { return cmp.Compare(a.ID, b.ID) })

	return out
}

func (s *Store) NextSessionID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++

	return s.lastID, nil
}

func (s *Store) GetSession(_ context.Context, id int64) (parking.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps, ok := s.sessions[id]

	return cloneSession(ps), ok, nil
}

func (s *Store) SaveSession(_ context.Context, ps parking.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[ps.ID] = cloneSession(ps)

	return nil
}

// cloneSpace detaches the session pointer so callers cannot mutate stored state.
func cloneSpace(sp parking.Space) parking.Space {
	if sp.CurrentSessionID != nil {
		id := *sp.CurrentSessionID
		sp.CurrentSessionID = &id
	}

	return sp
}

func cloneSession(ps parking.Session) parking.Session {
	if ps.EndTime != nil {
		end := *ps.EndTime
		ps.EndTime = &end
	}

	if ps.DurationSeconds != nil {
		d := *ps.DurationSeconds
		ps.DurationSeconds = &d
	}

	if ps.Billing != nil {
		b := *ps.Billing
		if b.Amount != nil {
			amount := *b.Amount
			b.Amount = &amount
		}

		ps.Billing = &b
	}

	return ps
}
