package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	berr "github.com/next-trace/scg-parking-bus/contract/errors"
	"github.com/next-trace/scg-parking-bus/parking"
)

// Service is the single owner of inventory state.
type Service struct {
	mu     sync.Mutex
	store  Store
	biller Biller
	cache  nextAvailable
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service instance.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store Store, biller Biller, opts ...Option) *Service {
	s := &Service{
		store:  store,
		biller: biller,
		cache:  nextAvailable{},
		now:    time.Now,
		logger: slog.Default(),
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

func (s *Service) GetSpace(ctx context.Context, id int64) (parking.Space, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.space(ctx, id)
}

// NextAvailable returns the lowest-id free space of type t, or ErrNotFound.
// A cache hit is re-read from the store and rescanned if it is no longer free.
func (s *Service) NextAvailable(ctx context.Context, t parking.VehicleType) (parking.Space, error) {
	if !t.Valid() {
		return parking.Space{}, fmt.Errorf("next available %q: %w", t, berr.ErrMalformedRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.cache.get(t); ok {
		sp, found, err := s.store.GetSpace(ctx, id)
		if err != nil {
			return parking.Space{}, fmt.Errorf("load space %d: %w", id, err)
		}

		if found && sp.Available() && sp.Type == t {
			return sp, nil
		}

		s.logger.WarnContext(ctx, "stale next-available entry", "type", t, "space_id", id)
	}

	sp, found, err := s.scan(ctx, t)
	if err != nil {
		return parking.Space{}, err
	}

	if !found {
		return parking.Space{}, fmt.Errorf("next available %s: %w", t, berr.ErrNotFound)
	}

	return sp, nil
}

// QuerySpaces lists spaces matching q in id order, at most q.Count of them.
// No match is an empty result, not an error.
func (s *Service) QuerySpaces(ctx context.Context, q parking.SpaceQuery) (parking.SpaceQueryResult, error) {
	if err := q.Validate(); err != nil {
		return parking.SpaceQueryResult{}, fmt.Errorf("query spaces: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spaces, err := s.store.ListSpaces(ctx, q.Type, q.Status)
	if err != nil {
		return parking.SpaceQueryResult{}, fmt.Errorf("list spaces %s/%s: %w", q.Type, q.Status, err)
	}

	limit := max(q.Count, 0)
	if limit < len(spaces) {
		spaces = spaces[:limit]
	}

	if spaces == nil {
		spaces = []parking.Space{}
	}

	return parking.SpaceQueryResult{Result: spaces}, nil
}

// StartSession opens a session on an available space and occupies it.
func (s *Service) StartSession(ctx context.Context, req parking.StartRequest) (parking.Session, error) {
	if err := req.Validate(); err != nil {
		return parking.Session{}, fmt.Errorf("start session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sp, err := s.space(ctx, req.SpaceID)
	if err != nil {
		return parking.Session{}, err
	}

	if !sp.Available() {
		return parking.Session{}, fmt.Errorf("space %d is %s: %w", sp.ID, sp.Status, berr.ErrInvalidState)
	}

	id, err := s.store.NextSessionID(ctx)
	if err != nil {
		return parking.Session{}, fmt.Errorf("allocate session id: %w", err)
	}

	session := parking.Session{ID: id, SpaceID: sp.ID, StartTime: s.now().UTC()}
	free := sp

	// space first: a session is never stored against a space that is still free
	sp.Occupy(id)

	if err := s.store.SaveSpace(ctx, sp); err != nil {
		return parking.Session{}, fmt.Errorf("save space %d: %w", sp.ID, err)
	}

	if err := s.store.SaveSession(ctx, session); err != nil {
		if rerr := s.store.SaveSpace(ctx, free); rerr != nil {
			s.cache.forget(sp.Type)
			s.logger.ErrorContext(ctx, "space left occupied by unsaved session", "space_id", sp.ID, "session_id", id, "err", rerr)
		}

		return parking.Session{}, fmt.Errorf("save session %d: %w", id, err)
	}

	if _, _, err := s.scan(ctx, sp.Type); err != nil {
		// the session stands; the next lookup rescans
		s.cache.forget(sp.Type)
		s.logger.WarnContext(ctx, "next-available refresh failed", "type", sp.Type, "err", err)
	}

	s.logger.DebugContext(ctx, "session started", "session_id", id, "space_id", sp.ID)

	return session, nil
}

func (s *Service) GetSession(ctx context.Context, id int64) (parking.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.session(ctx, id)
}

// EndSession completes a session, prices it and frees its space.
// Nothing is persisted unless billing succeeds; on failure the session stays ongoing
// and the space stays occupied.
func (s *Service) EndSession(ctx context.Context, id int64) (parking.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.session(ctx, id)
	if err != nil {
		return parking.Session{}, err
	}

	if session.Completed() {
		return parking.Session{}, fmt.Errorf("session %d already completed: %w", id, berr.ErrInvalidState)
	}

	sp, err := s.space(ctx, session.SpaceID)
	if err != nil {
		return parking.Session{}, fmt.Errorf("session %d: %w", id, err)
	}

	end := s.now().UTC()
	if end.Before(session.StartTime) {
		end = session.StartTime
	}

	draft := session
	duration := parking.Duration(session.StartTime, end)
	draft.EndTime = &end
	draft.DurationSeconds = &duration

	if s.biller == nil {
		return parking.Session{}, fmt.Errorf("bill session %d: no biller: %w", id, berr.ErrBillingFailure)
	}

	bill, err := s.biller.Compute(ctx, draft)
	if err != nil {
		if !errors.Is(err, berr.ErrBillingFailure) {
			err = errors.Join(berr.ErrBillingFailure, err)
		}

		return parking.Session{}, fmt.Errorf("bill session %d: %w", id, err)
	}

	completed := session.Complete(end, bill)
	if err := s.store.SaveSession(ctx, completed); err != nil {
		return parking.Session{}, fmt.Errorf("save session %d: %w", id, err)
	}

	sp.Release()

	if err := s.store.SaveSpace(ctx, sp); err != nil {
		return parking.Session{}, fmt.Errorf("save space %d: %w", sp.ID, err)
	}

	// the freed space is known to be available; no scan
	s.cache.set(sp.Type, sp.ID)

	s.logger.DebugContext(ctx, "session completed", "session_id", id, "space_id", sp.ID, "duration_seconds", duration)

	return completed, nil
}

func (s *Service) space(ctx context.Context, id int64) (parking.Space, error) {
	sp, found, err := s.store.GetSpace(ctx, id)
	if err != nil {
		return parking.Space{}, fmt.Errorf("load space %d: %w", id, err)
	}

	if !found {
		return parking.Space{}, fmt.Errorf("space %d: %w", id, berr.ErrNotFound)
	}

	return sp, nil
}

func (s *Service) session(ctx context.Context, id int64) (parking.Session, error) {
	ps, found, err := s.store.GetSession(ctx, id)
	if err != nil {
		return parking.Session{}, fmt.Errorf("load session %d: %w", id, err)
	}

	if !found {
		return parking.Session{}, fmt.Errorf("session %d: %w", id, berr.ErrNotFound)
	}

	return ps, nil
}

// scan finds the lowest-id free space of type t and stores it in the cache.
func (s *Service) scan(ctx context.Context, t parking.VehicleType) (parking.Space, bool, error) {
	free, err := s.store.ListSpaces(ctx, t, parking.Available)
	if err != nil {
		return parking.Space{}, false, fmt.Errorf("list free %s spaces: %w", t, err)
	}

	if len(free) == 0 {
		s.cache.forget(t)
		return parking.Space{}, false, nil
	}

	s.cache.set(t, free[0].ID)

	return free[0], true, nil
}
