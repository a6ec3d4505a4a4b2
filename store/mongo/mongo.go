// Package mongo keeps spaces and sessions in two MongoDB collections keyed by their numeric id.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/next-trace/scg-parking-bus/inventory"
	"github.com/next-trace/scg-parking-bus/parking"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	SpacesCollection   = "ParkingSpaces"
	SessionsCollection = "ParkingSessions"
	CountersCollection = "Counters"

	sessionCounterID = "parking_session"
)

// Collection is the subset of *mongo.Collection the store uses.
type Collection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
}

type Store struct {
	spaces   Collection
	sessions Collection
	counters Collection
	timeout  time.Duration
}

var _ inventory.Store = (*Store)(nil)

// New builds a store over explicit collections. A zero timeout means five seconds per call.
func New(spaces, sessions, counters Collection, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Store{spaces: spaces, sessions: sessions, counters: counters, timeout: timeout}
}

// NewFromDatabase uses the default collection names inside db.
func NewFromDatabase(db *mongo.Database, timeout time.Duration) *Store {
	return New(
		db.Collection(SpacesCollection),
		db.Collection(SessionsCollection),
		db.Collection(CountersCollection),
		timeout,
	)
}

type Config struct {
	URI         string
	Database    string
	ConnTimeout time.Duration
}

// NewWithClient connects, pings and returns the store with a disconnect func.
func NewWithClient(cfg Config) (*Store, func(), error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, nil, errors.New("mongo: uri and database required")
	}

	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnTimeout)
		defer cancel()

		_ = client.Disconnect(ctx)
	}

	return NewFromDatabase(client.Database(cfg.Database), cfg.ConnTimeout), closeFn, nil
}

// withTimeout keeps an earlier caller deadline and otherwise applies the store timeout.
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < s.timeout {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) GetSpace(ctx context.Context, id int64) (parking.Space, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var sp parking.Space

	err := s.spaces.FindOne(ctx, bson.M{"_id": id}).Decode(&sp)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return parking.Space{}, false, nil
	}

	if err != nil {
		return parking.Space{}, false, fmt.Errorf("failed to find space %d: %w", id, err)
	}

	return sp, true, nil
}

func (s *Store) SaveSpace(ctx context.Context, sp parking.Space) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.spaces.ReplaceOne(ctx, bson.M{"_id": sp.ID}, sp, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save space %d: %w", sp.ID, err)
	}

	return nil
}

func (s *Store) ListSpaces(ctx context.Context, t parking.VehicleType, st parking.Status) ([]parking.Space, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := s.spaces.Find(ctx, bson.M{"type": t, "status": st}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query spaces: %w", err)
	}
	defer cursor.Close(ctx)

	var spaces []parking.Space
	if err := cursor.All(ctx, &spaces); err != nil {
		return nil, fmt.Errorf("failed to decode spaces: %w", err)
	}

	return spaces, nil
}

// NextSessionID bumps a counter document, creating it on first use.
func (s *Store) NextSessionID(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter struct {
		Seq int64 `bson:"seq"`
	}

	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": sessionCounterID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate session id: %w", err)
	}

	return counter.Seq, nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (parking.Session, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ps parking.Session

	err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&ps)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return parking.Session{}, false, nil
	}

	if err != nil {
		return parking.Session{}, false, fmt.Errorf("failed to find session %d: %w", id, err)
	}

	return ps, true, nil
}

func (s *Store) SaveSession(ctx context.Context, ps parking.Session) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.sessions.ReplaceOne(ctx, bson.M{"_id": ps.ID}, ps, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save session %d: %w", ps.ID, err)
	}

	return nil
}
