// Package memory assembles the whole parking system in one process: in-memory transport,
// in-memory store, broker, billing responder and inventory responder.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/next-trace/scg-parking-bus/adapters/inmemory"
	"github.com/next-trace/scg-parking-bus/billing"
	"github.com/next-trace/scg-parking-bus/inventory"
	"github.com/next-trace/scg-parking-bus/parking"
	"github.com/next-trace/scg-parking-bus/parkingapi"
	"github.com/next-trace/scg-parking-bus/servicebus"
	memstore "github.com/next-trace/scg-parking-bus/store/memory"
)

type System struct {
	Transport *inmemory.Transport
	Store     *memstore.Store
	Broker    *servicebus.Broker
	Inventory *inventory.Service
	API       *parkingapi.Client
}

type settings struct {
	counts         inventory.Counts
	pricing        billing.PricingStrategy
	timeout        time.Duration
	prefix         string
	firstSessionID int64
	logger         *slog.Logger
	clock          func() time.Time
}

type Option func(*settings)

func WithCounts(c inventory.Counts) Option { return func(s *settings) { s.counts = c } }

func WithPricing(p billing.PricingStrategy) Option { return func(s *settings) { s.pricing = p } }

func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

func WithPrefix(p string) Option { return func(s *settings) { s.prefix = p } }

// WithFirstSessionID sets the id handed to the first started session.
func WithFirstSessionID(id int64) Option { return func(s *settings) { s.firstSessionID = id } }

func WithLogger(l *slog.Logger) Option { return func(s *settings) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *settings) { s.clock = now } }

// New wires and starts the system and returns it with a cleanup func that closes the broker and transport.
// Without WithCounts nothing is provisioned.
func New(ctx context.Context, opts ...Option) (*System, func(), error) {
	cfg := settings{
		pricing: billing.PricingStrategy{
			Strategy:       billing.WithFixedAmount,
			FixedAmount:    2,
			PricePerSecond: 0.001,
			Currency:       billing.DefaultCurrency,
		},
		timeout:        servicebus.DefaultTimeout,
		firstSessionID: 1,
		logger:         slog.Default(),
	}

	for _, o := range opts {
		o(&cfg)
	}

	calc, err := billing.NewCalculator(cfg.pricing)
	if err != nil {
		return nil, nil, err
	}

	dest := parking.NewDestinations(cfg.prefix)
	tr := inmemory.New()
	st := memstore.New(memstore.WithFirstSessionID(cfg.firstSessionID))

	broker := servicebus.New(tr,
		servicebus.WithRoutes(dest.Routes()),
		servicebus.WithTimeout(cfg.timeout),
		servicebus.WithLogger(cfg.logger),
	)

	cleanup := func() {
		_ = broker.Close()
		_ = tr.Close()
	}

	invOpts := []inventory.Option{inventory.WithLogger(cfg.logger)}
	if cfg.clock != nil {
		invOpts = append(invOpts, inventory.WithClock(cfg.clock))
	}

	inv := inventory.New(st, billing.NewClient(broker, dest), invOpts...)

	if err := billing.Bind(broker, dest, calc); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("bind billing: %w", err)
	}

	if err := inv.Bind(broker, dest); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("bind inventory: %w", err)
	}

	if err := broker.Start(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("start broker: %w", err)
	}

	if len(cfg.counts) > 0 {
		if _, err := inv.Provision(ctx, cfg.counts); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("provision: %w", err)
		}
	}

	return &System{
		Transport: tr,
		Store:     st,
		Broker:    broker,
		Inventory: inv,
		API:       parkingapi.New(broker, dest),
	}, cleanup, nil
}
