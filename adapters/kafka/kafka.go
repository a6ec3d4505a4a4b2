package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-parking-bus/contract/bus"
	berr "github.com/next-trace/scg-parking-bus/contract/errors"
)

const readRetryBackoff = time.Second

// Record is a transport-neutral Kafka record.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Writer is a minimal Kafka-like writer interface.
// Users can adapt segmentio/kafka-go, franz-go or any other client to this.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Reader reads records of a single topic within a consumer group.
// Read blocks until a record is available or ctx is done.
type Reader interface {
	Read(ctx context.Context) (Record, error)
	Close() error
}

// ReaderFactory opens a Reader for topic.
type ReaderFactory func(topic string) (Reader, error)

// Adapter implements cbus.Transport using an injected Writer and ReaderFactory.
// The record key is the message key so that one key always lands on one partition.
type Adapter struct {
	Writer    Writer
	NewReader ReaderFactory
	Logger    *slog.Logger

	closeFn func()
}

var _ cbus.Transport = (*Adapter)(nil)

// New creates a new Kafka adapter instance with the provided writer and reader factory.
func New(w Writer, rf ReaderFactory) *Adapter { return &Adapter{Writer: w, NewReader: rf} }

func (a *Adapter) Publish(ctx context.Context, msg cbus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka publish: %w", berr.ErrTransport)
	}

	var key []byte
	if msg.Key != "" {
		key = []byte(msg.Key)
	}

	if err := a.Writer.Write(ctx, msg.Destination, key, msg.Payload, msg.CloneHeaders()); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// separate return from preceding multi-line block (wsl)
		return fmt.Errorf("kafka publish write %s: %w", msg.Destination, errors.Join(berr.ErrTransport, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, destination string, h cbus.Handler) (cbus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.NewReader == nil {
		return nil, fmt.Errorf("kafka subscribe: %w", berr.ErrSubscribeFailed)
	}

	r, err := a.NewReader(destination)
	if err != nil {
		return nil, fmt.Errorf("kafka subscribe %s: %w", destination, errors.Join(berr.ErrSubscribeFailed, err))
	}

	loopCtx, cancel := context.WithCancel(ctx)

	go a.consume(loopCtx, r, h)

	var once sync.Once

	return cbus.SubscriptionFunc(func() error {
		once.Do(cancel)
		return nil
	}), nil
}

// Close releases the clients created by NewWithKgo / NewWithKafkaGo. Readers close with their subscription.
func (a *Adapter) Close() error {
	if a.closeFn != nil {
		a.closeFn()
	}

	return nil
}

func (a *Adapter) consume(ctx context.Context, r Reader, h cbus.Handler) {
	defer func() { _ = r.Close() }()

	for {
		rec, err := r.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			a.logger().WarnContext(ctx, "kafka read failed", "err", err)

			t := time.NewTimer(readRetryBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}

			continue
		}

		h(ctx, toMessage(rec))
	}
}

func (a *Adapter) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}

	return slog.Default()
}

// helpers

func toMessage(rec Record) cbus.Message {
	headers := rec.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	return cbus.Message{
		Destination: rec.Topic,
		Key:         string(rec.Key),
		Payload:     rec.Value,
		Headers:     headers,
	}
}
