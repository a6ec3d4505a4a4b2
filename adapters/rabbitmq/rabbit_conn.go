package rabbitmq

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-parking-bus/contract/bus"
	berr "github.com/next-trace/scg-parking-bus/contract/errors"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Concrete AMQP connection-backed constructor with auto-reconnect for both publishing and consuming.

const (
	directExchangeType = "direct"
	consumeRetryDelay  = time.Second
)

type Config struct {
	URL         string
	ConnTimeout time.Duration
	// Exchange, when set, is declared as a durable direct exchange and every consumed
	// queue is bound to it under its own name.
	Exchange string
	Prefetch int
}

type reconnectingClient struct {
	cfg    Config
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan struct{}
	ready  chan struct{} // closed while a connection is up
}

func newReconnectingClient(cfg Config) (*reconnectingClient, func()) {
	rc := &reconnectingClient{
		cfg:    cfg,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}
	go rc.run()
	cleanup := func() { rc.close() }
	return rc, cleanup
}

// connection blocks until a connection is available, the client closes, or ctx is done.
func (rc *reconnectingClient) connection(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	for {
		rc.mu.RLock()
		conn, ch, ready := rc.conn, rc.ch, rc.ready
		rc.mu.RUnlock()

		if conn != nil && !conn.IsClosed() {
			return conn, ch, nil
		}

		select {
		case <-ready:
		case <-rc.closed:
			return nil, nil, berr.ErrClosed
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (rc *reconnectingClient) Publish(ctx context.Context, m PubMsg) error {
	_, ch, err := rc.connection(ctx)
	if err != nil {
		return err
	}

	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	contentType := m.Headers[cbus.HeaderContentType]
	if contentType == "" {
		contentType = cbus.ContentTypeJSON
	}

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode:  amqp.Transient,
			Headers:       h,
			ContentType:   contentType,
			CorrelationId: m.Headers[cbus.HeaderCorrelationID],
			ReplyTo:       m.Headers[cbus.HeaderReplyTo],
			Body:          m.Body,
		},
	)
}

// Consume declares queue and streams its deliveries. Deliveries survive reconnects:
// the consumer is re-established on every new connection until ctx is done.
func (rc *reconnectingClient) Consume(ctx context.Context, queue string) (<-chan PubMsg, error) {
	select {
	case <-rc.closed:
		return nil, berr.ErrClosed
	default:
	}

	out := make(chan PubMsg)
	go rc.consumeLoop(ctx, queue, out)

	return out, nil
}

func (rc *reconnectingClient) consumeLoop(ctx context.Context, queue string, out chan<- PubMsg) {
	defer close(out)

	for {
		conn, _, err := rc.connection(ctx)
		if err != nil {
			return
		}

		ch, deliveries, err := rc.declareAndConsume(conn, queue)
		if err != nil {
			t := time.NewTimer(consumeRetryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}

			continue
		}

		more := forward(ctx, deliveries, out)
		_ = ch.Close()

		if !more {
			return
		}
	}
}

func (rc *reconnectingClient) declareAndConsume(conn *amqp.Connection, queue string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, err
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}

	if rc.cfg.Exchange != "" {
		if err := ch.QueueBind(queue, queue, rc.cfg.Exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, nil, err
		}
	}

	if rc.cfg.Prefetch > 0 {
		if err := ch.Qos(rc.cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, nil, err
		}
	}

	tag := "parking-" + uuid.NewString()

	deliveries, err := ch.Consume(queue, tag, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}

	return ch, deliveries, nil
}

// forward copies deliveries to out. It reports false when ctx ended and true when the
// delivery channel closed underneath (connection lost).
func forward(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- PubMsg) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-deliveries:
			if !ok {
				return true
			}

			select {
			case out <- fromDelivery(d):
			case <-ctx.Done():
				return false
			}
		}
	}
}

func fromDelivery(d amqp.Delivery) PubMsg {
	h := make(map[string]string, len(d.Headers)+1)
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			h[k] = s
		} else {
			h[k] = fmt.Sprint(v)
		}
	}

	if d.CorrelationId != "" {
		if _, ok := h[cbus.HeaderCorrelationID]; !ok {
			h[cbus.HeaderCorrelationID] = d.CorrelationId
		}
	}

	return PubMsg{Exchange: d.Exchange, RoutingKey: d.RoutingKey, Body: d.Body, Headers: h}
}

func (rc *reconnectingClient) run() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	reconnect := func() (*amqp.Connection, *amqp.Channel, error) {
		conn, err := amqp.DialConfig(rc.cfg.URL, amqp.Config{
			Locale:     "en_US",
			Properties: amqp.Table{"product": "scg-parking-bus"},
			Dial:       amqp.DefaultDial(rc.cfg.ConnTimeout),
		})
		if err != nil {
			return nil, nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		if rc.cfg.Exchange != "" {
			if err := ch.ExchangeDeclare(
				rc.cfg.Exchange,
				directExchangeType,
				true,
				false,
				false,
				false,
				nil,
			); err != nil {
				_ = ch.Close()
				_ = conn.Close()
				return nil, nil, err
			}
		}
		return conn, ch, nil
	}

	for {
		select {
		case <-rc.closed:
			return
		default:
		}

		conn, ch, err := reconnect()
		if err != nil {
			// exponential backoff with jitter
			jitter := time.Duration(rng.Int63n(int64(backoff / 2)))
			sleep := backoff + jitter/2
			if sleep > maxBackoff {
				sleep = maxBackoff
			}
			t := time.NewTimer(sleep)
			select {
			case <-rc.closed:
				t.Stop()
				return
			case <-t.C:
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}

		// success
		backoff = time.Second

		rc.mu.Lock()
		rc.conn = conn
		rc.ch = ch
		close(rc.ready)
		rc.mu.Unlock()

		// Block on connection close notifications to trigger reconnect
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-rc.closed:
			return
		case <-notify:
			rc.mu.Lock()
			if rc.ch != nil {
				_ = rc.ch.Close()
			}
			if rc.conn != nil {
				_ = rc.conn.Close()
			}
			rc.conn = nil
			rc.ch = nil
			rc.ready = make(chan struct{})
			rc.mu.Unlock()
			// loop to reconnect
		}
	}
}

func (rc *reconnectingClient) close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	select {
	case <-rc.closed:
		// already closed
		return
	default:
		close(rc.closed)
	}
	if rc.ch != nil {
		_ = rc.ch.Close()
		rc.ch = nil
	}
	if rc.conn != nil {
		_ = rc.conn.Close()
		rc.conn = nil
	}
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect and returns an Adapter and cleanup.
func NewWithAMQPConn(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrTransport)
	}
	rc, cleanup := newReconnectingClient(cfg)
	ad := New(rc, rc)
	ad.Exchange = cfg.Exchange
	ad.closeFn = cleanup
	return ad, cleanup, nil
}
