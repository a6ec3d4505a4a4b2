package kafka

import (
	"context"
	"fmt"
	"time"

	berr "github.com/next-trace/scg-parking-bus/contract/errors"

	kafkago "github.com/segmentio/kafka-go"
)

// Concrete segmentio/kafka-go based constructor, writer and reader wrappers.

type kafkaGoWriter struct{ w *kafkago.Writer }

func (w kafkaGoWriter) Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	msg := kafkago.Message{Topic: topic, Key: key, Value: value, Time: time.Now()}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	return w.w.WriteMessages(ctx, msg)
}

type kafkaGoReader struct{ r *kafkago.Reader }

func (r kafkaGoReader) Read(ctx context.Context) (Record, error) {
	m, err := r.r.ReadMessage(ctx)
	if err != nil {
		return Record{}, err
	}

	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return Record{Topic: m.Topic, Key: m.Key, Value: m.Value, Headers: headers}, nil
}

func (r kafkaGoReader) Close() error { return r.r.Close() }

// NewWithKafkaGo builds a segmentio/kafka-go based Adapter sharing Config with NewWithKgo.
// Only Brokers, GroupID and TLS are honoured.
func NewWithKafkaGo(cfg Config) (*Adapter, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrTransport)
	}

	transport := &kafkago.Transport{TLS: cfg.TLS, ClientID: cfg.ClientID}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{}, // hash by key for ordering
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		Transport:              transport,
		Logger:                 kafkago.LoggerFunc(func(msg string, args ...any) {}),
	}

	var dialer *kafkago.Dialer
	if cfg.TLS != nil {
		dialer = &kafkago.Dialer{Timeout: 10 * time.Second, DualStack: true, TLS: cfg.TLS}
	}

	readers := func(topic string) (Reader, error) {
		r := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.GroupID,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     100 * time.Millisecond,
			StartOffset: kafkago.LastOffset,
			Dialer:      dialer,
			Logger:      kafkago.LoggerFunc(func(msg string, args ...any) {}),
		})

		return kafkaGoReader{r: r}, nil
	}

	ad := New(kafkaGoWriter{w: w}, readers)
	cleanup := func() { _ = w.Close() }
	ad.closeFn = cleanup

	return ad, cleanup, nil
}
