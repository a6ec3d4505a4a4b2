package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	berr "github.com/next-trace/scg-parking-bus/contract/errors"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Concrete franz-go based constructor, writer and reader wrappers.

type Config struct {
	Brokers     []string
	TLS         *tls.Config
	Acks        kgo.Acks
	Idempotent  bool
	ClientID    string
	GroupID     string
	// Compression lists batch codecs in preference order; used only with Idempotent.
	Compression []kgo.CompressionCodec
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return w.cl.ProduceSync(ctx, rec).FirstErr()
}

type kgoReader struct {
	cl      *kgo.Client
	pending []*kgo.Record
}

func (r *kgoReader) Read(ctx context.Context) (Record, error) {
	for len(r.pending) == 0 {
		fetches := r.cl.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return Record{}, errors.New("kafka client closed")
		}

		if err := ctx.Err(); err != nil {
			return Record{}, err
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			return Record{}, fmt.Errorf("fetch %s/%d: %w", errs[0].Topic, errs[0].Partition, errs[0].Err)
		}

		r.pending = fetches.Records()
	}

	rec := r.pending[0]
	r.pending = r.pending[1:]

	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}

	return Record{Topic: rec.Topic, Key: rec.Key, Value: rec.Value, Headers: headers}, nil
}

func (r *kgoReader) Close() error {
	r.cl.Close()
	return nil
}

func baseOpts(cfg Config) []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	return opts
}

// NewWithKgo builds a franz-go client based Adapter. The returned cleanup should be called to close the client.
// Every subscription gets its own consumer-group client so that destinations are consumed independently.
func NewWithKgo(cfg Config) (*Adapter, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrTransport)
	}

	opts := append(baseOpts(cfg), kgo.AllowAutoTopicCreation())
	if cfg.Idempotent {
		if len(cfg.Compression) > 0 {
			opts = append(opts, kgo.ProducerBatchCompression(cfg.Compression...))
		}
	} else {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}

	if cfg.Acks != (kgo.Acks{}) {
		opts = append(opts, kgo.RequiredAcks(cfg.Acks))
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrTransport, err)
	}

	readers := func(topic string) (Reader, error) {
		ropts := append(baseOpts(cfg),
			kgo.ConsumeTopics(topic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		)
		if cfg.GroupID != "" {
			ropts = append(ropts, kgo.ConsumerGroup(cfg.GroupID))
		}

		rc, err := kgo.NewClient(ropts...)
		if err != nil {
			return nil, err
		}

		return &kgoReader{cl: rc}, nil
	}

	ad := New(kgoWriter{cl: cl}, readers)
	cleanup := func() { cl.Close() }
	ad.closeFn = cleanup

	return ad, cleanup, nil
}
