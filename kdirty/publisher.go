// Package kdirty exports lazyflow dirty notifications to a Kafka topic. Each
// event is one record keyed by node name with a JSON value.
package kdirty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/birdayz/lazyflow"
	"github.com/birdayz/lazyflow/kserde"
	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/multierr"
)

// Publisher produces dirty events to a topic. Producing is asynchronous;
// Flush waits for outstanding records and reports failures since the last
// Flush.
type Publisher struct {
	client *kgo.Client
	topic  string
	log    logr.Logger

	keySerde   kserde.Serde[string]
	valueSerde kserde.Serde[lazyflow.DirtyEvent]

	mu   sync.Mutex
	errs error

	published atomic.Int64
	failed    atomic.Int64
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogr sets the logger used for produce failures.
var WithLogr = func(log logr.Logger) Option {
	return func(p *Publisher) {
		p.log = log
	}
}

// NewPublisher returns a publisher writing to topic through client. The
// client stays owned by the caller.
func NewPublisher(client *kgo.Client, topic string, opts ...Option) *Publisher {
	p := &Publisher{
		client:     client,
		topic:      topic,
		log:        logr.Discard(),
		keySerde:   kserde.String,
		valueSerde: kserde.JSON[lazyflow.DirtyEvent](),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attach subscribes the publisher to every dirty notification of g.
func (p *Publisher) Attach(g *lazyflow.Graph) (cancel func()) {
	return g.Subscribe(p.Handle)
}

// Handle is a lazyflow.DirtyHandler.
func (p *Publisher) Handle(ev lazyflow.DirtyEvent) {
	rec, err := p.record(ev)
	if err != nil {
		p.fail(err)
		return
	}
	p.client.Produce(context.Background(), rec, func(r *kgo.Record, err error) {
		if err != nil {
			p.fail(fmt.Errorf("produce %s: %w", r.Key, err))
			return
		}
		p.published.Add(1)
	})
}

// Flush blocks until every produced record is acknowledged and returns the
// errors collected since the previous Flush.
func (p *Publisher) Flush(ctx context.Context) error {
	err := p.client.Flush(ctx)

	p.mu.Lock()
	errs := p.errs
	p.errs = nil
	p.mu.Unlock()

	return multierr.Append(err, errs)
}

// Published returns the number of acknowledged records.
func (p *Publisher) Published() int64 { return p.published.Load() }

// Failed returns the number of events that could not be published.
func (p *Publisher) Failed() int64 { return p.failed.Load() }

func (p *Publisher) record(ev lazyflow.DirtyEvent) (*kgo.Record, error) {
	key, err := p.keySerde.Serializer(ev.Node)
	if err != nil {
		return nil, err
	}
	value, err := p.valueSerde.Serializer(ev)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: p.topic,
		Key:   key,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "slot", Value: []byte(ev.Slot)},
		},
	}, nil
}

func (p *Publisher) fail(err error) {
	p.failed.Add(1)
	p.log.Error(err, "Failed to publish dirty event", "topic", p.topic)
	p.mu.Lock()
	p.errs = multierr.Append(p.errs, err)
	p.mu.Unlock()
}

// EnsureTopic creates topic unless it already exists.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, map[string]*string{}, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Decode parses a record value produced by a Publisher. The Output field of
// the result is nil.
func Decode(value []byte) (lazyflow.DirtyEvent, error) {
	return kserde.JSON[lazyflow.DirtyEvent]().Deserializer(value)
}
