package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/semaphore"
)

type JetStreamConfig struct {
	URL string
	// Stream is the work-queue stream holding every job topic.
	Stream string
	// Subjects bound to the stream, e.g. "skeleton.requests.>".
	Subjects   []string
	AckWait    time.Duration
	MaxDeliver int
}

// JetStreamTransport publishes attributes as NATS headers on an empty body
// and consumes through one durable pull consumer per topic.
type JetStreamTransport struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg JetStreamConfig
}

func NewJetStreamTransport(ctx context.Context, cfg JetStreamConfig) (*JetStreamTransport, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("jetstream stream name is required")
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 10 * time.Minute
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	nc, err := nats.Connect(cfg.URL, nats.Name("skeletoncache"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  cfg.Subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}
	return &JetStreamTransport{nc: nc, js: js, cfg: cfg}, nil
}

func (t *JetStreamTransport) Publish(ctx context.Context, topic string, attrs map[string]string) error {
	msg := nats.NewMsg(topic)
	for k, v := range attrs {
		msg.Header.Set(k, v)
	}
	if _, err := t.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

type jetStreamSubscription struct {
	consumers []jetstream.ConsumeContext
	wg        sync.WaitGroup
	once      sync.Once

	mu      sync.Mutex
	stopped bool
}

// track registers one in-flight handler. It reports false once Stop has
// begun, so no Add can race the final Wait.
func (s *jetStreamSubscription) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *jetStreamSubscription) Stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		for _, cc := range s.consumers {
			cc.Stop()
		}
	})
	s.wg.Wait()
}

func (t *JetStreamTransport) Subscribe(ctx context.Context, topics []string, h Handler, opts SubscribeOptions) (Subscription, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("subscribe: no topics")
	}
	n := workers(opts.Workers)
	sem := semaphore.NewWeighted(int64(n))
	sub := &jetStreamSubscription{}

	for _, topic := range topics {
		consumer, err := t.js.CreateOrUpdateConsumer(ctx, t.cfg.Stream, jetstream.ConsumerConfig{
			Durable:       durableName(topic),
			FilterSubject: topic,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       t.cfg.AckWait,
			MaxDeliver:    t.cfg.MaxDeliver,
			MaxAckPending: n,
		})
		if err != nil {
			sub.Stop()
			return nil, fmt.Errorf("create consumer for %s: %w", topic, err)
		}
		cc, err := consumer.Consume(func(m jetstream.Msg) {
			if !sub.track() {
				_ = m.Nak()
				return
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				sub.wg.Done()
				_ = m.Nak()
				return
			}
			go func() {
				defer sub.wg.Done()
				defer sem.Release(1)
				t.handle(ctx, m, h)
			}()
		}, jetstream.PullMaxMessages(n))
		if err != nil {
			sub.Stop()
			return nil, fmt.Errorf("consume %s: %w", topic, err)
		}
		sub.consumers = append(sub.consumers, cc)
	}
	go func() {
		<-ctx.Done()
		sub.Stop()
	}()
	return sub, nil
}

func (t *JetStreamTransport) handle(ctx context.Context, m jetstream.Msg, h Handler) {
	attrs := make(map[string]string, len(m.Headers()))
	for k := range m.Headers() {
		attrs[strings.ToLower(k)] = m.Headers().Get(k)
	}
	delivery := 1
	if md, err := m.Metadata(); err == nil {
		delivery = int(md.NumDelivered)
	}
	err := h(ctx, Message{Topic: m.Subject(), Attributes: attrs, Delivery: delivery})
	if err != nil {
		_ = m.Nak()
		return
	}
	_ = m.Ack()
}

func (t *JetStreamTransport) Close() error {
	if t.nc == nil {
		return nil
	}
	err := t.nc.Drain()
	if errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

// durableName derives a consumer name; NATS forbids dots in it.
func durableName(topic string) string {
	r := strings.NewReplacer(".", "_", "*", "any", ">", "all")
	return r.Replace(topic)
}

// Ping reports whether the NATS connection is currently up.
func (t *JetStreamTransport) Ping(context.Context) error {
	if !t.nc.IsConnected() {
		return fmt.Errorf("nats connection %s", t.nc.Status())
	}
	return nil
}
