package messaging

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTransport is an in-process Transport. Failed messages go to the
// back of their queue until MaxDeliver attempts have been made.
type MemoryTransport struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queues    map[string][]Message
	published map[string][]map[string]string
	dropped   []Message
	inflight  int
	closed    bool

	MaxDeliver int
}

func NewMemoryTransport() *MemoryTransport {
	t := &MemoryTransport{
		queues:     map[string][]Message{},
		published:  map[string][]map[string]string{},
		MaxDeliver: 5,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *MemoryTransport) Publish(_ context.Context, topic string, attrs map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.published[topic] = append(t.published[topic], cloneAttrs(attrs))
	t.queues[topic] = append(t.queues[topic], Message{Topic: topic, Attributes: cloneAttrs(attrs), Delivery: 1})
	t.cond.Broadcast()
	return nil
}

// Published returns every attribute map ever published to topic, in order.
func (t *MemoryTransport) Published(topic string) []map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]string, len(t.published[topic]))
	for i, a := range t.published[topic] {
		out[i] = cloneAttrs(a)
	}
	return out
}

// Pending is the number of queued and in-flight messages.
func (t *MemoryTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.inflight
	for _, q := range t.queues {
		n += len(q)
	}
	return n
}

// Dropped lists messages that exhausted MaxDeliver.
func (t *MemoryTransport) Dropped() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.dropped...)
}

type memorySubscription struct {
	t       *MemoryTransport
	stopped bool
	wg      sync.WaitGroup
	once    sync.Once
	done    chan struct{}
}

func (s *memorySubscription) Stop() {
	s.once.Do(func() {
		s.t.mu.Lock()
		s.stopped = true
		s.t.cond.Broadcast()
		s.t.mu.Unlock()
		close(s.done)
	})
	s.wg.Wait()
}

func (t *MemoryTransport) Subscribe(ctx context.Context, topics []string, h Handler, opts SubscribeOptions) (Subscription, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("subscribe: no topics")
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{t: t, done: make(chan struct{})}
	for i := 0; i < workers(opts.Workers); i++ {
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			for {
				msg, ok := t.next(sub, topics)
				if !ok {
					return
				}
				err := h(ctx, msg)
				t.finish(msg, err)
			}
		}()
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Stop()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (t *MemoryTransport) next(sub *memorySubscription, topics []string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if sub.stopped || t.closed {
			return Message{}, false
		}
		for _, topic := range topics {
			if q := t.queues[topic]; len(q) > 0 {
				msg := q[0]
				t.queues[topic] = q[1:]
				t.inflight++
				return msg, true
			}
		}
		t.cond.Wait()
	}
}

func (t *MemoryTransport) finish(msg Message, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight--
	if err != nil {
		if msg.Delivery < t.MaxDeliver {
			msg.Delivery++
			t.queues[msg.Topic] = append(t.queues[msg.Topic], msg)
		} else {
			t.dropped = append(t.dropped, msg)
		}
	}
	t.cond.Broadcast()
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cond.Broadcast()
	return nil
}
