// Package messaging carries async skeleton jobs between processes as flat
// string attribute maps with at-least-once delivery.
package messaging

import (
	"context"
	"errors"
	"maps"
)

// Message is one delivery of a published attribute map.
type Message struct {
	Topic      string
	Attributes map[string]string
	// Delivery counts attempts, starting at 1.
	Delivery int
}

// Handler processes a message. Returning nil acknowledges it; an error asks
// the transport to deliver it again.
type Handler func(ctx context.Context, msg Message) error

type SubscribeOptions struct {
	// Workers bounds how many messages are handled at once.
	Workers int
}

type Subscription interface {
	// Stop ends delivery and waits for in-flight handlers to return.
	Stop()
}

type Transport interface {
	Publish(ctx context.Context, topic string, attrs map[string]string) error
	// Subscribe delivers messages from topics to h. Earlier topics are
	// preferred when several have work, where the transport supports it.
	Subscribe(ctx context.Context, topics []string, h Handler, opts SubscribeOptions) (Subscription, error)
	Close() error
}

var ErrClosed = errors.New("transport closed")

func cloneAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return map[string]string{}
	}
	return maps.Clone(attrs)
}

func workers(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
