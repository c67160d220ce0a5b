package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"skeletoncache/internal/messaging"
	"skeletoncache/internal/metrics"
	"skeletoncache/internal/skeleton"
)

// Handlers are the service callbacks a worker drives.
type Handlers struct {
	// Ensure builds and stores the artifact for an identity. It must be a
	// cheap no-op when the artifact already exists.
	Ensure func(ctx context.Context, id skeleton.Identity) error
	// Refuse adds an id to the refusal list.
	Refuse func(ctx context.Context, dataset string, rootID uint64, reason string) error
}

type ConsumerOptions struct {
	Workers int
	Log     logrus.FieldLogger
	Metrics *metrics.Registry
}

// Consumer maps job outcomes onto transport acknowledgement.
type Consumer struct {
	transport messaging.Transport
	handlers  Handlers
	log       logrus.FieldLogger
	metrics   *metrics.Registry
}

// StartConsumer subscribes to every job topic and runs until ctx is
// cancelled or the returned subscription is stopped.
func StartConsumer(ctx context.Context, t messaging.Transport, h Handlers, opts ConsumerOptions) (messaging.Subscription, error) {
	if h.Ensure == nil || h.Refuse == nil {
		return nil, fmt.Errorf("dispatch: Ensure and Refuse handlers are required")
	}
	c := &Consumer{transport: t, handlers: h, log: opts.Log, metrics: opts.Metrics}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return t.Subscribe(ctx, Topics, c.Handle, messaging.SubscribeOptions{Workers: opts.Workers})
}

// Handle processes one delivery. A nil return acknowledges it.
func (c *Consumer) Handle(ctx context.Context, msg messaging.Message) error {
	job, err := Decode(msg.Attributes)
	if err != nil {
		c.log.WithError(err).WithField("topic", msg.Topic).Warn("discarding malformed job")
		c.metrics.JobProcessed("malformed")
		return nil
	}
	log := c.log.WithFields(logrus.Fields{
		"topic":    msg.Topic,
		"job_id":   job.JobID,
		"dataset":  job.Identity.Dataset,
		"root_id":  job.Identity.RootID,
		"version":  job.Identity.Version,
		"delivery": msg.Delivery,
	})

	if msg.Topic == TopicDeadLetter {
		reason := job.Reason
		if reason == "" {
			reason = "dead letter"
		}
		if err := c.handlers.Refuse(ctx, job.Identity.Dataset, job.Identity.RootID, reason); err != nil {
			log.WithError(err).Warn("refusal add failed, redelivering")
			c.metrics.JobProcessed("retry")
			return err
		}
		c.metrics.JobProcessed("refused")
		return nil
	}

	err = c.handlers.Ensure(ctx, job.Identity)
	switch {
	case err == nil:
		c.metrics.JobProcessed("stored")
		return nil
	case errors.Is(err, skeleton.ErrInvalidID):
		job.Reason = err.Error()
		if perr := c.transport.Publish(ctx, TopicDeadLetter, Encode(job)); perr != nil {
			log.WithError(perr).Warn("dead letter publish failed, redelivering")
			c.metrics.JobProcessed("retry")
			return perr
		}
		log.WithError(err).Info("invalid root id sent to dead letter")
		c.metrics.JobProcessed("dead_letter")
		return nil
	case errors.Is(err, skeleton.ErrRefusedID):
		c.metrics.JobProcessed("refused")
		return nil
	case skeleton.IsClientError(err):
		log.WithError(err).Warn("job rejected")
		c.metrics.JobProcessed("rejected")
		return nil
	default:
		log.WithError(err).Error("job failed, redelivering")
		c.metrics.JobProcessed("retry")
		return err
	}
}
