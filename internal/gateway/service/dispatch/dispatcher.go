// Package dispatch moves skeleton jobs across the message transport: the
// gateway submits them and worker processes consume them.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"skeletoncache/internal/messaging"
	"skeletoncache/internal/metrics"
	"skeletoncache/internal/skeleton"
)

const (
	TopicHigh       = "skeleton.requests.high"
	TopicLow        = "skeleton.requests.low"
	TopicDeadLetter = "skeleton.requests.deadletter"
)

// Topics is the subscription order; high priority work is preferred.
var Topics = []string{TopicHigh, TopicLow, TopicDeadLetter}

// Attribute names on the wire.
const (
	AttrDataset        = "dataset"
	AttrRootID         = "root_id"
	AttrVersion        = "skeleton_version"
	AttrFormat         = "output_format"
	AttrResolution     = "resolution"
	AttrCollapseSoma   = "collapse_soma"
	AttrCollapseRadius = "collapse_radius"
	AttrHighPriority   = "high_priority"
	AttrJobID          = "job_id"
	AttrSubmittedAt    = "submitted_at"
	AttrReason         = "reason"
)

// Job is one decoded async request.
type Job struct {
	Identity     skeleton.Identity
	HighPriority bool
	JobID        string
	SubmittedAt  time.Time
	Reason       string
}

// Dispatcher publishes jobs for background workers.
type Dispatcher struct {
	transport messaging.Transport
	metrics   *metrics.Registry
	now       func() time.Time
}

func NewDispatcher(t messaging.Transport, m *metrics.Registry) *Dispatcher {
	return &Dispatcher{transport: t, metrics: m, now: time.Now}
}

// Submit publishes one job on the topic for its priority class.
func (d *Dispatcher) Submit(ctx context.Context, id skeleton.Identity, highPriority bool) error {
	job := Job{
		Identity:     id,
		HighPriority: highPriority,
		JobID:        uuid.NewString(),
		SubmittedAt:  d.now(),
	}
	topic := TopicLow
	if highPriority {
		topic = TopicHigh
	}
	if err := d.transport.Publish(ctx, topic, Encode(job)); err != nil {
		return skeleton.NewError(skeleton.ErrTransportUnavailable, id.Dataset, id.RootID, err)
	}
	d.metrics.JobSubmitted(highPriority)
	return nil
}

// Encode flattens a job into string attributes.
func Encode(job Job) map[string]string {
	id := job.Identity
	attrs := map[string]string{
		AttrDataset:        id.Dataset,
		AttrRootID:         strconv.FormatUint(id.RootID, 10),
		AttrVersion:        strconv.Itoa(id.Version),
		AttrFormat:         string(id.Format),
		AttrResolution:     id.Resolution.Attribute(),
		AttrCollapseSoma:   strconv.FormatBool(id.CollapseSoma),
		AttrCollapseRadius: strconv.FormatFloat(id.CollapseRadius, 'f', -1, 64),
		AttrHighPriority:   strconv.FormatBool(job.HighPriority),
		AttrJobID:          job.JobID,
	}
	if !job.SubmittedAt.IsZero() {
		attrs[AttrSubmittedAt] = job.SubmittedAt.UTC().Format(time.RFC3339)
	}
	if job.Reason != "" {
		attrs[AttrReason] = job.Reason
	}
	return attrs
}

// Decode rebuilds a job. Dataset and root id are required; the other
// identity fields fall back to the request defaults.
func Decode(attrs map[string]string) (Job, error) {
	dataset := strings.TrimSpace(attrs[AttrDataset])
	if dataset == "" {
		return Job{}, fmt.Errorf("%w: missing %s", skeleton.ErrInvalidRequest, AttrDataset)
	}
	rootID, err := strconv.ParseUint(strings.TrimSpace(attrs[AttrRootID]), 10, 64)
	if err != nil {
		return Job{}, fmt.Errorf("%w: %s: %v", skeleton.ErrInvalidRequest, AttrRootID, err)
	}
	job := Job{
		Identity: skeleton.NewIdentity(dataset, rootID),
		JobID:    attrs[AttrJobID],
		Reason:   attrs[AttrReason],
	}
	id := &job.Identity
	if v, ok := attrs[AttrVersion]; ok && v != "" {
		if id.Version, err = strconv.Atoi(v); err != nil {
			return Job{}, fmt.Errorf("%w: %s: %v", skeleton.ErrInvalidRequest, AttrVersion, err)
		}
	}
	if v, ok := attrs[AttrFormat]; ok && v != "" {
		if id.Format, err = skeleton.ParseOutputFormat(v); err != nil {
			return Job{}, err
		}
	}
	if v, ok := attrs[AttrResolution]; ok && v != "" {
		if id.Resolution, err = skeleton.ParseResolution(v); err != nil {
			return Job{}, err
		}
	}
	if v, ok := attrs[AttrCollapseSoma]; ok && v != "" {
		if id.CollapseSoma, err = strconv.ParseBool(v); err != nil {
			return Job{}, fmt.Errorf("%w: %s: %v", skeleton.ErrInvalidRequest, AttrCollapseSoma, err)
		}
	}
	if v, ok := attrs[AttrCollapseRadius]; ok && v != "" {
		if id.CollapseRadius, err = strconv.ParseFloat(v, 64); err != nil {
			return Job{}, fmt.Errorf("%w: %s: %v", skeleton.ErrInvalidRequest, AttrCollapseRadius, err)
		}
	}
	if v, ok := attrs[AttrHighPriority]; ok && v != "" {
		if job.HighPriority, err = strconv.ParseBool(v); err != nil {
			return Job{}, fmt.Errorf("%w: %s: %v", skeleton.ErrInvalidRequest, AttrHighPriority, err)
		}
	}
	if v, ok := attrs[AttrSubmittedAt]; ok && v != "" {
		if job.SubmittedAt, err = time.Parse(time.RFC3339, v); err != nil {
			return Job{}, fmt.Errorf("%w: %s: %v", skeleton.ErrInvalidRequest, AttrSubmittedAt, err)
		}
	}
	return job, nil
}
