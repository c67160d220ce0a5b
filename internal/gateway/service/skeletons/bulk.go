package skeletons

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"skeletoncache/internal/skeleton"
)

// BulkRequest applies one parameter template to many root ids.
type BulkRequest struct {
	// Template carries every identity field except RootID.
	Template skeleton.Identity
	RootIDs  []uint64
	// MaxSynchronous overrides Config.MaxSynchronous when positive.
	MaxSynchronous int
	HighPriority   bool
}

// BulkResult holds only cache hits; ids missing from Skeletons were
// submitted, refused or dropped.
type BulkResult struct {
	Skeletons        map[uint64]*Result `json:"-"`
	Submitted        []uint64           `json:"submitted"`
	Refused          []uint64           `json:"refused"`
	Dropped          []uint64           `json:"dropped"`
	EstimatedSeconds int                `json:"estimated_seconds"`
}

// ---------------------------------------------------------------------------
// Bulk
// ---------------------------------------------------------------------------

// GetBulkSkeletons checks the first MaxSynchronous distinct ids against the
// cache without computing anything, and submits every other id to the
// async workers. Ids past the synchronous window are always submitted
// unless refused.
func (s *Service) GetBulkSkeletons(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	ids := dedupe(req.RootIDs)
	maxSync := req.MaxSynchronous
	if maxSync <= 0 {
		maxSync = s.cfg.MaxSynchronous
	}
	checked, truncated := ids, []uint64(nil)
	if len(ids) > maxSync {
		checked, truncated = ids[:maxSync], ids[maxSync:]
	}
	return s.bulk(ctx, req, checked, truncated, true)
}

// GenerateBulkAsync submits every uncached, unrefused id and returns the
// advisory completion estimate. It only checks that artifacts exist and
// never reads or returns skeleton data.
func (s *Service) GenerateBulkAsync(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	return s.bulk(ctx, req, dedupe(req.RootIDs), nil, false)
}

// bulk checks ids in checked against the cache, reading hits into the
// result when fetch is set, and submits the misses plus truncated.
func (s *Service) bulk(ctx context.Context, req BulkRequest, checked, truncated []uint64, fetch bool) (*BulkResult, error) {
	if len(checked) == 0 && len(truncated) == 0 {
		return &BulkResult{Skeletons: map[uint64]*Result{}}, nil
	}
	first := checked
	if len(first) == 0 {
		first = truncated
	}
	probe := req.Template
	probe.RootID = first[0]
	tmpl, policy, sf, err := s.resolve(probe)
	if err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{
		"dataset": tmpl.Dataset,
		"version": policy.Version,
		"format":  tmpl.Format,
	})

	hits, misses := s.checkCache(ctx, tmpl, policy, sf, checked, fetch, log)
	res := &BulkResult{Skeletons: hits}

	candidates := append(s.filterRefused(ctx, tmpl, misses, res, log), s.filterRefused(ctx, tmpl, truncated, res, log)...)
	if len(candidates) > s.cfg.MaxAsync {
		res.Dropped = candidates[s.cfg.MaxAsync:]
		candidates = candidates[:s.cfg.MaxAsync]
		log.WithField("dropped", len(res.Dropped)).Warn("bulk request exceeds async limit")
	}
	if len(candidates) > 0 && s.dispatcher == nil {
		return nil, skeleton.NewError(skeleton.ErrTransportUnavailable, tmpl.Dataset, candidates[0], errNoDispatcher)
	}
	for _, rootID := range candidates {
		id := tmpl
		id.RootID = rootID
		if err := s.dispatcher.Submit(ctx, id, req.HighPriority); err != nil {
			return nil, skeleton.NewError(skeleton.KindOf(err, skeleton.ErrTransportUnavailable), tmpl.Dataset, rootID, err)
		}
		res.Submitted = append(res.Submitted, rootID)
	}
	res.EstimatedSeconds = s.estimate(len(res.Submitted))
	log.WithFields(logrus.Fields{
		"hits":      len(res.Skeletons),
		"submitted": len(res.Submitted),
		"refused":   len(res.Refused),
	}).Info("bulk request handled")
	return res, nil
}

// checkCache looks up ids concurrently. Without fetch only existence is
// checked and hits are left out of the returned map. Store failures count
// as misses so the id is handed to a worker instead of failing the whole
// batch.
func (s *Service) checkCache(ctx context.Context, tmpl skeleton.Identity, policy skeleton.Policy, sf skeleton.StorageFormat, ids []uint64, fetch bool, log logrus.FieldLogger) (map[uint64]*Result, []uint64) {
	found := make([]*Result, len(ids))
	cached := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BulkConcurrency)
	for i, rootID := range ids {
		g.Go(func() error {
			id := tmpl
			id.RootID = rootID
			key := policy.Key(id, sf)
			if !fetch {
				ok, err := s.store.Exists(gctx, key)
				if err != nil {
					log.WithError(err).WithField("root_id", rootID).Warn("bulk cache check failed")
					return nil
				}
				cached[i] = ok
				return nil
			}
			r, ok, err := s.lookup(gctx, id, policy, sf, key, true)
			if err != nil {
				log.WithError(err).WithField("root_id", rootID).Warn("bulk cache check failed")
				return nil
			}
			if ok {
				found[i], cached[i] = r, true
			}
			return nil
		})
	}
	_ = g.Wait()

	hits := make(map[uint64]*Result, len(ids))
	var misses []uint64
	for i, rootID := range ids {
		switch {
		case found[i] != nil:
			hits[rootID] = found[i]
		case !cached[i]:
			misses = append(misses, rootID)
		}
	}
	return hits, misses
}

// filterRefused drops refused ids. An id whose refusal state cannot be read
// is kept; the worker repeats the check.
func (s *Service) filterRefused(ctx context.Context, tmpl skeleton.Identity, ids []uint64, res *BulkResult, log logrus.FieldLogger) []uint64 {
	out := make([]uint64, 0, len(ids))
	for _, rootID := range ids {
		refused, err := s.refusals.Contains(ctx, tmpl.Dataset, rootID)
		if err != nil {
			log.WithError(err).WithField("root_id", rootID).Warn("refusal list check failed, submitting anyway")
		}
		if refused {
			res.Refused = append(res.Refused, rootID)
			continue
		}
		out = append(out, rootID)
	}
	return out
}

func (s *Service) estimate(jobs int) int {
	if jobs == 0 {
		return 0
	}
	rounds := (jobs + s.cfg.NumWorkers - 1) / s.cfg.NumWorkers
	return rounds * s.cfg.PerJobSeconds
}

// ---------------------------------------------------------------------------
// Existence
// ---------------------------------------------------------------------------

// Exists reports, per id, whether the artifact for template is stored.
// Nothing is computed or submitted.
func (s *Service) Exists(ctx context.Context, template skeleton.Identity, rootIDs []uint64) (map[uint64]bool, error) {
	ids := dedupe(rootIDs)
	out := make(map[uint64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	probe := template
	probe.RootID = ids[0]
	tmpl, policy, sf, err := s.resolve(probe)
	if err != nil {
		return nil, err
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BulkConcurrency)
	for _, rootID := range ids {
		g.Go(func() error {
			id := tmpl
			id.RootID = rootID
			ok, err := s.store.Exists(gctx, policy.Key(id, sf))
			if err != nil {
				return skeleton.NewError(skeleton.ErrStoreUnavailable, id.Dataset, rootID, err)
			}
			mu.Lock()
			out[rootID] = ok
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// dedupe keeps first occurrences and drops zero ids.
func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
