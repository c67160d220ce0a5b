// Package skeletons is the skeleton cache: it resolves version policies,
// enforces the refusal list, serves stored artifacts and computes the
// missing ones, either inline or through async workers.
package skeletons

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	artifactrepo "skeletoncache/internal/gateway/repository/artifact"
	"skeletoncache/internal/geometry"
	"skeletoncache/internal/lock"
	"skeletoncache/internal/metrics"
	"skeletoncache/internal/segmentation"
	"skeletoncache/internal/skeleton"
	"skeletoncache/internal/skeleton/codec"
)

// Refusals is the persisted set of ids that must never be recomputed.
type Refusals interface {
	Contains(ctx context.Context, dataset string, rootID uint64) (bool, error)
	Add(ctx context.Context, dataset string, rootID uint64, reason string) (bool, error)
}

// Submitter hands one identity to the background workers.
type Submitter interface {
	Submit(ctx context.Context, id skeleton.Identity, highPriority bool) error
}

type Config struct {
	// MaxSynchronous is the default number of ids a bulk request checks
	// against the cache inline.
	MaxSynchronous int
	// MaxAsync caps the jobs one bulk request may submit.
	MaxAsync        int
	NumWorkers      int
	PerJobSeconds   int
	BulkConcurrency int
}

func DefaultConfig() Config {
	return Config{
		MaxSynchronous:  10,
		MaxAsync:        10000,
		NumWorkers:      4,
		PerJobSeconds:   60,
		BulkConcurrency: 16,
	}
}

type Deps struct {
	Registry   *skeleton.Registry
	Store      artifactrepo.Store
	Refusals   Refusals
	Validator  segmentation.Validator
	Geometry   geometry.Skeletonizer
	Dispatcher Submitter
	Locker     lock.Locker
	// Aliases maps alternative dataset names to their canonical name.
	Aliases map[string]string
	Metrics *metrics.Registry
	Log     logrus.FieldLogger
	Now     func() time.Time
}

// Service holds no cache state of its own; the object store is the cache.
type Service struct {
	registry   *skeleton.Registry
	store      artifactrepo.Store
	refusals   Refusals
	validator  segmentation.Validator
	geometry   geometry.Skeletonizer
	dispatcher Submitter
	locker     lock.Locker
	aliases    map[string]string
	metrics    *metrics.Registry
	log        logrus.FieldLogger
	now        func() time.Time
	cfg        Config
}

func New(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Registry == nil:
		return nil, fmt.Errorf("skeletons: registry is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("skeletons: store is required")
	case deps.Refusals == nil:
		return nil, fmt.Errorf("skeletons: refusal list is required")
	case deps.Geometry == nil:
		return nil, fmt.Errorf("skeletons: geometry client is required")
	}
	def := DefaultConfig()
	if cfg.MaxSynchronous <= 0 {
		cfg.MaxSynchronous = def.MaxSynchronous
	}
	if cfg.MaxAsync <= 0 {
		cfg.MaxAsync = def.MaxAsync
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = def.NumWorkers
	}
	if cfg.PerJobSeconds <= 0 {
		cfg.PerJobSeconds = def.PerJobSeconds
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = def.BulkConcurrency
	}
	s := &Service{
		registry:   deps.Registry,
		store:      deps.Store,
		refusals:   deps.Refusals,
		validator:  deps.Validator,
		geometry:   deps.Geometry,
		dispatcher: deps.Dispatcher,
		locker:     deps.Locker,
		aliases:    deps.Aliases,
		metrics:    deps.Metrics,
		log:        deps.Log,
		now:        deps.Now,
		cfg:        cfg,
	}
	if s.validator == nil {
		s.validator = segmentation.LayerValidator{}
	}
	if s.locker == nil {
		s.locker = lock.Noop{}
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Result is a skeleton rendered in the requested output format.
type Result struct {
	// Identity is the request after alias and version resolution.
	Identity    skeleton.Identity
	Key         string
	ContentType string
	Data        []byte
	CacheHit    bool
}

// ---------------------------------------------------------------------------
// Single id
// ---------------------------------------------------------------------------

// GetSkeleton returns the skeleton for identity, computing and storing it
// on a cache miss.
func (s *Service) GetSkeleton(ctx context.Context, identity skeleton.Identity) (*Result, error) {
	id, policy, sf, err := s.resolve(identity)
	if err != nil {
		return nil, err
	}
	log := s.fields(id, policy)

	if err := s.validator.ValidateRoot(ctx, id.Dataset, id.RootID, policy.MinRootLayer); err != nil {
		return nil, skeleton.NewError(skeleton.KindOf(err, skeleton.ErrComputation), id.Dataset, id.RootID, err)
	}
	if err := s.checkRefused(ctx, id, log); err != nil {
		return nil, err
	}

	key := policy.Key(id, sf)
	if res, ok, err := s.lookup(ctx, id, policy, sf, key, true); err != nil || ok {
		return res, err
	}
	return s.build(ctx, id, policy, sf, key, log)
}

// Ensure makes sure the artifact for identity is stored. Workers call it;
// an already stored artifact makes it a cheap no-op.
func (s *Service) Ensure(ctx context.Context, identity skeleton.Identity) error {
	_, err := s.GetSkeleton(ctx, identity)
	return err
}

// Refuse adds an id to the refusal list on behalf of the dead-letter consumer.
func (s *Service) Refuse(ctx context.Context, dataset string, rootID uint64, reason string) error {
	dataset = s.canonical(dataset)
	added, err := s.refusals.Add(ctx, dataset, rootID, reason)
	if err != nil {
		return skeleton.NewError(skeleton.ErrStoreUnavailable, dataset, rootID, err)
	}
	if added {
		s.metrics.RefusalAdded(dataset)
		s.log.WithFields(logrus.Fields{"dataset": dataset, "root_id": rootID, "reason": reason}).Info("root id added to refusal list")
	}
	return nil
}

func (s *Service) resolve(identity skeleton.Identity) (skeleton.Identity, skeleton.Policy, skeleton.StorageFormat, error) {
	id := identity
	id.Dataset = s.canonical(id.Dataset)
	if err := id.Validate(); err != nil {
		return id, skeleton.Policy{}, "", skeleton.NewError(skeleton.KindOf(err, skeleton.ErrInvalidRequest), id.Dataset, id.RootID, err)
	}
	policy, err := s.registry.Resolve(id.Version)
	if err != nil {
		return id, skeleton.Policy{}, "", skeleton.NewError(skeleton.ErrUnsupportedVersion, id.Dataset, id.RootID, err)
	}
	id.Version = policy.Version
	sf, ok := policy.StorageFormatFor(id.Format)
	if !ok {
		return id, policy, "", skeleton.NewError(skeleton.ErrUnsupportedFormat, id.Dataset, id.RootID,
			fmt.Errorf("version %d does not serve %s", policy.Version, id.Format))
	}
	return id, policy, sf, nil
}

func (s *Service) canonical(dataset string) string {
	dataset = strings.TrimSpace(dataset)
	if c, ok := s.aliases[dataset]; ok {
		return c
	}
	return dataset
}

// checkRefused fails with ErrRefusedID for refused ids. When the list
// cannot be read the request proceeds, since the refusal add on a later
// permanent failure still happens.
func (s *Service) checkRefused(ctx context.Context, id skeleton.Identity, log logrus.FieldLogger) error {
	refused, err := s.refusals.Contains(ctx, id.Dataset, id.RootID)
	if err != nil {
		log.WithError(err).Warn("refusal list check failed, proceeding")
		return nil
	}
	if refused {
		return skeleton.NewError(skeleton.ErrRefusedID, id.Dataset, id.RootID, nil)
	}
	return nil
}

// lookup serves a stored artifact. A miss returns ok=false; a stored blob
// that vanishes or fails to decode is also treated as a miss. recordMiss is
// false for the re-check under the build lock, which follows a counted miss.
func (s *Service) lookup(ctx context.Context, id skeleton.Identity, policy skeleton.Policy, sf skeleton.StorageFormat, key string, recordMiss bool) (*Result, bool, error) {
	miss := func() {
		if recordMiss {
			s.metrics.CacheLookup(policy.Version, string(id.Format), false)
		}
	}
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return nil, false, skeleton.NewError(skeleton.ErrStoreUnavailable, id.Dataset, id.RootID, err)
	}
	if !exists {
		miss()
		return nil, false, nil
	}
	stored, err := s.store.Get(ctx, key)
	if errors.Is(err, artifactrepo.ErrNotFound) {
		miss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, skeleton.NewError(skeleton.ErrStoreUnavailable, id.Dataset, id.RootID, err)
	}
	data, err := codec.Transcode(stored, sf, id.Format)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("stored artifact is unreadable, recomputing")
		miss()
		return nil, false, nil
	}
	s.metrics.CacheLookup(policy.Version, string(id.Format), true)
	return &Result{
		Identity:    id,
		Key:         key,
		ContentType: codec.ContentType(id.Format),
		Data:        data,
		CacheHit:    true,
	}, true, nil
}

func (s *Service) build(ctx context.Context, id skeleton.Identity, policy skeleton.Policy, sf skeleton.StorageFormat, key string, log logrus.FieldLogger) (*Result, error) {
	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		log.WithError(err).Warn("build lock unavailable, computing without it")
	} else {
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("release build lock")
			}
		}()
		// Another holder may have finished while we waited.
		if _, noop := s.locker.(lock.Noop); !noop {
			if res, ok, err := s.lookup(ctx, id, policy, sf, key, false); err != nil || ok {
				return res, err
			}
		}
	}

	tree, err := s.compute(ctx, id, policy, log)
	if err != nil {
		return nil, err
	}

	var primary []byte
	for _, f := range policy.CompanionFormats(sf) {
		k := policy.Key(id, f)
		data, err := codec.EncodeStored(tree, f)
		if err == nil {
			err = s.store.Put(ctx, k, data)
		}
		if f == sf {
			if err != nil {
				return nil, skeleton.NewError(skeleton.ErrStoreUnavailable, id.Dataset, id.RootID, err)
			}
			primary = data
			continue
		}
		if err != nil {
			log.WithError(err).WithField("key", k).Warn("companion format not stored")
		}
	}
	log.WithField("key", key).Info("skeleton computed and stored")

	data, err := render(tree, primary, sf, id.Format)
	if err != nil {
		return nil, skeleton.NewError(skeleton.ErrComputation, id.Dataset, id.RootID, err)
	}
	return &Result{
		Identity:    id,
		Key:         key,
		ContentType: codec.ContentType(id.Format),
		Data:        data,
	}, nil
}

// compute runs the geometry collaborator. Permanent failures refuse the id.
func (s *Service) compute(ctx context.Context, id skeleton.Identity, policy skeleton.Policy, log logrus.FieldLogger) (*skeleton.Tree, error) {
	start := s.now()
	tree, err := s.geometry.Skeletonize(ctx, geometry.ParamsFor(id, policy))
	elapsed := s.now().Sub(start).Seconds()
	if err != nil {
		if geometry.IsPermanent(err) {
			s.metrics.Computation(policy.Version, "refused", elapsed)
			if rerr := s.Refuse(ctx, id.Dataset, id.RootID, err.Error()); rerr != nil {
				log.WithError(rerr).Warn("could not record refusal")
			}
			return nil, skeleton.NewError(skeleton.ErrRefusedID, id.Dataset, id.RootID, err)
		}
		s.metrics.Computation(policy.Version, "failed", elapsed)
		log.WithError(err).Error("skeleton computation failed")
		return nil, skeleton.NewError(skeleton.ErrComputation, id.Dataset, id.RootID, err)
	}
	if err := tree.Validate(); err != nil {
		s.metrics.Computation(policy.Version, "invalid", elapsed)
		log.WithError(err).Error("geometry returned a malformed tree")
		return nil, skeleton.NewError(skeleton.ErrComputation, id.Dataset, id.RootID, err)
	}
	s.metrics.Computation(policy.Version, "ok", elapsed)

	if tree.Meta == nil {
		tree.Meta = map[string]string{}
	}
	tree.Meta[skeleton.MetaVersion] = strconv.Itoa(policy.Version)
	tree.Meta[skeleton.MetaRootID] = strconv.FormatUint(id.RootID, 10)
	tree.Meta[skeleton.MetaDataset] = id.Dataset
	tree.Meta[skeleton.MetaResolution] = id.Resolution.Attribute()
	tree.Meta[skeleton.MetaCollapseSoma] = strconv.FormatBool(id.CollapseSoma)
	tree.Meta[skeleton.MetaCollapseRadius] = strconv.FormatFloat(id.CollapseRadius, 'f', -1, 64)
	tree.Meta[skeleton.MetaGeneratedAt] = s.now().UTC().Format(time.RFC3339)
	return tree, nil
}

func render(tree *skeleton.Tree, stored []byte, sf skeleton.StorageFormat, out skeleton.OutputFormat) ([]byte, error) {
	if sf == skeleton.StorageH5 && out == skeleton.FormatCompressed {
		return stored, nil
	}
	c, err := codec.ForOutput(out)
	if err != nil {
		return nil, err
	}
	return c.Encode(tree)
}

func (s *Service) fields(id skeleton.Identity, policy skeleton.Policy) logrus.FieldLogger {
	return s.log.WithFields(logrus.Fields{
		"dataset": id.Dataset,
		"root_id": id.RootID,
		"version": policy.Version,
		"format":  id.Format,
	})
}
