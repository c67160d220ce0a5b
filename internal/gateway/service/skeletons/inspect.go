package skeletons

import (
	"context"
	"errors"
	"fmt"

	"skeletoncache/internal/skeleton"
)

var errNoDispatcher = errors.New("no async dispatcher configured")

// VersionInfo describes one registered skeleton version.
type VersionInfo struct {
	Version    int      `json:"version"`
	Deprecated bool     `json:"deprecated"`
	Latest     bool     `json:"latest"`
	Formats    []string `json:"formats"`
}

func (s *Service) SupportedVersions() []VersionInfo {
	latest := s.registry.Latest()
	var out []VersionInfo
	for _, v := range s.registry.SupportedVersions() {
		p, err := s.registry.Resolve(v)
		if err != nil {
			continue
		}
		info := VersionInfo{Version: v, Deprecated: p.Deprecated, Latest: v == latest}
		for _, f := range skeleton.OutputFormats() {
			if p.Supports(f) {
				info.Formats = append(info.Formats, string(f))
			}
		}
		out = append(out, info)
	}
	return out
}

// CacheContents lists stored artifacts of dataset under a version and root
// id prefix. A limit of zero or less means no limit.
func (s *Service) CacheContents(ctx context.Context, dataset string, version int, idPrefix string, limit int) ([]skeleton.KeyInfo, error) {
	dataset = s.canonical(dataset)
	if err := skeleton.ValidateDataset(dataset); err != nil {
		return nil, skeleton.NewError(skeleton.ErrInvalidRequest, dataset, 0, err)
	}
	for _, r := range idPrefix {
		if r < '0' || r > '9' {
			return nil, skeleton.NewError(skeleton.ErrInvalidRequest, dataset, 0, fmt.Errorf("id prefix %q is not numeric", idPrefix))
		}
	}
	policy, err := s.registry.Resolve(version)
	if err != nil {
		return nil, skeleton.NewError(skeleton.ErrUnsupportedVersion, dataset, 0, err)
	}
	keys, err := s.store.List(ctx, skeleton.ListPrefix(policy.Version, idPrefix))
	if err != nil {
		return nil, skeleton.NewError(skeleton.ErrStoreUnavailable, dataset, 0, err)
	}
	out := make([]skeleton.KeyInfo, 0, len(keys))
	for _, k := range keys {
		info, err := skeleton.ParseKey(k)
		if err != nil || info.Dataset != dataset {
			continue
		}
		out = append(out, info)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
