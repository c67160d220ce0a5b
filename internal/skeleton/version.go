package skeleton

import (
	"fmt"
	"maps"
	"slices"
	"sort"
)

// ComputeParams are the per-version knobs handed to the geometry collaborator.
type ComputeParams struct {
	EstimateRadius       bool    `json:"estimate_radius"`
	LabelCompartments    bool    `json:"label_compartments"`
	AnchorLevel2         bool    `json:"anchor_level2"`
	InvalidationDistance float64 `json:"invalidation_distance"`
}

// Policy is the fixed computation and storage behavior of one skeleton
// version. A released policy never changes; new behavior gets a new version.
type Policy struct {
	Version      int
	MinRootLayer int
	// Formats maps each supported output format to the storage format it is
	// served from.
	Formats map[OutputFormat]StorageFormat
	// StoredFormats is the companion set written after every computation.
	StoredFormats []StorageFormat
	KeyTemplate   string
	Deprecated    bool
	Params        ComputeParams
}

func (p Policy) Supports(f OutputFormat) bool {
	_, ok := p.Formats[f]
	return ok
}

func (p Policy) StorageFormatFor(f OutputFormat) (StorageFormat, bool) {
	sf, ok := p.Formats[f]
	return sf, ok
}

// Key renders the artifact key for identity under this policy.
func (p Policy) Key(identity Identity, format StorageFormat) string {
	template := p.KeyTemplate
	if template == "" {
		template = KeyTemplate
	}
	return encodeWith(template, identity, p.Version, format)
}

// CompanionFormats is StoredFormats plus primary, without duplicates.
func (p Policy) CompanionFormats(primary StorageFormat) []StorageFormat {
	out := make([]StorageFormat, 0, len(p.StoredFormats)+1)
	out = append(out, primary)
	for _, f := range p.StoredFormats {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

func (p Policy) clone() Policy {
	p.Formats = maps.Clone(p.Formats)
	p.StoredFormats = slices.Clone(p.StoredFormats)
	return p
}

// Registry is the immutable version table, fixed at process start.
type Registry struct {
	policies map[int]Policy
	versions []int
	latest   int
}

func NewRegistry(policies ...Policy) (*Registry, error) {
	r := &Registry{policies: make(map[int]Policy, len(policies)), latest: LatestVersion}
	for _, p := range policies {
		if p.Version < 0 {
			return nil, fmt.Errorf("version %d: versions must be non-negative", p.Version)
		}
		if _, dup := r.policies[p.Version]; dup {
			return nil, fmt.Errorf("version %d registered twice", p.Version)
		}
		if len(p.Formats) == 0 {
			return nil, fmt.Errorf("version %d supports no formats", p.Version)
		}
		for out, sf := range p.Formats {
			if !slices.Contains(p.StoredFormats, sf) {
				return nil, fmt.Errorf("version %d serves %s from %s which it never stores", p.Version, out, sf)
			}
		}
		r.policies[p.Version] = p.clone()
		r.versions = append(r.versions, p.Version)
		if !p.Deprecated && p.Version > r.latest {
			r.latest = p.Version
		}
	}
	if r.latest == LatestVersion {
		return nil, fmt.Errorf("registry has no non-deprecated version")
	}
	sort.Ints(r.versions)
	return r, nil
}

// Resolve returns the policy for version; LatestVersion selects the highest
// non-deprecated one.
func (r *Registry) Resolve(version int) (Policy, error) {
	if version == LatestVersion {
		version = r.latest
	}
	p, ok := r.policies[version]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	return p.clone(), nil
}

// SupportedVersions lists every registered version in ascending order.
func (r *Registry) SupportedVersions() []int {
	return slices.Clone(r.versions)
}

func (r *Registry) Latest() int {
	return r.latest
}

var allFormatsFromH5 = map[OutputFormat]StorageFormat{
	FormatDict:        StorageH5,
	FormatCompressed:  StorageH5,
	FormatPrecomputed: StorageH5,
	FormatSWC:         StorageSWC,
}

// DefaultPolicies is the released version table.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Version:       1,
			MinRootLayer:  2,
			Formats:       map[OutputFormat]StorageFormat{FormatPrecomputed: StoragePrecomputed},
			StoredFormats: []StorageFormat{StoragePrecomputed},
			KeyTemplate:   KeyTemplate,
			Deprecated:    true,
		},
		{
			Version:      2,
			MinRootLayer: 2,
			Formats: map[OutputFormat]StorageFormat{
				FormatPrecomputed: StoragePrecomputed,
				FormatSWC:         StorageSWC,
			},
			StoredFormats: []StorageFormat{StoragePrecomputed, StorageSWC},
			KeyTemplate:   KeyTemplate,
			Deprecated:    true,
			Params:        ComputeParams{EstimateRadius: true},
		},
		{
			Version:       3,
			MinRootLayer:  2,
			Formats:       allFormatsFromH5,
			StoredFormats: []StorageFormat{StorageH5, StorageSWC},
			KeyTemplate:   KeyTemplate,
			Params:        ComputeParams{EstimateRadius: true, LabelCompartments: true},
		},
		{
			Version:       4,
			MinRootLayer:  2,
			Formats:       allFormatsFromH5,
			StoredFormats: []StorageFormat{StorageH5, StorageSWC},
			KeyTemplate:   KeyTemplate,
			Params: ComputeParams{
				EstimateRadius:       true,
				LabelCompartments:    true,
				AnchorLevel2:         true,
				InvalidationDistance: 10000,
			},
		},
	}
}

func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultPolicies()...)
	if err != nil {
		panic(err)
	}
	return r
}
