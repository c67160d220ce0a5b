package skeleton

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// LatestVersion asks the registry for the newest non-deprecated version.
const LatestVersion = -1

const (
	DefaultCollapseRadius = 7500
	DefaultCollapseSoma   = true
)

// OutputFormat is the client-facing representation of a skeleton.
type OutputFormat string

const (
	FormatDict        OutputFormat = "dict"
	FormatSWC         OutputFormat = "swc"
	FormatCompressed  OutputFormat = "compressed"
	FormatPrecomputed OutputFormat = "precomputed"
)

var outputFormatAliases = map[string]OutputFormat{
	"dict":              FormatDict,
	"tree-dict":         FormatDict,
	"json":              FormatDict,
	"swc":               FormatSWC,
	"compressed":        FormatCompressed,
	"compressed-binary": FormatCompressed,
	"h5":                FormatCompressed,
	"precomputed":       FormatPrecomputed,
}

// OutputFormats lists every output format in a stable order.
func OutputFormats() []OutputFormat {
	return []OutputFormat{FormatDict, FormatSWC, FormatCompressed, FormatPrecomputed}
}

func ParseOutputFormat(raw string) (OutputFormat, error) {
	f, ok := outputFormatAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
	return f, nil
}

// StorageFormat is the on-bucket encoding named in the artifact key.
type StorageFormat string

const (
	StorageH5          StorageFormat = "h5"
	StorageSWC         StorageFormat = "swc"
	StoragePrecomputed StorageFormat = "precomputed"
)

// Resolution is the voxel resolution, in nanometers, of the returned coordinates.
type Resolution [3]float64

var DefaultResolution = Resolution{1, 1, 1}

// String renders the key segment form, e.g. "1x1x1".
func (r Resolution) String() string {
	return formatNumber(r[0]) + "x" + formatNumber(r[1]) + "x" + formatNumber(r[2])
}

// Attribute renders the space-separated form used on the message transport.
func (r Resolution) Attribute() string {
	return formatNumber(r[0]) + " " + formatNumber(r[1]) + " " + formatNumber(r[2])
}

// ParseResolution accepts "x y z", "x,y,z" or "xXyXz".
func ParseResolution(raw string) (Resolution, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(raw), func(r rune) bool {
		return r == ' ' || r == ',' || r == 'x'
	})
	if len(fields) != 3 {
		return Resolution{}, fmt.Errorf("%w: resolution %q needs three components", ErrInvalidRequest, raw)
	}
	var res Resolution
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: resolution %q: %v", ErrInvalidRequest, raw, err)
		}
		res[i] = v
	}
	return res, nil
}

// Identity is everything that makes two skeleton requests cache-equivalent.
type Identity struct {
	Dataset        string
	RootID         uint64
	Version        int
	Resolution     Resolution
	CollapseSoma   bool
	CollapseRadius float64
	Format         OutputFormat
}

// NewIdentity fills in the request defaults.
func NewIdentity(dataset string, rootID uint64) Identity {
	return Identity{
		Dataset:        dataset,
		RootID:         rootID,
		Version:        LatestVersion,
		Resolution:     DefaultResolution,
		CollapseSoma:   DefaultCollapseSoma,
		CollapseRadius: DefaultCollapseRadius,
		Format:         FormatDict,
	}
}

var datasetPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateDataset rejects names that would make key encoding ambiguous.
func ValidateDataset(name string) error {
	if !datasetPattern.MatchString(name) || strings.Contains(name, "__") {
		return fmt.Errorf("%w: dataset name %q", ErrInvalidRequest, name)
	}
	return nil
}

func (id Identity) Validate() error {
	if err := ValidateDataset(id.Dataset); err != nil {
		return err
	}
	if id.RootID == 0 {
		return fmt.Errorf("%w: root id is required", ErrInvalidRequest)
	}
	for _, v := range id.Resolution {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: resolution %s", ErrInvalidRequest, id.Resolution.Attribute())
		}
	}
	if math.IsNaN(id.CollapseRadius) || math.IsInf(id.CollapseRadius, 0) || id.CollapseRadius < 0 {
		return fmt.Errorf("%w: collapse radius %v", ErrInvalidRequest, id.CollapseRadius)
	}
	switch id.Format {
	case FormatDict, FormatSWC, FormatCompressed, FormatPrecomputed:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, id.Format)
	}
	return nil
}

func formatNumber(v float64) string {
	if v == 0 {
		// Negative zero renders as "-0".
		v = 0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
