package skeleton

import (
	"fmt"
	"regexp"
	"strconv"
)

// KeyTemplate is the artifact naming scheme shared with previously stored
// artifacts. Its segments are version, root id, dataset, resolution,
// soma-collapse flag, collapse radius and storage format.
const KeyTemplate = "skeleton__v%d__rid-%d__ds-%s__res-%s__cs-%s__cr-%s.%s.gz"

// EncodeKey renders the artifact key for identity at a resolved version.
// identity.Version is ignored; the caller passes the version it resolved.
func EncodeKey(identity Identity, version int, format StorageFormat) string {
	return encodeWith(KeyTemplate, identity, version, format)
}

func encodeWith(template string, identity Identity, version int, format StorageFormat) string {
	return fmt.Sprintf(template,
		version,
		identity.RootID,
		identity.Dataset,
		identity.Resolution.String(),
		pyBool(identity.CollapseSoma),
		formatNumber(identity.CollapseRadius),
		format,
	)
}

// ListPrefix is the key prefix shared by every artifact of a version whose
// root id starts with idPrefix.
func ListPrefix(version int, idPrefix string) string {
	return fmt.Sprintf("skeleton__v%d__rid-%s", version, idPrefix)
}

// KeyInfo is the subset of a key needed for listing cache contents.
type KeyInfo struct {
	Key           string        `json:"key"`
	Version       int           `json:"version"`
	RootID        uint64        `json:"root_id"`
	Dataset       string        `json:"dataset"`
	StorageFormat StorageFormat `json:"format"`
}

var keyPattern = regexp.MustCompile(`^skeleton__v(-?\d+)__rid-(\d+)__ds-(.+?)__res-[^_]+__cs-(?:True|False)__cr-.+\.([a-z0-9]+)\.gz$`)

// ParseKey recovers version, root id, dataset and format from a key.
func ParseKey(key string) (KeyInfo, error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return KeyInfo{}, fmt.Errorf("not a skeleton key: %q", key)
	}
	version, err := strconv.Atoi(m[1])
	if err != nil {
		return KeyInfo{}, fmt.Errorf("parse version in %q: %w", key, err)
	}
	rootID, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("parse root id in %q: %w", key, err)
	}
	return KeyInfo{
		Key:           key,
		Version:       version,
		RootID:        rootID,
		Dataset:       m[3],
		StorageFormat: StorageFormat(m[4]),
	}, nil
}
