package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"skeletoncache/internal/skeleton"
)

// identityFromRequest reads the shared skeleton parameters from the path
// and query string. rootID may be zero for bulk templates.
func identityFromRequest(r *http.Request, rootID uint64) (skeleton.Identity, error) {
	q := r.URL.Query()
	id := skeleton.NewIdentity(r.PathValue("dataset"), rootID)

	if v := strings.TrimSpace(q.Get("version")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return id, fmt.Errorf("%w: version %q", skeleton.ErrUnsupportedVersion, v)
		}
		id.Version = n
	}
	if v := strings.TrimSpace(q.Get("format")); v != "" {
		f, err := skeleton.ParseOutputFormat(v)
		if err != nil {
			return id, err
		}
		id.Format = f
	}
	if v := strings.TrimSpace(q.Get("resolution")); v != "" {
		res, err := skeleton.ParseResolution(v)
		if err != nil {
			return id, err
		}
		id.Resolution = res
	}
	if v := strings.TrimSpace(q.Get("collapse_soma")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return id, fmt.Errorf("%w: collapse_soma %q", skeleton.ErrInvalidRequest, v)
		}
		id.CollapseSoma = b
	}
	if v := strings.TrimSpace(q.Get("collapse_radius")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return id, fmt.Errorf("%w: collapse_radius %q", skeleton.ErrInvalidRequest, v)
		}
		id.CollapseRadius = f
	}
	return id, nil
}

func parseRootID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: root id %q", skeleton.ErrInvalidRequest, raw)
	}
	return id, nil
}

// parseRootIDs accepts comma separated ids, repeated or not.
func parseRootIDs(q url.Values) ([]uint64, error) {
	var out []uint64
	for _, raw := range q["ids"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, err := parseRootID(part)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: ids is required", skeleton.ErrInvalidRequest)
	}
	return out, nil
}

func queryBool(q url.Values, name string) (bool, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s %q", skeleton.ErrInvalidRequest, name, v)
	}
	return b, nil
}

func queryInt(q url.Values, name string) (int, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", skeleton.ErrInvalidRequest, name, v)
	}
	return n, nil
}
