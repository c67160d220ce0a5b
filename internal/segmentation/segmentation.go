// Package segmentation pre-checks root ids against the chunked graph
// before any expensive work is attempted.
package segmentation

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"resty.dev/v3"

	"skeletoncache/internal/skeleton"
)

// DefaultLayerBits is the width of the layer field at the top of an id.
const DefaultLayerBits = 8

// Layer returns the graph layer encoded in the high bits of id.
func Layer(id uint64, layerBits int) int {
	if layerBits <= 0 || layerBits >= 64 {
		layerBits = DefaultLayerBits
	}
	return int(id >> (64 - layerBits))
}

// Validator decides whether an id is a root skeletons can be built for.
// It fails with skeleton.ErrWrongLayer or skeleton.ErrNonexistentID for bad
// ids; any other error means the check itself could not be made.
type Validator interface {
	ValidateRoot(ctx context.Context, dataset string, rootID uint64, minLayer int) error
}

// LayerValidator checks only the layer bits, without a network call.
type LayerValidator struct {
	LayerBits int
}

func (v LayerValidator) ValidateRoot(_ context.Context, dataset string, rootID uint64, minLayer int) error {
	return checkLayer(dataset, rootID, minLayer, v.LayerBits)
}

func checkLayer(dataset string, rootID uint64, minLayer, layerBits int) error {
	if layer := Layer(rootID, layerBits); layer < minLayer {
		return fmt.Errorf("%w: id %d in %s is layer %d, need at least %d",
			skeleton.ErrWrongLayer, rootID, dataset, layer, minLayer)
	}
	return nil
}

// HTTPValidator checks the layer locally, then asks the segmentation
// service whether the id is a current root.
type HTTPValidator struct {
	client    *resty.Client
	layerBits int
}

func NewHTTPValidator(baseURL string, layerBits int, timeout time.Duration) *HTTPValidator {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &HTTPValidator{client: c, layerBits: layerBits}
}

type validNodesRequest struct {
	NodeIDs []string `json:"node_ids"`
}

type validNodesResponse struct {
	ValidRoots []string `json:"valid_roots"`
}

func (v *HTTPValidator) ValidateRoot(ctx context.Context, dataset string, rootID uint64, minLayer int) error {
	if err := checkLayer(dataset, rootID, minLayer, v.layerBits); err != nil {
		return err
	}
	id := fmt.Sprintf("%d", rootID)
	var out validNodesResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetBody(validNodesRequest{NodeIDs: []string{id}}).
		SetResult(&out).
		Post("/segmentation/api/v1/table/" + url.PathEscape(dataset) + "/valid_nodes")
	if err != nil {
		return fmt.Errorf("validate root %d: %w", rootID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("validate root %d: segmentation status %d: %s", rootID, resp.StatusCode(), resp.String())
	}
	if !slices.Contains(out.ValidRoots, id) {
		return fmt.Errorf("%w: id %d is not a current root of %s", skeleton.ErrNonexistentID, rootID, dataset)
	}
	return nil
}
