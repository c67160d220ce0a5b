package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"skeletoncache/internal/gateway/service/skeletons"
	"skeletoncache/internal/skeleton"
)

// SkeletonService is what the HTTP surface needs from the cache.
type SkeletonService interface {
	GetSkeleton(ctx context.Context, id skeleton.Identity) (*skeletons.Result, error)
	GetBulkSkeletons(ctx context.Context, req skeletons.BulkRequest) (*skeletons.BulkResult, error)
	GenerateBulkAsync(ctx context.Context, req skeletons.BulkRequest) (*skeletons.BulkResult, error)
	Exists(ctx context.Context, template skeleton.Identity, rootIDs []uint64) (map[uint64]bool, error)
	CacheContents(ctx context.Context, dataset string, version int, idPrefix string, limit int) ([]skeleton.KeyInfo, error)
	SupportedVersions() []skeletons.VersionInfo
}

type SkeletonHandler struct {
	svc SkeletonService
}

func NewSkeletonHandler(svc SkeletonService) *SkeletonHandler {
	return &SkeletonHandler{svc: svc}
}

// HandleGet serves GET /skeleton/{dataset}/{id}.
func (h *SkeletonHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rootID, err := parseRootID(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := identityFromRequest(r, rootID)
	if err != nil {
		writeError(w, skeleton.NewError(skeleton.KindOf(err, skeleton.ErrInvalidRequest), id.Dataset, rootID, err))
		return
	}
	res, err := h.svc.GetSkeleton(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("X-Skeleton-Version", strconv.Itoa(res.Identity.Version))
	w.Header().Set("X-Cache", cacheHeader(res.CacheHit))
	if res.Identity.Format == skeleton.FormatCompressed || res.Identity.Format == skeleton.FormatPrecomputed {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(res)))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

type bulkResponse struct {
	Skeletons        map[string]any `json:"skeletons"`
	Submitted        []string       `json:"submitted"`
	Refused          []string       `json:"refused,omitempty"`
	Dropped          []string       `json:"dropped,omitempty"`
	EstimatedSeconds int            `json:"estimated_seconds"`
}

// HandleBulk serves GET /skeletons/{dataset}?ids=.
func (h *SkeletonHandler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	req, err := bulkFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.MaxSynchronous, err = queryInt(r.URL.Query(), "max_synchronous"); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.GetBulkSkeletons(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBulkResponse(res))
}

type generateRequest struct {
	RootIDs      []json.Number `json:"root_ids"`
	HighPriority bool          `json:"high_priority"`
}

// maxGenerateBody fits the async cap of ids written as JSON numbers.
const maxGenerateBody = 1 << 20

// HandleGenerate serves POST /skeletons/{dataset}/generate.
func (h *SkeletonHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var in generateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerateBody))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
				Kind:  skeleton.KindName(skeleton.ErrInvalidRequest),
			})
			return
		}
		writeError(w, fmt.Errorf("%w: invalid json body: %v", skeleton.ErrInvalidRequest, err))
		return
	}
	tmpl, err := identityFromRequest(r, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	req := skeletons.BulkRequest{Template: tmpl, HighPriority: in.HighPriority}
	for _, n := range in.RootIDs {
		id, err := parseRootID(n.String())
		if err != nil {
			writeError(w, err)
			return
		}
		req.RootIDs = append(req.RootIDs, id)
	}
	if len(req.RootIDs) == 0 {
		writeError(w, fmt.Errorf("%w: root_ids is required", skeleton.ErrInvalidRequest))
		return
	}
	if !req.HighPriority {
		if req.HighPriority, err = queryBool(r.URL.Query(), "high_priority"); err != nil {
			writeError(w, err)
			return
		}
	}
	res, err := h.svc.GenerateBulkAsync(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toBulkResponse(res))
}

// HandleExists serves GET /skeletons/{dataset}/exist?ids=.
func (h *SkeletonHandler) HandleExists(w http.ResponseWriter, r *http.Request) {
	ids, err := parseRootIDs(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	tmpl, err := identityFromRequest(r, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	found, err := h.svc.Exists(r.Context(), tmpl, ids)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[string]bool, len(found))
	for id, ok := range found {
		out[strconv.FormatUint(id, 10)] = ok
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCacheContents serves GET /cache/{dataset}/contents.
func (h *SkeletonHandler) HandleCacheContents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	version := skeleton.LatestVersion
	if v := strings.TrimSpace(q.Get("version")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, fmt.Errorf("%w: version %q", skeleton.ErrUnsupportedVersion, v))
			return
		}
		version = n
	}
	limit, err := queryInt(q, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	infos, err := h.svc.CacheContents(r.Context(), r.PathValue("dataset"), version, strings.TrimSpace(q.Get("prefix")), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(infos),
		"keys":  infos,
	})
}

// HandleVersions serves GET /versions.
func (h *SkeletonHandler) HandleVersions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"versions": h.svc.SupportedVersions()})
}

func bulkFromQuery(r *http.Request) (skeletons.BulkRequest, error) {
	ids, err := parseRootIDs(r.URL.Query())
	if err != nil {
		return skeletons.BulkRequest{}, err
	}
	tmpl, err := identityFromRequest(r, 0)
	if err != nil {
		return skeletons.BulkRequest{}, err
	}
	high, err := queryBool(r.URL.Query(), "high_priority")
	if err != nil {
		return skeletons.BulkRequest{}, err
	}
	return skeletons.BulkRequest{Template: tmpl, RootIDs: ids, HighPriority: high}, nil
}

func toBulkResponse(res *skeletons.BulkResult) bulkResponse {
	out := bulkResponse{
		Skeletons:        make(map[string]any, len(res.Skeletons)),
		Submitted:        idStrings(res.Submitted),
		Refused:          idStrings(res.Refused),
		Dropped:          idStrings(res.Dropped),
		EstimatedSeconds: res.EstimatedSeconds,
	}
	for id, r := range res.Skeletons {
		out.Skeletons[strconv.FormatUint(id, 10)] = bulkEntry(r)
	}
	return out
}

// bulkEntry embeds dict output as JSON and swc as text. Binary formats
// are base64 encoded by encoding/json.
func bulkEntry(r *skeletons.Result) any {
	switch r.Identity.Format {
	case skeleton.FormatDict:
		return json.RawMessage(r.Data)
	case skeleton.FormatSWC:
		return string(r.Data)
	default:
		return r.Data
	}
}

func idStrings(ids []uint64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatUint(id, 10))
	}
	return out
}

func cacheHeader(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}

func downloadName(res *skeletons.Result) string {
	ext := "bin"
	if res.Identity.Format == skeleton.FormatCompressed {
		ext = "h5.gz"
	}
	return fmt.Sprintf("skeleton_v%d_%d.%s", res.Identity.Version, res.Identity.RootID, ext)
}
