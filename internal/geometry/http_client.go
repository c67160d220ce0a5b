package geometry

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"resty.dev/v3"

	"skeletoncache/internal/skeleton"
)

// HTTPClient calls a skeletonization service at POST {base}/skeletonize.
//
// A 200 carries the tree as a dict document. Failures answer with
// {"kind": "invalid_id"|"incomplete_mesh", "error": "..."}; a 404 without a
// kind is read as an invalid id.
type HTTPClient struct {
	client *resty.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &HTTPClient{client: c}
}

type treeResponse struct {
	Vertices    [][3]float64      `json:"vertices"`
	Edges       [][2]int          `json:"edges"`
	Radius      []float64         `json:"radius"`
	Compartment []int             `json:"compartment"`
	Root        int               `json:"root"`
	Meta        map[string]string `json:"meta"`
}

type failureResponse struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func (c *HTTPClient) Skeletonize(ctx context.Context, p Params) (*skeleton.Tree, error) {
	var out treeResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(p).
		SetResult(&out).
		Post("/skeletonize")
	if err != nil {
		return nil, &Failure{Kind: FailureUnknown, Msg: "request failed", Err: err}
	}
	if resp.IsError() {
		return nil, classify(resp.StatusCode(), resp.String())
	}

	t := &skeleton.Tree{
		Vertices:    out.Vertices,
		Radius:      out.Radius,
		Compartment: out.Compartment,
		Edges:       make([]skeleton.Edge, len(out.Edges)),
		Root:        out.Root,
		Meta:        out.Meta,
	}
	for i, e := range out.Edges {
		t.Edges[i] = skeleton.Edge{Parent: e[0], Child: e[1]}
	}
	t.Normalize()
	return t, nil
}

func classify(status int, body string) *Failure {
	var fr failureResponse
	_ = json.Unmarshal([]byte(body), &fr)
	kind := parseFailureKind(fr.Kind)
	if fr.Kind == "" && status == http.StatusNotFound {
		kind = FailureInvalidID
	}
	msg := fr.Error
	if msg == "" {
		msg = strings.TrimSpace(body)
	}
	return failuref(kind, "status %d: %s", status, msg)
}
