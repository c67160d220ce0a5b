// Package geometry is the contract with the external skeletonization
// service: an id and parameters in, a tree out, or a classified failure.
package geometry

import (
	"context"
	"errors"
	"fmt"

	"skeletoncache/internal/skeleton"
)

// Params is one skeletonization request.
type Params struct {
	Dataset        string                 `json:"dataset"`
	RootID         uint64                 `json:"root_id,string"`
	Version        int                    `json:"skeleton_version"`
	Resolution     skeleton.Resolution    `json:"resolution"`
	CollapseSoma   bool                   `json:"collapse_soma"`
	CollapseRadius float64                `json:"collapse_radius"`
	Compute        skeleton.ComputeParams `json:"params"`
}

// ParamsFor builds the request for an identity under a resolved policy.
func ParamsFor(id skeleton.Identity, p skeleton.Policy) Params {
	return Params{
		Dataset:        id.Dataset,
		RootID:         id.RootID,
		Version:        p.Version,
		Resolution:     id.Resolution,
		CollapseSoma:   id.CollapseSoma,
		CollapseRadius: id.CollapseRadius,
		Compute:        p.Params,
	}
}

type Skeletonizer interface {
	Skeletonize(ctx context.Context, p Params) (*skeleton.Tree, error)
}

type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureInvalidID
	FailureIncompleteMesh
)

func (k FailureKind) String() string {
	switch k {
	case FailureInvalidID:
		return "invalid_id"
	case FailureIncompleteMesh:
		return "incomplete_mesh"
	default:
		return "unknown"
	}
}

func parseFailureKind(s string) FailureKind {
	switch s {
	case "invalid_id":
		return FailureInvalidID
	case "incomplete_mesh":
		return FailureIncompleteMesh
	default:
		return FailureUnknown
	}
}

// Failure is a skeletonization that did not produce a tree.
type Failure struct {
	Kind FailureKind
	Msg  string
	Err  error
}

func (f *Failure) Error() string {
	msg := "skeletonize: " + f.Kind.String()
	if f.Msg != "" {
		msg += ": " + f.Msg
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Permanent reports whether retrying can never succeed. Only a bad id is
// permanent; an incomplete mesh may be completed later.
func (f *Failure) Permanent() bool {
	return f.Kind == FailureInvalidID
}

// IsPermanent reports whether err carries a permanent Failure.
func IsPermanent(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Permanent()
}

func failuref(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
