package skeleton

import (
	"errors"
	"fmt"
)

// kindError is a sentinel that can nest under a broader kind, so that
// errors.Is(ErrWrongLayer, ErrInvalidID) holds.
type kindError struct {
	msg    string
	parent error
}

func (k *kindError) Error() string { return k.msg }

func (k *kindError) Unwrap() error { return k.parent }

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUnsupportedVersion = errors.New("unsupported skeleton version")
	ErrUnsupportedFormat  = errors.New("unsupported output format")
	ErrInvalidID          = errors.New("invalid root id")
	ErrWrongLayer         error = &kindError{msg: "root id is below the minimum layer", parent: ErrInvalidID}
	ErrNonexistentID      error = &kindError{msg: "root id does not exist", parent: ErrInvalidID}
	ErrRefusedID          = errors.New("root id is on the refusal list")

	ErrComputation          = errors.New("skeleton computation failed")
	ErrStoreUnavailable     = errors.New("object store unavailable")
	ErrTransportUnavailable = errors.New("message transport unavailable")
)

// Error carries the failing dataset and root id alongside its kind.
type Error struct {
	Kind    error
	Dataset string
	RootID  uint64
	Err     error
}

func NewError(kind error, dataset string, rootID uint64, err error) *Error {
	return &Error{Kind: kind, Dataset: dataset, RootID: rootID, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind != nil && errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%v: dataset=%s root_id=%d", e.Err, e.Dataset, e.RootID)
	}
	msg := fmt.Sprintf("%v: dataset=%s root_id=%d", e.Kind, e.Dataset, e.RootID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Transient reports whether the failure may succeed on a later attempt.
func (e *Error) Transient() bool {
	return isTransientKind(e.Kind)
}

func isTransientKind(kind error) bool {
	return errors.Is(kind, ErrComputation) ||
		errors.Is(kind, ErrStoreUnavailable) ||
		errors.Is(kind, ErrTransportUnavailable)
}

// IsTransient reports whether err is one of the transient kinds. Errors
// that carry no kind at all are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Transient()
	}
	return !IsClientError(err)
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrRefusedID)
}

// kinds is ordered most specific first.
var kinds = []error{
	ErrWrongLayer,
	ErrNonexistentID,
	ErrInvalidID,
	ErrInvalidRequest,
	ErrUnsupportedVersion,
	ErrUnsupportedFormat,
	ErrRefusedID,
	ErrStoreUnavailable,
	ErrTransportUnavailable,
	ErrComputation,
}

// KindOf returns the most specific sentinel kind err carries, or fallback.
func KindOf(err error, fallback error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return fallback
}

// KindName returns a stable snake_case name for the kind of err.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrWrongLayer):
		return "wrong_layer"
	case errors.Is(err, ErrNonexistentID):
		return "nonexistent_id"
	case errors.Is(err, ErrInvalidID):
		return "invalid_id"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrRefusedID):
		return "refused_id"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrTransportUnavailable):
		return "transport_unavailable"
	case errors.Is(err, ErrComputation):
		return "computation_error"
	default:
		return "internal"
	}
}
