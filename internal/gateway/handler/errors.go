package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"skeletoncache/internal/skeleton"
)

type errorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Dataset string `json:"dataset,omitempty"`
	RootID  string `json:"root_id,omitempty"`
}

// statusFor maps error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, skeleton.ErrNonexistentID):
		return http.StatusNotFound
	case errors.Is(err, skeleton.ErrRefusedID):
		return http.StatusUnprocessableEntity
	case errors.Is(err, skeleton.ErrInvalidID),
		errors.Is(err, skeleton.ErrInvalidRequest),
		errors.Is(err, skeleton.ErrUnsupportedVersion),
		errors.Is(err, skeleton.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, skeleton.ErrStoreUnavailable),
		errors.Is(err, skeleton.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), Kind: skeleton.KindName(err)}
	var se *skeleton.Error
	if errors.As(err, &se) {
		body.Dataset = se.Dataset
		if se.RootID != 0 {
			body.RootID = strconv.FormatUint(se.RootID, 10)
		}
	}
	writeJSON(w, statusFor(err), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
