package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dexproxy/dexproxy/log"
)

// Error satisfies the error interface and is the JSON body every API
// handler returns on failure.
//
// Codes in the 40001-49999 range are the caller's fault and map to HTTP 4xx.
// Codes in the 50001-59999 range are the server's fault and map to HTTP 5xx.
// Never reuse or fill gaps in the numbering: once a code has shipped it
// keeps its meaning even after the code path that produced it is removed.
type Error struct {
	Code       int
	HTTPstatus int
	Err        error
}

// Error implements the error interface.
func (e Error) Error() string {
	return e.Err.Error()
}

// Withf returns a copy of e with Err replaced by a formatted message,
// keeping Code and HTTPstatus.
func (e Error) Withf(format string, args ...any) Error {
	e.Err = fmt.Errorf(format, args...)
	return e
}

// WithErr returns a copy of e wrapping err, keeping Code and HTTPstatus.
func (e Error) WithErr(err error) Error {
	e.Err = fmt.Errorf("%s: %w", e.Err.Error(), err)
	return e
}

// errorDetail is nested under "error" in the wire representation, matching
// the common {error:{code?, message}} shape every endpoint returns.
type errorDetail struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// Write sends e as a JSON error response with its HTTPstatus.
func (e Error) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPstatus)
	if err := json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: e.Code, Message: e.Err.Error()}}); err != nil {
		log.Warnw("failed to write error response", "error", err)
	}
}
