//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 400 or 404 (or even 204), whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500 or 503, or something else if appropriate.
//
// The initial list of errors were more or less grouped by topic, but the list grows with time in a random fashion.
// NEVER change any of the current error codes, only append new errors after the current last 4XXX or 5XXX
// If you notice there's a gap (say, error code 4010, 4011 and 4013 exist, 4012 is missing) DON'T fill in the gap,
// that code was used in the past for some error (not anymore) and shouldn't be reused.
// There's no correlation between Code and HTTP Status,
// for example the fact that Code 4045 returns HTTP Status 404 Not Found is just a coincidence
//
// Do note that HTTPstatus 204 No Content implies the response body will be empty,
// so the Code and Message will actually be discarded, never sent to the client
var (
	ErrResourceNotFound    = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody       = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrInvalidSignature    = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid signature")}
	ErrMalformedParam      = Error{Code: 40015, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed parameter")}
	ErrUnauthorized        = Error{Code: 40014, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("unauthorized")}

	// Request-validation errors (never mutate state; spec §7 "Validation errors").
	ErrDuplicateClientRequestID = Error{Code: 40023, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("client_request_id is already known")}
	ErrUnknownRequestType       = Error{Code: 40024, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("unknown request_type")}
	ErrUnknownWithdrawalAddress = Error{Code: 40025, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("withdrawal address is not whitelisted")}
	ErrGasPriceExceedsCap       = Error{Code: 40026, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("gas_price_wei exceeds max_allowed_gas_price_wei")}
	ErrRequestNotFound          = Error{Code: 40027, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("client_request_id not found")}
	ErrRequestAlreadyFinalised  = Error{Code: 40028, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("request is already finalised")}

	// Race errors: caller must retry once the nonce is assigned (spec §7).
	ErrNonceNotYetAssigned = Error{Code: 40029, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("RETRY. Insert pending")}

	// Venue-side errors, surfaced from the Chain Client (spec §7).
	ErrTransactionFailed   = Error{Code: 40030, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("transaction failed")}
	ErrCancelWindowClosed  = Error{Code: 40031, HTTPstatus: http.StatusRequestTimeout, Err: fmt.Errorf("cancel window closed: original transaction already mined")}
	ErrInsufficientFunds   = Error{Code: 40032, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("insufficient funds")}
	ErrUnknownVenue        = Error{Code: 40033, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("unknown venue")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrNotReady                   = Error{Code: 50003, HTTPstatus: http.StatusServiceUnavailable, Err: fmt.Errorf("service not ready")}
)
