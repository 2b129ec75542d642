package api

import "strings"

// Route constants for the API endpoints.

const (
	// Health/readiness endpoints.
	PingEndpoint   = "/ping"
	StatusEndpoint = "/public/status"

	// Private (authenticated, state-mutating) endpoints.
	ApproveTokenEndpoint = "/private/approve-token" // POST: submit APPROVE
	WithdrawEndpoint     = "/private/withdraw"      // POST: submit whitelisted TRANSFER
	InsertOrderEndpoint  = "/private/insert-order"  // POST: submit ORDER
	AmendRequestEndpoint = "/private/amend-request" // POST: replace a PENDING request at the same nonce
	CancelRequestEndpoint = "/private/cancel-request" // DELETE: cancel one request by id
	CancelAllEndpoint    = "/private/cancel-all"     // DELETE: cancel every open request of a type

	// Public (read-only) endpoints.
	GetAllOpenRequestsEndpoint = "/public/get-all-open-requests" // GET: ?request_type=
	GetRequestStatusEndpoint   = "/public/get-request-status"    // GET: ?client_request_id=

	// Query parameter names.
	RequestTypeQueryParam       = "request_type"
	ClientRequestIDQueryParam   = "client_request_id"

	// WebSocket endpoint: JSON-RPC 2.0 subscribe/unsubscribe over channel names.
	WebSocketEndpoint = "/ws"
)

// EndpointWithParam creates an endpoint URL by replacing the parameter
// placeholder with the actual value.
func EndpointWithParam(path, key, param string) string {
	return strings.Replace(path, "{"+key+"}", param, 1)
}

// LogExcludedPrefixes defines URL prefixes to exclude from request logging.
var LogExcludedPrefixes = []string{
	PingEndpoint,
	StatusEndpoint,
}
