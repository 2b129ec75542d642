package api

import "github.com/dexproxy/dexproxy/core/request"

// ApproveTokenRequest is the body of POST /private/approve-token.
type ApproveTokenRequest struct {
	ClientRequestID string `json:"client_request_id"`
	Venue           string `json:"venue"`
	Symbol          string `json:"symbol"`
	Spender         string `json:"spender"`
	Amount          string `json:"amount"`
	GasPriceWei     string `json:"gas_price_wei,omitempty"`
}

// WithdrawRequest is the body of POST /private/withdraw.
type WithdrawRequest struct {
	ClientRequestID string `json:"client_request_id"`
	Venue           string `json:"venue"`
	ToAddress       string `json:"to_address"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	GasPriceWei     string `json:"gas_price_wei,omitempty"`
}

// InsertOrderRequest is the body of POST /private/insert-order.
type InsertOrderRequest struct {
	ClientRequestID string `json:"client_request_id"`
	Venue           string `json:"venue"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	OrderType       string `json:"order_type,omitempty"`
	Quantity        string `json:"quantity"`
	Price           string `json:"price"`
	GasPriceWei     string `json:"gas_price_wei,omitempty"`
	DeadlineSec     int64  `json:"deadline_s,omitempty"`
}

// AmendRequestBody is the body of POST /private/amend-request.
type AmendRequestBody struct {
	ClientRequestID string `json:"client_request_id"`
	Quantity        string `json:"quantity,omitempty"`
	Price           string `json:"price,omitempty"`
	GasPriceWei     string `json:"gas_price_wei,omitempty"`
}

// CancelRequestBody is the body of DELETE /private/cancel-request.
type CancelRequestBody struct {
	ClientRequestID string `json:"client_request_id"`
	GasPriceWei     string `json:"gas_price_wei,omitempty"`
}

// CancelAllRequestBody is the body of DELETE /private/cancel-all.
type CancelAllRequestBody struct {
	RequestType request.Type `json:"request_type"`
}

// TxResult is the `{tx_hash}` success body shared by approve-token/withdraw.
type TxResult struct {
	TxHash string `json:"tx_hash"`
}

// OrderResult wraps {tx_hash, nonce} under "result", per spec §6.
type OrderResult struct {
	Result struct {
		TxHash string `json:"tx_hash"`
		Nonce  uint64 `json:"nonce"`
	} `json:"result"`
}

// TxResultWrapped wraps {tx_hash} under "result" for amend/cancel responses.
type TxResultWrapped struct {
	Result TxResult `json:"result"`
}

// CancelAllResult is the success body for DELETE /private/cancel-all.
type CancelAllResult struct {
	CancelRequested []string `json:"cancel_requested"`
	FailedCancels   []string `json:"failed_cancels"`
}

// StatusResponse is the success body for GET /public/status.
type StatusResponse struct {
	Status string `json:"status"`
}
