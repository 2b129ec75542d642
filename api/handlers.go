package api

import (
	"encoding/json"
	"net/http"

	"github.com/dexproxy/dexproxy/core/request"
)

// decodeBody decodes r's JSON body into v, writing ErrMalformedBody and
// returning false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return false
	}
	return true
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	httpWriteJSON(w, StatusResponse{Status: "ok"})
}

func (a *API) approveToken(w http.ResponseWriter, r *http.Request) {
	var body ApproveTokenRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ClientRequestID == "" {
		ErrMalformedBody.Withf("client_request_id is required").Write(w)
		return
	}
	txHash, err := a.manager.ApproveToken(r.Context(), body.ClientRequestID, body.Venue, request.ApproveFields{
		Symbol: body.Symbol,
		Amount: body.Amount,
	}, body.GasPriceWei)
	if err != nil {
		mapLifecycleErr(err).Write(w)
		return
	}
	httpWriteJSON(w, TxResult{TxHash: txHash})
}

func (a *API) withdraw(w http.ResponseWriter, r *http.Request) {
	var body WithdrawRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ClientRequestID == "" {
		ErrMalformedBody.Withf("client_request_id is required").Write(w)
		return
	}
	txHash, err := a.manager.Withdraw(r.Context(), body.ClientRequestID, body.Venue, request.TransferFields{
		Symbol:    body.Token,
		Amount:    body.Amount,
		AddressTo: body.ToAddress,
	}, body.GasPriceWei)
	if err != nil {
		mapLifecycleErr(err).Write(w)
		return
	}
	httpWriteJSON(w, TxResult{TxHash: txHash})
}

func (a *API) insertOrder(w http.ResponseWriter, r *http.Request) {
	var body InsertOrderRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ClientRequestID == "" {
		ErrMalformedBody.Withf("client_request_id is required").Write(w)
		return
	}
	orderType := body.OrderType
	if orderType == "" {
		orderType = "LIMIT"
	}
	txHash, nonce, err := a.manager.InsertOrder(r.Context(), body.ClientRequestID, body.Venue, request.OrderFields{
		Symbol:    body.Symbol,
		Side:      body.Side,
		Quantity:  body.Quantity,
		Price:     body.Price,
		OrderType: orderType,
	}, body.GasPriceWei)
	if err != nil {
		mapLifecycleErr(err).Write(w)
		return
	}
	var out OrderResult
	out.Result.TxHash = txHash
	out.Result.Nonce = nonce
	httpWriteJSON(w, out)
}

func (a *API) amendRequest(w http.ResponseWriter, r *http.Request) {
	var body AmendRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ClientRequestID == "" {
		ErrMalformedBody.Withf("client_request_id is required").Write(w)
		return
	}
	txHash, err := a.manager.AmendRequest(r.Context(), body.ClientRequestID, body.Quantity, body.Price, body.GasPriceWei)
	if err != nil {
		mapLifecycleErr(err).Write(w)
		return
	}
	httpWriteJSON(w, TxResultWrapped{Result: TxResult{TxHash: txHash}})
}

func (a *API) cancelRequest(w http.ResponseWriter, r *http.Request) {
	var body CancelRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ClientRequestID == "" {
		ErrMalformedBody.Withf("client_request_id is required").Write(w)
		return
	}
	txHash, err := a.manager.CancelRequest(r.Context(), body.ClientRequestID, body.GasPriceWei)
	if err != nil {
		mapLifecycleErr(err).Write(w)
		return
	}
	httpWriteJSON(w, TxResultWrapped{Result: TxResult{TxHash: txHash}})
}

func (a *API) cancelAll(w http.ResponseWriter, r *http.Request) {
	var body CancelAllRequestBody
	// cancel-all may be called with an empty body, meaning "every type".
	if r.ContentLength > 0 {
		if !decodeBody(w, r, &body) {
			return
		}
	}
	cancelRequested, failedCancels := a.manager.CancelAll(r.Context(), body.RequestType)
	status := http.StatusOK
	if len(failedCancels) > 0 {
		status = http.StatusBadRequest
	}
	httpWriteJSONStatus(w, status, CancelAllResult{
		CancelRequested: cancelRequested,
		FailedCancels:   failedCancels,
	})
}

func (a *API) getAllOpenRequests(w http.ResponseWriter, r *http.Request) {
	t := request.Type(r.URL.Query().Get(RequestTypeQueryParam))
	httpWriteJSON(w, a.manager.GetAllOpenRequests(t))
}

func (a *API) getRequestStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(ClientRequestIDQueryParam)
	if id == "" {
		ErrMalformedParam.Withf("missing %s", ClientRequestIDQueryParam).Write(w)
		return
	}
	req, err := a.manager.GetRequestStatus(id)
	if err != nil {
		mapLifecycleErr(err).Write(w)
		return
	}
	httpWriteJSON(w, req)
}

func (a *API) ws(w http.ResponseWriter, r *http.Request) {
	if err := a.events.ServeWS(w, r); err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
	}
}
