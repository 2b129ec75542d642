package api

import (
	"errors"

	"github.com/dexproxy/dexproxy/core/lifecycle"
)

// mapLifecycleErr translates a lifecycle.Manager error into the Error this
// package's handlers write back to the caller, per the error taxonomy:
// validation errors never mutate state, venue-side errors surface as 400
// (408 for a closed cancel window), and race/store errors ask the caller to
// retry rather than exposing internal detail.
func mapLifecycleErr(err error) Error {
	switch {
	case errors.Is(err, lifecycle.ErrAlreadyKnown):
		return ErrDuplicateClientRequestID
	case errors.Is(err, lifecycle.ErrNotFound):
		return ErrRequestNotFound
	case errors.Is(err, lifecycle.ErrAlreadyFinalised):
		return ErrRequestAlreadyFinalised
	case errors.Is(err, lifecycle.ErrUnknownVenue):
		return ErrUnknownVenue
	case errors.Is(err, lifecycle.ErrWithdrawalNotWhitelisted):
		return ErrUnknownWithdrawalAddress
	case errors.Is(err, lifecycle.ErrNonceNotYetAssigned):
		return ErrNonceNotYetAssigned
	case errors.Is(err, lifecycle.ErrInvalidGasPrice):
		return ErrGasPriceExceedsCap.WithErr(err)
	case errors.Is(err, lifecycle.ErrCancelWindowClosed):
		return ErrCancelWindowClosed
	default:
		// everything else reaching here is a venue/chain-side failure (gas
		// oracle, transaction build or submission); a failed first
		// submission has already been finalised FAILED by the manager, so
		// the caller just needs the 400 and the reason.
		return ErrTransactionFailed.WithErr(err)
	}
}
