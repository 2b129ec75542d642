package request

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestStatusTransitions(t *testing.T) {
	c := qt.New(t)

	c.Assert(StatusPending.CanTransitionTo(StatusCancelRequested), qt.IsTrue)
	c.Assert(StatusPending.CanTransitionTo(StatusSucceeded), qt.IsTrue)
	c.Assert(StatusCancelRequested.CanTransitionTo(StatusCanceled), qt.IsTrue)
	c.Assert(StatusCancelRequested.CanTransitionTo(StatusPending), qt.IsFalse)
	c.Assert(StatusSucceeded.CanTransitionTo(StatusFailed), qt.IsFalse)
	c.Assert(StatusPending.CanTransitionTo(StatusPending), qt.IsFalse)
}

func TestAppendAttemptKeepsListsParallel(t *testing.T) {
	c := qt.New(t)
	n := uint64(7)
	r := &Request{ClientRequestID: "r1", RequestType: TypeOrder, Nonce: &n, Order: &OrderFields{}}

	r.AppendAttempt("0xAAA", ActionOrder, "1000000000")
	r.AppendAttempt("0xBBB", ActionCancel, "1100000000")

	c.Assert(r.TxHashes, qt.HasLen, 2)
	c.Assert(r.UsedGasPricesWei, qt.HasLen, 2)
	c.Assert(r.Validate(), qt.IsNil)

	last, ok := r.LastAttempt()
	c.Assert(ok, qt.IsTrue)
	c.Assert(last.Action, qt.Equals, ActionCancel)
	c.Assert(r.LastUsedGasPriceWei(), qt.Equals, "1100000000")
}

func TestValidateRejectsCancelWithoutNonce(t *testing.T) {
	c := qt.New(t)
	r := &Request{ClientRequestID: "r1", RequestType: TypeOrder, Order: &OrderFields{}}
	r.TxHashes = append(r.TxHashes, TxAttempt{Hash: "0xAAA", Action: ActionCancel})
	c.Assert(r.Validate(), qt.ErrorMatches, ".*cancel entry without an assigned nonce.*")
}

func TestFromJSONRoundTrip(t *testing.T) {
	c := qt.New(t)
	n := uint64(42)
	r := &Request{
		ClientRequestID: "r1",
		RequestType:     TypeOrder,
		RequestStatus:   StatusPending,
		Nonce:           &n,
		Order:           &OrderFields{Symbol: "BTC-USD", Side: "BUY", Quantity: "0.1", Price: "50000"},
	}
	r.SetTargetedBlockNum(123)

	data, err := json.Marshal(r)
	c.Assert(err, qt.IsNil)

	got, err := FromJSON(data)
	c.Assert(err, qt.IsNil)
	c.Assert(got.ClientRequestID, qt.Equals, "r1")
	c.Assert(*got.Nonce, qt.Equals, uint64(42))
	num, ok := got.TargetedBlockNum()
	c.Assert(ok, qt.IsTrue)
	c.Assert(num, qt.Equals, uint64(123))
}

func TestFromJSONRejectsUnknownType(t *testing.T) {
	c := qt.New(t)
	_, err := FromJSON([]byte(`{"client_request_id":"r1","request_type":"BOGUS"}`))
	c.Assert(err, qt.ErrorMatches, ".*missing fields for request_type.*")
}
