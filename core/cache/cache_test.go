package cache

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/dexproxy/dexproxy/core/request"
	"github.com/dexproxy/dexproxy/db/metadb"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WriteInterval = 10 * time.Millisecond
	cfg.RetryInterval = 10 * time.Millisecond
	cfg.CleanupInterval = 10 * time.Millisecond
	cfg.CleanupAfter = 0
	return cfg
}

func newOrder(id string) *request.Request {
	return &request.Request{
		ClientRequestID: id,
		RequestType:     request.TypeOrder,
		RequestStatus:   request.StatusPending,
		Order:           &request.OrderFields{Symbol: "BTC-USD", Side: "BUY", Quantity: "0.1", Price: "50000"},
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	c := qt.New(t)
	store := metadb.NewTest(t)
	ca := New(store, testConfig())
	c.Assert(ca.Start(context.Background(), nil), qt.IsNil)
	defer ca.Stop()

	c.Assert(ca.Add(newOrder("r1")), qt.IsNil)
	c.Assert(ca.Add(newOrder("r1")), qt.Equals, ErrAlreadyKnown)
}

func TestFinaliseAndCleanup(t *testing.T) {
	c := qt.New(t)
	store := metadb.NewTest(t)
	ca := New(store, testConfig())
	c.Assert(ca.Start(context.Background(), nil), qt.IsNil)
	defer ca.Stop()

	c.Assert(ca.Add(newOrder("r1")), qt.IsNil)
	c.Assert(ca.FinaliseRequest("r1", request.StatusSucceeded, time.Now().UnixMilli()), qt.IsNil)

	c.Assert(ca.FinaliseRequest("r1", request.StatusFailed, time.Now().UnixMilli()).Error(),
		qt.Contains, "illegal transition")

	// cleanup sweep runs every 10ms with CleanupAfter=0, so r1 should be
	// evicted shortly after finalisation.
	c.Assert(waitUntil(func() bool {
		_, err := ca.Get("r1")
		return err == ErrNotFound
	}, time.Second), qt.IsTrue)
}

func TestRecoversFromStore(t *testing.T) {
	c := qt.New(t)
	store := metadb.NewTest(t)

	ca := New(store, testConfig())
	c.Assert(ca.Start(context.Background(), nil), qt.IsNil)
	c.Assert(ca.Add(newOrder("r1")), qt.IsNil)
	ca.batch.flush()
	ca.Stop()

	var recovered []string
	ca2 := New(store, testConfig())
	c.Assert(ca2.Start(context.Background(), func(r *request.Request) {
		recovered = append(recovered, r.ClientRequestID)
	}), qt.IsNil)
	defer ca2.Stop()

	got, err := ca2.Get("r1")
	c.Assert(err, qt.IsNil)
	c.Assert(got.ClientRequestID, qt.Equals, "r1")
}

func waitUntil(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
