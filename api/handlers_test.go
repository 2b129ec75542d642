package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	qt "github.com/frankban/quicktest"

	"github.com/dexproxy/dexproxy/core/adaptor"
	"github.com/dexproxy/dexproxy/core/cache"
	"github.com/dexproxy/dexproxy/core/events"
	"github.com/dexproxy/dexproxy/core/lifecycle"
	"github.com/dexproxy/dexproxy/core/nonce"
	"github.com/dexproxy/dexproxy/core/poller"
	"github.com/dexproxy/dexproxy/core/request"
	"github.com/dexproxy/dexproxy/core/whitelist"
	"github.com/dexproxy/dexproxy/db/metadb"
)

type fakeAdaptor struct{}

func (fakeAdaptor) Name() string { return "uniswap_v3" }

func (fakeAdaptor) SuggestGasPriceWei(context.Context, adaptor.PriorityFee) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (fakeAdaptor) BuildTransaction(_ context.Context, _ *request.Request, _ request.ActionTag, n uint64, _ *big.Int) (*gethtypes.Transaction, error) {
	return gethtypes.NewTx(&gethtypes.LegacyTx{Nonce: n}), nil
}

func (fakeAdaptor) Submit(_ context.Context, tx *gethtypes.Transaction) (adaptor.SubmitResult, error) {
	return adaptor.SubmitResult{TxHash: common.BigToHash(big.NewInt(int64(tx.Nonce()) + 1)).Hex()}, nil
}

func (fakeAdaptor) IsBuilderTargeted() bool { return false }

type fakeReceiptFetcher struct{}

func (fakeReceiptFetcher) TransactionReceipt(context.Context, common.Hash) (*gethtypes.Receipt, error) {
	return nil, nil
}

func testAPI(t *testing.T) *API {
	store := metadb.NewTest(t)
	cfg := cache.DefaultConfig()
	cfg.WriteInterval = 10 * time.Millisecond
	cfg.CleanupAfter = 0
	c := cache.New(store, cfg)
	if err := c.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Stop)

	n := nonce.New(0)
	p := poller.New(fakeReceiptFetcher{}, nil, time.Minute, func(string) bool { return false }, nil)
	e := events.New()
	wl, err := whitelist.New()
	if err != nil {
		t.Fatal(err)
	}
	m := lifecycle.New(c, n, p, e, map[string]adaptor.Adaptor{"uniswap_v3": fakeAdaptor{}}, big.NewInt(1_000_000_000_000), wl, nil)

	a := &API{manager: m, events: e}
	a.initRouter()
	return a
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestInsertOrderHandlerSuccess(t *testing.T) {
	c := qt.New(t)
	a := testAPI(t)

	rec := doJSON(t, a.Router(), http.MethodPost, InsertOrderEndpoint, InsertOrderRequest{
		ClientRequestID: "r1",
		Venue:           "uniswap_v3",
		Symbol:          "ETH-USDC",
		Side:            "BUY",
		Quantity:        "1",
		Price:           "3000",
	})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	var out OrderResult
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &out), qt.IsNil)
	c.Assert(out.Result.Nonce, qt.Equals, uint64(0))
	c.Assert(out.Result.TxHash, qt.Not(qt.Equals), "")
}

func TestInsertOrderHandlerMissingClientRequestID(t *testing.T) {
	c := qt.New(t)
	a := testAPI(t)

	rec := doJSON(t, a.Router(), http.MethodPost, InsertOrderEndpoint, InsertOrderRequest{
		Venue: "uniswap_v3",
	})
	c.Assert(rec.Code, qt.Equals, ErrMalformedBody.HTTPstatus)
}

func TestInsertOrderHandlerUnknownVenue(t *testing.T) {
	c := qt.New(t)
	a := testAPI(t)

	rec := doJSON(t, a.Router(), http.MethodPost, InsertOrderEndpoint, InsertOrderRequest{
		ClientRequestID: "r1",
		Venue:           "does-not-exist",
		Symbol:          "ETH-USDC",
		Side:            "BUY",
		Quantity:        "1",
		Price:           "3000",
	})
	c.Assert(rec.Code, qt.Equals, ErrUnknownVenue.HTTPstatus)
}

func TestGetRequestStatusNotFound(t *testing.T) {
	c := qt.New(t)
	a := testAPI(t)

	rec := doJSON(t, a.Router(), http.MethodGet, GetRequestStatusEndpoint+"?"+ClientRequestIDQueryParam+"=missing", nil)
	c.Assert(rec.Code, qt.Equals, ErrRequestNotFound.HTTPstatus)
}

func TestCancelAllEmptyBody(t *testing.T) {
	c := qt.New(t)
	a := testAPI(t)

	req := httptest.NewRequest(http.MethodDelete, CancelAllEndpoint, nil)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	var out CancelAllResult
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &out), qt.IsNil)
	c.Assert(out.CancelRequested, qt.HasLen, 0)
}

func TestStatusHandler(t *testing.T) {
	c := qt.New(t)
	a := testAPI(t)

	rec := doJSON(t, a.Router(), http.MethodGet, StatusEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	var out StatusResponse
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &out), qt.IsNil)
	c.Assert(out.Status, qt.Equals, "ok")
}
