// Package lifecycle implements the Manager that turns an inbound API call
// into a tracked Request: validating it, assigning (or reusing) a nonce,
// handing it to the right venue Adaptor to build and submit, and recording
// the outcome in the Durable Request Cache so the Status Poller and Event
// Dispatcher can pick it up.
package lifecycle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/dexproxy/dexproxy/core/adaptor"
	"github.com/dexproxy/dexproxy/core/cache"
	"github.com/dexproxy/dexproxy/core/events"
	"github.com/dexproxy/dexproxy/core/nonce"
	"github.com/dexproxy/dexproxy/core/poller"
	"github.com/dexproxy/dexproxy/core/request"
	"github.com/dexproxy/dexproxy/core/whitelist"
	"github.com/dexproxy/dexproxy/log"
)

var (
	// ErrUnknownVenue is returned when a request names a venue with no
	// registered Adaptor.
	ErrUnknownVenue = fmt.Errorf("unknown venue")
	// ErrAlreadyFinalised is returned when amend/cancel targets a request
	// that has already reached a terminal status.
	ErrAlreadyFinalised = fmt.Errorf("request is already finalised")
	// ErrNonceNotYetAssigned signals the race window between a request
	// being accepted and its nonce being reserved; callers should retry.
	ErrNonceNotYetAssigned = fmt.Errorf("RETRY. Insert pending")
	// ErrInvalidGasPrice wraps a gas_price_wei that fails the replacement
	// or cap rules.
	ErrInvalidGasPrice = fmt.Errorf("invalid gas_price_wei")
	// ErrCancelWindowClosed is returned when a cancel/amend arrives after
	// the original transaction already mined.
	ErrCancelWindowClosed = fmt.Errorf("cancel window closed: original transaction already mined")
	// ErrWithdrawalNotWhitelisted is returned when a TRANSFER names a
	// (symbol, address_to) pair outside the active withdrawal whitelist.
	// The request is rejected before it is ever built or persisted.
	ErrWithdrawalNotWhitelisted = fmt.Errorf("withdrawal address is not whitelisted")
)

// ErrNotFound re-exports cache.ErrNotFound so handlers only need to import
// this package.
var ErrNotFound = cache.ErrNotFound

// ErrAlreadyKnown re-exports cache.ErrAlreadyKnown.
var ErrAlreadyKnown = cache.ErrAlreadyKnown

// Clock returns the current time in unix milliseconds; overridable in tests.
type Clock func() int64

func defaultClock() int64 { return time.Now().UnixMilli() }

// Manager is the Request Lifecycle Manager: the single place that knows how
// to move a Request from submission through to a terminal status.
type Manager struct {
	cache    *cache.Cache
	nonces   *nonce.Dispatcher
	poller   *poller.Poller
	events   *events.Dispatcher
	adaptors map[string]adaptor.Adaptor

	whitelist *whitelist.Whitelist
	// bundleSenders maps venue name to the BundleSender a builder-targeted
	// Adaptor for that venue submits through. Unset for venues whose Adaptor
	// reports IsBuilderTargeted() == false.
	bundleSenders map[string]*adaptor.BundleSender

	maxAllowedGasPriceWei *big.Int
	now                   Clock
}

// New builds a Manager. adaptors maps venue name to the Adaptor that
// handles it; maxAllowedGasPriceWei caps every gas_price_wei accepted from a
// caller, matching the venue-side safety rail in the gas price rules. wl
// enforces the withdrawal whitelist ahead of every TRANSFER. bundleSenders
// supplies the BundleSender a builder-targeted venue's cancel/amend
// renumbering submits through; venues whose Adaptor isn't builder-targeted
// don't need an entry.
func New(c *cache.Cache, n *nonce.Dispatcher, p *poller.Poller, e *events.Dispatcher, adaptors map[string]adaptor.Adaptor, maxAllowedGasPriceWei *big.Int, wl *whitelist.Whitelist, bundleSenders map[string]*adaptor.BundleSender) *Manager {
	return &Manager{
		cache:                 c,
		nonces:                n,
		poller:                p,
		events:                e,
		adaptors:              adaptors,
		whitelist:             wl,
		bundleSenders:         bundleSenders,
		maxAllowedGasPriceWei: maxAllowedGasPriceWei,
		now:                   defaultClock,
	}
}

func (m *Manager) adaptorFor(venue string) (adaptor.Adaptor, error) {
	a, ok := m.adaptors[venue]
	if !ok {
		return nil, ErrUnknownVenue
	}
	return a, nil
}

// GetAllOpenRequests returns every tracked request that has not reached a
// terminal status, optionally filtered by type.
func (m *Manager) GetAllOpenRequests(t ...request.Type) []*request.Request {
	all := m.cache.GetAll(t...)
	open := make([]*request.Request, 0, len(all))
	for _, r := range all {
		if !r.IsFinalised() {
			open = append(open, r)
		}
	}
	return open
}

// GetRequestStatus returns the tracked request for clientRequestID.
func (m *Manager) GetRequestStatus(clientRequestID string) (*request.Request, error) {
	return m.cache.Get(clientRequestID)
}

// InsertOrder validates and submits a new ORDER request, reserving the next
// sequential nonce from the shared nonce dispatcher.
func (m *Manager) InsertOrder(ctx context.Context, clientRequestID, venue string, fields request.OrderFields, gasPriceWeiStr string) (txHash string, assignedNonce uint64, err error) {
	a, err := m.adaptorFor(venue)
	if err != nil {
		return "", 0, err
	}
	r := &request.Request{
		ClientRequestID: clientRequestID,
		RequestType:     request.TypeOrder,
		RequestStatus:   request.StatusPending,
		ReceivedAtMs:    m.now(),
		Order:           &fields,
		DexSpecific:     map[string]any{"venue": venue},
	}
	return m.submitNew(ctx, r, a, request.ActionOrder, gasPriceWeiStr)
}

// ApproveToken validates and submits a new APPROVE request.
func (m *Manager) ApproveToken(ctx context.Context, clientRequestID, venue string, fields request.ApproveFields, gasPriceWeiStr string) (txHash string, err error) {
	a, err := m.adaptorFor(venue)
	if err != nil {
		return "", err
	}
	r := &request.Request{
		ClientRequestID: clientRequestID,
		RequestType:     request.TypeApprove,
		RequestStatus:   request.StatusPending,
		ReceivedAtMs:    m.now(),
		Approve:         &fields,
		DexSpecific:     map[string]any{"venue": venue},
	}
	txHash, _, err = m.submitNew(ctx, r, a, request.ActionApprove, gasPriceWeiStr)
	return txHash, err
}

// Withdraw validates and submits a new TRANSFER request, rejecting any
// (symbol, address_to) pair outside the active withdrawal whitelist before
// the request is built or persisted.
func (m *Manager) Withdraw(ctx context.Context, clientRequestID, venue string, fields request.TransferFields, gasPriceWeiStr string) (txHash string, err error) {
	a, err := m.adaptorFor(venue)
	if err != nil {
		return "", err
	}
	if m.whitelist != nil {
		if ok, reason := m.whitelist.Allowed(fields.Symbol, fields.AddressTo); !ok {
			log.Errorw(fmt.Errorf("HIGH ALERT: withdrawal rejected for client_request_id=%s venue=%s symbol=%s address_to=%s: %s",
				clientRequestID, venue, fields.Symbol, fields.AddressTo, reason), "rejected non-whitelisted withdrawal")
			return "", ErrWithdrawalNotWhitelisted
		}
	}
	r := &request.Request{
		ClientRequestID: clientRequestID,
		RequestType:     request.TypeTransfer,
		RequestStatus:   request.StatusPending,
		ReceivedAtMs:    m.now(),
		Transfer:        &fields,
		DexSpecific:     map[string]any{"venue": venue},
	}
	txHash, _, err = m.submitNew(ctx, r, a, request.ActionTransfer, gasPriceWeiStr)
	return txHash, err
}

// submitNew resolves the gas price, registers r in the cache, reserves a
// nonce, and submits it via a, advancing the nonce counter only when
// submission succeeds.
func (m *Manager) submitNew(ctx context.Context, r *request.Request, a adaptor.Adaptor, action request.ActionTag, gasPriceWeiStr string) (string, uint64, error) {
	gasPriceWei, _, _, err := m.resolveGasPrice(ctx, a, r, gasPriceWeiStr, adaptor.PriorityFeeStandard)
	if err != nil {
		return "", 0, err
	}

	if err := m.cache.Add(r); err != nil {
		return "", 0, err
	}

	assigned := m.nonces.Reserve()
	tx, buildErr := a.BuildTransaction(ctx, r, action, assigned, gasPriceWei)
	if buildErr != nil {
		m.nonces.Release(false)
		return "", 0, buildErr
	}
	result, submitErr := a.Submit(ctx, tx)
	if submitErr != nil && nonce.IsNonceError(submitErr) {
		// the dispatcher's view of "next" was stale; don't advance it and
		// let the caller retry the whole insert.
		m.nonces.Release(false)
		return "", 0, ErrNonceNotYetAssigned
	}
	m.nonces.Release(submitErr == nil)

	n := assigned
	if mutErr := m.cache.Mutate(r.ClientRequestID, func(rr *request.Request) error {
		rr.Nonce = &n
		if submitErr == nil {
			rr.AppendAttempt(result.TxHash, action, gasPriceWei.String())
		}
		return nil
	}); mutErr != nil {
		log.Errorw(mutErr, "failed to record nonce assignment after submission")
	}

	if submitErr != nil {
		if finErr := m.cache.FinaliseRequest(r.ClientRequestID, request.StatusFailed, m.now()); finErr != nil {
			log.Errorw(finErr, "failed to finalise request after submission error")
		}
		m.publish(r.ClientRequestID, request.StatusFailed, "")
		return "", 0, submitErr
	}

	m.poller.AddForPolling(common.HexToHash(result.TxHash), r.ClientRequestID, action)
	m.publish(r.ClientRequestID, request.StatusPending, result.TxHash)
	return result.TxHash, assigned, nil
}

// AmendRequest resubmits an open request with updated order fields and/or a
// bumped gas price, reusing the nonce already assigned to it.
func (m *Manager) AmendRequest(ctx context.Context, clientRequestID, quantity, price, gasPriceWeiStr string) (string, error) {
	r, err := m.cache.Get(clientRequestID)
	if err != nil {
		return "", err
	}
	if r.IsFinalised() {
		return "", ErrAlreadyFinalised
	}
	if r.Nonce == nil {
		return "", ErrNonceNotYetAssigned
	}
	venue, _ := r.DexSpecific["venue"].(string)
	a, err := m.adaptorFor(venue)
	if err != nil {
		return "", err
	}

	gasPriceWei, _, _, err := m.resolveGasPrice(ctx, a, r, gasPriceWeiStr, adaptor.PriorityFeeStandard)
	if err != nil {
		return "", err
	}

	if err := m.cache.Mutate(clientRequestID, func(rr *request.Request) error {
		if rr.Order != nil {
			if quantity != "" {
				rr.Order.Quantity = quantity
			}
			if price != "" {
				rr.Order.Price = price
			}
		}
		return nil
	}); err != nil {
		return "", err
	}

	if a.IsBuilderTargeted() {
		return m.amendBundledRequest(ctx, clientRequestID, r, a, gasPriceWei)
	}

	tx, err := a.BuildTransaction(ctx, r, request.ActionOrder, *r.Nonce, gasPriceWei)
	if err != nil {
		return "", err
	}
	result, err := a.Submit(ctx, tx)
	if err != nil {
		if nonce.IsCancelWindowClosed(err) {
			return "", ErrCancelWindowClosed
		}
		return "", err
	}

	if err := m.cache.Mutate(clientRequestID, func(rr *request.Request) error {
		rr.AppendAttempt(result.TxHash, request.ActionOrder, gasPriceWei.String())
		return nil
	}); err != nil {
		log.Errorw(err, "failed to record amend attempt")
	}
	m.poller.AddForPolling(common.HexToHash(result.TxHash), clientRequestID, request.ActionOrder)
	m.publish(clientRequestID, request.StatusPending, result.TxHash)
	return result.TxHash, nil
}

// CancelRequest transitions a request to CANCEL_REQUESTED and submits a
// cancel transaction at the same nonce, optionally at a bumped gas price.
func (m *Manager) CancelRequest(ctx context.Context, clientRequestID, gasPriceWeiStr string) (string, error) {
	r, err := m.cache.Get(clientRequestID)
	if err != nil {
		return "", err
	}
	if r.IsFinalised() {
		return "", ErrAlreadyFinalised
	}
	if r.Nonce == nil {
		return "", ErrNonceNotYetAssigned
	}
	venue, _ := r.DexSpecific["venue"].(string)
	a, err := m.adaptorFor(venue)
	if err != nil {
		return "", err
	}

	last, lastGasPriceWei := lastAction(r)
	candidate, requested, _, err := m.resolveGasPrice(ctx, a, r, gasPriceWeiStr, adaptor.PriorityFeeFast)
	if err != nil {
		return "", err
	}
	// Compare the actual requested value (the caller's exact price, or the
	// oracle quote before any floor-bump) against the last used price: the
	// post-clamp candidate is always >= the floor and so would make this
	// check unreachable once a last price exists.
	if last == request.ActionCancel && nonce.IsRepeatedCancel(last, lastGasPriceWei, requested) {
		// idempotent: the same cancel was already accepted, report success
		// without resubmitting.
		return r.TxHashes[len(r.TxHashes)-1].Hash, nil
	}

	if a.IsBuilderTargeted() {
		return m.cancelBundledRequest(ctx, r, a, candidate)
	}

	tx, err := a.BuildTransaction(ctx, r, request.ActionCancel, *r.Nonce, candidate)
	if err != nil {
		return "", err
	}
	result, err := a.Submit(ctx, tx)
	if err != nil {
		if nonce.IsCancelWindowClosed(err) {
			return "", ErrCancelWindowClosed
		}
		return "", err
	}

	if err := m.cache.Mutate(clientRequestID, func(rr *request.Request) error {
		if rr.RequestStatus.CanTransitionTo(request.StatusCancelRequested) {
			rr.RequestStatus = request.StatusCancelRequested
		}
		rr.AppendAttempt(result.TxHash, request.ActionCancel, candidate.String())
		return nil
	}); err != nil {
		log.Errorw(err, "failed to record cancel attempt")
	}
	m.poller.AddForPolling(common.HexToHash(result.TxHash), clientRequestID, request.ActionCancel)
	m.publish(clientRequestID, request.StatusCancelRequested, result.TxHash)
	return result.TxHash, nil
}

// cancelBundledRequest handles CancelRequest for a builder-targeted venue:
// instead of broadcasting a standalone cancel transaction to the public
// mempool, it removes r's member from the venue's open bundle, renumbers the
// remaining members down by one nonce, and resubmits the whole bundle under
// its existing replacementUuid.
func (m *Manager) cancelBundledRequest(ctx context.Context, r *request.Request, a adaptor.Adaptor, gasPriceWei *big.Int) (string, error) {
	venue, _ := r.DexSpecific["venue"].(string)
	bundle, ok := m.nonces.Bundle(venue)
	if !ok {
		return "", fmt.Errorf("lifecycle: venue %s is builder-targeted but has no open bundle to cancel against", venue)
	}
	sender, ok := m.bundleSenders[venue]
	if !ok {
		return "", fmt.Errorf("lifecycle: venue %s is builder-targeted but has no registered BundleSender", venue)
	}

	renumberedHashes := make(map[string]common.Hash)
	_, renumbered, err := m.nonces.CancelMember(bundle, r.ClientRequestID, func(member *nonce.BundleMember) ([]byte, string, error) {
		memberReq, getErr := m.cache.Get(member.ClientRequestID)
		if getErr != nil {
			return nil, "", getErr
		}
		tx, buildErr := a.BuildTransaction(ctx, memberReq, request.ActionOrder, member.Nonce, gasPriceWei)
		if buildErr != nil {
			return nil, "", buildErr
		}
		raw, encErr := tx.MarshalBinary()
		if encErr != nil {
			return nil, "", encErr
		}
		renumberedHashes[member.ClientRequestID] = tx.Hash()
		return raw, tx.Hash().Hex(), nil
	})
	if err != nil {
		return "", err
	}
	for _, member := range renumbered {
		h, n := renumberedHashes[member.ClientRequestID], member.Nonce
		if mutErr := m.cache.Mutate(member.ClientRequestID, func(rr *request.Request) error {
			rr.Nonce = &n
			rr.AppendAttempt(h.Hex(), request.ActionOrder, gasPriceWei.String())
			return nil
		}); mutErr != nil {
			log.Errorw(mutErr, "failed to record re-signed bundle member")
		}
		m.poller.AddForPolling(h, member.ClientRequestID, request.ActionOrder)
	}

	if err := sender.SendBundle(ctx, rawTxsFromBundle(bundle), bundle.TargetBlockNum, bundle.UUID); err != nil {
		return "", err
	}

	if err := m.cache.Mutate(r.ClientRequestID, func(rr *request.Request) error {
		if rr.RequestStatus.CanTransitionTo(request.StatusCancelRequested) {
			rr.RequestStatus = request.StatusCancelRequested
		}
		rr.AppendAttempt(bundle.UUID, request.ActionCancel, gasPriceWei.String())
		return nil
	}); err != nil {
		log.Errorw(err, "failed to record bundled cancel attempt")
	}
	m.publish(r.ClientRequestID, request.StatusCancelRequested, bundle.UUID)
	return bundle.UUID, nil
}

// amendBundledRequest handles AmendRequest for a builder-targeted venue: it
// replaces clientRequestID's raw transaction in place within the venue's
// open bundle (the nonce is unchanged, only the tx body) and resubmits the
// bundle under its existing replacementUuid.
func (m *Manager) amendBundledRequest(ctx context.Context, clientRequestID string, r *request.Request, a adaptor.Adaptor, gasPriceWei *big.Int) (string, error) {
	venue, _ := r.DexSpecific["venue"].(string)
	bundle, ok := m.nonces.Bundle(venue)
	if !ok {
		return "", fmt.Errorf("lifecycle: venue %s is builder-targeted but has no open bundle to amend", venue)
	}
	sender, ok := m.bundleSenders[venue]
	if !ok {
		return "", fmt.Errorf("lifecycle: venue %s is builder-targeted but has no registered BundleSender", venue)
	}

	tx, err := a.BuildTransaction(ctx, r, request.ActionOrder, *r.Nonce, gasPriceWei)
	if err != nil {
		return "", err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	if err := bundle.ReplaceMember(clientRequestID, raw); err != nil {
		return "", err
	}

	if err := sender.SendBundle(ctx, rawTxsFromBundle(bundle), bundle.TargetBlockNum, bundle.UUID); err != nil {
		return "", err
	}

	if err := m.cache.Mutate(clientRequestID, func(rr *request.Request) error {
		rr.AppendAttempt(tx.Hash().Hex(), request.ActionOrder, gasPriceWei.String())
		return nil
	}); err != nil {
		log.Errorw(err, "failed to record bundled amend attempt")
	}
	m.poller.AddForPolling(tx.Hash(), clientRequestID, request.ActionOrder)
	m.publish(clientRequestID, request.StatusPending, tx.Hash().Hex())
	return tx.Hash().Hex(), nil
}

func rawTxsFromBundle(b *nonce.Bundle) []string {
	out := make([]string, len(b.Members))
	for i, member := range b.Members {
		out[i] = hexutil.Encode(member.RawTx)
	}
	return out
}

// CancelAll cancels every open request of the given type (all types if
// empty), returning the client_request_ids it requested cancellation for and
// those it failed to.
func (m *Manager) CancelAll(ctx context.Context, t request.Type) (cancelRequested, failedCancels []string) {
	for _, r := range m.cache.GetAll(t) {
		if r.IsFinalised() {
			continue
		}
		if _, err := m.CancelRequest(ctx, r.ClientRequestID, ""); err != nil {
			failedCancels = append(failedCancels, r.ClientRequestID)
			continue
		}
		cancelRequested = append(cancelRequested, r.ClientRequestID)
	}
	return cancelRequested, failedCancels
}

// OnPollerUpdate is registered with the Status Poller as its StatusUpdater:
// it finalises the request in the cache and republishes its status.
func (m *Manager) OnPollerUpdate(clientRequestID string, status request.Status, _ *gethtypes.Receipt) {
	if err := m.cache.FinaliseRequest(clientRequestID, status, m.now()); err != nil {
		log.Warnw("poller reported a status the cache could not apply", "client_request_id", clientRequestID, "status", status, "error", err)
		return
	}
	m.publish(clientRequestID, status, "")
}

func (m *Manager) publish(clientRequestID string, status request.Status, txHash string) {
	m.events.Publish(events.StatusEvent{
		ClientRequestID: clientRequestID,
		Status:          status,
		TxHash:          txHash,
		FinalisedAtMs:   m.now(),
	})
}

// resolveGasPrice picks the gas price to submit with. It returns both the
// value to actually use (resolved) and the value before any
// replacement-underpriced floor was applied (requested, identical to
// resolved unless the floor bumped it) plus whether the caller supplied it
// explicitly.
//
// A caller-supplied gas_price_wei is always transmitted exactly: per the
// cancel-request gas price rule, the floor-bump never applies to it, only
// the absolute cap does. Only an oracle-derived price (no gas_price_wei in
// the request) is bumped up to the replacement-underpriced floor.
func (m *Manager) resolveGasPrice(ctx context.Context, a adaptor.Adaptor, r *request.Request, requestedStr string, tier adaptor.PriorityFee) (resolved, requested *big.Int, callerSupplied bool, err error) {
	if requestedStr != "" {
		v, ok := new(big.Int).SetString(requestedStr, 10)
		if !ok {
			return nil, nil, false, fmt.Errorf("%w: not a valid integer", ErrInvalidGasPrice)
		}
		if m.maxAllowedGasPriceWei != nil && v.Cmp(m.maxAllowedGasPriceWei) > 0 {
			return nil, nil, false, fmt.Errorf("%w: exceeds cap", ErrInvalidGasPrice)
		}
		return v, v, true, nil
	}

	suggested, suggestErr := a.SuggestGasPriceWei(ctx, tier)
	if suggestErr != nil {
		return nil, nil, false, suggestErr
	}

	lastStr := r.LastUsedGasPriceWei()
	if lastStr == "" {
		if m.maxAllowedGasPriceWei != nil && suggested.Cmp(m.maxAllowedGasPriceWei) > 0 {
			return nil, nil, false, fmt.Errorf("%w: exceeds cap", ErrInvalidGasPrice)
		}
		return suggested, suggested, false, nil
	}
	last, ok := new(big.Int).SetString(lastStr, 10)
	if !ok {
		return nil, nil, false, fmt.Errorf("request %s: corrupt last gas price %q", r.ClientRequestID, lastStr)
	}
	bumped, err := nonce.ResolveGasPrice(suggested, last, m.maxAllowedGasPriceWei)
	if err != nil {
		return nil, nil, false, fmt.Errorf("%w: %s", ErrInvalidGasPrice, err)
	}
	return bumped, suggested, false, nil
}

func lastAction(r *request.Request) (request.ActionTag, *big.Int) {
	last, ok := r.LastAttempt()
	if !ok {
		return "", nil
	}
	gasStr := r.LastUsedGasPriceWei()
	gas, _ := new(big.Int).SetString(gasStr, 10)
	return last.Action, gas
}

