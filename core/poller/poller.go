// Package poller implements the transaction status poller: a background
// loop that polls the chain for receipts of every outstanding transaction
// attempt and reports terminal status back to the request lifecycle.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/dexproxy/dexproxy/core/request"
	"github.com/dexproxy/dexproxy/log"
)

// reconcileInterval is how often the target-block reconciliation loop runs.
const reconcileInterval = 1 * time.Second

// ReceiptFetcher is the chain dependency the poller needs: fetch a receipt
// by hash, returning (nil, nil) if the transaction is not yet mined.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// BlockNumberFetcher is the chain head height the target-block
// reconciliation loop needs, to tell whether a builder-targeted request's
// targeted_block_num has passed. A nil BlockNumberFetcher disables the
// reconciliation loop entirely.
type BlockNumberFetcher interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// StatusUpdater is invoked with the resolved terminal status once a polled
// transaction's fate is known. receipt is the mined receipt for every
// action; for a CANCEL attempt its status has already been disregarded
// (the resolved status is always CANCELED).
type StatusUpdater func(clientRequestID string, status request.Status, receipt *gethtypes.Receipt)

// tracked is one outstanding (tx_hash -> client_request_id, action) entry.
type tracked struct {
	clientRequestID string
	action          request.ActionTag
}

// Poller polls the chain for the status of every outstanding transaction
// attempt added via AddForPolling, every PollInterval.
type Poller struct {
	chain        ReceiptFetcher
	blocks       BlockNumberFetcher
	pollInterval time.Duration
	onUpdate     StatusUpdater
	isFinalised  func(clientRequestID string) bool

	mu       sync.Mutex
	pending  map[common.Hash]tracked
	targeted map[string]uint64 // client_request_id -> targeted_block_num, for builder-targeted submissions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Poller. isFinalised lets the poller drop entries whose
// request already reached a terminal state through another path (e.g. a
// concurrent cancel), matching the source design's is_finalised() check.
// blocks may be nil, which disables the target-block reconciliation loop.
func New(chain ReceiptFetcher, blocks BlockNumberFetcher, pollInterval time.Duration, isFinalised func(clientRequestID string) bool, onUpdate StatusUpdater) *Poller {
	return &Poller{
		chain:        chain,
		blocks:       blocks,
		pollInterval: pollInterval,
		onUpdate:     onUpdate,
		isFinalised:  isFinalised,
		pending:      make(map[common.Hash]tracked),
		targeted:     make(map[string]uint64),
	}
}

// Start launches the polling loop, plus the target-block reconciliation
// loop if a BlockNumberFetcher was supplied.
func (p *Poller) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop()
	if p.blocks != nil {
		p.wg.Add(1)
		go p.reconcileLoop()
	}
}

// AddTargetedBlock registers clientRequestID's builder-targeted submission
// as due to land in targetBlockNum, so the reconciliation loop can fail it
// if that block passes with none of its tx_hashes found mined.
func (p *Poller) AddTargetedBlock(clientRequestID string, targetBlockNum uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targeted[clientRequestID] = targetBlockNum
}

// Stop halts the polling loop and waits for it to exit.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// AddForPolling registers txHash for status polling on behalf of
// clientRequestID. action distinguishes a CANCEL attempt, whose receipt
// status is never consulted.
func (p *Poller) AddForPolling(txHash common.Hash, clientRequestID string, action request.ActionTag) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[txHash] = tracked{clientRequestID: clientRequestID, action: action}
}

// PollOnce immediately polls a single tx_hash out of band, e.g. in response
// to an explicit client status query.
func (p *Poller) PollOnce(ctx context.Context, txHash common.Hash) {
	p.mu.Lock()
	t, ok := p.pending[txHash]
	p.mu.Unlock()
	if !ok {
		log.Warnw("poll requested for untracked tx_hash", "tx_hash", txHash.Hex())
		return
	}
	p.pollEntry(ctx, txHash, t)
}

func (p *Poller) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

func (p *Poller) pollAll() {
	p.mu.Lock()
	snapshot := make(map[common.Hash]tracked, len(p.pending))
	for h, t := range p.pending {
		snapshot[h] = t
	}
	p.mu.Unlock()

	for txHash, t := range snapshot {
		if p.isFinalised != nil && p.isFinalised(t.clientRequestID) {
			p.mu.Lock()
			delete(p.pending, txHash)
			p.mu.Unlock()
			continue
		}
		p.pollEntry(p.ctx, txHash, t)
	}
}

func (p *Poller) pollEntry(ctx context.Context, txHash common.Hash, t tracked) {
	receipt, err := p.chain.TransactionReceipt(ctx, txHash)
	if err != nil {
		log.Errorw(err, fmt.Sprintf("error polling tx_hash %s for client_request_id=%s action=%s",
			txHash.Hex(), t.clientRequestID, t.action))
		return
	}
	if receipt == nil {
		return // not yet mined; NotFound is swallowed by the chain client
	}

	var status request.Status
	if t.action == request.ActionCancel {
		// Whether the cancelling transaction itself succeeded or failed on
		// chain doesn't matter: its nonce is consumed either way, so the
		// original request is canceled.
		status = request.StatusCanceled
	} else if receipt.Status == gethtypes.ReceiptStatusSuccessful {
		status = request.StatusSucceeded
	} else {
		status = request.StatusFailed
	}

	p.mu.Lock()
	delete(p.pending, txHash)
	delete(p.targeted, t.clientRequestID)
	p.mu.Unlock()

	p.onUpdate(t.clientRequestID, status, receipt)
}

func (p *Poller) reconcileLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reconcileTargetedBlocks()
		}
	}
}

// reconcileTargetedBlocks fails any builder-targeted request whose
// targeted_block_num has passed while it is still outstanding: the bundle
// missed its slot, since a landed tx_hash would already have cleared it via
// pollEntry.
func (p *Poller) reconcileTargetedBlocks() {
	p.mu.Lock()
	if len(p.targeted) == 0 {
		p.mu.Unlock()
		return
	}
	snapshot := make(map[string]uint64, len(p.targeted))
	for id, target := range p.targeted {
		snapshot[id] = target
	}
	p.mu.Unlock()

	head, err := p.blocks.BlockNumber(p.ctx)
	if err != nil {
		log.Errorw(err, "failed to fetch chain head for target-block reconciliation")
		return
	}

	for clientRequestID, target := range snapshot {
		if head <= target {
			continue
		}
		p.mu.Lock()
		delete(p.targeted, clientRequestID)
		stillPending := p.hasPendingLocked(clientRequestID)
		p.mu.Unlock()

		if p.isFinalised != nil && p.isFinalised(clientRequestID) {
			continue
		}
		if stillPending {
			p.onUpdate(clientRequestID, request.StatusFailed, nil)
		}
	}
}

func (p *Poller) hasPendingLocked(clientRequestID string) bool {
	for _, t := range p.pending {
		if t.clientRequestID == clientRequestID {
			return true
		}
	}
	return false
}
