// Package nonce implements the per-account nonce dispatcher: serialized
// allocation of monotonically increasing transaction sequence numbers, with
// startup recovery from the request cache and builder-bundle grouping for
// venues that submit atomic multi-transaction bundles.
package nonce

import (
	"fmt"
	"strings"
	"sync"
)

// Dispatcher serializes nonce allocation for a single externally-owned
// account. The lock acquired by Reserve must be held across signing and
// submission by the caller; Release ends the critical section.
type Dispatcher struct {
	mu   sync.Mutex
	next uint64

	bundlesMu sync.Mutex
	bundles   map[string]*Bundle
}

// New creates a Dispatcher starting at startNonce. Callers should compute
// startNonce as max(persisted_request.nonce for r in cache) + 1, recovering
// cleanly across restarts without querying the chain.
func New(startNonce uint64) *Dispatcher {
	return &Dispatcher{next: startNonce, bundles: make(map[string]*Bundle)}
}

// Reserve acquires the exclusive nonce lock and returns the next nonce to
// use. The caller MUST call Release exactly once, with advance=true only if
// submission succeeded (a "nonce too low" reply must NOT advance the
// counter, so a retry can reuse the same nonce after refreshing state).
func (d *Dispatcher) Reserve() uint64 {
	d.mu.Lock()
	return d.next
}

// Release ends the critical section started by Reserve. advance must be
// true only when the reserved nonce was successfully consumed on-chain.
func (d *Dispatcher) Release(advance bool) {
	if advance {
		d.next++
	}
	d.mu.Unlock()
}

// Current returns the next nonce to be handed out, for diagnostics. It
// acquires the nonce lock, so it blocks while a Reserve is outstanding.
func (d *Dispatcher) Current() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}

// IsNonceError reports whether err looks like a chain-level nonce conflict
// ("nonce too low", "nonce too high", "already known"), the signal that
// tells Release(false) to withhold advancing the counter.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "already known")
}

// IsCancelWindowClosed reports whether err indicates the original
// transaction already mined, so a cancel attempt must be rejected with a
// "cancel window closed" response rather than retried.
func IsCancelWindowClosed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already mined") || strings.Contains(msg, "nonce too low")
}

// BundleMember is one signed transaction within a builder bundle.
type BundleMember struct {
	ClientRequestID string
	Nonce           uint64
	RawTx           []byte
}

// Bundle groups the transactions a builder-targeted venue submits
// atomically for a specific future block.
type Bundle struct {
	TargetBlockNum uint64
	UUID           string
	Members        []*BundleMember // kept sorted by Nonce ascending
}

// MemberByRequest returns the bundle member for clientRequestID, if present.
func (b *Bundle) MemberByRequest(clientRequestID string) (*BundleMember, int, bool) {
	for i, m := range b.Members {
		if m.ClientRequestID == clientRequestID {
			return m, i, true
		}
	}
	return nil, -1, false
}

// OpenBundle returns the bundle tracked under key, creating one targeting
// targetBlockNum/uuid if none exists yet.
func (d *Dispatcher) OpenBundle(key string, targetBlockNum uint64, uuid string) *Bundle {
	d.bundlesMu.Lock()
	defer d.bundlesMu.Unlock()
	b, ok := d.bundles[key]
	if !ok {
		b = &Bundle{TargetBlockNum: targetBlockNum, UUID: uuid}
		d.bundles[key] = b
	}
	return b
}

// Bundle returns the bundle tracked under key, if any.
func (d *Dispatcher) Bundle(key string) (*Bundle, bool) {
	d.bundlesMu.Lock()
	defer d.bundlesMu.Unlock()
	b, ok := d.bundles[key]
	return b, ok
}

// DropBundle forgets the bundle tracked under key, e.g. once its target
// block has passed.
func (d *Dispatcher) DropBundle(key string) {
	d.bundlesMu.Lock()
	defer d.bundlesMu.Unlock()
	delete(d.bundles, key)
}

// ResignFunc re-signs a bundle member at its (possibly updated) nonce,
// returning the new raw transaction bytes and hash. Supplied by the venue
// adaptor, since the signing payload shape is venue-specific.
type ResignFunc func(member *BundleMember) (rawTx []byte, txHash string, err error)

// CancelMember removes clientRequestID's transaction from the bundle,
// renumbers every remaining member with a higher nonce down by one, and
// re-signs each renumbered member via resign. It returns the removed member
// and the list of members that were renumbered (in nonce order), which the
// caller must resubmit under the same bundle UUID along with the
// unaffected members.
func (d *Dispatcher) CancelMember(b *Bundle, clientRequestID string, resign ResignFunc) (*BundleMember, []*BundleMember, error) {
	d.bundlesMu.Lock()
	defer d.bundlesMu.Unlock()

	removed, idx, ok := b.MemberByRequest(clientRequestID)
	if !ok {
		return nil, nil, fmt.Errorf("bundle member %q not found", clientRequestID)
	}
	b.Members = append(b.Members[:idx], b.Members[idx+1:]...)

	var renumbered []*BundleMember
	for _, m := range b.Members {
		if m.Nonce <= removed.Nonce {
			continue
		}
		m.Nonce--
		rawTx, txHash, err := resign(m)
		if err != nil {
			return nil, nil, fmt.Errorf("re-sign bundle member %q at nonce %d: %w", m.ClientRequestID, m.Nonce, err)
		}
		m.RawTx = rawTx
		_ = txHash // the resign func's caller records the re-signed attempt on the member's own Request
		renumbered = append(renumbered, m)
	}
	return removed, renumbered, nil
}

// ReplaceMember replaces clientRequestID's raw transaction in place (its
// nonce is unchanged), for amend semantics on a bundle member.
func (b *Bundle) ReplaceMember(clientRequestID string, rawTx []byte) error {
	m, _, ok := b.MemberByRequest(clientRequestID)
	if !ok {
		return fmt.Errorf("bundle member %q not found", clientRequestID)
	}
	m.RawTx = rawTx
	return nil
}
