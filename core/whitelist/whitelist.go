// Package whitelist enforces the withdrawal-address allowlist a TRANSFER
// request must clear before it is built or submitted: the union of a
// resource-file base set and an externally refreshed set pushed by the
// operator's custody provider (e.g. Fordefi, Fireblocks).
package whitelist

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

//go:embed base_withdrawal_whitelist.json
var baseWhitelistJSON []byte

// Set maps an uppercased symbol to the withdrawal addresses allowed for it.
type Set map[string][]string

// Whitelist is the union of a baked-in base Set and an externally refreshed
// Set. Refresh only ever replaces the external half, so a custody provider's
// periodic push can never shadow the operator's static base set.
type Whitelist struct {
	mu       sync.RWMutex
	base     map[string]map[string]bool
	external map[string]map[string]bool
}

// New loads the embedded base withdrawal whitelist.
func New() (*Whitelist, error) {
	var raw Set
	if err := json.Unmarshal(baseWhitelistJSON, &raw); err != nil {
		return nil, fmt.Errorf("decode base withdrawal whitelist: %w", err)
	}
	return &Whitelist{base: normalize(raw), external: map[string]map[string]bool{}}, nil
}

func normalize(s Set) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(s))
	for symbol, addrs := range s {
		m := make(map[string]bool, len(addrs))
		for _, addr := range addrs {
			m[strings.ToLower(addr)] = true
		}
		out[strings.ToUpper(symbol)] = m
	}
	return out
}

// Refresh replaces the externally sourced set with a custody provider's
// latest push, leaving the base set untouched.
func (w *Whitelist) Refresh(external Set) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.external = normalize(external)
}

// Allowed reports whether addressTo is whitelisted for symbol. On rejection
// it also returns a reason distinguishing an unrecognized symbol from a
// known symbol with an unrecognized address, worth a HIGH-ALERT log line at
// the call site since either case means an operator-controlled withdrawal
// destination diverged from what's configured.
func (w *Whitelist) Allowed(symbol, addressTo string) (ok bool, reason string) {
	symbol = strings.ToUpper(symbol)
	addressTo = strings.ToLower(addressTo)

	w.mu.RLock()
	defer w.mu.RUnlock()

	baseAddrs, inBase := w.base[symbol]
	extAddrs, inExt := w.external[symbol]
	if !inBase && !inExt {
		return false, fmt.Sprintf("no withdrawal whitelist configured for symbol %s", symbol)
	}
	if baseAddrs[addressTo] || extAddrs[addressTo] {
		return true, ""
	}
	return false, fmt.Sprintf("address %s is not whitelisted for symbol %s", addressTo, symbol)
}
