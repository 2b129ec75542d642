// Package cache implements the durable request cache: an in-memory index of
// active requests with write-through persistence to a key-value store,
// batched writes, a retry queue for persistence back-pressure, and
// TTL-based cleanup of finalized entries.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dexproxy/dexproxy/core/request"
	"github.com/dexproxy/dexproxy/db"
	"github.com/dexproxy/dexproxy/log"
)

// keyPrefix namespaces every persisted request under the db.Database.
var keyPrefix = []byte("req/")

func requestKey(clientRequestID string) []byte {
	return append(append([]byte{}, keyPrefix...), clientRequestID...)
}

var (
	// ErrAlreadyKnown is returned by Add when client_request_id was already
	// registered, satisfying the handlers' idempotency requirement.
	ErrAlreadyKnown = fmt.Errorf("client_request_id is already known")
	// ErrNotFound is returned by lookups for an unknown client_request_id.
	ErrNotFound = fmt.Errorf("request not found")
)

// Config tunes the cache's background loops.
type Config struct {
	// WriteInterval is how often the batch executor flushes pending writes.
	WriteInterval time.Duration
	// RetryInterval is how often the pending-add retry deque is drained.
	RetryInterval time.Duration
	// CleanupInterval is how often finalized entries are swept.
	CleanupInterval time.Duration
	// CleanupAfter is how long after finalisation an entry is evicted.
	CleanupAfter time.Duration
	// Persistent disables the key-value write-through entirely when false,
	// corresponding to request_cache.store_in_redis in the source config.
	Persistent bool
}

// DefaultConfig matches the cadences named in the source design (write every
// 5s, retry every 10s, cleanup sweep every 25s).
func DefaultConfig() Config {
	return Config{
		WriteInterval:   5 * time.Second,
		RetryInterval:   10 * time.Second,
		CleanupInterval: 25 * time.Second,
		CleanupAfter:    10 * time.Minute,
		Persistent:      true,
	}
}

// RecoveryCallback is invoked once per recovered request that still has a
// live nonce, so the caller (the status poller) can re-register its
// outstanding tx attempts.
type RecoveryCallback func(r *request.Request)

// Cache is the in-memory request index with write-through persistence.
type Cache struct {
	db  db.Database
	cfg Config

	mu       sync.RWMutex
	requests map[string]*request.Request

	batch *batchExecutor

	retryMu      sync.Mutex
	retryPending []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Cache over the given store. Call Start to recover
// existing state and launch the background loops.
func New(store db.Database, cfg Config) *Cache {
	c := &Cache{
		db:       store,
		cfg:      cfg,
		requests: make(map[string]*request.Request),
	}
	c.batch = newBatchExecutor(store)
	return c
}

// Start recovers persisted requests (retrying every 5s until the store
// responds, per the source design) and launches the write/retry/cleanup
// loops. recover is invoked for every recovered non-finalized request that
// has a nonce, so the poller can resume tracking its tx attempts.
func (c *Cache) Start(ctx context.Context, recover RecoveryCallback) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if c.cfg.Persistent {
		if err := c.recoverFromStore(ctx, recover); err != nil {
			return err
		}
	}

	c.wg.Add(3)
	go c.writeLoop()
	go c.retryLoop()
	go c.cleanupLoop()
	return nil
}

// Stop drains the batch executor and stops the background loops.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.cfg.Persistent {
		c.batch.flush()
	}
}

func (c *Cache) recoverFromStore(ctx context.Context, recover RecoveryCallback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		err := c.db.Iterate(keyPrefix, func(_, v []byte) bool {
			r, decErr := request.FromJSON(v)
			if decErr != nil {
				log.Warnw("skipping malformed cached request on recovery", "error", decErr)
				return true
			}
			c.requests[r.ClientRequestID] = r
			if recover != nil && r.Nonce != nil && !r.IsFinalised() {
				recover(r)
			}
			return true
		})
		if err == nil {
			log.Infow("request cache recovered", "count", len(c.requests))
			return nil
		}
		log.Warnw("request cache recovery read failed, retrying", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

// Add registers a new request. Returns ErrAlreadyKnown if client_request_id
// is already tracked.
func (c *Cache) Add(r *request.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if _, exists := c.requests[r.ClientRequestID]; exists {
		c.mu.Unlock()
		return ErrAlreadyKnown
	}
	c.requests[r.ClientRequestID] = r
	c.mu.Unlock()

	c.persist(r)
	return nil
}

// Get returns the request for id, or ErrNotFound.
func (c *Cache) Get(id string) (*request.Request, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// GetAll returns every tracked request, optionally filtered by type.
func (c *Cache) GetAll(t ...request.Type) []*request.Request {
	var filter request.Type
	if len(t) > 0 {
		filter = t[0]
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*request.Request, 0, len(c.requests))
	for _, r := range c.requests {
		if filter != "" && r.RequestType != filter {
			continue
		}
		out = append(out, r)
	}
	return out
}

// GetMaxNonce returns the highest nonce among tracked requests matching
// filter (nil selects all), used by the nonce dispatcher at startup to
// recover the counter without querying the chain.
func (c *Cache) GetMaxNonce(filter func(*request.Request) bool) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var max uint64
	found := false
	for _, r := range c.requests {
		if r.Nonce == nil {
			continue
		}
		if filter != nil && !filter(r) {
			continue
		}
		if !found || *r.Nonce > max {
			max = *r.Nonce
			found = true
		}
	}
	return max, found
}

// Mutate runs fn against the request identified by id while holding the
// cache's write lock, then persists the result. Use for amend/cancel/status
// transitions so every observer sees a consistent snapshot.
func (c *Cache) Mutate(id string, fn func(r *request.Request) error) error {
	c.mu.Lock()
	r, ok := c.requests[id]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	err := fn(r)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.persist(r)
	return nil
}

// FinaliseRequest transitions id to a terminal status and stamps
// finalised_at_ms, rejecting transitions the lifecycle order forbids.
func (c *Cache) FinaliseRequest(id string, status request.Status, nowMs int64) error {
	if !status.IsFinal() {
		return fmt.Errorf("FinaliseRequest requires a terminal status, got %s", status)
	}
	return c.Mutate(id, func(r *request.Request) error {
		if !r.RequestStatus.CanTransitionTo(status) {
			return fmt.Errorf("request %s: illegal transition %s -> %s", id, r.RequestStatus, status)
		}
		r.RequestStatus = status
		r.FinalisedAtMs = nowMs
		return nil
	})
}

// persist eagerly updates the in-memory map (already done by the caller)
// and enqueues a write into the batch executor. Back-pressure from the
// executor routes the id into the retry deque instead of failing the call.
func (c *Cache) persist(r *request.Request) {
	if !c.cfg.Persistent {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		log.Errorw(err, "failed to marshal request for persistence")
		return
	}
	if !c.batch.enqueueSet(r.ClientRequestID, data) {
		c.retryMu.Lock()
		c.retryPending = append(c.retryPending, r.ClientRequestID)
		c.retryMu.Unlock()
	}
}

func (c *Cache) remove(id string) {
	c.mu.Lock()
	delete(c.requests, id)
	c.mu.Unlock()
	if c.cfg.Persistent {
		c.batch.enqueueDelete(id)
	}
}

func (c *Cache) writeLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.WriteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.batch.flush()
		}
	}
}

func (c *Cache) retryLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.drainRetryDeque()
		}
	}
}

func (c *Cache) drainRetryDeque() {
	c.retryMu.Lock()
	pending := c.retryPending
	c.retryPending = nil
	c.retryMu.Unlock()

	for _, id := range pending {
		c.mu.RLock()
		r, ok := c.requests[id]
		c.mu.RUnlock()
		if !ok {
			continue // request was cleaned up in the meantime, drop it
		}
		c.persist(r)
	}
}

func (c *Cache) cleanupLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweepFinalised()
		}
	}
}

func (c *Cache) sweepFinalised() {
	now := time.Now().UnixMilli()
	cutoff := c.cfg.CleanupAfter.Milliseconds()

	c.mu.RLock()
	var expired []string
	for id, r := range c.requests {
		if r.IsFinalised() && now-r.FinalisedAtMs > cutoff {
			expired = append(expired, id)
		}
	}
	c.mu.RUnlock()

	for _, id := range expired {
		c.remove(id)
	}
	if len(expired) > 0 {
		log.Debugw("cache cleanup removed finalized requests", "count", len(expired))
	}
}
