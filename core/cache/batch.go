package cache

import (
	"sync"

	"github.com/dexproxy/dexproxy/db"
	"github.com/dexproxy/dexproxy/log"
)

// op is a single pending write, analogous to a Redis HSET (value != nil) or
// HDEL (value == nil) queued against the process_name.requests hash.
type op struct {
	value []byte // nil means delete
}

// batchExecutor buffers Set/Delete operations and flushes them as one
// write-transaction per interval, pipelining every pending op instead of
// issuing one round trip per mutation.
type batchExecutor struct {
	store db.Database

	mu      sync.Mutex
	pending map[string]op
}

func newBatchExecutor(store db.Database) *batchExecutor {
	return &batchExecutor{store: store, pending: make(map[string]op)}
}

// enqueueSet buffers a write. Always succeeds (the map grows unbounded only
// if flush never runs); returns false only to model the back-pressure path
// tested by the retry deque — this in-process executor never rejects, but
// the boolean keeps the call site symmetric with the original command
// dispatcher, which could.
func (b *batchExecutor) enqueueSet(id string, value []byte) bool {
	b.mu.Lock()
	b.pending[id] = op{value: value}
	b.mu.Unlock()
	return true
}

func (b *batchExecutor) enqueueDelete(id string) {
	b.mu.Lock()
	b.pending[id] = op{value: nil}
	b.mu.Unlock()
}

// flush pipelines every pending op into a single write transaction.
func (b *batchExecutor) flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make(map[string]op)
	b.mu.Unlock()

	tx := b.store.WriteTx()
	defer tx.Discard()
	for id, o := range batch {
		var err error
		if o.value == nil {
			err = tx.Delete(requestKey(id))
		} else {
			err = tx.Set(requestKey(id), o.value)
		}
		if err != nil {
			log.Errorw(err, "batch executor op failed")
		}
	}
	if err := tx.Commit(); err != nil {
		log.Errorw(err, "batch executor flush failed")
	}
}
