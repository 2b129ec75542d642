// Package signer implements an in-process signing worker pool: CPU-bound
// ECDSA signing is offloaded to a fixed set of goroutines so transaction
// submission doesn't block the request lifecycle goroutine under load, with
// a ticker-driven sweep that fails jobs sitting unsigned past a timeout.
package signer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dexproxy/dexproxy/log"
)

const defaultTickerInterval = 2 * time.Second

// ErrTimedOut is returned to a caller whose job was swept for exceeding
// JobTimeout before a worker picked it up.
var ErrTimedOut = fmt.Errorf("signing job timed out")

// SignFunc performs the actual signing work off the caller's goroutine.
type SignFunc func() (rawTx []byte, txHash string, err error)

type job struct {
	sign       SignFunc
	result     chan result
	enqueuedAt time.Time
}

type result struct {
	rawTx  []byte
	txHash string
	err    error
}

// Pool is a fixed-size worker pool for CPU-offloaded signing.
type Pool struct {
	jobs           chan *job
	jobTimeout     time.Duration
	tickerInterval time.Duration
	workerCount    int

	pendingMu sync.Mutex
	pending   map[*job]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Pool with workerCount goroutines. jobTimeout bounds how
// long a submitted job may sit in the queue before it is failed with
// ErrTimedOut instead of being signed.
func New(workerCount int, jobTimeout time.Duration) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		jobs:           make(chan *job, workerCount*4),
		jobTimeout:     jobTimeout,
		tickerInterval: defaultTickerInterval,
		workerCount:    workerCount,
		pending:        make(map[*job]struct{}),
	}
}

// Start launches the worker goroutines and the timeout sweep.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.wg.Add(1)
	go p.sweepLoop()
	log.Infow("signer pool started", "workers", p.workerCount, "jobTimeout", p.jobTimeout.String())
}

// Stop signals every worker and the sweep loop to exit and waits for them.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Sign enqueues fn and blocks until a worker runs it, the pool's context is
// cancelled, or ctx is cancelled first.
func (p *Pool) Sign(ctx context.Context, fn SignFunc) ([]byte, string, error) {
	j := &job{sign: fn, result: make(chan result, 1), enqueuedAt: time.Now()}

	p.pendingMu.Lock()
	p.pending[j] = struct{}{}
	p.pendingMu.Unlock()

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		p.forget(j)
		return nil, "", ctx.Err()
	case <-p.ctx.Done():
		p.forget(j)
		return nil, "", p.ctx.Err()
	}

	select {
	case r := <-j.result:
		return r.rawTx, r.txHash, r.err
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (p *Pool) forget(j *job) {
	p.pendingMu.Lock()
	delete(p.pending, j)
	p.pendingMu.Unlock()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			p.pendingMu.Lock()
			_, stillPending := p.pending[j]
			delete(p.pending, j)
			p.pendingMu.Unlock()
			if !stillPending {
				continue // already timed out and failed by the sweep
			}
			rawTx, txHash, err := j.sign()
			j.result <- result{rawTx: rawTx, txHash: txHash, err: err}
		}
	}
}

func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.tickerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.sweepTimedOut()
		}
	}
}

func (p *Pool) sweepTimedOut() {
	now := time.Now()
	p.pendingMu.Lock()
	var timedOut []*job
	for j := range p.pending {
		if now.Sub(j.enqueuedAt) > p.jobTimeout {
			timedOut = append(timedOut, j)
			delete(p.pending, j)
		}
	}
	p.pendingMu.Unlock()

	for _, j := range timedOut {
		j.result <- result{err: ErrTimedOut}
		log.Warnw("signing job timed out before a worker picked it up", "queuedFor", now.Sub(j.enqueuedAt).String())
	}
}
