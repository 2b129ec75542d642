package signer

import (
	"context"
	"fmt"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestPoolSignsJob(t *testing.T) {
	c := qt.New(t)
	p := New(2, time.Second)
	p.Start(context.Background())
	defer p.Stop()

	rawTx, txHash, err := p.Sign(context.Background(), func() ([]byte, string, error) {
		return []byte("signed"), "0xabc", nil
	})
	c.Assert(err, qt.IsNil)
	c.Assert(string(rawTx), qt.Equals, "signed")
	c.Assert(txHash, qt.Equals, "0xabc")
}

func TestPoolPropagatesSignError(t *testing.T) {
	c := qt.New(t)
	p := New(1, time.Second)
	p.Start(context.Background())
	defer p.Stop()

	_, _, err := p.Sign(context.Background(), func() ([]byte, string, error) {
		return nil, "", fmt.Errorf("boom")
	})
	c.Assert(err, qt.ErrorMatches, "boom")
}

func TestPoolSweepsTimedOutJobs(t *testing.T) {
	c := qt.New(t)
	p := New(1, 20*time.Millisecond)
	p.tickerInterval = 5 * time.Millisecond
	p.Start(context.Background())
	defer p.Stop()

	block := make(chan struct{})
	go func() {
		_, _, _ = p.Sign(context.Background(), func() ([]byte, string, error) {
			<-block // occupy the single worker
			return nil, "", nil
		})
	}()
	time.Sleep(10 * time.Millisecond) // let the blocking job claim the worker

	_, _, err := p.Sign(context.Background(), func() ([]byte, string, error) {
		return []byte("ok"), "0x1", nil
	})
	c.Assert(err, qt.Equals, ErrTimedOut)
	close(block)
}
