// Package chain wraps go-ethereum's ethclient.Client behind a narrow
// interface covering exactly what the dispatcher, poller and signer need:
// nonce queries, gas suggestions, transaction submission and receipt
// polling, with the retry-on-transient-error behaviour used throughout the
// dex proxy.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dexproxy/dexproxy/log"
)

const (
	defaultRetries    = 2
	defaultRetrySleep = 200 * time.Millisecond

	// receiptCacheSize bounds how many mined receipts are kept around, so a
	// PollOnce call and the background poll loop landing on the same tx_hash
	// within the same tick don't both pay for a round trip to the node.
	receiptCacheSize = 4096
)

var defaultTimeout = 3 * time.Second

// permanentErrorPatterns are contract-level rejections that will never
// succeed regardless of gas price or retries.
var permanentErrorPatterns = []string{
	"execution reverted",
}

// IsPermanentError reports whether err represents a failure that retrying
// will never fix.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range permanentErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// Client is a single-endpoint, retrying wrapper around ethclient.Client.
type Client struct {
	chainID  uint64
	eth      *ethclient.Client
	receipts *lru.Cache[common.Hash, *gethtypes.Receipt]
}

// Dial connects to rpcURL and confirms it serves chainID.
func Dial(ctx context.Context, rpcURL string, chainID uint64) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	receipts, err := lru.New[common.Hash, *gethtypes.Receipt](receiptCacheSize)
	if err != nil {
		return nil, fmt.Errorf("allocate receipt cache: %w", err)
	}
	return &Client{chainID: chainID, eth: eth, receipts: receipts}, nil
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() uint64 { return c.chainID }

// EthClient exposes the underlying client for callers (e.g. bind.ContractBackend
// consumers) that need the full go-ethereum surface.
func (c *Client) EthClient() *ethclient.Client { return c.eth }

func (c *Client) retry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < defaultRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if IsPermanentError(err) {
			return fmt.Errorf("permanent RPC error, not retrying: %w", err)
		}
		if attempt < defaultRetries-1 {
			log.Warnw("RPC call failed, retrying", "error", err, "attempt", attempt+1)
			time.Sleep(defaultRetrySleep)
		}
	}
	return lastErr
}

// NonceAt returns the confirmed nonce at the latest block.
func (c *Client) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.retry(ctx, func(ctx context.Context) error {
		n, err := c.eth.NonceAt(ctx, account, nil)
		nonce = n
		return err
	})
	return nonce, err
}

// PendingNonceAt returns the nonce including pending mempool transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.retry(ctx, func(ctx context.Context) error {
		n, err := c.eth.PendingNonceAt(ctx, account)
		nonce = n
		return err
	})
	return nonce, err
}

// SuggestGasPrice returns the network's currently suggested gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.retry(ctx, func(ctx context.Context) error {
		p, err := c.eth.SuggestGasPrice(ctx)
		price = p
		return err
	})
	return price, err
}

// SendTransaction submits a signed transaction to the mempool.
func (c *Client) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	return c.retry(ctx, func(ctx context.Context) error {
		return c.eth.SendTransaction(ctx, tx)
	})
}

// TransactionReceipt returns the receipt for txHash, or (nil, nil) if the
// transaction is not yet mined (ethereum.NotFound is swallowed, matching
// the source poller's silent-skip behaviour for unmined transactions). A
// receipt, once mined, is immutable, so it is cached and never re-fetched.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	if cached, ok := c.receipts.Get(txHash); ok {
		return cached, nil
	}
	var receipt *gethtypes.Receipt
	err := c.retry(ctx, func(ctx context.Context) error {
		r, err := c.eth.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return nil
		}
		receipt = r
		return err
	})
	if err == nil && receipt != nil {
		c.receipts.Add(txHash, receipt)
	}
	return receipt, err
}

// BlockNumber returns the current chain head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var num uint64
	err := c.retry(ctx, func(ctx context.Context) error {
		n, err := c.eth.BlockNumber(ctx)
		num = n
		return err
	})
	return num, err
}

// EstimateGas estimates the gas limit for msg.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.retry(ctx, func(ctx context.Context) error {
		g, err := c.eth.EstimateGas(ctx, msg)
		gas = g
		return err
	})
	return gas, err
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}
