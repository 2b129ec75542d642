package adaptor

import (
	"encoding/hex"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/dexproxy/dexproxy/core/chain"
	"github.com/dexproxy/dexproxy/core/request"
	"github.com/dexproxy/dexproxy/core/signer"
	"github.com/dexproxy/dexproxy/crypto/ethsigner"
)

// MempoolAdaptor is the default venue mechanics: an EIP-1559 transaction signed
// locally and broadcast to the public mempool via a Chain Client, with no
// builder relay involved.
type MempoolAdaptor struct {
	name     string
	chain    *chain.Client
	signer   *ethsigner.Signer
	pool     *signer.Pool
	gas      GasOracle
	contract common.Address
	gasLimit uint64
}

// NewMempoolAdaptor builds a MempoolAdaptor targeting contract on chain,
// signing with signer (offloaded onto pool) and using gasLimit for every
// submitted transaction. A nil gas falls back to the chain client's own gas
// price suggestion.
func NewMempoolAdaptor(name string, c *chain.Client, s *ethsigner.Signer, pool *signer.Pool, gas GasOracle, contract common.Address, gasLimit uint64) *MempoolAdaptor {
	return &MempoolAdaptor{name: name, chain: c, signer: s, pool: pool, gas: gas, contract: contract, gasLimit: gasLimit}
}

// Name implements Adaptor.
func (m *MempoolAdaptor) Name() string { return m.name }

// IsBuilderTargeted implements Adaptor.
func (m *MempoolAdaptor) IsBuilderTargeted() bool { return false }

// SuggestGasPriceWei implements Adaptor. Without a venue-specific oracle,
// tier only affects the chain-suggested price via a flat multiplier: the
// node's own eth_gasPrice has no notion of urgency tiers.
func (m *MempoolAdaptor) SuggestGasPriceWei(ctx context.Context, tier PriorityFee) (*big.Int, error) {
	if m.gas != nil {
		return m.gas.SuggestGasPriceWei(ctx, tier)
	}
	suggested, err := m.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	num, den := tierMultiplier(tier)
	price := new(big.Int).Mul(suggested, big.NewInt(num))
	return price.Div(price, big.NewInt(den)), nil
}

// calldataFor extracts the ABI-encoded payload the handler already stashed
// on the request for this action, keyed by action tag so repeated attempts
// (replacements, amends) reuse the same calldata unless the caller updates it.
func calldataFor(r *request.Request, action request.ActionTag) ([]byte, error) {
	key := fmt.Sprintf("calldata_%s", action)
	v, ok := r.DexSpecific[key]
	if !ok {
		return nil, fmt.Errorf("request %s: no calldata stashed for action %s", r.ClientRequestID, action)
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("request %s: calldata for action %s is not a string", r.ClientRequestID, action)
	}
	return hex.DecodeString(s)
}

// BuildTransaction implements Adaptor. It builds a dynamic-fee (EIP-1559)
// transaction, capping both the fee cap and the tip cap at gasPriceWei so a
// replacement never pays more per gas than the resolved price demands. The
// actual ECDSA signing is offloaded onto the signer pool so it never blocks
// the caller's goroutine.
func (m *MempoolAdaptor) BuildTransaction(ctx context.Context, r *request.Request, action request.ActionTag, nonce uint64, gasPriceWei *big.Int) (*gethtypes.Transaction, error) {
	data, err := calldataFor(r, action)
	if err != nil {
		return nil, err
	}
	contract := m.contract
	feeCap, overflow := uint256.FromBig(gasPriceWei)
	if overflow {
		return nil, fmt.Errorf("request %s: gas price %s wei overflows uint256", r.ClientRequestID, gasPriceWei)
	}
	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(m.chain.ChainID()),
		Nonce:     nonce,
		To:        &contract,
		Value:     big.NewInt(0),
		Gas:       m.gasLimit,
		GasFeeCap: feeCap.ToBig(),
		GasTipCap: feeCap.ToBig(),
		Data:      data,
	})
	eip155Signer := gethtypes.NewLondonSigner(new(big.Int).SetUint64(m.chain.ChainID()))

	sign := func() ([]byte, string, error) {
		signed, err := gethtypes.SignTx(tx, eip155Signer, m.signer.PrivateKey())
		if err != nil {
			return nil, "", err
		}
		raw, err := signed.MarshalBinary()
		if err != nil {
			return nil, "", err
		}
		return raw, signed.Hash().Hex(), nil
	}

	var rawTx []byte
	if m.pool != nil {
		var signErr error
		rawTx, _, signErr = m.pool.Sign(ctx, sign)
		if signErr != nil {
			return nil, fmt.Errorf("sign transaction: %w", signErr)
		}
	} else {
		var signErr error
		rawTx, _, signErr = sign()
		if signErr != nil {
			return nil, fmt.Errorf("sign transaction: %w", signErr)
		}
	}

	signed := new(gethtypes.Transaction)
	if err := signed.UnmarshalBinary(rawTx); err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}
	return signed, nil
}

// Submit implements Adaptor.
func (m *MempoolAdaptor) Submit(ctx context.Context, tx *gethtypes.Transaction) (SubmitResult, error) {
	if err := m.chain.SendTransaction(ctx, tx); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{TxHash: tx.Hash().Hex(), GasPriceWei: tx.GasPrice()}, nil
}
