package ethsigner

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer wraps an ECDSA private key used to sign submitted transactions,
// cancel messages and builder bundle payloads.
type Signer ecdsa.PrivateKey

// Address returns the Ethereum address derived from the signer's public key.
func (s *Signer) Address() common.Address {
	return ethcrypto.PubkeyToAddress(s.PublicKey)
}

// PrivateKey returns the underlying ecdsa.PrivateKey, for handing off to
// go-ethereum transaction-signing helpers.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey {
	return (*ecdsa.PrivateKey)(s)
}

// Sign signs msg with the Ethereum personal-message prefix.
func (s *Signer) Sign(msg []byte) (*ECDSASignature, error) {
	return Sign(msg, (*ecdsa.PrivateKey)(s))
}

// SignRaw produces the "address:signature" pair a builder relay expects in
// the X-Flashbots-Signature header: a personal-message signature over the
// hex-encoded keccak256 digest of data (the bundle request body).
func (s *Signer) SignRaw(data []byte) (string, error) {
	digest := hexutil.Encode(HashRaw(data))
	sig, err := ethcrypto.Sign(HashMessage([]byte(digest)), (*ecdsa.PrivateKey)(s))
	if err != nil {
		return "", fmt.Errorf("could not sign bundle body: %w", err)
	}
	return fmt.Sprintf("%s:0x%x", s.Address().Hex(), sig), nil
}

// NewSigner generates a new random ECDSA private key.
func NewSigner() (*Signer, error) {
	s, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("could not generate key: %w", err)
	}
	return (*Signer)(s), nil
}

// NewSignerFromHex loads a private key from its hex-encoded representation.
func NewSignerFromHex(hexKey string) (*Signer, error) {
	s, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("could not parse private key: %w", err)
	}
	return (*Signer)(s), nil
}

// Sign signs an Ethereum personal message using the given private key.
func Sign(msg []byte, privKey *ecdsa.PrivateKey) (*ECDSASignature, error) {
	ethSignature, err := ethcrypto.Sign(HashMessage(msg), privKey)
	if err != nil {
		return nil, fmt.Errorf("could not sign message: %w", err)
	}
	return BytesToSignature(ethSignature)
}
