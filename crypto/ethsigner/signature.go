// Package ethsigner provides the ECDSA signing primitives used to sign
// transactions, cancel messages and builder bundle payloads.
package ethsigner

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// SignatureLength is the size of an ECDSA signature in bytes (R, S, V).
	SignatureLength = ethcrypto.SignatureLength
	// SigningPrefix is the prefix added when hashing an Ethereum message.
	SigningPrefix = "Ethereum Signed Message:\n"
	// HashLength is the size of a keccak256 hash.
	HashLength = 32
)

// ECDSASignature represents an Ethereum ECDSA signature with R and S
// components plus the recovery byte.
type ECDSASignature struct {
	R        *big.Int `json:"r"`
	S        *big.Int `json:"s"`
	recovery byte
}

// BytesToSignature builds an ECDSASignature from a raw 65-byte signature.
func BytesToSignature(signature []byte) (*ECDSASignature, error) {
	if len(signature) < SignatureLength-1 {
		return nil, fmt.Errorf("signature length is less than %d", SignatureLength-1)
	}
	sig := new(ECDSASignature).SetBytes(signature)
	if sig == nil {
		return nil, fmt.Errorf("wrong signature bytes")
	}
	return sig, nil
}

// Valid reports whether both R and S components are set.
func (sig *ECDSASignature) Valid() bool {
	return sig.R != nil && sig.S != nil
}

// Bytes returns the 65-byte R||S||V representation, with V as the 0/1
// recovery id (a stored 27/28 value is shifted down).
func (sig *ECDSASignature) Bytes() []byte {
	rBytes := sig.R.Bytes()
	sBytes := sig.S.Bytes()

	r := make([]byte, 32)
	s := make([]byte, 32)
	copy(r[32-len(rBytes):], rBytes)
	copy(s[32-len(sBytes):], sBytes)

	v := sig.recovery
	if v > 1 {
		v -= 27
	}
	return append(r, append(s, v)...)
}

// SetBytes populates the signature from a raw byte slice.
func (sig *ECDSASignature) SetBytes(signature []byte) *ECDSASignature {
	if len(signature) < SignatureLength-1 {
		return nil
	}
	sig.R = new(big.Int).SetBytes(signature[:32])
	sig.S = new(big.Int).SetBytes(signature[32:64])

	if len(signature) == SignatureLength {
		v := signature[64]
		if v >= 27 {
			v -= 27
		}
		if v > 3 {
			return nil
		}
		sig.recovery = v
	} else {
		sig.recovery = 0
	}
	return sig
}

// String returns a debug representation of the signature.
func (sig *ECDSASignature) String() string {
	return fmt.Sprintf("R: %s, S: %s, Recovery: %d", sig.R.String(), sig.S.String(), sig.recovery)
}

// AddrFromSignature recovers the Ethereum address that produced the
// signature of message.
func AddrFromSignature(message []byte, signature *ECDSASignature) (common.Address, error) {
	if signature == nil || !signature.Valid() {
		return common.Address{}, fmt.Errorf("signature is nil")
	}
	pubKey, err := ethcrypto.SigToPub(HashMessage(message), signature.Bytes())
	if err != nil {
		return common.Address{}, fmt.Errorf("sigToPub: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pubKey), nil
}

// Verify checks that sig is a valid signature of signedInput produced by
// expectedAddress.
func (sig *ECDSASignature) Verify(signedInput []byte, expectedAddress common.Address) bool {
	if !sig.Valid() {
		return false
	}
	pubKey, err := ethcrypto.SigToPub(HashMessage(signedInput), sig.Bytes())
	if err != nil {
		return false
	}
	return bytes.Equal(ethcrypto.PubkeyToAddress(*pubKey).Bytes(), expectedAddress.Bytes())
}

// HashMessage performs a keccak256 hash over data with the Ethereum signed
// message prefix.
func HashMessage(data []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s%d%s", SigningPrefix, len(data), data)
	return HashRaw(buf.Bytes())
}

// HashRaw hashes data with no prefix using keccak256. SignRaw uses it to
// digest a builder bundle body before signing that digest's hex encoding as
// an Ethereum personal message.
func HashRaw(data []byte) []byte {
	return ethcrypto.Keccak256(data)
}
