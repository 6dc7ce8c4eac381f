package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/scroll-tech/rpc-auth-proxy/pkg/blockchain"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/logger"
)

var (
	// ErrInvalidSignature means the signature does not prove control of the
	// claimed address.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrVerificationUnavailable means the L2 RPC could not be consulted.
	// It is transient and must never be conflated with a bad signature.
	ErrVerificationUnavailable = errors.New("signature verification unavailable")
)

// SignatureVerifier validates a SIWE signature against an account,
// dispatching on the account's class. EOAs are checked by ECDSA recovery,
// contract accounts via ERC-1271, and EIP-7702 delegated accounts may
// present either form.
type SignatureVerifier struct {
	chain *blockchain.Client
}

func NewSignatureVerifier(chain *blockchain.Client) *SignatureVerifier {
	return &SignatureVerifier{chain: chain}
}

// Verify checks signature over the exact SIWE message text for address.
// Returns nil, ErrInvalidSignature, or ErrVerificationUnavailable.
func (v *SignatureVerifier) Verify(ctx context.Context, address common.Address, message string, signature []byte) error {
	classification, err := v.chain.ClassifyAccount(ctx, address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}

	digest := personalSignHash(message)

	switch classification.Class {
	case blockchain.ClassEOA:
		return v.verifyEOA(address, digest, signature)

	case blockchain.ClassContract:
		return v.verifyContract(ctx, address, digest, signature)

	case blockchain.ClassDelegated:
		// A 7702 account can legitimately sign with its delegate code or
		// with its own key; accept either. An unreachable RPC still aborts
		// rather than silently degrading to the key path.
		err := v.verifyContract(ctx, address, digest, signature)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrVerificationUnavailable) {
			return err
		}
		logger.Debug("Delegated account failed ERC-1271 check, trying key recovery",
			"address", address.Hex(),
			"delegate", classification.Delegate.Hex())
		return v.verifyEOA(address, digest, signature)
	}

	return ErrInvalidSignature
}

// verifyEOA recovers the signer from a 65-byte r||s||v signature and
// compares it to the claimed address. Both v encodings ({0,1} and {27,28})
// are accepted.
func (v *SignatureVerifier) verifyEOA(address common.Address, digest common.Hash, signature []byte) error {
	if len(signature) != crypto.SignatureLength {
		return ErrInvalidSignature
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return ErrInvalidSignature
	}

	pubKey, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return ErrInvalidSignature
	}

	if crypto.PubkeyToAddress(*pubKey) != address {
		return ErrInvalidSignature
	}
	return nil
}

// verifyContract asks the account contract itself via ERC-1271.
func (v *SignatureVerifier) verifyContract(ctx context.Context, address common.Address, digest common.Hash, signature []byte) error {
	valid, err := v.chain.ValidSignature1271(ctx, address, digest, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if !valid {
		return ErrInvalidSignature
	}
	return nil
}

// personalSignHash computes the EIP-191 personal-sign digest of message.
func personalSignHash(message string) common.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
}
