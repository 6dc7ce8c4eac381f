package services

import (
	"context"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	siwe "github.com/spruceid/siwe-go"

	"github.com/scroll-tech/rpc-auth-proxy/internal/repos"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/errors"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/logger"
)

// SIWEService implements the challenge/response session flow behind the
// siwe_getNonce and siwe_signIn RPC methods.
type SIWEService struct {
	nonceRepo repos.NonceRepository
	verifier  *SignatureVerifier
	keyRing   *KeyRing
	domain    string // expected SIWE domain; empty accepts any
}

func NewSIWEService(nonceRepo repos.NonceRepository, verifier *SignatureVerifier, keyRing *KeyRing, domain string) *SIWEService {
	return &SIWEService{
		nonceRepo: nonceRepo,
		verifier:  verifier,
		keyRing:   keyRing,
		domain:    domain,
	}
}

// GetNonce issues a fresh single-use nonce. Open to any identity.
func (s *SIWEService) GetNonce(ctx context.Context) (string, error) {
	nonce, err := s.nonceRepo.Issue(ctx)
	if err != nil {
		logger.Error("Failed to generate nonce", "error", err)
		return "", errors.Internal("Failed to generate nonce")
	}
	return nonce, nil
}

// SignIn validates a signed SIWE message and returns a session JWT. Every
// rejection surfaces as the same "Invalid credentials" error; only a
// transient verification outage is reported differently, and in that case
// the nonce has already been spent.
func (s *SIWEService) SignIn(ctx context.Context, message, signature string) (string, error) {
	siweMessage, err := siwe.ParseMessage(message)
	if err != nil {
		return "", s.reject("malformed message", err)
	}

	if siweMessage.GetVersion() != "1" {
		return "", s.reject("unsupported version", fmt.Errorf("version %q", siweMessage.GetVersion()))
	}

	if s.domain != "" && siweMessage.GetDomain() != s.domain {
		return "", s.reject("domain mismatch",
			fmt.Errorf("expected %q, got %q", s.domain, siweMessage.GetDomain()))
	}

	if err := checkMessageTiming(siweMessage, time.Now()); err != nil {
		return "", s.reject("timing check failed", err)
	}

	// The nonce is burned before the signature is checked; a failed
	// verification never reinstates it.
	if !s.nonceRepo.Consume(ctx, siweMessage.GetNonce()) {
		return "", s.reject("unknown or consumed nonce", nil)
	}

	sigBytes, err := decodeSignature(signature)
	if err != nil {
		return "", s.reject("undecodable signature", err)
	}

	address := siweMessage.GetAddress()
	if err := s.verifier.Verify(ctx, address, message, sigBytes); err != nil {
		if stderrors.Is(err, ErrVerificationUnavailable) {
			logger.Warn("SIWE sign-in hit verification outage", "address", address.Hex(), "error", err)
			return "", errors.VerificationUnavailable(err)
		}
		return "", s.reject("signature verification failed", err)
	}

	token, err := s.keyRing.IssueToken(address)
	if err != nil {
		logger.Error("Failed to sign session token", "error", err)
		return "", errors.Internal("Failed to issue session token")
	}

	logger.Info("SIWE sign-in succeeded", "address", strings.ToLower(address.Hex()))
	return token, nil
}

func (s *SIWEService) reject(reason string, cause error) error {
	logger.Warn("SIWE sign-in rejected", "reason", reason, "error", cause)
	return errors.InvalidCredentials(cause)
}

// checkMessageTiming enforces not-before/expiration with the shared clock
// skew window.
func checkMessageTiming(message *siwe.Message, now time.Time) error {
	if nb := message.GetNotBefore(); nb != nil {
		t, err := time.Parse(time.RFC3339, *nb)
		if err != nil {
			return fmt.Errorf("unparseable notBefore: %w", err)
		}
		if now.Add(ClockSkew).Before(t) {
			return fmt.Errorf("message not valid before %s", t)
		}
	}
	if exp := message.GetExpirationTime(); exp != nil {
		t, err := time.Parse(time.RFC3339, *exp)
		if err != nil {
			return fmt.Errorf("unparseable expirationTime: %w", err)
		}
		if !now.Before(t.Add(ClockSkew)) {
			return fmt.Errorf("message expired at %s", t)
		}
	}
	return nil
}

func decodeSignature(signature string) ([]byte, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	return sigBytes, nil
}
