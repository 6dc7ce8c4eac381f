package services

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	siwe "github.com/spruceid/siwe-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scroll-tech/rpc-auth-proxy/internal/models"
	"github.com/scroll-tech/rpc-auth-proxy/internal/repos"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/errors"
)

const testDomain = "proxy.example"

func newTestSIWEService(t *testing.T, backend chainBackend) (*SIWEService, repos.NonceRepository) {
	t.Helper()
	verifier, _ := newTestVerifier(t, backend)

	ring, err := NewKeyRing([]models.SignerKey{
		{KID: "k1", Secret: []byte("secret-one")},
	}, "k1", time.Hour)
	require.NoError(t, err)

	nonceRepo := repos.NewNonceRepository(repos.DefaultNonceTTL)
	return NewSIWEService(nonceRepo, verifier, ring, testDomain), nonceRepo
}

func buildSIWEMessage(t *testing.T, domain string, address common.Address, nonce string, extra map[string]interface{}) string {
	t.Helper()
	options := map[string]interface{}{
		"statement": "Sign in to the RPC proxy",
		"version":   "1",
		"chainId":   1,
		"issuedAt":  time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range extra {
		options[key] = value
	}

	message, err := siwe.InitMessage(domain, address.Hex(), "https://"+domain, nonce, options)
	require.NoError(t, err)
	return message.String()
}

func signInEOA(t *testing.T, service *SIWEService, key *ecdsa.PrivateKey, address common.Address, nonce string) (string, error) {
	t.Helper()
	message := buildSIWEMessage(t, testDomain, address, nonce, nil)
	sig := signMessage(t, key, message)
	return service.SignIn(context.Background(), message, hexutil.Encode(sig))
}

func TestSIWEService_GetNonce(t *testing.T) {
	service, nonceRepo := newTestSIWEService(t, chainBackend{code: "0x"})

	nonce, err := service.GetNonce(context.Background())
	require.NoError(t, err)
	assert.Len(t, nonce, 32)

	// The issued nonce is live in the store.
	assert.True(t, nonceRepo.Consume(context.Background(), nonce))
}

func TestSIWEService_SignInHappyPath(t *testing.T) {
	service, _ := newTestSIWEService(t, chainBackend{code: "0x"})
	key, address := newTestKey(t)

	nonce, err := service.GetNonce(context.Background())
	require.NoError(t, err)

	token, err := signInEOA(t, service, key, address, nonce)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestSIWEService_ReplayBlocked(t *testing.T) {
	service, _ := newTestSIWEService(t, chainBackend{code: "0x"})
	key, address := newTestKey(t)

	nonce, err := service.GetNonce(context.Background())
	require.NoError(t, err)

	message := buildSIWEMessage(t, testDomain, address, nonce, nil)
	sig := hexutil.Encode(signMessage(t, key, message))

	_, err = service.SignIn(context.Background(), message, sig)
	require.NoError(t, err)

	// The same message and signature again: the nonce is spent.
	_, err = service.SignIn(context.Background(), message, sig)
	assertInvalidCredentials(t, err)
}

func TestSIWEService_FailedVerificationBurnsNonce(t *testing.T) {
	service, _ := newTestSIWEService(t, chainBackend{code: "0x"})
	key, address := newTestKey(t)
	otherKey, _ := newTestKey(t)

	nonce, err := service.GetNonce(context.Background())
	require.NoError(t, err)

	message := buildSIWEMessage(t, testDomain, address, nonce, nil)

	// Wrong signer: rejected, and the nonce is not reinstated.
	_, err = service.SignIn(context.Background(), message, hexutil.Encode(signMessage(t, otherKey, message)))
	assertInvalidCredentials(t, err)

	_, err = service.SignIn(context.Background(), message, hexutil.Encode(signMessage(t, key, message)))
	assertInvalidCredentials(t, err)
}

func TestSIWEService_UnknownNonce(t *testing.T) {
	service, _ := newTestSIWEService(t, chainBackend{code: "0x"})
	key, address := newTestKey(t)

	_, err := signInEOA(t, service, key, address, "00000000000000000000000000000000")
	assertInvalidCredentials(t, err)
}

func TestSIWEService_MalformedMessage(t *testing.T) {
	service, _ := newTestSIWEService(t, chainBackend{code: "0x"})

	_, err := service.SignIn(context.Background(), "not a siwe message", "0x00")
	assertInvalidCredentials(t, err)
}

func TestSIWEService_DomainMismatch(t *testing.T) {
	service, _ := newTestSIWEService(t, chainBackend{code: "0x"})
	key, address := newTestKey(t)

	nonce, err := service.GetNonce(context.Background())
	require.NoError(t, err)

	message := buildSIWEMessage(t, "evil.example", address, nonce, nil)
	_, err = service.SignIn(context.Background(), message, hexutil.Encode(signMessage(t, key, message)))
	assertInvalidCredentials(t, err)
}

func TestSIWEService_AnyDomainWhenUnconfigured(t *testing.T) {
	verifier, _ := newTestVerifier(t, chainBackend{code: "0x"})
	ring, err := NewKeyRing([]models.SignerKey{{KID: "k1", Secret: []byte("s")}}, "k1", time.Hour)
	require.NoError(t, err)
	nonceRepo := repos.NewNonceRepository(repos.DefaultNonceTTL)
	service := NewSIWEService(nonceRepo, verifier, ring, "")

	key, address := newTestKey(t)
	nonce, err := service.GetNonce(context.Background())
	require.NoError(t, err)

	message := buildSIWEMessage(t, "whatever.example", address, nonce, nil)
	_, err = service.SignIn(context.Background(), message, hexutil.Encode(signMessage(t, key, message)))
	assert.NoError(t, err)
}

func TestSIWEService_ExpiredMessage(t *testing.T) {
	service, _ := newTestSIWEService(t, chainBackend{code: "0x"})
	key, address := newTestKey(t)

	nonce, err := service.GetNonce(context.Background())
	require.NoError(t, err)

	message := buildSIWEMessage(t, testDomain, address, nonce, map[string]interface{}{
		"expirationTime": time.Now().UTC().Add(-5 * time.Minute).Format(time.RFC3339),
	})
	_, err = service.SignIn(context.Background(), message, hexutil.Encode(signMessage(t, key, message)))
	assertInvalidCredentials(t, err)
}

func TestSIWEService_ExpirationSkewWindow(t *testing.T) {
	service, _ := newTestSIWEService(t, chainBackend{code: "0x"})
	key, address := newTestKey(t)

	nonce, err := service.GetNonce(context.Background())
	require.NoError(t, err)

	// Expired half a skew window ago: still acceptable.
	message := buildSIWEMessage(t, testDomain, address, nonce, map[string]interface{}{
		"expirationTime": time.Now().UTC().Add(-30 * time.Second).Format(time.RFC3339),
	})
	_, err = service.SignIn(context.Background(), message, hexutil.Encode(signMessage(t, key, message)))
	assert.NoError(t, err)
}

func TestSIWEService_NotBefore(t *testing.T) {
	service, _ := newTestSIWEService(t, chainBackend{code: "0x"})
	key, address := newTestKey(t)

	nonce, err := service.GetNonce(context.Background())
	require.NoError(t, err)

	message := buildSIWEMessage(t, testDomain, address, nonce, map[string]interface{}{
		"notBefore": time.Now().UTC().Add(10 * time.Minute).Format(time.RFC3339),
	})
	_, err = service.SignIn(context.Background(), message, hexutil.Encode(signMessage(t, key, message)))
	assertInvalidCredentials(t, err)
}

func TestSIWEService_VerificationOutage(t *testing.T) {
	verifier, srv := newTestVerifier(t, chainBackend{code: "0x"})
	ring, err := NewKeyRing([]models.SignerKey{{KID: "k1", Secret: []byte("s")}}, "k1", time.Hour)
	require.NoError(t, err)
	nonceRepo := repos.NewNonceRepository(repos.DefaultNonceTTL)
	service := NewSIWEService(nonceRepo, verifier, ring, testDomain)

	key, address := newTestKey(t)
	nonce, err := service.GetNonce(context.Background())
	require.NoError(t, err)

	message := buildSIWEMessage(t, testDomain, address, nonce, nil)
	sig := hexutil.Encode(signMessage(t, key, message))

	srv.Close()

	_, err = service.SignIn(context.Background(), message, sig)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInternalError, appErr.Code)
}

func assertInvalidCredentials(t *testing.T, err error) {
	t.Helper()
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, errors.CodeUnauthorized, appErr.Code)
	assert.Equal(t, "Invalid credentials", appErr.Message)
}
