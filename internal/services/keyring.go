package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"github.com/scroll-tech/rpc-auth-proxy/internal/models"
)

// ClockSkew is the tolerance applied to exp/iat checks on both the JWT and
// SIWE timing paths.
const ClockSkew = 60 * time.Second

// ErrInvalidToken is the only error Verify returns; callers cannot tell a
// bad signature from an unknown kid or an expired token.
var ErrInvalidToken = errors.New("invalid token")

// KeyRing holds the HS256 signing secrets keyed by kid. Exactly one entry,
// the default kid, signs newly minted tokens; every entry verifies. The ring
// is immutable after construction, so rotation means constructing a new ring
// and restarting.
type KeyRing struct {
	keys       map[string][]byte
	defaultKID string
	expiry     time.Duration
}

func NewKeyRing(keys []models.SignerKey, defaultKID string, expiry time.Duration) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, errors.New("key ring requires at least one signer key")
	}
	if expiry <= 0 {
		return nil, errors.New("token expiry must be positive")
	}

	ring := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if key.KID == "" {
			return nil, errors.New("signer key with empty kid")
		}
		if len(key.Secret) == 0 {
			return nil, fmt.Errorf("signer key %q has empty secret", key.KID)
		}
		if _, exists := ring[key.KID]; exists {
			return nil, fmt.Errorf("duplicate signer kid %q", key.KID)
		}
		ring[key.KID] = key.Secret
	}

	if _, ok := ring[defaultKID]; !ok {
		return nil, fmt.Errorf("default_kid %q not present in jwt_signer_keys", defaultKID)
	}

	return &KeyRing{
		keys:       ring,
		defaultKID: defaultKID,
		expiry:     expiry,
	}, nil
}

// IssueToken signs a session token for address with the default kid. The
// subject is the lowercase hex form of the address.
func (r *KeyRing) IssueToken(address common.Address) (string, error) {
	now := time.Now()
	claims := &models.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.ToLower(address.Hex()),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = r.defaultKID
	return token.SignedString(r.keys[r.defaultKID])
}

// Verify parses and validates a session token, looking the secret up by the
// kid header. Validation failures all collapse to ErrInvalidToken.
func (r *KeyRing) Verify(tokenString string) (*models.SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("missing kid header")
		}
		secret, ok := r.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(ClockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*models.SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
