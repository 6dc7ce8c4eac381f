package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/scroll-tech/rpc-auth-proxy/internal/models"
	"github.com/scroll-tech/rpc-auth-proxy/internal/services"
)

const identityKey = "identity"

// Identity resolves the Authorization header into a request identity and
// stores it in the request locals. It never fails the request: a missing or
// unverifiable credential degrades to Anonymous.
func Identity(adminKeys []string, ring *services.KeyRing) fiber.Handler {
	keys := make([][]byte, len(adminKeys))
	for i, key := range adminKeys {
		keys[i] = []byte(key)
	}

	return func(c *fiber.Ctx) error {
		c.Locals(identityKey, resolveIdentity(c.Get(fiber.HeaderAuthorization), keys, ring))
		return c.Next()
	}
}

// IdentityFromCtx returns the identity stored by the Identity middleware.
func IdentityFromCtx(c *fiber.Ctx) models.Identity {
	if identity, ok := c.Locals(identityKey).(models.Identity); ok {
		return identity
	}
	return models.Anonymous()
}

func resolveIdentity(authHeader string, adminKeys [][]byte, ring *services.KeyRing) models.Identity {
	if authHeader == "" {
		return models.Anonymous()
	}

	tokenParts := strings.Split(authHeader, " ")
	if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
		return models.Anonymous()
	}
	token := []byte(tokenParts[1])

	// Admin keys are checked before JWT parsing so they need not be JWTs at
	// all. Every configured key is compared to keep the timing independent
	// of which key matches.
	match := 0
	for _, key := range adminKeys {
		match |= subtle.ConstantTimeCompare(token, key)
	}
	if match == 1 {
		return models.Admin()
	}

	claims, err := ring.Verify(string(token))
	if err != nil {
		return models.Anonymous()
	}

	address, ok := parseSubject(claims.Subject)
	if !ok {
		return models.Anonymous()
	}
	return models.User(address)
}

// parseSubject accepts only the canonical lowercase 0x-prefixed form the
// key ring itself mints.
func parseSubject(subject string) (common.Address, bool) {
	if len(subject) != 42 || !strings.HasPrefix(subject, "0x") {
		return common.Address{}, false
	}
	if subject != strings.ToLower(subject) || !common.IsHexAddress(subject) {
		return common.Address{}, false
	}
	return common.HexToAddress(subject), true
}
