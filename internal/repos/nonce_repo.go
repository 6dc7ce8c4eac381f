package repos

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultNonceTTL bounds how long an issued nonce stays redeemable. Without
// it the live set would grow with every abandoned challenge.
const DefaultNonceTTL = 10 * time.Minute

// nonceRepository keeps the live set in process memory. Restarting the proxy
// invalidates all outstanding challenges, which is acceptable: a challenge is
// only ever valid for a single sign-in attempt.
type nonceRepository struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time // nonce -> expiry
	now     func() time.Time
}

func NewNonceRepository(ttl time.Duration) NonceRepository {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &nonceRepository{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Issue generates a fresh 128-bit nonce and adds it to the live set.
func (r *nonceRepository) Issue(ctx context.Context) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(b)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()
	r.entries[nonce] = r.now().Add(r.ttl)
	return nonce, nil
}

// Consume atomically removes nonce from the live set. It returns true iff
// the nonce was present and unexpired, so two concurrent sign-ins racing on
// the same nonce produce exactly one success.
func (r *nonceRepository) Consume(ctx context.Context, nonce string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiry, ok := r.entries[nonce]
	if !ok {
		return false
	}
	delete(r.entries, nonce)
	return r.now().Before(expiry)
}

// PurgeExpired removes expired entries and reports how many were dropped.
func (r *nonceRepository) PurgeExpired(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purgeLocked()
}

func (r *nonceRepository) purgeLocked() int {
	now := r.now()
	purged := 0
	for nonce, expiry := range r.entries {
		if !now.Before(expiry) {
			delete(r.entries, nonce)
			purged++
		}
	}
	return purged
}
