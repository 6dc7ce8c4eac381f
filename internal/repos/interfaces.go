package repos

import "context"

// NonceRepository hands out single-use SIWE nonces. A nonce moves from
// issued to consumed exactly once; consuming an unknown or already consumed
// nonce fails.
type NonceRepository interface {
	Issue(ctx context.Context) (string, error)
	Consume(ctx context.Context, nonce string) bool
	PurgeExpired(ctx context.Context) int
}
