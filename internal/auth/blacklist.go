package auth

import (
	"context"
	"time"
)

// TokenBlacklist records revoked JWT IDs. The API server's logout adds the
// token's JTI; ValidateToken consults it on every REST request and on the
// chat server's WebSocket handshake. A nil blacklist disables revocation.
type TokenBlacklist interface {
	// Add revokes jti until expiresAt, after which the token is rejected by
	// its own expiry and the entry can be dropped.
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}
