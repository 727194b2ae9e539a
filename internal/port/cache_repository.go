package port

import "context"

type IdempotencyStore interface {
	// Claim sets the key if absent, returns false if it already exists
	Claim(ctx context.Context, key string) (bool, error)

	// Release deletes the key so the request can be retried
	Release(ctx context.Context, key string) error
}
