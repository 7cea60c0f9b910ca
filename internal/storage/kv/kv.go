// Package kv defines the durable key-value blob store used for per-user
// client state such as carts.
package kv

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned by Get when the key holds no value.
	ErrNotFound = errors.New("kv: key not found")
	// ErrQuotaExceeded is returned by Set when the store is full.
	ErrQuotaExceeded = errors.New("kv: quota exceeded")
)

// Store is a key-value blob store. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Namespace prefixes keys so that independent owners of one Store never
// collide.
type Namespace string

// Key returns the namespaced key for id.
func (n Namespace) Key(id string) string {
	return string(n) + ":" + id
}
