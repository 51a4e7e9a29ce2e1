// Package blob stores generated artifacts and hands back opaque reference
// URLs. The pipeline never interprets a reference beyond threading it to
// the client.
package blob

import "context"

// Store accepts artifact bytes and returns a stable reference URL.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
