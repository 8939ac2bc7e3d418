package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const DefaultTTL = time.Hour

// Entry is a cached payload together with its write time.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a fingerprint keyed cache with lazy expiry: entries older than the
// TTL are reported as absent on read.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Fingerprint returns the hex sha256 of the normalized document text.
// Line endings are unified and runs of whitespace collapse to a single space.
func Fingerprint(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.Join(strings.Fields(normalized), " ")

	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func expired(createdAt, now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(createdAt) > ttl
}
