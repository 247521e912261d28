package command

import (
	"crypto/sha256"
	"encoding/hex"
)

// Cache key namespaces. Keys from different tiers never collide because the
// namespace is outside the hashed portion.
const (
	ContentKeyPrefix = "content:"
	SearchKeyPrefix  = "search:"
)

// CacheKey derives a deterministic search-tier cache key from the command's
// full identity. The digest is a full SHA-256 (256 bits); truncating it would
// trade cache correctness for nothing.
func CacheKey(cmd Command) string {
	h := sha256.New()
	h.Write([]byte(cmd.Name))
	for _, arg := range cmd.Args {
		// NUL-separated so ["ab","c"] and ["a","bc"] never collide.
		h.Write([]byte{0})
		h.Write([]byte(arg))
	}
	return SearchKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// PathKey derives the content-tier cache key for a resolved absolute path.
func PathKey(resolvedPath string) string {
	sum := sha256.Sum256([]byte(resolvedPath))
	return ContentKeyPrefix + hex.EncodeToString(sum[:])
}
