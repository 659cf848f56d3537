package mst

import (
	"encoding/base32"
	"strings"
)

// Hasher computes the digest used to assign a key's natural layer. It is
// injected so callers can swap in an accelerated implementation; see
// DefaultHasher in store.go for the built-in choice.
type Hasher interface {
	Sum256(data []byte) [32]byte
}

var b32lower = base32.StdEncoding.WithPadding(base32.NoPadding)

// leadingZerosOnHash returns a key's natural layer: the count of leading
// 'a' characters (base32 value zero) in the lowercase, unpadded RFC-4648
// base32 encoding of sha256(key). This must be pure and identical across
// implementations — it is the sole source of structural determinism.
func leadingZerosOnHash(h Hasher, key string) int {
	digest := h.Sum256([]byte(key))
	enc := strings.ToLower(b32lower.EncodeToString(digest[:]))

	var n int
	for n < len(enc) && enc[n] == 'a' {
		n++
	}
	return n
}
