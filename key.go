package grove

import (
	"encoding/base64"

	"github.com/minio/blake2b-simd"
)

// Key names a stored object. Keys are digests of the object's
// serialized content: equal keys mean equal content, and an object's
// key can only be learned by storing the content or from a branch
// head. The zero Key means absent.
type Key string

// Digest derives an object's Key from its serialized bytes.
// Implementations must be deterministic and collision-resistant;
// every store participating in synchronization must use the same
// Digest.
type Digest func([]byte) Key

// DefaultDigest names content by its BLAKE2b-256 hash,
// base64url-encoded.
func DefaultDigest(b []byte) Key {
	sum := blake2b.Sum256(b)
	return Key(base64.RawURLEncoding.EncodeToString(sum[:]))
}
