// Package digest provides the 32-byte SHA-256 value type used to
// address commits, changes, and objects, plus the domain-separated
// leaf and internal hashes the Merkle tree is built from.
package digest

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/WildMix/Scribe/internal/scriberr"
)

// Size is the length of a digest in bytes.
const Size = sha256.Size

// HexSize is the length of a hex-encoded digest.
const HexSize = Size * 2

// Domain-separation prefixes for Merkle hashing.
// Leaves and internal nodes hash under distinct prefixes so that an
// internal node can never be presented as a leaf (second-preimage
// resistance between tree levels).
const (
	prefixLeaf     = 0x00
	prefixInternal = 0x01
)

// Digest is a SHA-256 value. The zero value denotes "absent".
type Digest [Size]byte

// Zero is the absent-digest sentinel.
var Zero Digest

// IsZero reports whether d is the absent sentinel.
func (d Digest) IsZero() bool {
	return d == Zero
}

// Equal reports whether two digests are identical.
func (d Digest) Equal(other Digest) bool {
	return d == other
}

// Hex returns the fixed-width lowercase hex encoding (64 characters).
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// Short returns the abbreviated 12-character form used in human output.
func (d Digest) Short() string {
	return d.Hex()[:12]
}

// FromHex decodes a digest from hex. Anything that is not exactly 64
// hex digits is rejected with INVALID_ARG.
func FromHex(s string) (Digest, error) {
	if len(s) != HexSize {
		return Zero, scriberr.New(scriberr.KindInvalidArg, "digest hex must be %d characters, got %d", HexSize, len(s))
	}
	var d Digest
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return Zero, scriberr.Wrap(scriberr.KindInvalidArg, err, "invalid digest hex %q", s)
	}
	return d, nil
}

// HashBytes computes SHA256(data) with no prefix.
func HashBytes(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// HashLeaf computes SHA256(0x00 || data), the Merkle leaf hash.
func HashLeaf(data []byte) Digest {
	h := sha256.New()
	h.Write([]byte{prefixLeaf})
	h.Write(data)
	var d Digest
	h.Sum(d[:0])
	return d
}

// HashInternal computes SHA256(0x01 || left || right), the Merkle
// internal-node hash.
func HashInternal(left, right Digest) Digest {
	h := sha256.New()
	h.Write([]byte{prefixInternal})
	h.Write(left[:])
	h.Write(right[:])
	var d Digest
	h.Sum(d[:0])
	return d
}
