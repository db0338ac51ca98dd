package dpdb

import (
	"crypto/md5"

	"github.com/zeebo/blake3"
)

// DigestFunc computes the fixed-width digest used to locate a key in the
// trie. Every digest returned by one func for one Config must be exactly
// Config.HashSize bytes.
type DigestFunc func(key []byte) []byte

// MD5Digest is the spec default: 16-byte MD5 of the raw key bytes.
func MD5Digest(key []byte) []byte {
	sum := md5.Sum(key)
	return sum[:]
}

// Blake3Digest is an opt-in alternative for large key sets: hash the key
// with BLAKE3, then take the leading hashSize bytes as the digest.
func Blake3Digest(hashSize int) DigestFunc {
	return func(key []byte) []byte {
		h := blake3.New()
		h.Write(key)
		sum := h.Sum(nil)
		if len(sum) < hashSize {
			// blake3's default Sum is 32 bytes; widen via Digest for larger sizes.
			d := h.Digest()
			out := make([]byte, hashSize)
			d.Read(out)
			return out
		}
		return sum[:hashSize]
	}
}
