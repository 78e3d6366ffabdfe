// Package security covers address-derived pseudonymous identity and the
// per-address sliding-window rate limiter.
package security

import (
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var addrSeparators = regexp.MustCompile(`[:.]`)

// HashAddr derives a stable pseudonymous identity from a network address.
// The address segments are reversed before hashing so the result does not
// trivially resemble the address, and the two salts are mixed in as a
// keyed hash plus a suffix to resist rainbow-table lookups. The same
// address always yields the same id; unset salts still give a
// deterministic (but unsalted) hash.
func HashAddr(addr, saltOne, saltTwo string) string {
	segments := addrSeparators.Split(addr, -1)
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	shuffled := strings.Join(segments, "_x_")

	key := []byte(saltOne)
	if len(key) > blake2b.Size {
		key = key[:blake2b.Size]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		// Only reachable with an oversized key, which is truncated above.
		h, _ = blake2b.New256(nil)
	}
	h.Write([]byte(shuffled))
	h.Write([]byte(saltTwo))
	return hex.EncodeToString(h.Sum(nil))
}
