package packdock

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
)

// InitialRevision is the revision of a manifest that has never been written.
const InitialRevision = "0-0000000000000000"

// NextRevision produces the revision token following old. Tokens have the
// form "N-<16 hex chars>"; the counter strictly increases on every write to
// the same package while the suffix is regenerated. The token is
// wire-visible but opaque to clients beyond its monotonicity.
func NextRevision(old string) string {
	n := 0
	if i := strings.IndexByte(old, '-'); i > 0 {
		if parsed, err := strconv.Atoi(old[:i]); err == nil {
			n = parsed
		}
	}
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; the suffix carries no security weight, so fall back
		// to a fixed value rather than failing the write.
		copy(suffix, []byte("packdock"))
	}
	return strconv.Itoa(n+1) + "-" + hex.EncodeToString(suffix)
}

// RevisionCounter extracts the monotonic counter from a revision token.
// Malformed tokens report zero.
func RevisionCounter(rev string) int {
	i := strings.IndexByte(rev, '-')
	if i <= 0 {
		return 0
	}
	n, err := strconv.Atoi(rev[:i])
	if err != nil {
		return 0
	}
	return n
}
