// Package xid generates prefixed, sortable-enough identifiers for entities
// that don't get their IDs from the database.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns an identifier of the form "<prefix>-<unixnano>-<hex>". The
// timestamp keeps IDs roughly ordered by creation time; the random suffix
// makes collisions within the same nanosecond a non-issue.
func New(prefix string) string {
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; here a
		// timestamp-only ID is still unique enough for a single process.
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(suffix))
}
