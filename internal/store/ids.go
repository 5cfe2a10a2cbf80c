package store

import (
	"crypto/rand"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a fresh ULID. Lexicographic order follows creation time,
// which keeps ids usable as a tiebreak sort key.
func NewID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// PairKey builds the deterministic key for a two-party conversation:
// the sorted pair joined with "_".
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}
