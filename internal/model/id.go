package model

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDKind is the prefix of a generated identifier.
type IDKind string

const (
	KindProfile IDKind = "prof"
	KindRequest IDKind = "req"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns "<kind>_<ULID>". IDs made by one process sort in creation
// order, even within a millisecond.
func NewID(kind IDKind) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return string(kind) + "_" + ulid.MustNew(ulid.Now(), entropy).String()
}

// ParseID splits id into its kind and creation time.
func ParseID(id string) (IDKind, time.Time, error) {
	prefix, rest, ok := strings.Cut(id, "_")
	if !ok {
		return "", time.Time{}, fmt.Errorf("id %q: missing kind prefix", id)
	}
	kind := IDKind(prefix)
	if kind != KindProfile && kind != KindRequest {
		return "", time.Time{}, fmt.Errorf("id %q: unknown kind %q", id, prefix)
	}
	u, err := ulid.ParseStrict(rest)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("id %q: %w", id, err)
	}
	return kind, ulid.Time(u.Time()), nil
}

// IsID reports whether id is a well-formed identifier of kind.
func IsID(id string, kind IDKind) bool {
	k, _, err := ParseID(id)
	return err == nil && k == kind
}
