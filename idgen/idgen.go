// Package idgen generates ULIDs and wraps them in uuid.UUID so every
// existing uuid.UUID-typed column and accessor keeps working unchanged:
// a ULID and a UUID are both 128-bit values, only the generator differs.
package idgen

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a new time-sortable identifier as a uuid.UUID.
func New() uuid.UUID {
	mu.Lock()
	defer mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	var u uuid.UUID
	copy(u[:], id[:])
	return u
}

// Nil is the singleton-row identifier (Setting.Id).
var Nil = uuid.UUID{}
