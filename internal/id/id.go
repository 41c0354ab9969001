// Package id allocates time-sortable identifiers for manifest versions.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator hands out monotonic ULIDs: lexicographic order equals allocation
// order, including IDs allocated within the same millisecond.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
	last    ulid.ULID
}

// NewGenerator seeds a monotonic entropy source from crypto/rand.
func NewGenerator() *Generator {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		now:     time.Now,
	}
}

// New returns the next ULID string. It never returns an ID that sorts at or
// before one previously returned by the same generator, even if the clock
// steps backwards.
func (g *Generator) New() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := ulid.Timestamp(g.now().UTC())
	if ms < g.last.Time() {
		ms = g.last.Time()
	}
	next, err := ulid.New(ms, g.entropy)
	if err != nil {
		return "", err
	}
	if next.Compare(g.last) <= 0 {
		// Entropy for this millisecond is exhausted or the clock stalled.
		next, err = ulid.New(g.last.Time()+1, g.entropy)
		if err != nil {
			return "", err
		}
	}
	g.last = next
	return next.String(), nil
}

// NewAfter returns the next ULID, guaranteed to sort after floor. It is used
// when another process may have allocated IDs the generator has not seen.
func (g *Generator) NewAfter(floor string) (string, error) {
	if floor != "" {
		parsed, err := ulid.ParseStrict(floor)
		if err != nil {
			return "", err
		}
		g.mu.Lock()
		if parsed.Compare(g.last) > 0 {
			g.last = parsed
		}
		g.mu.Unlock()
	}
	return g.New()
}

// Valid reports whether s is a well-formed ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Time extracts the allocation time encoded in a ULID.
func Time(s string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
