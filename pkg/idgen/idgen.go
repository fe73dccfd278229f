// Package idgen hands out ULIDs that sort in generation order and are unique
// for the lifetime of the process, including under concurrent callers.
package idgen

import (
	"crypto/rand"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator issues strictly increasing ULIDs. The zero value is not usable;
// construct with New.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	last    ulid.ULID
	now     func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the wall clock used for the ULID timestamp.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithEntropy replaces the random source. inc bounds the random increment
// applied between two ids in the same millisecond; 0 selects the library default.
func WithEntropy(r io.Reader, inc uint64) Option {
	return func(g *Generator) {
		if r != nil {
			g.entropy = ulid.Monotonic(r, inc)
		}
	}
}

// New constructs a Generator backed by crypto/rand.
func New(opts ...Option) *Generator {
	g := &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the next id. It never fails: when the monotonic source is
// exhausted for the current millisecond, it yields and retries until the
// clock moves on.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		ms := ulid.Timestamp(g.now())
		// A clock step backwards must not reorder ids.
		if last := g.last.Time(); ms < last {
			ms = last
		}
		id, err := ulid.New(ms, g.entropy)
		if err == nil && id.Compare(g.last) > 0 {
			g.last = id
			return id
		}
		g.mu.Unlock()
		runtime.Gosched()
		g.mu.Lock()
	}
}

// NewID returns the next id in its canonical 26-character form.
func (g *Generator) NewID() string { return g.Generate().String() }
