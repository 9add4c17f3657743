// Package entry holds the on-disk entry value object, the name catalog, and
// the monotonic file namer — the FileNamer and QueueEntry components of
// spec.md §4.4 and §3. Kept separate from the engine package so recovery and
// the catalog's ordering invariants can be unit tested in isolation.
package entry

import (
	"fmt"
	"sync"
	"time"
)

// NameLength is the fixed width of a generated entry name: decimal
// nanoseconds since the Unix epoch, zero-padded. Lexicographic order over
// names of this width equals temporal order, which is the catalog's
// ordering invariant.
const NameLength = 20

// Namer allocates strictly increasing, fixed-width entry names from a
// clock. If the clock doesn't advance (or goes backward) relative to the
// last allocated name, Namer bumps by one minimal tick instead of stalling
// or colliding.
type Namer struct {
	mu   sync.Mutex
	last string
	now  func() time.Time
}

// NewNamer returns a Namer driven by now. A nil now defaults to time.Now.
func NewNamer(now func() time.Time) *Namer {
	if now == nil {
		now = time.Now
	}
	return &Namer{now: now}
}

// Next allocates the next monotonic name.
func (n *Namer) Next() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	candidate := fmt.Sprintf("%0*d", NameLength, n.now().UnixNano())
	if candidate <= n.last {
		candidate = bump(n.last)
	}
	n.last = candidate
	return candidate
}

// Observe records name as having been seen (e.g. during recovery scans), so
// that subsequently allocated names stay strictly greater than it. Observe
// the largest recovered name before the first call to Next.
func (n *Namer) Observe(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if name > n.last {
		n.last = name
	}
}

// bump returns the lexicographically-next fixed-width decimal string after
// s, treating s as an unsigned big-endian decimal integer.
func bump(s string) string {
	digits := []byte(s)
	for i := len(digits) - 1; i >= 0; i-- {
		if digits[i] < '9' {
			digits[i]++
			return string(digits)
		}
		digits[i] = '0'
	}
	// Overflow of a 20-digit nanosecond counter never happens in practice
	// (10^20 ns is about 3,170 years of ticks); widen rather than silently
	// wrap.
	return "1" + string(digits)
}

// Valid reports whether name has the expected fixed width and is composed
// entirely of decimal digits, i.e. whether it could have been produced by a
// Namer. Scans over the storage directory use this to ignore unrelated
// files.
func Valid(name string) bool {
	if len(name) != NameLength {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return false
		}
	}
	return true
}
