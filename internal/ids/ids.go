// Package ids generates event, alert, and raw-item identifiers. Under a
// deterministic context the suffix is derived from a seed and a counter so
// pinned replays reproduce identical ids; otherwise suffixes come from
// random UUIDs.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const suffixLen = 8

type state struct {
	now     time.Time
	seed    string
	counter int
}

var (
	mu    sync.Mutex
	stack []*state
)

// Context is a scoped deterministic-id guard. Release restores the prior
// state, so contexts nest correctly.
type Context struct {
	released bool
}

// NewContext pushes a deterministic-id state with a frozen clock and seed.
// Callers must Release the returned context when the scope ends.
func NewContext(now time.Time, seed string) *Context {
	mu.Lock()
	defer mu.Unlock()
	stack = append(stack, &state{now: now.UTC(), seed: seed})
	return &Context{}
}

// Release pops the deterministic-id state pushed by NewContext.
// Releasing twice is a no-op.
func (c *Context) Release() {
	if c == nil || c.released {
		return
	}
	c.released = true
	mu.Lock()
	defer mu.Unlock()
	if len(stack) > 0 {
		stack = stack[:len(stack)-1]
	}
}

func current() *state {
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

func nowAndSuffix() (time.Time, string) {
	mu.Lock()
	defer mu.Unlock()
	if s := current(); s != nil {
		s.counter++
		digest := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", s.seed, s.counter)))
		return s.now, hex.EncodeToString(digest[:])[:suffixLen]
	}
	return time.Now().UTC(), strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLen]
}

// NewEventID returns an id of the form EVT-<YYYYMMDD>-<8 hex>.
func NewEventID() string {
	now, suffix := nowAndSuffix()
	return fmt.Sprintf("EVT-%s-%s", now.Format("20060102"), suffix)
}

// NewAlertID returns an id of the form ALERT-<YYYYMMDD>-<8 hex>.
func NewAlertID() string {
	now, suffix := nowAndSuffix()
	return fmt.Sprintf("ALERT-%s-%s", now.Format("20060102"), suffix)
}

// NewRawID returns an id of the form RAW-<YYYYMMDD>-<8 hex>.
func NewRawID() string {
	now, suffix := nowAndSuffix()
	return fmt.Sprintf("RAW-%s-%s", now.Format("20060102"), suffix)
}

// Pinned reports whether a deterministic-id context is active.
func Pinned() bool {
	mu.Lock()
	defer mu.Unlock()
	return current() != nil
}
