package auth

import (
	"strings"
	"sync"
	stdtime "time"
)

// FakeClock is a Clock that only moves when told to. Safe to share between a
// test and the server goroutines it drives.
type FakeClock struct {
	mu  sync.Mutex
	now stdtime.Time
}

func NewFakeClock(t stdtime.Time) *FakeClock { return &FakeClock{now: t} }

func (c *FakeClock) Now() stdtime.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d stdtime.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps to t, e.g. across a billing-period boundary.
func (c *FakeClock) Set(t stdtime.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

const plaintextPrefix = "$plain$"

// PlaintextHasher skips argon2 so password-heavy tests stay fast. Test only.
type PlaintextHasher struct{}

func (PlaintextHasher) HashPassword(password string) (string, error) {
	return plaintextPrefix + password, nil
}

func (PlaintextHasher) VerifyPassword(password, encodedHash string) bool {
	stored, ok := strings.CutPrefix(encodedHash, plaintextPrefix)
	return ok && stored == password
}
