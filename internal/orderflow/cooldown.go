package orderflow

import (
	"sync"
	"time"
)

// CooldownTracker enforces per-(symbol, indicator) cooldown and decay
// windows. It is shared by OrderFlowAnalyzer and the regime warning engine
// so both suppress event/warning storms the same way.
type CooldownTracker struct {
	mu          sync.Mutex
	lastTrigger map[string]time.Time
}

// NewCooldownTracker constructs an empty CooldownTracker.
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{lastTrigger: make(map[string]time.Time)}
}

func cooldownKey(symbol, indicator string) string { return symbol + "\x00" + indicator }

// Allow reports whether (symbol, indicator) may fire again, given now and
// the configured cooldown. It does not record the trigger.
func (c *CooldownTracker) Allow(symbol, indicator string, now time.Time, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastTrigger[cooldownKey(symbol, indicator)]
	if !ok {
		return true
	}
	return now.Sub(last) >= cooldown
}

// Record marks (symbol, indicator) as having just fired at now.
func (c *CooldownTracker) Record(symbol, indicator string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTrigger[cooldownKey(symbol, indicator)] = now
}

// Decayed reports whether (symbol, indicator)'s last trigger is older than
// decay, meaning any state derived from it should be cleared.
func (c *CooldownTracker) Decayed(symbol, indicator string, now time.Time, decay time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastTrigger[cooldownKey(symbol, indicator)]
	if !ok {
		return true
	}
	return now.Sub(last) >= decay
}

// Reset clears all recorded triggers for a symbol, used on strategy reset
// or symbol delisting.
func (c *CooldownTracker) Reset(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := symbol + "\x00"
	for k := range c.lastTrigger {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.lastTrigger, k)
		}
	}
}
