package webhook

import (
	"sync"
	"time"
)

// deliveryDeduper remembers service hook event ids that were handled
// successfully, so redeliveries of the same event are acknowledged without
// running the reaction again.
type deliveryDeduper struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func newDeliveryDeduper(ttl time.Duration) *deliveryDeduper {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &deliveryDeduper{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// seen reports whether id was handled within the ttl. Empty ids are never seen.
func (d *deliveryDeduper) seen(id string) bool {
	if id == "" {
		return false
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Remove expired entries
	for key, expiry := range d.entries {
		if now.After(expiry) {
			delete(d.entries, key)
		}
	}

	expiry, ok := d.entries[id]
	return ok && now.Before(expiry)
}

// mark records id as handled.
func (d *deliveryDeduper) mark(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[id] = d.now().Add(d.ttl)
}
