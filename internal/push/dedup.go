package push

import "time"

// dedupCache remembers recently relayed event keys. Entries age out after
// the window; the cache is bounded and evicts oldest-first. Not safe for
// concurrent use; callers synchronize.
type dedupCache struct {
	window time.Duration
	bound  int
	seen   map[string]time.Time
	order  []dedupEntry
}

// dedupEntry pairs an observed key with its observation time. A re-observed
// key leaves its old order entry behind as a stale record; eviction only
// drops the seen entry when the timestamps still match.
type dedupEntry struct {
	key string
	at  time.Time
}

func newDedupCache(bound int, window time.Duration) *dedupCache {
	return &dedupCache{
		window: window,
		bound:  bound,
		seen:   make(map[string]time.Time, bound),
	}
}

// Observe records the key and reports whether it was already present inside
// the window.
func (d *dedupCache) Observe(key string, now time.Time) bool {
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return true
	}

	// Drop aged entries from the front before admitting a new one. Entries
	// are appended in observation order, so the scan stops at the first
	// still-live record.
	for len(d.order) > 0 {
		head := d.order[0]
		if at, ok := d.seen[head.key]; ok {
			if now.Sub(at) < d.window && at == head.at {
				break
			}
			if at == head.at {
				delete(d.seen, head.key)
			}
		}
		d.order = d.order[1:]
	}
	if len(d.order) >= d.bound {
		evict := d.order[0]
		if at, ok := d.seen[evict.key]; ok && at == evict.at {
			delete(d.seen, evict.key)
		}
		d.order = d.order[1:]
	}

	d.seen[key] = now
	d.order = append(d.order, dedupEntry{key: key, at: now})
	return false
}
