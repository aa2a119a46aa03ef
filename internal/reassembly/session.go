// Package reassembly implements the per-flow transport state machines that
// turn framed byte streams (TCP-DNS, DoT, DoH, DoQ) into wire-format DNS
// messages, each behind its own bounded, mutex-guarded session table.
package reassembly

import (
	"sync"

	"github.com/minorway/dnsobserve/internal/flow"
)

// table is the session store shared by every reassembler in this package:
// a single mutex, keyed by flow.Key, bounded by maxSessions with
// idle-eviction-then-LRU-eviction on insert (spec §4.3's table discipline,
// reused unchanged by DoT/DoQ in §4.4).
type table[S any] struct {
	mu           sync.Mutex
	sessions     map[flow.Key]*entry[S]
	maxSessions  int
	timeoutMs    int64
	nowMs        int64
	newSession   func() S
}

type entry[S any] struct {
	state    S
	lastSeen int64
}

func newTable[S any](maxSessions int, timeoutMs int64, newSession func() S) *table[S] {
	return &table[S]{
		sessions:    make(map[flow.Key]*entry[S], maxSessions),
		maxSessions: maxSessions,
		timeoutMs:   timeoutMs,
		newSession:  newSession,
	}
}

// updateTime advances the table's clock and runs idle eviction, mirroring
// each reassembler's update_time(now_ms) entry point.
func (t *table[S]) updateTime(nowMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nowMs = nowMs
	t.evictIdleLocked()
}

func (t *table[S]) evictIdleLocked() {
	expired := t.nowMs - t.timeoutMs
	for k, v := range t.sessions {
		if v.lastSeen < expired {
			delete(t.sessions, k)
		}
	}
}

// withSession looks up the session for key, creating one (evicting to make
// room if necessary), stamps last_seen = now, and calls fn on it with the
// table lock held, so buffer mutation and eviction are atomic.
func (t *table[S]) withSession(key flow.Key, nowMs int64, fn func(s *S)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nowMs = nowMs
	e, ok := t.sessions[key]
	if !ok {
		if len(t.sessions) >= t.maxSessions {
			t.evictIdleLocked()
			if len(t.sessions) >= t.maxSessions {
				t.evictOldestLocked()
			}
		}
		e = &entry[S]{state: t.newSession()}
		t.sessions[key] = e
	}
	e.lastSeen = nowMs
	fn(&e.state)
}

func (t *table[S]) evictOldestLocked() {
	var oldestKey flow.Key
	var oldestSeen int64
	first := true
	for k, v := range t.sessions {
		if first || v.lastSeen < oldestSeen {
			oldestKey, oldestSeen = k, v.lastSeen
			first = false
		}
	}
	if !first {
		delete(t.sessions, oldestKey)
	}
}

func (t *table[S]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
