// Package ratelimit provides a per-user cooldown gate for inbound events.
//
// State is held in process memory only; a restart resets all cooldowns,
// which is acceptable for an admission filter.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// MinCooldown is the floor for the cooldown interval. A zero or
// negative interval would disable the gate entirely.
const MinCooldown = 100 * time.Millisecond

// Gate admits at most one event per user per cooldown interval.
// Whitelisted identities are always admitted.
type Gate struct {
	mu        sync.Mutex
	cooldown  time.Duration
	whitelist map[string]struct{}
	last      map[string]time.Time
}

// NewGate creates a Gate with the given cooldown and whitelist.
// Cooldowns below MinCooldown are clamped up.
func NewGate(cooldown time.Duration, whitelist []string) *Gate {
	if cooldown < MinCooldown {
		slog.Warn("Gate cooldown below floor, clamping", "requested", cooldown, "floor", MinCooldown)
		cooldown = MinCooldown
	}
	wl := make(map[string]struct{}, len(whitelist))
	for _, id := range whitelist {
		if id != "" {
			wl[id] = struct{}{}
		}
	}
	return &Gate{
		cooldown:  cooldown,
		whitelist: wl,
		last:      make(map[string]time.Time),
	}
}

// Admit reports whether an event from userID at time now may proceed.
// The last-seen timestamp is updated only on admission, so a rejected
// burst does not extend the cooldown window.
func (g *Gate) Admit(userID string, now time.Time) bool {
	if _, ok := g.whitelist[userID]; ok {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.last[userID]; ok && now.Sub(last) < g.cooldown {
		slog.Debug("Gate rejected event", "userID", userID, "since_last", now.Sub(last))
		return false
	}
	g.last[userID] = now
	return true
}
