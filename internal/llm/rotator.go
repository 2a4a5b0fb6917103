package llm

import (
	"context"
	"strconv"
	"sync"
	"time"

	"skimmer/internal/logger"
	"skimmer/internal/store"
)

const rotatorIndexKey = "api_key_index"

// KeyRotator hands out API keys round-robin, skipping keys that were
// rate-limited recently. The rotation index is persisted so restarts keep
// spreading load evenly.
type KeyRotator struct {
	mu        sync.Mutex
	keys      []string
	index     int
	cooldowns map[string]time.Time
	st        *store.Store
}

// NewKeyRotator loads the persisted index, applying modulo in case the key
// list changed size.
func NewKeyRotator(ctx context.Context, st *store.Store, keys []string) *KeyRotator {
	r := &KeyRotator{
		keys:      keys,
		cooldowns: make(map[string]time.Time),
		st:        st,
	}

	if value, ok, err := st.GetSetting(ctx, rotatorIndexKey); err == nil && ok {
		if saved, err := strconv.Atoi(value); err == nil && len(keys) > 0 {
			r.index = saved % len(keys)
		}
	}
	return r
}

// NextKey returns the next available key and its index, advancing the
// rotation. It iterates at most once through the key list; if every key is
// cooling off it returns ok=false.
func (r *KeyRotator) NextKey(ctx context.Context, now time.Time) (key string, index int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.keys) == 0 {
		return "", 0, false
	}

	for range r.keys {
		index = r.index
		key = r.keys[index]
		r.index = (r.index + 1) % len(r.keys)

		if until, cooling := r.cooldowns[key]; cooling && now.Before(until) {
			continue
		}

		if err := r.st.SetSetting(ctx, rotatorIndexKey, strconv.Itoa(r.index)); err != nil {
			logger.Error("Failed to persist rotator index", "error", err)
		}
		return key, index, true
	}
	return "", 0, false
}

// SetCooldown benches a key after a rate-limit response.
func (r *KeyRotator) SetCooldown(key string, d time.Duration, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldowns[key] = now.Add(d)
	logger.Warn("API key in cooldown", "seconds", int(d.Seconds()))
}

// HasAvailableKey peeks without advancing the rotation.
func (r *KeyRotator) HasAvailableKey(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range r.keys {
		if until, cooling := r.cooldowns[key]; !cooling || !now.Before(until) {
			return true
		}
	}
	return false
}

// KeyStatus describes one key for the admin queue-status endpoint.
type KeyStatus struct {
	Index             int  `json:"index"`
	Available         bool `json:"available"`
	CooldownRemaining int  `json:"cooldown_remaining,omitempty"`
}

// RotatorStatus is the rotator snapshot.
type RotatorStatus struct {
	TotalKeys    int         `json:"total_keys"`
	CurrentIndex int         `json:"current_index"`
	Keys         []KeyStatus `json:"keys"`
}

// Status reports per-key availability. Key material never leaves the
// rotator.
func (r *KeyRotator) Status(now time.Time) RotatorStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := RotatorStatus{TotalKeys: len(r.keys), CurrentIndex: r.index}
	for i, key := range r.keys {
		ks := KeyStatus{Index: i + 1, Available: true}
		if until, cooling := r.cooldowns[key]; cooling && now.Before(until) {
			ks.Available = false
			ks.CooldownRemaining = int(until.Sub(now).Seconds())
		}
		status.Keys = append(status.Keys, ks)
	}
	return status
}
