package station

import (
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

// AuthCache remembers idTags the central system accepted.
type AuthCache struct {
	mu      sync.RWMutex
	entries map[string]cachedAuth
	now     func() time.Time
}

type cachedAuth struct {
	status   types.AuthorizationStatus
	expireAt time.Time
}

func NewAuthCache() *AuthCache {
	return &AuthCache{entries: make(map[string]cachedAuth), now: time.Now}
}

// Put stores the answer for idTag. Only accepted tags are kept, anything else evicts the tag.
func (a *AuthCache) Put(idTag string, info *types.IdTagInfo) {
	if info == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if info.Status != types.AuthorizationStatusAccepted {
		delete(a.entries, idTag)
		return
	}
	entry := cachedAuth{status: info.Status}
	if info.ExpiryDate != nil {
		entry.expireAt = info.ExpiryDate.Time
	}
	a.entries[idTag] = entry
}

// Accepted reports whether idTag has an unexpired accepted entry.
func (a *AuthCache) Accepted(idTag string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[idTag]
	if !ok {
		return false
	}
	return e.expireAt.IsZero() || a.now().Before(e.expireAt)
}

// Clear drops every entry.
func (a *AuthCache) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[string]cachedAuth)
}

// Len returns the number of cached tags.
func (a *AuthCache) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
