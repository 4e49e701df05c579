package engine

import (
	"sync"
	"time"
)

// DefaultMemoryTTL is how long an engine choice is remembered.
const DefaultMemoryTTL = 24 * time.Hour

type domainEntry struct {
	engineName string
	expiresAt  time.Time
}

// DomainMemory remembers which engine worked for each domain. A nil
// *DomainMemory remembers nothing.
type DomainMemory struct {
	store    sync.Map // domain (string) -> *domainEntry
	ttl      time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewDomainMemory creates a DomainMemory with the given TTL and starts
// a background goroutine that prunes expired entries every hour.
func NewDomainMemory(ttl time.Duration) *DomainMemory {
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}
	dm := &DomainMemory{
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go dm.cleanupLoop()
	return dm
}

// Get returns the remembered engine name for a domain, or "" if not found / expired.
func (dm *DomainMemory) Get(domain string) string {
	if dm == nil {
		return ""
	}
	val, ok := dm.store.Load(domain)
	if !ok {
		return ""
	}
	entry := val.(*domainEntry)
	if time.Now().After(entry.expiresAt) {
		dm.store.Delete(domain)
		return ""
	}
	return entry.engineName
}

// Set records which engine succeeded for a domain.
func (dm *DomainMemory) Set(domain, engineName string) {
	if dm == nil || domain == "" {
		return
	}
	dm.store.Store(domain, &domainEntry{
		engineName: engineName,
		expiresAt:  time.Now().Add(dm.ttl),
	})
}

// Delete forgets a domain.
func (dm *DomainMemory) Delete(domain string) {
	if dm == nil {
		return
	}
	dm.store.Delete(domain)
}

// Len counts live entries.
func (dm *DomainMemory) Len() int {
	if dm == nil {
		return 0
	}
	n := 0
	dm.store.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Stop terminates the background cleanup goroutine. Safe to call twice.
func (dm *DomainMemory) Stop() {
	if dm == nil {
		return
	}
	dm.stopOnce.Do(func() { close(dm.done) })
}

func (dm *DomainMemory) cleanupLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-dm.done:
			return
		case <-ticker.C:
			dm.prune(time.Now())
		}
	}
}

func (dm *DomainMemory) prune(now time.Time) {
	dm.store.Range(func(key, value any) bool {
		if now.After(value.(*domainEntry).expiresAt) {
			dm.store.Delete(key)
		}
		return true
	})
}
