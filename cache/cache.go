// Package cache implements the pipeline's bounded, auth-scoped response
// cache, with single-flight fill coalescing for concurrent identical
// fetches.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached response plus the bookkeeping needed to validate and
// scope a later lookup.
type Entry struct {
	Status    int
	Header    http.Header
	Body      []byte
	StoredAt  time.Time
	TTL       time.Duration
	AuthScope string
}

func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// Clone returns a defensive copy safe for the caller to mutate.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Header != nil {
		clone.Header = e.Header.Clone()
	}
	if e.Body != nil {
		clone.Body = append([]byte(nil), e.Body...)
	}
	return &clone
}

// FlightPolicy controls single-flight coalescing behavior for concurrent
// fetches against the same fingerprint and auth scope.
type FlightPolicy int

const (
	// FlightWait makes concurrent callers await the in-flight fetch's result.
	// Default for unauthenticated (no auth_scope) requests.
	FlightWait FlightPolicy = iota
	// FlightIndependent makes concurrent callers proceed with their own
	// fetch, never sharing an in-flight result. Default for payment-bearing
	// requests, to avoid silently charging one caller for another's content.
	FlightIndependent
)

type bucketKey string

// Cache is a bounded, TTL'd, auth-scoped response cache with approximate
// LRU eviction and singleflight-backed fill coalescing.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	defaultTTL time.Duration

	ll    *list.List // front = most recently used
	items map[bucketKey]*list.Element

	group singleflight.Group
}

type cacheElem struct {
	key   bucketKey
	entry *Entry
}

// New builds a Cache bounded to maxEntries, using defaultTTL when a fetch
// does not specify its own.
func New(maxEntries int, defaultTTL time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache{
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		ll:         list.New(),
		items:      make(map[bucketKey]*list.Element),
	}
}

// Fingerprint computes the cache key for an idempotent request: method,
// canonical URL, and any vary-relevant header values, joined deterministically.
func Fingerprint(method, canonicalURL string, varyHeaders http.Header, varyOn []string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(canonicalURL))
	for _, name := range varyOn {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(varyHeaders.Get(name)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AuthScope computes the salted hash partitioning the cache by
// authorization-bearing header values: X-PAYMENT, Authorization, and any
// configured additional scope-relevant headers.
func AuthScope(salt string, header http.Header, extraScopeHeaders []string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	for _, name := range append([]string{"X-Payment", "Authorization"}, extraScopeHeaders...) {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(header.Get(name)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func key(fingerprint, authScope string) bucketKey {
	return bucketKey(fingerprint + "|" + authScope)
}

// Get returns a cloned Entry for (fingerprint, authScope) if present and
// unexpired. A fingerprint match under a different auth scope is never
// returned — the two partitions are fully isolated.
func (c *Cache) Get(fingerprint, authScope string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(fingerprint, authScope)
	el, ok := c.items[k]
	if !ok {
		return nil, false
	}
	ce := el.Value.(*cacheElem)
	if ce.entry.expired(time.Now()) {
		c.ll.Remove(el)
		delete(c.items, k)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return ce.entry.Clone(), true
}

// Put stores entry under (fingerprint, authScope), evicting the least
// recently used entry if the cache is at capacity. A negative TTL marks the
// entry ephemeral: Put is a no-op, so a Fetch fill can produce a result to
// hand back to the caller (and to any singleflight waiters) without it
// persisting for later lookups — the caller decides what's cacheable, not
// this package.
func (c *Cache) Put(fingerprint, authScope string, entry *Entry) {
	if entry.TTL < 0 {
		return
	}
	if entry.TTL == 0 {
		entry.TTL = c.defaultTTL
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(fingerprint, authScope)
	if el, ok := c.items[k]; ok {
		el.Value.(*cacheElem).entry = entry
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&cacheElem{key: k, entry: entry})
	c.items[k] = el

	for c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheElem).key)
	}
}

// Len reports the current entry count, for health checks that verify
// capacity has not been exhausted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Cap reports the configured maximum entry count.
func (c *Cache) Cap() int {
	return c.maxEntries
}

// Fetch resolves (fingerprint, authScope) from the cache, or runs fill under
// single-flight coalescing per policy. Concurrent callers sharing the same
// key under FlightWait block on the first call's fill and share its result;
// under FlightIndependent, every caller invokes fill independently.
func (c *Cache) Fetch(ctx context.Context, fingerprint, authScope string, policy FlightPolicy, fill func(context.Context) (*Entry, error)) (*Entry, bool, error) {
	if entry, ok := c.Get(fingerprint, authScope); ok {
		return entry, true, nil
	}

	if policy == FlightIndependent {
		entry, err := fill(ctx)
		if err != nil {
			return nil, false, err
		}
		c.Put(fingerprint, authScope, entry)
		return entry.Clone(), false, nil
	}

	sfKey := string(key(fingerprint, authScope))
	v, err, _ := c.group.Do(sfKey, func() (any, error) {
		if entry, ok := c.Get(fingerprint, authScope); ok {
			return entry, nil
		}
		entry, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(fingerprint, authScope, entry)
		return entry, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Entry).Clone(), false, nil
}
