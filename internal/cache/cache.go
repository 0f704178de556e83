// Package cache provides the URL-keyed import result cache. It prevents
// duplicate extraction work and duplicate persisted records for URLs imported
// repeatedly within the TTL window.
package cache

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// trackingParams are query parameters stripped during URL normalization.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
	"ref":          true,
	"ref_src":      true,
	"igshid":       true,
	"mc_cid":       true,
	"mc_eid":       true,
}

// Entry is a cached import result keyed by normalized URL.
type Entry struct {
	NodeID           uint      `json:"node_id"`
	Category         string    `json:"category"`
	ContentType      string    `json:"content_type"`
	Organization     string    `json:"organization"`
	Confidence       float64   `json:"confidence"`
	FunctionCode     string    `json:"function_code"`
	OrganizationCode string    `json:"organization_code"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Favicon          string    `json:"favicon"`
	Image            string    `json:"image"`
	InsertedAt       time.Time `json:"inserted_at"`
}

// ImportCache is a size-bounded, TTL-bounded map from normalized URL to
// import results. Expiry is lazy: an expired entry is dropped on the Get that
// observes it; Cleanup exists for memory hygiene only.
type ImportCache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// New creates an import cache bounded to maxEntries entries with the given
// TTL.
func New(maxEntries int, ttl time.Duration) *ImportCache {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ImportCache{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// NormalizeURL projects a URL to its canonical cache key: lower-cased host,
// default ports and fragment stripped, one trailing slash removed (except a
// root path), known tracking parameters removed, remaining query sorted.
// Non-parseable input degrades to lower-cased trimmed text. The projection is
// idempotent: NormalizeURL(NormalizeURL(x)) == NormalizeURL(x).
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	u.Fragment = ""
	host := strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	u.Host = host

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	query := u.Query()
	for param := range query {
		if trackingParams[param] {
			query.Del(param)
		}
	}
	u.RawQuery = sortedEncode(query)

	return u.String()
}

// sortedEncode encodes query values with sorted keys and sorted values per
// key, so parameter order never affects the cache key.
func sortedEncode(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Get returns the cached entry for the URL, or nil. An entry past its TTL is
// removed and treated as absent.
func (c *ImportCache) Get(rawURL string) *Entry {
	key := NormalizeURL(rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().Sub(entry.InsertedAt) > c.ttl {
		delete(c.entries, key)
		return nil
	}
	return entry
}

// Set inserts or overwrites the entry for the URL, stamping insertion time.
// When inserting a new key would exceed the capacity, the entry with the
// oldest insertion time is evicted first.
func (c *ImportCache) Set(rawURL string, entry Entry) {
	key := NormalizeURL(rawURL)
	entry.InsertedAt = c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &entry
}

func (c *ImportCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.InsertedAt.Before(oldest) {
			oldestKey = k
			oldest = e.InsertedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Invalidate removes the entry for the URL, if present.
func (c *ImportCache) Invalidate(rawURL string) {
	key := NormalizeURL(rawURL)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateNode removes every entry referencing the node id. This scans all
// entries, which is acceptable at the bounded cache size.
func (c *ImportCache) InvalidateNode(nodeID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.NodeID == nodeID {
			delete(c.entries, k)
		}
	}
}

// Cleanup removes all expired entries and returns how many were removed.
func (c *ImportCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	cutoff := c.now()
	for k, e := range c.entries {
		if cutoff.Sub(e.InsertedAt) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the current entry count.
func (c *ImportCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
