package application

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// reportCache stores recently computed conflict reports so that repeated
// validations of the same rule skip expansion and detection while sessions
// remain unchanged. Every session write invalidates it and bumps the
// generation, so a report computed before the write is never stored after it.
type reportCache struct {
	mu         sync.RWMutex
	generation uint64
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]reportCacheEntry
}

type reportCacheEntry struct {
	report    ConflictReport
	expiresAt time.Time
}

func newReportCache(ttl time.Duration, maxEntries int, now func() time.Time) *reportCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if now == nil {
		now = time.Now
	}
	return &reportCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]reportCacheEntry),
	}
}

func (c *reportCache) Get(key string) (ConflictReport, bool) {
	if c == nil {
		return ConflictReport{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return ConflictReport{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return ConflictReport{}, false
	}
	return entry.report.clone(), true
}

// Generation identifies the current invalidation epoch.
func (c *reportCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Store keeps report unless the cache was invalidated since generation was read.
func (c *reportCache) Store(key string, generation uint64, report ConflictReport) {
	if c == nil {
		return
	}
	cloned := report.clone()
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return
	}

	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[key] = reportCacheEntry{report: cloned, expiresAt: expiry}
}

func (c *reportCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.generation++
	c.entries = make(map[string]reportCacheEntry)
	c.mu.Unlock()
}

func (c *reportCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *reportCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *reportCache) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}

// buildReportCacheKey identifies a validation by course, resources and rule.
func buildReportCacheKey(course Course, schedule Schedule) string {
	rule := schedule.Rule
	weekdays := make([]string, len(rule.Weekdays))
	for i, day := range rule.Weekdays {
		weekdays[i] = strconv.Itoa(day)
	}

	builder := strings.Builder{}
	builder.WriteString(course.ID)
	builder.WriteString("|")
	builder.WriteString(course.LocationID)
	builder.WriteString("|")
	builder.WriteString(course.InstructorID)
	builder.WriteString("|")
	builder.WriteString(string(rule.Kind))
	builder.WriteString("|")
	builder.WriteString(schedule.record().StartDate)
	builder.WriteString("|")
	builder.WriteString(schedule.record().EndDate)
	builder.WriteString("|")
	builder.WriteString(rule.StartTime.String())
	builder.WriteString("-")
	builder.WriteString(rule.EndTime.String())
	builder.WriteString("|")
	builder.WriteString(strings.Join(weekdays, ","))
	builder.WriteString("|")
	builder.WriteString(strconv.Itoa(rule.Interval))
	return builder.String()
}
