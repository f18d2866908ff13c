// Package result holds compressed images until they are downloaded or expire.
package result

import (
	"sync"
	"time"

	apperrors "github.com/avioli/imagemin-glitch/pkg/errors"
	"github.com/avioli/imagemin-glitch/pkg/logging"
	"github.com/avioli/imagemin-glitch/pkg/messages"
)

const (
	// DefaultCapacity bounds how many results are held at once.
	DefaultCapacity = 20
	// DefaultRetention is how long a result stays downloadable.
	DefaultRetention = 5 * time.Minute
)

// Record is a stored compression result. Data must not be modified once the
// record is handed to the cache.
type Record struct {
	Filename     string
	OriginalSize int
	MimeType     string
	Data         []byte
	StoredAt     time.Time
	ExpiresAt    time.Time
}

// CompressedSize is the length of the optimized payload.
func (r Record) CompressedSize() int {
	return len(r.Data)
}

// Observer is notified of cache occupancy changes and expirations.
type Observer interface {
	SetCachedResults(n int)
	IncExpired()
}

type entry struct {
	record Record
	timer  *time.Timer
}

// Cache is a bounded, time-expiring token -> Record store.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	capacity  int
	retention time.Duration
	observer  Observer
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity sets the maximum number of stored records.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithRetention sets how long a record lives after Put.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithObserver reports occupancy and expirations, typically to metrics.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// WithClock overrides the time source used for deadlines.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates an empty cache.
func NewCache(logger *logging.Logger, opts ...Option) *Cache {
	c := &Cache{
		entries:   make(map[string]*entry),
		capacity:  DefaultCapacity,
		retention: DefaultRetention,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores rec under token and schedules its expiry. It fails with a queue
// full error at capacity, and with an invalid token error if token is already
// present.
func (c *Cache) Put(token string, rec Record) error {
	c.mu.Lock()
	if len(c.entries) >= c.capacity {
		c.mu.Unlock()
		return apperrors.NewQueueFullError(messages.RespQueueFullResubmit).WithToken(token)
	}
	if _, exists := c.entries[token]; exists {
		c.mu.Unlock()
		return apperrors.NewInvalidTokenError(token)
	}

	rec.StoredAt = c.now()
	rec.ExpiresAt = rec.StoredAt.Add(c.retention)
	e := &entry{record: rec}
	e.timer = time.AfterFunc(c.retention, func() { c.expire(token, e) })
	c.entries[token] = e
	n := len(c.entries)
	c.mu.Unlock()

	c.report(n)
	c.logger.Info(messages.MsgResultStored,
		"token", token,
		"filename", rec.Filename,
		"original", rec.OriginalSize,
		"compressed", rec.CompressedSize(),
		"expires", rec.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Get returns the record for token without removing it.
func (c *Cache) Get(token string) (Record, bool) {
	c.mu.Lock()
	e, ok, expired := c.lookupLocked(token)
	n := len(c.entries)
	c.mu.Unlock()

	if expired {
		c.reportExpired(token, n)
	}
	if !ok {
		return Record{}, false
	}
	return e.record, true
}

// Consume returns the record for token and removes it. A token can be consumed
// at most once.
func (c *Cache) Consume(token string) (Record, bool) {
	c.mu.Lock()
	e, ok, expired := c.lookupLocked(token)
	if ok {
		delete(c.entries, token)
	}
	n := len(c.entries)
	c.mu.Unlock()

	if expired {
		c.reportExpired(token, n)
	}
	if !ok {
		return Record{}, false
	}
	e.timer.Stop()
	c.report(n)
	c.logger.Debug(messages.MsgResultConsumed, "token", token)
	return e.record, true
}

// lookupLocked finds a live entry. An entry past its deadline is dropped and
// reported as expired; the caller reports it once the lock is released.
func (c *Cache) lookupLocked(token string) (e *entry, ok, expired bool) {
	e, ok = c.entries[token]
	if !ok {
		return nil, false, false
	}
	if !c.now().Before(e.record.ExpiresAt) {
		delete(c.entries, token)
		e.timer.Stop()
		return nil, false, true
	}
	return e, true, false
}

// expire runs from the entry's timer. It only removes the entry it was
// scheduled for.
func (c *Cache) expire(token string, e *entry) {
	c.mu.Lock()
	current, ok := c.entries[token]
	if !ok || current != e {
		c.mu.Unlock()
		return
	}
	delete(c.entries, token)
	n := len(c.entries)
	c.mu.Unlock()

	c.reportExpired(token, n)
}

// reportExpired reports a record dropped at its deadline. n is the occupancy
// after removal.
func (c *Cache) reportExpired(token string, n int) {
	c.report(n)
	if c.observer != nil {
		c.observer.IncExpired()
	}
	c.logger.Debug(messages.MsgResultExpired, "token", token)
}

// Len returns the number of stored records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the configured maximum.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Retention returns how long records live.
func (c *Cache) Retention() time.Duration {
	return c.retention
}

// Full reports whether the cache is at capacity. It also gates slot issuing.
func (c *Cache) Full() bool {
	return c.Len() >= c.capacity
}

// Stats summarizes the cache contents.
type Stats struct {
	Size            int `json:"size"`
	Capacity        int `json:"capacity"`
	OriginalBytes   int `json:"original_bytes"`
	CompressedBytes int `json:"compressed_bytes"`
}

// Stats returns a snapshot of occupancy and held bytes.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Size: len(c.entries), Capacity: c.capacity}
	for _, e := range c.entries {
		s.OriginalBytes += e.record.OriginalSize
		s.CompressedBytes += e.record.CompressedSize()
	}
	return s
}

// Close stops all expiry timers and drops every record.
func (c *Cache) Close() {
	c.mu.Lock()
	for token, e := range c.entries {
		e.timer.Stop()
		delete(c.entries, token)
	}
	c.mu.Unlock()
	c.report(0)
}

func (c *Cache) report(n int) {
	if c.observer != nil {
		c.observer.SetCachedResults(n)
	}
}
