package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"chart-gateway/internal/middleware"
	"chart-gateway/internal/model"
)

const (
	DefaultCacheTTL      = 300 * time.Second
	DefaultLookupTimeout = 5 * time.Second
)

// ErrTableNotFound is returned when the data source reports no columns for a table
var ErrTableNotFound = errors.New("table not found")

// SchemaLookupError reports a failed metadata query. It is transient: the
// failure is not cached and the next caller retries.
type SchemaLookupError struct {
	Source string
	Table  string
	Err    error
}

func (e *SchemaLookupError) Error() string {
	return fmt.Sprintf("schema lookup failed for %s/%s: %v", e.Source, e.Table, e.Err)
}

func (e *SchemaLookupError) Unwrap() error {
	return e.Err
}

// ColumnLookup loads the columns of one table from its data source
type ColumnLookup interface {
	LookupColumns(ctx context.Context, source, table string) ([]model.TableColumn, error)
}

// CacheOptions configures a SchemaCache
type CacheOptions struct {
	TTL             time.Duration
	LookupTimeout   time.Duration
	CleanupInterval time.Duration
	Logger          *slog.Logger
	// Now overrides the clock, for tests
	Now func() time.Time
}

// SchemaCache caches table column sets per data source with a TTL.
// Concurrent misses for the same table share a single lookup.
type SchemaCache struct {
	lookup ColumnLookup
	logger *slog.Logger
	now    func() time.Time

	cache map[cacheKey]*cachedColumns
	mutex sync.RWMutex
	group singleflight.Group

	// epoch advances on every invalidation; lookups that started in an
	// older epoch do not store their result
	epoch atomic.Uint64

	ttl           time.Duration
	lookupTimeout time.Duration
	cleanupInt    time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once

	hits    atomic.Int64
	misses  atomic.Int64
	lookups atomic.Int64
}

type cacheKey struct {
	source string
	table  string
}

func (k cacheKey) String() string {
	return k.source + "/" + k.table
}

// cachedColumns is one table's column snapshot, replaced wholesale on refresh
type cachedColumns struct {
	columns   []model.TableColumn
	cachedAt  time.Time
	expiresAt time.Time
}

// NewSchemaCache creates a new schema cache
func NewSchemaCache(lookup ColumnLookup, opts CacheOptions) *SchemaCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &SchemaCache{
		lookup:        lookup,
		logger:        opts.Logger,
		now:           opts.Now,
		cache:         make(map[cacheKey]*cachedColumns),
		ttl:           opts.TTL,
		lookupTimeout: opts.LookupTimeout,
		cleanupInt:    opts.CleanupInterval,
		stopChan:      make(chan struct{}),
	}
}

// Start runs the background expiry sweep until ctx is done or Stop is called
func (sc *SchemaCache) Start(ctx context.Context) {
	ticker := time.NewTicker(sc.cleanupInt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sc.stopChan:
			return
		case <-ticker.C:
			sc.cleanupExpired()
		}
	}
}

// Stop stops the background cleanup process
func (sc *SchemaCache) Stop() {
	sc.stopOnce.Do(func() {
		close(sc.stopChan)
	})
}

// GetColumns returns the columns of table in source. A hit within the TTL
// does no I/O. Callers get their own copy of the column slice.
func (sc *SchemaCache) GetColumns(ctx context.Context, source, table string) ([]model.TableColumn, error) {
	if source == "" || table == "" {
		return nil, fmt.Errorf("%w: data source and table are required", ErrTableNotFound)
	}
	key := cacheKey{source: source, table: table}

	if columns, ok := sc.get(key); ok {
		sc.hits.Add(1)
		middleware.RecordSchemaCacheAccess(source, true)
		return columns, nil
	}
	sc.misses.Add(1)
	middleware.RecordSchemaCacheAccess(source, false)

	ch := sc.group.DoChan(key.String(), func() (interface{}, error) {
		return sc.load(ctx, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyColumns(res.Val.([]model.TableColumn)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load runs one metadata query and stores a non-empty result
func (sc *SchemaCache) load(ctx context.Context, key cacheKey) ([]model.TableColumn, error) {
	epoch := sc.epoch.Load()

	// a flight that finished just before this one started may have stored it
	if columns, ok := sc.get(key); ok {
		return columns, nil
	}

	// the shared lookup must not fail because the first caller went away
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.lookupTimeout)
	defer cancel()

	sc.lookups.Add(1)
	columns, err := sc.lookup.LookupColumns(lookupCtx, key.source, key.table)
	middleware.RecordSchemaLookup(key.source, err)
	if err != nil {
		sc.logger.Warn("schema lookup failed", "datasource", key.source, "table", key.table, "error", err)
		return nil, &SchemaLookupError{Source: key.source, Table: key.table, Err: err}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, key.table)
	}

	snapshot := copyColumns(columns)
	now := sc.now()

	sc.mutex.Lock()
	if sc.epoch.Load() == epoch {
		sc.cache[key] = &cachedColumns{
			columns:   snapshot,
			cachedAt:  now,
			expiresAt: now.Add(sc.ttl),
		}
	}
	sc.mutex.Unlock()

	sc.logger.Debug("schema cached", "datasource", key.source, "table", key.table, "columns", len(snapshot))
	return snapshot, nil
}

func (sc *SchemaCache) get(key cacheKey) ([]model.TableColumn, bool) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	cached, exists := sc.cache[key]
	if !exists || !sc.now().Before(cached.expiresAt) {
		return nil, false
	}
	return copyColumns(cached.columns), true
}

// Invalidate drops the cached columns of one table immediately
func (sc *SchemaCache) Invalidate(source, table string) {
	key := cacheKey{source: source, table: table}

	sc.mutex.Lock()
	sc.epoch.Add(1)
	delete(sc.cache, key)
	sc.mutex.Unlock()

	sc.group.Forget(key.String())
}

// InvalidateSource drops every cached table of a data source
func (sc *SchemaCache) InvalidateSource(source string) {
	sc.mutex.Lock()
	sc.epoch.Add(1)
	var forgotten []string
	for key := range sc.cache {
		if key.source == source {
			delete(sc.cache, key)
			forgotten = append(forgotten, key.String())
		}
	}
	sc.mutex.Unlock()

	for _, k := range forgotten {
		sc.group.Forget(k)
	}
}

// Clear clears all cache entries
func (sc *SchemaCache) Clear() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	sc.epoch.Add(1)
	sc.cache = make(map[cacheKey]*cachedColumns)
}

// cleanupExpired removes all expired entries from cache
func (sc *SchemaCache) cleanupExpired() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	now := sc.now()
	for key, cached := range sc.cache {
		if !now.Before(cached.expiresAt) {
			delete(sc.cache, key)
		}
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	TotalEntries   int           `json:"totalEntries"`
	ActiveEntries  int           `json:"activeEntries"`
	ExpiredEntries int           `json:"expiredEntries"`
	Hits           int64         `json:"hits"`
	Misses         int64         `json:"misses"`
	Lookups        int64         `json:"lookups"`
	TTL            time.Duration `json:"ttl"`
}

// GetStats returns cache statistics
func (sc *SchemaCache) GetStats() CacheStats {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	totalEntries := len(sc.cache)
	expiredEntries := 0
	now := sc.now()

	for _, cached := range sc.cache {
		if !now.Before(cached.expiresAt) {
			expiredEntries++
		}
	}

	return CacheStats{
		TotalEntries:   totalEntries,
		ActiveEntries:  totalEntries - expiredEntries,
		ExpiredEntries: expiredEntries,
		Hits:           sc.hits.Load(),
		Misses:         sc.misses.Load(),
		Lookups:        sc.lookups.Load(),
		TTL:            sc.ttl,
	}
}

func copyColumns(columns []model.TableColumn) []model.TableColumn {
	out := make([]model.TableColumn, len(columns))
	copy(out, columns)
	return out
}
