package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"chart-gateway/internal/middleware"
	"chart-gateway/internal/model"
)

const (
	DefaultMaxPoolSize    = 10
	DefaultAcquireTimeout = 5 * time.Second
)

var (
	// ErrPoolExhausted is returned when no connection frees up within the acquire timeout
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrPoolClosed is returned by Acquire after CloseAll
	ErrPoolClosed = errors.New("connection pool closed")
)

// PasswordProvider resolves the password used to connect to a data source
type PasswordProvider interface {
	Password(ctx context.Context, ds *model.DataSource) (string, error)
}

// PlaintextPasswords returns the configured password unchanged
type PlaintextPasswords struct{}

func (PlaintextPasswords) Password(ctx context.Context, ds *model.DataSource) (string, error) {
	return ds.Config.Password, nil
}

// PoolOptions configures a ConnectionPool
type PoolOptions struct {
	AcquireTimeout time.Duration
	MaxPoolSize    int
	Registry       *DriverRegistry
	Passwords      PasswordProvider
	Logger         *slog.Logger
}

// ConnectionPool owns one bounded connection group per named data source.
// Groups are created lazily on first Acquire.
type ConnectionPool struct {
	resolver  SourceResolver
	registry  *DriverRegistry
	passwords PasswordProvider
	logger    *slog.Logger

	acquireTimeout time.Duration
	maxPoolSize    int

	pools  map[string]*sourcePool
	mutex  sync.RWMutex
	group  singleflight.Group
	closed bool
}

// sourcePool is the connection group of one data source
type sourcePool struct {
	name      string
	dbType    model.DatabaseType
	db        *sql.DB
	dialect   Dialect
	slots     chan struct{}
	createdAt time.Time
	healthy   atomic.Bool

	acquired atomic.Int64
	timeouts atomic.Int64
	waitNano atomic.Int64
}

// Conn is a connection checked out of a source pool. Release returns it;
// calling Release more than once is harmless.
type Conn struct {
	*sql.Conn
	pool *sourcePool
	once sync.Once
}

// Source returns the data source name the connection belongs to
func (c *Conn) Source() string {
	return c.pool.name
}

// DatabaseType returns the type of the data source
func (c *Conn) DatabaseType() model.DatabaseType {
	return c.pool.dbType
}

// Dialect returns the SQL dialect of the data source
func (c *Conn) Dialect() Dialect {
	return c.pool.dialect
}

// Release closes the underlying *sql.Conn and frees the pool slot
func (c *Conn) Release() {
	c.once.Do(func() {
		_ = c.Conn.Close()
		<-c.pool.slots
		middleware.UpdateConnectionPoolInUse(c.pool.name, string(c.pool.dbType), len(c.pool.slots))
	})
}

// NewConnectionPool creates a new ConnectionPool instance
func NewConnectionPool(resolver SourceResolver, opts PoolOptions) *ConnectionPool {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultAcquireTimeout
	}
	if opts.MaxPoolSize <= 0 {
		opts.MaxPoolSize = DefaultMaxPoolSize
	}
	if opts.Registry == nil {
		opts.Registry = GetDriverRegistry()
	}
	if opts.Passwords == nil {
		opts.Passwords = PlaintextPasswords{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &ConnectionPool{
		resolver:       resolver,
		registry:       opts.Registry,
		passwords:      opts.Passwords,
		logger:         opts.Logger,
		acquireTimeout: opts.AcquireTimeout,
		maxPoolSize:    opts.MaxPoolSize,
		pools:          make(map[string]*sourcePool),
	}
}

// Acquire checks out a connection for the named data source. It waits at
// most the acquire timeout for a free slot and then fails with
// ErrPoolExhausted. Cancelling ctx aborts the wait with ctx's error.
func (cp *ConnectionPool) Acquire(ctx context.Context, source string) (*Conn, error) {
	sp, err := cp.getPool(ctx, source)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	timer := time.NewTimer(cp.acquireTimeout)
	defer timer.Stop()

	select {
	case sp.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		sp.timeouts.Add(1)
		middleware.RecordPoolAcquire(source, string(sp.dbType), time.Since(start), true)
		cp.logger.Warn("connection pool exhausted", "datasource", source, "wait", cp.acquireTimeout)
		return nil, fmt.Errorf("%w: %s after %s", ErrPoolExhausted, source, cp.acquireTimeout)
	}

	wait := time.Since(start)
	sp.acquired.Add(1)
	sp.waitNano.Add(int64(wait))
	middleware.RecordPoolAcquire(source, string(sp.dbType), wait, false)

	connCtx, cancel := context.WithTimeout(ctx, cp.acquireTimeout)
	defer cancel()

	conn, err := sp.db.Conn(connCtx)
	if err != nil {
		<-sp.slots
		sp.healthy.Store(false)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to get connection for %s: %w", source, err)
	}

	middleware.UpdateConnectionPoolInUse(source, string(sp.dbType), len(sp.slots))
	return &Conn{Conn: conn, pool: sp}, nil
}

// getPool returns the pool for source, creating it on first use. Concurrent
// first uses share one creation.
func (cp *ConnectionPool) getPool(ctx context.Context, source string) (*sourcePool, error) {
	cp.mutex.RLock()
	sp, exists := cp.pools[source]
	closed := cp.closed
	cp.mutex.RUnlock()

	if closed {
		return nil, ErrPoolClosed
	}
	if exists {
		return sp, nil
	}

	ch := cp.group.DoChan(source, func() (interface{}, error) {
		// creation outlives any single caller's cancellation
		createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cp.acquireTimeout)
		defer cancel()
		return cp.createPool(createCtx, source)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sourcePool), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// createPool opens and registers the pool of one data source
func (cp *ConnectionPool) createPool(ctx context.Context, source string) (*sourcePool, error) {
	cp.mutex.RLock()
	if sp, exists := cp.pools[source]; exists {
		cp.mutex.RUnlock()
		return sp, nil
	}
	cp.mutex.RUnlock()

	ds, err := cp.resolver.ResolveSource(ctx, source)
	if err != nil {
		return nil, err
	}

	driver, err := cp.registry.GetDriver(ds.Type)
	if err != nil {
		return nil, err
	}

	password, err := cp.passwords.Password(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials for %s: %w", source, err)
	}

	db, err := driver.Open(&ds.Config, password)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	size := cp.configureConnectionPool(db, &ds.Config)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping data source %s: %w", source, err)
	}

	sp := &sourcePool{
		name:      source,
		dbType:    ds.Type,
		db:        db,
		dialect:   driver.Dialect(),
		slots:     make(chan struct{}, size),
		createdAt: time.Now(),
	}
	sp.healthy.Store(true)

	cp.mutex.Lock()
	defer cp.mutex.Unlock()
	if cp.closed {
		db.Close()
		return nil, ErrPoolClosed
	}
	cp.pools[source] = sp

	cp.logger.Info("connection pool created", "datasource", source, "type", ds.Type, "max_size", size)
	return sp, nil
}

// configureConnectionPool applies pool limits and returns the pool size
func (cp *ConnectionPool) configureConnectionPool(db *sql.DB, config *model.DataSourceConfig) int {
	size := config.MaxPoolSize
	if size <= 0 {
		size = cp.maxPoolSize
	}
	db.SetMaxOpenConns(size)

	maxIdleConns := size / 2
	if maxIdleConns < 2 {
		maxIdleConns = 2
	}
	db.SetMaxIdleConns(maxIdleConns)

	maxLifetime := time.Duration(config.MaxLifetime) * time.Second
	if maxLifetime <= 0 {
		maxLifetime = 30 * time.Minute
	}
	db.SetConnMaxLifetime(maxLifetime)

	idle := time.Duration(config.IdleTimeout) * time.Second
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	db.SetConnMaxIdleTime(idle)

	return size
}

// CloseSource closes the pool of one data source. Connections currently
// checked out stay usable until released.
func (cp *ConnectionPool) CloseSource(source string) error {
	cp.mutex.Lock()
	sp, exists := cp.pools[source]
	delete(cp.pools, source)
	cp.mutex.Unlock()

	if !exists {
		return nil
	}
	cp.logger.Info("connection pool closed", "datasource", source)
	return sp.db.Close()
}

// CloseAll closes all pools; subsequent Acquire calls fail with ErrPoolClosed
func (cp *ConnectionPool) CloseAll() error {
	cp.mutex.Lock()
	defer cp.mutex.Unlock()

	cp.closed = true

	var errs []error
	for name, sp := range cp.pools {
		if err := sp.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		delete(cp.pools, name)
	}

	return errors.Join(errs...)
}

// Sources returns the names of data sources with an open pool, sorted
func (cp *ConnectionPool) Sources() []string {
	cp.mutex.RLock()
	defer cp.mutex.RUnlock()

	names := make([]string, 0, len(cp.pools))
	for name := range cp.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnectionStats contains connection pool statistics
type ConnectionStats struct {
	DatabaseType    string        `json:"databaseType"`
	MaxSize         int           `json:"maxSize"`
	InUse           int           `json:"inUse"`
	OpenConnections int           `json:"openConnections"`
	Idle            int           `json:"idle"`
	Acquired        int64         `json:"acquired"`
	AcquireTimeouts int64         `json:"acquireTimeouts"`
	AvgWait         time.Duration `json:"avgWait"`
	Healthy         bool          `json:"healthy"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// GetStats returns statistics for every open pool
func (cp *ConnectionPool) GetStats() map[string]ConnectionStats {
	cp.mutex.RLock()
	defer cp.mutex.RUnlock()

	stats := make(map[string]ConnectionStats, len(cp.pools))
	for name, sp := range cp.pools {
		dbStats := sp.db.Stats()
		acquired := sp.acquired.Load()
		var avgWait time.Duration
		if acquired > 0 {
			avgWait = time.Duration(sp.waitNano.Load() / acquired)
		}
		stats[name] = ConnectionStats{
			DatabaseType:    string(sp.dbType),
			MaxSize:         cap(sp.slots),
			InUse:           len(sp.slots),
			OpenConnections: dbStats.OpenConnections,
			Idle:            dbStats.Idle,
			Acquired:        acquired,
			AcquireTimeouts: sp.timeouts.Load(),
			AvgWait:         avgWait,
			Healthy:         sp.healthy.Load(),
			CreatedAt:       sp.createdAt,
		}
	}

	return stats
}

// HealthCheck pings every open pool and returns the result per data source
func (cp *ConnectionPool) HealthCheck(ctx context.Context) map[string]bool {
	cp.mutex.RLock()
	pools := make([]*sourcePool, 0, len(cp.pools))
	for _, sp := range cp.pools {
		pools = append(pools, sp)
	}
	cp.mutex.RUnlock()

	results := make(map[string]bool, len(pools))
	for _, sp := range pools {
		ok := sp.db.PingContext(ctx) == nil
		sp.healthy.Store(ok)
		results[sp.name] = ok
		middleware.UpdateDataSourceHealth(sp.name, string(sp.dbType), ok)
	}

	return results
}

// IsHealthy reports the last known health of a data source pool
func (cp *ConnectionPool) IsHealthy(source string) bool {
	cp.mutex.RLock()
	defer cp.mutex.RUnlock()

	sp, exists := cp.pools[source]
	return exists && sp.healthy.Load()
}
