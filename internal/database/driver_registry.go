package database

import (
	"fmt"
	"sort"
	"sync"

	"chart-gateway/internal/model"
)

// DriverRegistry manages driver instances and creation
type DriverRegistry struct {
	drivers map[model.DatabaseType]func() Driver
	mutex   sync.RWMutex
}

var (
	defaultRegistry     *DriverRegistry
	defaultRegistryOnce sync.Once
)

// GetDriverRegistry returns the process-wide registry of built-in drivers
func GetDriverRegistry() *DriverRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewDriverRegistry()
	})
	return defaultRegistry
}

// NewDriverRegistry creates a new driver registry
func NewDriverRegistry() *DriverRegistry {
	registry := &DriverRegistry{
		drivers: make(map[model.DatabaseType]func() Driver),
	}

	registry.registerDrivers()

	return registry
}

// registerDrivers registers all built-in drivers
func (dr *DriverRegistry) registerDrivers() {
	dr.mutex.Lock()
	defer dr.mutex.Unlock()

	dr.register(model.DatabaseTypeMySQL, func() Driver { return &MySQLDriver{} })
	dr.register(model.DatabaseTypeMariaDB, func() Driver { return &MySQLDriver{} })
	dr.register(model.DatabaseTypePostgreSQL, func() Driver { return &PostgreSQLDriver{} })
	dr.register(model.DatabaseTypeOracle, func() Driver { return &OracleDriver{} })
	dr.register(model.DatabaseTypeClickHouse, func() Driver { return &ClickHouseDriver{} })
	dr.register(model.DatabaseTypeSnowflake, func() Driver { return &SnowflakeDriver{} })
	dr.register(model.DatabaseTypeSQLite, func() Driver { return &SQLiteDriver{} })
}

// register registers a driver factory function
func (dr *DriverRegistry) register(dbType model.DatabaseType, factory func() Driver) {
	dr.drivers[dbType] = factory
}

// Register adds or replaces a driver factory
func (dr *DriverRegistry) Register(dbType model.DatabaseType, factory func() Driver) {
	dr.mutex.Lock()
	defer dr.mutex.Unlock()
	dr.register(dbType, factory)
}

// GetDriver creates a driver for the specified database type
func (dr *DriverRegistry) GetDriver(dbType model.DatabaseType) (Driver, error) {
	dr.mutex.RLock()
	factory, exists := dr.drivers[dbType]
	dr.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	return factory(), nil
}

// GetDialect returns the SQL dialect for the specified database type
func (dr *DriverRegistry) GetDialect(dbType model.DatabaseType) (Dialect, error) {
	driver, err := dr.GetDriver(dbType)
	if err != nil {
		return Dialect{}, err
	}
	return driver.Dialect(), nil
}

// ListDrivers returns all supported database types, sorted
func (dr *DriverRegistry) ListDrivers() []model.DatabaseType {
	dr.mutex.RLock()
	defer dr.mutex.RUnlock()

	types := make([]model.DatabaseType, 0, len(dr.drivers))
	for dbType := range dr.drivers {
		types = append(types, dbType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// IsSupported checks if a database type is supported
func (dr *DriverRegistry) IsSupported(dbType model.DatabaseType) bool {
	dr.mutex.RLock()
	_, exists := dr.drivers[dbType]
	dr.mutex.RUnlock()

	return exists
}
