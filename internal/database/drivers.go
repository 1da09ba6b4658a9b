package database

import (
	"crypto/tls"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	go_ora "github.com/sijms/go-ora/v2"
	"github.com/snowflakedb/gosnowflake"
	_ "modernc.org/sqlite"

	"chart-gateway/internal/model"
)

// Driver opens connections for one database type and knows its SQL dialect
type Driver interface {
	// DriverName is the database/sql driver name
	DriverName() string

	// DefaultPort returns the default port for the database
	DefaultPort() int

	// Dialect returns quoting and placeholder rules for the database
	Dialect() Dialect

	// BuildDSN builds a connection string from configuration and a resolved password
	BuildDSN(config *model.DataSourceConfig, password string) (string, error)

	// Open opens a *sql.DB; it does not dial
	Open(config *model.DataSourceConfig, password string) (*sql.DB, error)
}

// openWithDSN opens through database/sql, honoring an explicit DSN override
func openWithDSN(d Driver, config *model.DataSourceConfig, password string) (*sql.DB, error) {
	dsn := config.DSN
	if dsn == "" {
		var err error
		dsn, err = d.BuildDSN(config, password)
		if err != nil {
			return nil, err
		}
	}
	return sql.Open(d.DriverName(), dsn)
}

func hostPort(config *model.DataSourceConfig, defaultPort int) string {
	port := config.Port
	if port <= 0 {
		port = defaultPort
	}
	host := config.Host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// MySQLDriver implements Driver for MySQL/MariaDB
type MySQLDriver struct{}

func (d *MySQLDriver) DriverName() string { return "mysql" }
func (d *MySQLDriver) DefaultPort() int   { return 3306 }
func (d *MySQLDriver) Dialect() Dialect   { return MySQLDialect }

func (d *MySQLDriver) BuildDSN(config *model.DataSourceConfig, password string) (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = config.Username
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = hostPort(config, d.DefaultPort())
	cfg.DBName = config.Database
	cfg.ParseTime = true

	if config.SSL {
		cfg.TLSConfig = "true"
	}
	if config.AuthMode == model.AuthModeRDSIAM {
		// IAM tokens are sent in cleartext and therefore require TLS
		cfg.TLSConfig = "true"
		cfg.AllowCleartextPasswords = true
	}
	if config.Timezone != "" {
		loc, err := time.LoadLocation(config.Timezone)
		if err != nil {
			return "", fmt.Errorf("invalid timezone %q: %w", config.Timezone, err)
		}
		cfg.Loc = loc
	}

	return cfg.FormatDSN(), nil
}

func (d *MySQLDriver) Open(config *model.DataSourceConfig, password string) (*sql.DB, error) {
	return openWithDSN(d, config, password)
}

// PostgreSQLDriver implements Driver for PostgreSQL
type PostgreSQLDriver struct{}

func (d *PostgreSQLDriver) DriverName() string { return "postgres" }
func (d *PostgreSQLDriver) DefaultPort() int   { return 5432 }
func (d *PostgreSQLDriver) Dialect() Dialect   { return PostgreSQLDialect }

func (d *PostgreSQLDriver) BuildDSN(config *model.DataSourceConfig, password string) (string, error) {
	params := url.Values{}
	if config.SSL || config.AuthMode == model.AuthModeRDSIAM {
		params.Set("sslmode", "require")
	} else {
		params.Set("sslmode", "disable")
	}
	if config.Timezone != "" {
		params.Set("TimeZone", config.Timezone)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(config.Username, password),
		Host:     hostPort(config, d.DefaultPort()),
		Path:     "/" + config.Database,
		RawQuery: params.Encode(),
	}
	return u.String(), nil
}

func (d *PostgreSQLDriver) Open(config *model.DataSourceConfig, password string) (*sql.DB, error) {
	return openWithDSN(d, config, password)
}

// OracleDriver implements Driver for Oracle through go-ora
type OracleDriver struct{}

func (d *OracleDriver) DriverName() string { return "oracle" }
func (d *OracleDriver) DefaultPort() int   { return 1521 }
func (d *OracleDriver) Dialect() Dialect   { return OracleDialect }

func (d *OracleDriver) BuildDSN(config *model.DataSourceConfig, password string) (string, error) {
	if config.Database == "" {
		return "", fmt.Errorf("oracle service name is required")
	}
	port := config.Port
	if port <= 0 {
		port = d.DefaultPort()
	}
	options := map[string]string{}
	if config.SSL {
		options["SSL"] = "enable"
	}
	return go_ora.BuildUrl(config.Host, port, config.Database, config.Username, password, options), nil
}

func (d *OracleDriver) Open(config *model.DataSourceConfig, password string) (*sql.DB, error) {
	return openWithDSN(d, config, password)
}

// ClickHouseDriver implements Driver for ClickHouse over the native protocol
type ClickHouseDriver struct{}

func (d *ClickHouseDriver) DriverName() string { return "clickhouse" }
func (d *ClickHouseDriver) DefaultPort() int   { return 9000 }
func (d *ClickHouseDriver) Dialect() Dialect   { return ClickHouseDialect }

func (d *ClickHouseDriver) BuildDSN(config *model.DataSourceConfig, password string) (string, error) {
	u := url.URL{
		Scheme: "clickhouse",
		User:   url.UserPassword(config.Username, password),
		Host:   hostPort(config, d.DefaultPort()),
		Path:   "/" + config.Database,
	}
	if config.SSL {
		u.RawQuery = "secure=true"
	}
	return u.String(), nil
}

func (d *ClickHouseDriver) Open(config *model.DataSourceConfig, password string) (*sql.DB, error) {
	if config.DSN != "" {
		return sql.Open(d.DriverName(), config.DSN)
	}

	options := &clickhouse.Options{
		Addr: []string{hostPort(config, d.DefaultPort())},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	}
	if config.SSL {
		options.TLS = &tls.Config{}
	}
	return clickhouse.OpenDB(options), nil
}

// SnowflakeDriver implements Driver for Snowflake
type SnowflakeDriver struct{}

func (d *SnowflakeDriver) DriverName() string { return "snowflake" }
func (d *SnowflakeDriver) DefaultPort() int   { return 443 }
func (d *SnowflakeDriver) Dialect() Dialect   { return SnowflakeDialect }

func (d *SnowflakeDriver) BuildDSN(config *model.DataSourceConfig, password string) (string, error) {
	if config.Account == "" {
		return "", fmt.Errorf("snowflake account is required")
	}
	cfg := &gosnowflake.Config{
		Account:   config.Account,
		User:      config.Username,
		Password:  password,
		Database:  config.Database,
		Warehouse: config.Warehouse,
	}
	if config.Host != "" {
		cfg.Host = config.Host
		cfg.Port = config.Port
		if cfg.Port <= 0 {
			cfg.Port = d.DefaultPort()
		}
	}
	return gosnowflake.DSN(cfg)
}

func (d *SnowflakeDriver) Open(config *model.DataSourceConfig, password string) (*sql.DB, error) {
	return openWithDSN(d, config, password)
}

// SQLiteDriver implements Driver for SQLite files through the pure Go driver
type SQLiteDriver struct{}

func (d *SQLiteDriver) DriverName() string { return "sqlite" }
func (d *SQLiteDriver) DefaultPort() int   { return 0 }
func (d *SQLiteDriver) Dialect() Dialect   { return SQLiteDialect }

func (d *SQLiteDriver) BuildDSN(config *model.DataSourceConfig, password string) (string, error) {
	if config.Database == "" {
		return "", fmt.Errorf("sqlite database path is required")
	}
	return config.Database, nil
}

func (d *SQLiteDriver) Open(config *model.DataSourceConfig, password string) (*sql.DB, error) {
	return openWithDSN(d, config, password)
}
