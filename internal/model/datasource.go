package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DatabaseType string

const (
	DatabaseTypeMySQL      DatabaseType = "mysql"
	DatabaseTypeMariaDB    DatabaseType = "mariadb"
	DatabaseTypePostgreSQL DatabaseType = "postgresql"
	DatabaseTypeOracle     DatabaseType = "oracle"
	DatabaseTypeClickHouse DatabaseType = "clickhouse"
	DatabaseTypeSnowflake  DatabaseType = "snowflake"
	DatabaseTypeSQLite     DatabaseType = "sqlite"
)

type DataSourceStatus string

const (
	DataSourceStatusActive   DataSourceStatus = "active"
	DataSourceStatusInactive DataSourceStatus = "inactive"
	DataSourceStatusError    DataSourceStatus = "error"
)

// AuthMode selects how the connection password is obtained
type AuthMode string

const (
	AuthModePassword  AuthMode = "password"
	AuthModeEncrypted AuthMode = "encrypted"
	AuthModeRDSIAM    AuthMode = "aws_rds_iam"
)

// DataSource represents a named connection target that chart queries run against
type DataSource struct {
	ID        string           `gorm:"type:char(36);primaryKey" json:"id"`
	Name      string           `gorm:"size:128;not null;uniqueIndex" json:"name"`
	Type      DatabaseType     `gorm:"type:varchar(32);not null" json:"type"`
	Config    DataSourceConfig `gorm:"type:json;not null" json:"config"`
	Status    DataSourceStatus `gorm:"type:varchar(16);default:'active'" json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// DataSourceConfig holds the connection configuration for a data source
type DataSourceConfig struct {
	Host     string   `json:"host" mapstructure:"host"`
	Port     int      `json:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Database string   `json:"database" mapstructure:"database"`
	Username string   `json:"username" mapstructure:"username"`
	Password string   `json:"password,omitempty" mapstructure:"password"`
	AuthMode AuthMode `json:"authMode,omitempty" mapstructure:"auth_mode" validate:"omitempty,oneof=password encrypted aws_rds_iam"`
	Region   string   `json:"region,omitempty" mapstructure:"region"`
	SSL      bool     `json:"ssl" mapstructure:"ssl"`
	// DSN overrides every other connection field when set
	DSN         string `json:"dsn,omitempty" mapstructure:"dsn"`
	Account     string `json:"account,omitempty" mapstructure:"account"`
	Warehouse   string `json:"warehouse,omitempty" mapstructure:"warehouse"`
	Timezone    string `json:"timezone,omitempty" mapstructure:"timezone"`
	MaxPoolSize int    `json:"maxPoolSize" mapstructure:"max_pool_size" validate:"omitempty,min=1,max=500"`
	MaxLifetime int    `json:"maxLifetime" mapstructure:"max_lifetime"` // seconds
	IdleTimeout int    `json:"idleTimeout" mapstructure:"idle_timeout"` // seconds
}

// Value implements driver.Valuer interface for GORM
func (dsc DataSourceConfig) Value() (driver.Value, error) {
	return json.Marshal(dsc)
}

// Scan implements sql.Scanner interface for GORM
func (dsc *DataSourceConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dsc)
	case string:
		return json.Unmarshal([]byte(v), dsc)
	default:
		return fmt.Errorf("unsupported data source config type %T", value)
	}
}

// Redacted returns a copy safe to hand back to API callers
func (dsc DataSourceConfig) Redacted() DataSourceConfig {
	if dsc.Password != "" {
		dsc.Password = "******"
	}
	if dsc.DSN != "" {
		dsc.DSN = "******"
	}
	return dsc
}

// TableName returns the table name for the DataSource model
func (DataSource) TableName() string {
	return "data_sources"
}

// BeforeCreate generates a new UUID if ID is empty
func (ds *DataSource) BeforeCreate(tx *gorm.DB) error {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	return nil
}

// IsValidDatabaseType checks if a database type is valid
func IsValidDatabaseType(dbType string) bool {
	switch DatabaseType(dbType) {
	case DatabaseTypeMySQL, DatabaseTypeMariaDB, DatabaseTypePostgreSQL, DatabaseTypeOracle,
		DatabaseTypeClickHouse, DatabaseTypeSnowflake, DatabaseTypeSQLite:
		return true
	default:
		return false
	}
}
