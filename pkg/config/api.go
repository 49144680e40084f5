package config

import "time"

// Database drivers.
const (
	DriverMongoDB  = "mongodb"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Runtime environments. Error details are only returned to clients in
// development.
const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen,omitempty" mapstructure:"listen"`
	Port        int             `yaml:"port,omitempty" mapstructure:"port"`
	Environment string          `yaml:"environment" mapstructure:"environment"`
	MaxBodySize string          `yaml:"max_body_size,omitempty" mapstructure:"max_body_size"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// IsDevelopment reports whether the server runs in development mode.
func (s *ServerConfig) IsDevelopment() bool {
	return s.Environment == EnvironmentDevelopment
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Reads   RateLimitTier `yaml:"reads,omitempty" mapstructure:"reads"`
	Writes  RateLimitTier `yaml:"writes,omitempty" mapstructure:"writes"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// DatabaseConfig contains store connection settings.
type DatabaseConfig struct {
	Driver            string               `yaml:"driver" mapstructure:"driver"`
	Timeout           time.Duration        `yaml:"timeout,omitempty" mapstructure:"timeout"`
	ConnectRetries    int                  `yaml:"connect_retries,omitempty" mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration        `yaml:"connect_retry_delay,omitempty" mapstructure:"connect_retry_delay"`
	MongoDB           MongoDBConfig        `yaml:"mongodb,omitempty" mapstructure:"mongodb"`
	SQLite            SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres          PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// MongoDBConfig contains MongoDB connection settings. The URI has no
// default and must be supplied by the operator.
type MongoDBConfig struct {
	URI        string `yaml:"uri" mapstructure:"uri"`
	Database   string `yaml:"database,omitempty" mapstructure:"database"`
	Collection string `yaml:"collection,omitempty" mapstructure:"collection"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// PaginationConfig bounds list and export page sizes.
type PaginationConfig struct {
	DefaultLimit int `yaml:"default_limit,omitempty" mapstructure:"default_limit"`
	MaxLimit     int `yaml:"max_limit,omitempty" mapstructure:"max_limit"`
}

// ExportConfig configures where the export command ships its documents.
type ExportConfig struct {
	S3 S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings for exports.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
}
