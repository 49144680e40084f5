package config

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// RESULTSAPI_DATABASE_DRIVER.
	EnvPrefix = "RESULTSAPI"

	// DefaultPort is the listen port used when neither listen nor port is set.
	DefaultPort = 5000

	// DefaultEnvironment is the default runtime environment.
	DefaultEnvironment = EnvironmentProduction

	// DefaultMaxBodySize bounds request bodies. Full response captures can
	// be large.
	DefaultMaxBodySize = "50MB"

	// DefaultDriver is the default store driver.
	DefaultDriver = DriverMongoDB

	// DefaultDatabaseTimeout bounds every individual store call.
	DefaultDatabaseTimeout = 5 * time.Second

	// DefaultConnectRetries is the number of reconnection attempts after a
	// failed initial connection.
	DefaultConnectRetries = 1

	// DefaultConnectRetryDelay is the wait before each reconnection attempt.
	DefaultConnectRetryDelay = 5 * time.Second

	// DefaultMongoDatabase is the default MongoDB database name.
	DefaultMongoDatabase = "api-evaluator"

	// DefaultMongoCollection is the default MongoDB collection name.
	DefaultMongoCollection = "testresults"

	// DefaultPageLimit is the page size used when none is requested.
	DefaultPageLimit = 100

	// DefaultMaxPageLimit is the largest page size a client may request.
	DefaultMaxPageLimit = 1000

	// DefaultExportPrefix is the S3 key prefix for exported documents.
	DefaultExportPrefix = "exports"
)

// Config is the root configuration for resultsapi.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Pagination PaginationConfig `yaml:"pagination" mapstructure:"pagination"`
	Export     ExportConfig     `yaml:"export,omitempty" mapstructure:"export"`
}

// legacyEnv maps config keys to the unprefixed variables older deployments
// already set.
var legacyEnv = map[string]string{
	"database.mongodb.uri": "MONGODB_URI",
	"server.port":          "PORT",
}

// zeroableDefaults are defaults for keys where an explicit zero must be
// kept rather than replaced.
var zeroableDefaults = map[string]any{
	"database.connect_retries": DefaultConnectRetries,
}

// Load reads the given configuration files (later files override earlier
// ones) and applies environment overrides and defaults. With no paths the
// configuration comes from the environment alone.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if i == 0 {
			err = v.ReadConfig(bytes.NewReader(data))
		} else {
			err = v.MergeConfig(bytes.NewReader(data))
		}

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	// Zero is a meaningful value for these keys, so their defaults are
	// applied only when the key is unset.
	for key, value := range zeroableDefaults {
		v.SetDefault(key, value)
	}

	if err := bindEnvs(v, reflect.TypeOf(Config{}), ""); err != nil {
		return nil, fmt.Errorf("binding environment: %w", err)
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// bindEnvs registers every leaf key of t with viper so that
// RESULTSAPI_<SECTION>_<KEY> overrides it even when the key is absent from
// the config file.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			if err := bindEnvs(v, field.Type, key); err != nil {
				return err
			}

			continue
		}

		names := []string{
			EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_")),
		}

		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}

		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}

	return nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		if c.Server.Port == 0 {
			c.Server.Port = DefaultPort
		}

		c.Server.Listen = fmt.Sprintf(":%d", c.Server.Port)
	}

	if c.Server.Environment == "" {
		c.Server.Environment = DefaultEnvironment
	}

	if c.Server.MaxBodySize == "" {
		c.Server.MaxBodySize = DefaultMaxBodySize
	}

	if c.Server.RateLimit.Reads.RequestsPerMinute == 0 {
		c.Server.RateLimit.Reads.RequestsPerMinute = 600
	}

	if c.Server.RateLimit.Writes.RequestsPerMinute == 0 {
		c.Server.RateLimit.Writes.RequestsPerMinute = 300
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}

	if c.Database.Timeout == 0 {
		c.Database.Timeout = DefaultDatabaseTimeout
	}

	if c.Database.ConnectRetryDelay == 0 {
		c.Database.ConnectRetryDelay = DefaultConnectRetryDelay
	}

	if c.Database.MongoDB.Database == "" {
		c.Database.MongoDB.Database = DefaultMongoDatabase
	}

	if c.Database.MongoDB.Collection == "" {
		c.Database.MongoDB.Collection = DefaultMongoCollection
	}

	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}

	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}

	if c.Pagination.DefaultLimit == 0 {
		c.Pagination.DefaultLimit = DefaultPageLimit
	}

	if c.Pagination.MaxLimit == 0 {
		c.Pagination.MaxLimit = DefaultMaxPageLimit
	}

	if c.Export.S3.Prefix == "" {
		c.Export.S3.Prefix = DefaultExportPrefix
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Server.Environment {
	case EnvironmentDevelopment, EnvironmentProduction:
	default:
		return fmt.Errorf(
			"server.environment must be %q or %q, got %q",
			EnvironmentDevelopment, EnvironmentProduction, c.Server.Environment,
		)
	}

	if _, err := c.Server.MaxBodyBytes(); err != nil {
		return err
	}

	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.Reads.RequestsPerMinute < 0 ||
			c.Server.RateLimit.Writes.RequestsPerMinute < 0 {
			return fmt.Errorf("server.rate_limit requests_per_minute must be positive")
		}
	}

	if err := c.Database.Validate(); err != nil {
		return err
	}

	if c.Pagination.DefaultLimit < 1 {
		return fmt.Errorf("pagination.default_limit must be positive")
	}

	if c.Pagination.MaxLimit < c.Pagination.DefaultLimit {
		return fmt.Errorf("pagination.max_limit must be >= pagination.default_limit")
	}

	return nil
}

// Validate checks the selected driver has what it needs to connect.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case DriverMongoDB:
		if d.MongoDB.URI == "" {
			return fmt.Errorf(
				"database.mongodb.uri is required (set %s_DATABASE_MONGODB_URI or MONGODB_URI)",
				EnvPrefix,
			)
		}
	case DriverSQLite:
		if d.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case DriverPostgres:
		if d.Postgres.Host == "" || d.Postgres.Database == "" {
			return fmt.Errorf("database.postgres host and database are required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", d.Driver)
	}

	if d.Timeout < 0 {
		return fmt.Errorf("database.timeout must not be negative")
	}

	if d.ConnectRetries < 0 {
		return fmt.Errorf("database.connect_retries must not be negative")
	}

	return nil
}

// MaxBodyBytes parses MaxBodySize (e.g. "50MB") into a byte count.
func (s *ServerConfig) MaxBodyBytes() (int64, error) {
	n, err := units.RAMInBytes(s.MaxBodySize)
	if err != nil {
		return 0, fmt.Errorf("parsing server.max_body_size %q: %w", s.MaxBodySize, err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("server.max_body_size must be positive")
	}

	return n, nil
}

// ValidateExportS3 checks the S3 export target is usable.
func (c *Config) ValidateExportS3() error {
	if !c.Export.S3.Enabled {
		return fmt.Errorf("export.s3 is not enabled in config")
	}

	if c.Export.S3.Bucket == "" {
		return fmt.Errorf("export.s3.bucket is required")
	}

	return nil
}
