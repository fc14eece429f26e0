// Package config loads kambo-hive configuration. Values are resolved with
// the precedence defaults < YAML file < KH_* environment variables <
// command-line overrides.
package config

import (
	"encoding"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hscHeric/kambo-hive-lib/internal/discovery"
	"github.com/hscHeric/kambo-hive-lib/pkg/logger"
	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "KH_"

// Config is the complete configuration of a host or worker process.
type Config struct {
	Host      HostConfig      `yaml:"host"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Worker    WorkerConfig    `yaml:"worker"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HostConfig configures the task host.
type HostConfig struct {
	Address  string                     `yaml:"address" env:"KH_HOST_ADDRESS"`
	Strategy types.DistributionStrategy `yaml:"strategy" env:"KH_HOST_STRATEGY"`
	// AssignmentTimeout requeues tasks held longer than this. Zero disables it.
	AssignmentTimeout time.Duration `yaml:"assignment_timeout" env:"KH_HOST_ASSIGNMENT_TIMEOUT"`
	ReportFile        string        `yaml:"report_file" env:"KH_HOST_REPORT_FILE"`
	// GAConfigFile is the default algorithm configuration for graphs that
	// do not carry their own.
	GAConfigFile string        `yaml:"ga_config_file" env:"KH_HOST_GA_CONFIG_FILE"`
	Graphs       []GraphConfig `yaml:"graphs"`
}

// GraphConfig describes a graph to enqueue at startup.
type GraphConfig struct {
	ID         string `yaml:"id"`
	Runs       int    `yaml:"runs"`
	Config     string `yaml:"config,omitempty"`
	ConfigFile string `yaml:"config_file,omitempty"`
}

// DiscoveryConfig configures both the host responder and the worker prober.
type DiscoveryConfig struct {
	Enabled          bool          `yaml:"enabled" env:"KH_DISCOVERY_ENABLED"`
	BindAddress      string        `yaml:"bind_address" env:"KH_DISCOVERY_BIND_ADDRESS"`
	Port             int           `yaml:"port" env:"KH_DISCOVERY_PORT"`
	BroadcastAddress string        `yaml:"broadcast_address" env:"KH_DISCOVERY_BROADCAST_ADDRESS"`
	Timeout          time.Duration `yaml:"timeout" env:"KH_DISCOVERY_TIMEOUT"`
}

// WorkerConfig configures a worker process.
type WorkerConfig struct {
	ID             string        `yaml:"id" env:"KH_WORKER_ID"`
	HostAddress    string        `yaml:"host_address" env:"KH_WORKER_HOST_ADDRESS"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"KH_WORKER_RECONNECT_DELAY"`
	PollInterval   time.Duration `yaml:"poll_interval" env:"KH_WORKER_POLL_INTERVAL"`
	DialTimeout    time.Duration `yaml:"dial_timeout" env:"KH_WORKER_DIAL_TIMEOUT"`
	Command        string        `yaml:"command" env:"KH_WORKER_COMMAND"`
	CommandArgs    []string      `yaml:"command_args" env:"KH_WORKER_COMMAND_ARGS"`
	CommandTimeout time.Duration `yaml:"command_timeout" env:"KH_WORKER_COMMAND_TIMEOUT"`
}

// SnapshotConfig configures periodic persistence of results.
type SnapshotConfig struct {
	Enabled  bool           `yaml:"enabled" env:"KH_SNAPSHOT_ENABLED"`
	Interval time.Duration  `yaml:"interval" env:"KH_SNAPSHOT_INTERVAL"`
	File     string         `yaml:"file" env:"KH_SNAPSHOT_FILE"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
}

// RedisConfig enables the redis sink when Address is set.
type RedisConfig struct {
	Address  string `yaml:"address" env:"KH_SNAPSHOT_REDIS_ADDRESS"`
	Password string `yaml:"password" env:"KH_SNAPSHOT_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"KH_SNAPSHOT_REDIS_DB"`
	Key      string `yaml:"key" env:"KH_SNAPSHOT_REDIS_KEY"`
}

// DatabaseConfig enables the SQL sink when DSN is set.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"KH_SNAPSHOT_DB_DRIVER"`
	DSN    string `yaml:"dsn" env:"KH_SNAPSHOT_DB_DSN"`
}

// APIConfig configures the HTTP status API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"KH_API_ENABLED"`
	Address string `yaml:"address" env:"KH_API_ADDRESS"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"KH_LOG_LEVEL"`
	Format     string `yaml:"format" env:"KH_LOG_FORMAT"`
	Output     string `yaml:"output" env:"KH_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"KH_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" env:"KH_LOG_MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" env:"KH_LOG_MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" env:"KH_LOG_MAX_AGE"`
}

// LoggerConfig converts to the logger package's config.
func (c LoggingConfig) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		FilePath:   c.FilePath,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
	}
}

// ProberConfig converts to the discovery prober's config.
func (c DiscoveryConfig) ProberConfig() discovery.ProberConfig {
	return discovery.ProberConfig{
		Port:             c.Port,
		BroadcastAddress: c.BroadcastAddress,
		Timeout:          c.Timeout,
	}
}

// ResponderAddress is the UDP address the host responder binds.
func (c DiscoveryConfig) ResponderAddress() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Host: HostConfig{
			Address:    "0.0.0.0:9000",
			Strategy:   types.StrategyFIFO,
			ReportFile: "final_report.json",
		},
		Discovery: DiscoveryConfig{
			Enabled:          true,
			BindAddress:      "0.0.0.0",
			Port:             discovery.DefaultPort,
			BroadcastAddress: discovery.DefaultBroadcastAddress,
			Timeout:          discovery.DefaultTimeout,
		},
		Worker: WorkerConfig{
			ReconnectDelay: 5 * time.Second,
			PollInterval:   2 * time.Second,
			DialTimeout:    10 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Enabled:  true,
			Interval: 60 * time.Second,
			File:     "results.json",
			Redis:    RedisConfig{Key: "kambohive:results"},
			Database: DatabaseConfig{Driver: "postgres"},
		},
		API: APIConfig{
			Enabled: false,
			Address: ":8081",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	cmdArgs    map[string]string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{
		cmdArgs:   make(map[string]string),
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithCmdArgs sets dot-path overrides such as "host.address".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load resolves the configuration from every source.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("apply flag %s: %w", key, err)
		}
	}

	return cfg, nil
}

// loadFromFile reads the YAML file. A missing file leaves defaults.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue, ok := l.lookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("%s: %w", envTag, err)
		}
	}
	return nil
}

// setConfigValue sets a value by its YAML dot path, e.g. "worker.poll_interval".
func setConfigValue(cfg *Config, path, value string) error {
	v := reflect.ValueOf(cfg).Elem()
	parts := strings.Split(path, ".")

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("unknown config path: %s", path)
		}
		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("%s is not a section", part)
		}
		v = field
	}
	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue parses value into field according to the field's type.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}

	if field.CanAddr() {
		if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(value))
		}
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		field.Set(reflect.ValueOf(parts))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Serialize renders the configuration as YAML.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses YAML on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
