package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

// ValidationError is one invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in a configuration.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors reports whether any error was collected.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate checks cfg and returns ValidationErrors when anything is wrong.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil

	v.validateHost(&cfg.Host)
	v.validateDiscovery(&cfg.Discovery)
	v.validateWorker(&cfg.Worker)
	v.validateSnapshot(&cfg.Snapshot)
	v.validateAPI(&cfg.API)
	v.validateLogging(&cfg.Logging)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateHost(cfg *HostConfig) {
	if cfg.Address == "" {
		v.addError("host.address", "address is required")
	} else if !isValidAddress(cfg.Address) {
		v.addError("host.address", "invalid address format, expected host:port")
	}

	switch cfg.Strategy {
	case types.StrategyFIFO, types.StrategyLIFO, types.StrategyRandom:
	default:
		v.addError("host.strategy", "must be one of: fifo, lifo, random")
	}

	if cfg.AssignmentTimeout < 0 {
		v.addError("host.assignment_timeout", "must be non-negative")
	}

	seen := make(map[string]bool)
	for i, g := range cfg.Graphs {
		field := fmt.Sprintf("host.graphs[%d]", i)
		if g.ID == "" {
			v.addError(field+".id", "graph id is required")
		} else if seen[g.ID] {
			v.addError(field+".id", fmt.Sprintf("duplicate graph id %q", g.ID))
		}
		seen[g.ID] = true
		if g.Runs <= 0 {
			v.addError(field+".runs", "runs must be positive")
		}
		if g.Config != "" && g.ConfigFile != "" {
			v.addError(field, "config and config_file are mutually exclusive")
		}
	}
}

func (v *Validator) validateDiscovery(cfg *DiscoveryConfig) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		v.addError("discovery.port", "port must be between 1 and 65535")
	}
	if cfg.Timeout <= 0 {
		v.addError("discovery.timeout", "timeout must be positive")
	}
	if cfg.BroadcastAddress == "" || net.ParseIP(cfg.BroadcastAddress) == nil {
		v.addError("discovery.broadcast_address", "must be an IP address")
	}
	if cfg.BindAddress != "" && net.ParseIP(cfg.BindAddress) == nil {
		v.addError("discovery.bind_address", "must be an IP address")
	}
}

func (v *Validator) validateWorker(cfg *WorkerConfig) {
	if cfg.ID != "" {
		if _, err := uuid.Parse(cfg.ID); err != nil {
			v.addError("worker.id", "must be a UUID")
		}
	}
	if cfg.HostAddress != "" && !isValidAddress(cfg.HostAddress) {
		v.addError("worker.host_address", "invalid address format, expected host:port")
	}
	if cfg.ReconnectDelay <= 0 {
		v.addError("worker.reconnect_delay", "must be positive")
	}
	if cfg.PollInterval <= 0 {
		v.addError("worker.poll_interval", "must be positive")
	}
	if cfg.DialTimeout <= 0 {
		v.addError("worker.dial_timeout", "must be positive")
	}
	if cfg.CommandTimeout < 0 {
		v.addError("worker.command_timeout", "must be non-negative")
	}
}

func (v *Validator) validateSnapshot(cfg *SnapshotConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Interval <= 0 {
		v.addError("snapshot.interval", "interval must be positive")
	}
	if cfg.File == "" && cfg.Redis.Address == "" && cfg.Database.DSN == "" {
		v.addError("snapshot", "enabled without any sink (file, redis.address or database.dsn)")
	}
	if cfg.Redis.Address != "" {
		if !isValidAddress(cfg.Redis.Address) {
			v.addError("snapshot.redis.address", "invalid address format, expected host:port")
		}
		if cfg.Redis.Key == "" {
			v.addError("snapshot.redis.key", "key is required")
		}
	}
	if cfg.Database.DSN != "" {
		switch strings.ToLower(cfg.Database.Driver) {
		case "mysql", "postgres":
		default:
			v.addError("snapshot.database.driver", "must be one of: mysql, postgres")
		}
	}
}

func (v *Validator) validateAPI(cfg *APIConfig) {
	if cfg.Enabled && !isValidAddress(cfg.Address) {
		v.addError("api.address", "invalid address format, expected host:port or :port")
	}
}

func (v *Validator) validateLogging(cfg *LoggingConfig) {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", cfg.Level))
	}
	switch cfg.Format {
	case "json", "console":
	default:
		v.addError("logging.format", "must be one of: json, console")
	}
	switch cfg.Output {
	case "stdout":
	case "file", "both":
		if cfg.FilePath == "" {
			v.addError("logging.file_path", "required when output is file or both")
		}
	default:
		v.addError("logging.output", "must be one of: stdout, file, both")
	}
}

// isValidAddress accepts host:port and :port.
func isValidAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}
	if host == "" || net.ParseIP(host) != nil {
		return true
	}
	return isValidHostname(host)
}

func isValidHostname(hostname string) bool {
	if len(hostname) > 253 {
		return false
	}
	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if !isAlphanumeric(label[0]) || !isAlphanumeric(label[len(label)-1]) {
			return false
		}
		for i := 0; i < len(label); i++ {
			if !isAlphanumeric(label[i]) && label[i] != '-' {
				return false
			}
		}
	}
	return true
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Validate is a shorthand for NewValidator().Validate(c).
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// LoadAndValidate loads the file at path and validates the result.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
