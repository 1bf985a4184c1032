package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"blackhole/pkg/rules"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server ServerConfig `yaml:"server"`

	// Rules maps a client address to its ordered answer rules.
	Rules map[string][]rules.Entry `yaml:"rules" validate:"dive,keys,client_ip,endkeys,dive"`

	TempAnswers TempAnswersConfig `yaml:"temp_answers"`
	Storage     StorageConfig     `yaml:"storage"`
	API         APIConfig         `yaml:"api"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds DNS listener settings
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address" validate:"required,listen_addr"`
	TCPEnabled    bool   `yaml:"tcp_enabled"`
	UDPEnabled    bool   `yaml:"udp_enabled"`
	AnswerTTL     uint32 `yaml:"answer_ttl" validate:"gte=1"`
	MXPreference  uint16 `yaml:"mx_preference"`
}

// TempAnswersConfig bounds the registry of follow-up answers
type TempAnswersConfig struct {
	TTL        time.Duration `yaml:"ttl" validate:"gt=0"`
	MaxEntries int           `yaml:"max_entries" validate:"gte=1"`
}

// StorageConfig holds query log and override persistence settings
type StorageConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DatabasePath  string        `yaml:"database_path" validate:"required_if=Enabled true"`
	BufferSize    int           `yaml:"buffer_size" validate:"gte=1"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`
	BatchSize     int           `yaml:"batch_size" validate:"gte=1"`
	RetentionDays int           `yaml:"retention_days" validate:"gte=0"`
	BusyTimeout   int           `yaml:"busy_timeout"` // ms
	WALMode       bool          `yaml:"wal_mode"`
}

// APIConfig holds admin HTTP API settings
type APIConfig struct {
	Enabled       bool     `yaml:"enabled"`
	ListenAddress string   `yaml:"listen_address" validate:"required_if=Enabled true,omitempty,listen_addr"`
	APIKey        string   `yaml:"api_key"`
	Username      string   `yaml:"username" validate:"required_with=PasswordHash"`
	PasswordHash  string   `yaml:"password_hash" validate:"omitempty,startswith=$2"`
	CORSOrigins   []string `yaml:"cors_origins"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `yaml:"level" validate:"oneof=debug info warn error"`
	Format    string `yaml:"format" validate:"oneof=json text"`
	Output    string `yaml:"output" validate:"oneof=stdout stderr file"`
	FilePath  string `yaml:"file_path" validate:"required_if=Output file"`
	AddSource bool   `yaml:"add_source"`
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port" validate:"omitempty,gte=1,lte=65535"`
}

// Load loads the configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":53"
	}
	if !c.Server.TCPEnabled && !c.Server.UDPEnabled {
		c.Server.TCPEnabled = true
		c.Server.UDPEnabled = true
	}
	if c.Server.AnswerTTL == 0 {
		c.Server.AnswerTTL = 300
	}
	if c.Server.MXPreference == 0 {
		c.Server.MXPreference = 10
	}

	if c.TempAnswers.TTL == 0 {
		c.TempAnswers.TTL = 10 * time.Minute
	}
	if c.TempAnswers.MaxEntries == 0 {
		c.TempAnswers.MaxEntries = 10000
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./blackhole.db"
	}
	if c.Storage.BufferSize == 0 {
		c.Storage.BufferSize = 1000
	}
	if c.Storage.FlushInterval == 0 {
		c.Storage.FlushInterval = 5 * time.Second
	}
	if c.Storage.BatchSize == 0 {
		c.Storage.BatchSize = 100
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 7
	}
	if c.Storage.BusyTimeout == 0 {
		c.Storage.BusyTimeout = 5000
	}

	if c.API.ListenAddress == "" {
		c.API.ListenAddress = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "blackhole"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}
}

// Validate checks if the configuration is valid, including that every rule
// pattern compiles.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return describe(verrs)
		}
		return err
	}

	if !c.Server.TCPEnabled && !c.Server.UDPEnabled {
		return fmt.Errorf("at least one of TCP or UDP must be enabled")
	}

	if _, err := c.RuleSets(); err != nil {
		return err
	}
	return nil
}

// RuleSets compiles the configured rules, keyed by canonical client address.
func (c *Config) RuleSets() (map[string]*rules.RuleSet, error) {
	sets := make(map[string]*rules.RuleSet, len(c.Rules))
	for _, client := range c.Clients() {
		rs, err := rules.Compile(c.Rules[client])
		if err != nil {
			return nil, fmt.Errorf("rules for client %s: %w", client, err)
		}
		key, err := CanonicalClient(client)
		if err != nil {
			return nil, err
		}
		if _, dup := sets[key]; dup {
			return nil, fmt.Errorf("rules for client %s: duplicate of %s", client, key)
		}
		sets[key] = rs
	}
	return sets, nil
}

// Clients returns the configured client keys in sorted order.
func (c *Config) Clients() []string {
	keys := make([]string, 0, len(c.Rules))
	for k := range c.Rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CanonicalClient normalises a client address so that configuration keys
// compare equal to addresses taken from the wire.
func CanonicalClient(client string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(client))
	if err != nil {
		return "", fmt.Errorf("invalid client address %q: %w", client, err)
	}
	return addr.Unmap().String(), nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// registration only fails for empty tags or nil funcs
	_ = v.RegisterValidation("listen_addr", validListenAddr)
	_ = v.RegisterValidation("client_ip", validClientIP)
	return v
}

// validListenAddr accepts host:port where host may be empty (all interfaces).
func validListenAddr(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || port == "" {
		return false
	}
	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		return false
	}
	n, err := strconv.ParseUint(port, 10, 16)
	return err == nil && n < 65536
}

func validClientIP(fl validator.FieldLevel) bool {
	_, err := CanonicalClient(fl.Field().String())
	return err == nil
}

func describe(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: invalid value %v (%s)", fe.Namespace(), fe.Value(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
