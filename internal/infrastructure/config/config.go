package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the monitor's configuration file.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Actions    ActionsConfig    `yaml:"actions"`
	Presets    PresetsConfig    `yaml:"presets"`
	Security   SecurityConfig   `yaml:"security"`
}

// SiteConfig identifies this monitor instance.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string             `yaml:"host"`
	Port      int                `yaml:"port"`
	Timeouts  APITimeoutConfig   `yaml:"timeouts"`
	CORS      CORSConfig         `yaml:"cors"`
	RateLimit ActionRateLimitCfg `yaml:"rate_limit"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ActionRateLimitCfg bounds how often operators may fire device actions
// through the API, per device.
type ActionRateLimitCfg struct {
	Enabled        bool    `yaml:"enabled"`
	RequestsPerSec float64 `yaml:"requests_per_second"`
	Burst          int     `yaml:"burst"`
}

// WebSocketConfig contains settings for the downstream observer feed.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rotating file logging settings.
// Used when Output is "file".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// DiscoveryConfig controls how devices are found.
type DiscoveryConfig struct {
	// Host is the host:port of the first device to query at startup.
	// Empty disables the bootstrap query.
	Host string `yaml:"host"`

	// DemoDevice seeds a synthetic always-online device for demos.
	DemoDevice bool `yaml:"demo_device"`

	// BootstrapTimeout bounds the one-shot status query.
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout"`
}

// SupervisorConfig controls the per-device status socket.
type SupervisorConfig struct {
	Reconnect    ReconnectConfig `yaml:"reconnect"`
	PingInterval time.Duration   `yaml:"ping_interval"`
	PongTimeout  time.Duration   `yaml:"pong_timeout"`
}

// ReconnectConfig is the status socket backoff policy.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// ActionsConfig holds the cancellation guard for each device action.
type ActionsConfig struct {
	StartTimeout  time.Duration `yaml:"start_timeout"`
	StopTimeout   time.Duration `yaml:"stop_timeout"`
	CancelTimeout time.Duration `yaml:"cancel_timeout"`
	EventTimeout  time.Duration `yaml:"event_timeout"`
}

// PresetsConfig controls the quick-event label slots.
type PresetsConfig struct {
	Slots int `yaml:"slots"`

	// SyncTopic is the retained MQTT topic used to share presets
	// between monitor instances. Empty disables sync.
	SyncTopic string `yaml:"sync_topic"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings for the local API.
type JWTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// Load returns defaults overlaid by the file at path and then by
// PIMONITOR_* variables. PIMONITOR_HOST sets discovery.host.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "monitor-001",
			Name: "PI Monitor",
		},
		Database: DatabaseConfig{
			Path:        "./data/pimonitor.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pimonitor-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			RateLimit: ActionRateLimitCfg{
				Enabled:        true,
				RequestsPerSec: 5,
				Burst:          10,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "pimonitor",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				MaxSize:    50,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
		Discovery: DiscoveryConfig{
			BootstrapTimeout: 5 * time.Second,
		},
		Supervisor: SupervisorConfig{
			Reconnect: ReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
			},
			PingInterval: 20 * time.Second,
			PongTimeout:  10 * time.Second,
		},
		Actions: ActionsConfig{
			StartTimeout:  500 * time.Millisecond,
			StopTimeout:   1000 * time.Millisecond,
			CancelTimeout: 1000 * time.Millisecond,
			EventTimeout:  500 * time.Millisecond,
		},
		Presets: PresetsConfig{
			Slots:     5,
			SyncTopic: "pimonitor/presets",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 720,
			},
		},
	}
}

// envStrings maps PIMONITOR_* variables onto string fields.
func envStrings(cfg *Config) map[string]*string {
	return map[string]*string{
		"PIMONITOR_DATABASE_PATH":  &cfg.Database.Path,
		"PIMONITOR_MQTT_HOST":      &cfg.MQTT.Broker.Host,
		"PIMONITOR_MQTT_USERNAME":  &cfg.MQTT.Auth.Username,
		"PIMONITOR_MQTT_PASSWORD":  &cfg.MQTT.Auth.Password,
		"PIMONITOR_API_HOST":       &cfg.API.Host,
		"PIMONITOR_INFLUXDB_TOKEN": &cfg.InfluxDB.Token,
		"PIMONITOR_HOST":           &cfg.Discovery.Host,
		"PIMONITOR_JWT_SECRET":     &cfg.Security.JWT.Secret,
	}
}

func applyEnvOverrides(cfg *Config) {
	for name, field := range envStrings(cfg) {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("PIMONITOR_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Presets.Slots < 1 {
		errs = append(errs, "presets.slots must be at least 1")
	}

	if c.Supervisor.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "supervisor.reconnect.initial_delay must be positive")
	}
	if c.Supervisor.Reconnect.MaxDelay < c.Supervisor.Reconnect.InitialDelay {
		errs = append(errs, "supervisor.reconnect.max_delay must not be below initial_delay")
	}

	for name, d := range map[string]time.Duration{
		"actions.start_timeout":  c.Actions.StartTimeout,
		"actions.stop_timeout":   c.Actions.StopTimeout,
		"actions.cancel_timeout": c.Actions.CancelTimeout,
		"actions.event_timeout":  c.Actions.EventTimeout,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}

	if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	// Operator tokens are only as strong as the signing secret.
	const minJWTSecretLength = 32
	if c.Security.JWT.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when jwt is enabled (set PIMONITOR_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// GetReadTimeout returns api.timeouts.read.
func (c *Config) GetReadTimeout() time.Duration { return seconds(c.API.Timeouts.Read) }

// GetWriteTimeout returns api.timeouts.write.
func (c *Config) GetWriteTimeout() time.Duration { return seconds(c.API.Timeouts.Write) }

// GetIdleTimeout returns api.timeouts.idle.
func (c *Config) GetIdleTimeout() time.Duration { return seconds(c.API.Timeouts.Idle) }
