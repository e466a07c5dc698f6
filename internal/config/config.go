package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// SocketConfig configures the push connection to the order backend
type SocketConfig struct {
	URL                  string        `yaml:"url" json:"url" validate:"required,url"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" json:"handshake_timeout" validate:"gt=0"`
	WriteTimeout         time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gt=0"`
	PongTimeout          time.Duration `yaml:"pong_timeout" json:"pong_timeout" validate:"gt=0"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval" validate:"gt=0"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay" json:"reconnect_delay" validate:"gt=0"`
	ReconnectDelayMax    time.Duration `yaml:"reconnect_delay_max" json:"reconnect_delay_max" validate:"gtefield=ReconnectDelay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts" validate:"gt=0"`
}

// BackendConfig configures the REST order backend
type BackendConfig struct {
	URL     string        `yaml:"url" json:"url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
}

// AuthConfig carries the vendor credential
type AuthConfig struct {
	Token    string `yaml:"token" json:"-" validate:"required"`
	VendorID string `yaml:"vendor_id" json:"vendor_id"`
}

// StorageConfig configures where the active order snapshot is kept
type StorageConfig struct {
	Backend      string `yaml:"backend" json:"backend" validate:"oneof=badger redis memory"`
	SnapshotPath string `yaml:"snapshot_path" json:"snapshot_path"`
	SnapshotKey  string `yaml:"snapshot_key" json:"snapshot_key" validate:"required"`
}

// IntakeConfig configures the intake queue
type IntakeConfig struct {
	ResolvedTTL    time.Duration `yaml:"resolved_ttl" json:"resolved_ttl" validate:"gt=0"`
	ValidateStatus bool          `yaml:"validate_status" json:"validate_status"`
	StatusTimeout  time.Duration `yaml:"status_timeout" json:"status_timeout" validate:"gt=0"`
	SharedResolved bool          `yaml:"shared_resolved" json:"shared_resolved"`
	EventBuffer    int           `yaml:"event_buffer" json:"event_buffer" validate:"gt=0"`
}

// NotificationConfig configures the notification panel
type NotificationConfig struct {
	Capacity int `yaml:"capacity" json:"capacity" validate:"gt=0"`
}

// ServerConfig configures the local control API
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port" validate:"gt=0,lt=65536"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins  []string      `yaml:"allowed_origins" json:"allowed_origins"`
}

// TracingConfig configures OpenTelemetry span export
type TracingConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	PrettyPrint bool `yaml:"pretty_print" json:"pretty_print"`
}

// Config represents the application configuration
type Config struct {
	LogLevel      string             `yaml:"log_level" json:"log_level"`
	Socket        SocketConfig       `yaml:"socket" json:"socket"`
	Backend       BackendConfig      `yaml:"backend" json:"backend"`
	Auth          AuthConfig         `yaml:"auth" json:"auth"`
	Storage       StorageConfig      `yaml:"storage" json:"storage"`
	Intake        IntakeConfig       `yaml:"intake" json:"intake"`
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`
	Server        ServerConfig       `yaml:"server" json:"server"`
	Tracing       TracingConfig      `yaml:"tracing" json:"tracing"`
	Redis         struct {
		Address  string `yaml:"address" json:"address"`
		Password string `yaml:"password" json:"-"`
		DB       int    `yaml:"db" json:"db"`
	} `yaml:"redis" json:"redis"`
	Kafka struct {
		Enabled bool     `yaml:"enabled" json:"enabled"`
		Brokers []string `yaml:"brokers" json:"brokers"`
		Topic   string   `yaml:"topic" json:"topic"`
	} `yaml:"kafka" json:"kafka"`
	Audit struct {
		RedisStream bool `yaml:"redis_stream" json:"redis_stream"`
	} `yaml:"audit" json:"audit"`
}

// Addr returns the control API listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// UsesRedis reports whether any component needs a Redis client
func (c *Config) UsesRedis() bool {
	return c.Storage.Backend == "redis" || c.Intake.SharedResolved || c.Audit.RedisStream
}

// Default returns the built-in configuration
func Default() *Config {
	config := &Config{
		LogLevel: "info",
		Socket: SocketConfig{
			URL:                  "ws://localhost:5000/ws",
			HandshakeTimeout:     20 * time.Second,
			WriteTimeout:         10 * time.Second,
			PongTimeout:          60 * time.Second,
			HeartbeatInterval:    20 * time.Second,
			ReconnectDelay:       1 * time.Second,
			ReconnectDelayMax:    5 * time.Second,
			MaxReconnectAttempts: 10,
		},
		Backend: BackendConfig{
			URL:     "http://localhost:5000",
			Timeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Backend:      "badger",
			SnapshotPath: "./data/snapshot",
			SnapshotKey:  "persistentVendorOrder",
		},
		Intake: IntakeConfig{
			ResolvedTTL:    30 * time.Minute,
			ValidateStatus: true,
			StatusTimeout:  5 * time.Second,
			EventBuffer:    256,
		},
		Notifications: NotificationConfig{
			Capacity: 50,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000"},
		},
	}
	config.Redis.Address = "localhost:6379"
	config.Kafka.Brokers = []string{"localhost:9092"}
	config.Kafka.Topic = "vendor.decisions"
	return config
}

// LoadConfig loads the application configuration.
// Precedence: built-in defaults, then environment variables, then a config.yaml file.
func LoadConfig() (*Config, error) {
	config := Default()

	applyEnv(config)

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/vendorpulse")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		applyViper(v, config)
	}

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration with struct tags
func Validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func applyEnv(config *Config) {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		config.LogLevel = lvl
	}
	if u := os.Getenv("SOCKET_URL"); u != "" {
		config.Socket.URL = u
	}
	if d, err := time.ParseDuration(os.Getenv("SOCKET_HEARTBEAT_INTERVAL")); err == nil {
		config.Socket.HeartbeatInterval = d
	}
	if n, err := strconv.Atoi(os.Getenv("SOCKET_MAX_RECONNECT_ATTEMPTS")); err == nil {
		config.Socket.MaxReconnectAttempts = n
	}
	if u := os.Getenv("BACKEND_URL"); u != "" {
		config.Backend.URL = u
	}
	if token := os.Getenv("VENDOR_TOKEN"); token != "" {
		config.Auth.Token = token
	}
	if id := os.Getenv("VENDOR_ID"); id != "" {
		config.Auth.VendorID = id
	}
	if b := os.Getenv("STORAGE_BACKEND"); b != "" {
		config.Storage.Backend = b
	}
	if p := os.Getenv("SNAPSHOT_PATH"); p != "" {
		config.Storage.SnapshotPath = p
	}
	if vs := os.Getenv("VALIDATE_STATUS"); vs != "" {
		config.Intake.ValidateStatus = vs == "true"
	}
	if sr := os.Getenv("SHARED_RESOLVED"); sr != "" {
		config.Intake.SharedResolved = sr == "true"
	}
	if port, err := strconv.Atoi(os.Getenv("SERVER_PORT")); err == nil {
		config.Server.Port = port
	}
	if addr := os.Getenv("REDIS_ADDRESS"); addr != "" {
		config.Redis.Address = addr
	}
	if pwd := os.Getenv("REDIS_PASSWORD"); pwd != "" {
		config.Redis.Password = pwd
	}
	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		config.Redis.DB = db
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		config.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if enabled := os.Getenv("KAFKA_ENABLED"); enabled != "" {
		config.Kafka.Enabled = enabled == "true"
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		config.Kafka.Topic = topic
	}
	if enabled := os.Getenv("TRACING_ENABLED"); enabled != "" {
		config.Tracing.Enabled = enabled == "true"
	}
}

func applyViper(v *viper.Viper, config *Config) {
	if v.IsSet("log_level") {
		config.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("socket.url") {
		config.Socket.URL = v.GetString("socket.url")
	}
	if v.IsSet("socket.heartbeat_interval") {
		config.Socket.HeartbeatInterval = v.GetDuration("socket.heartbeat_interval")
	}
	if v.IsSet("socket.reconnect_delay") {
		config.Socket.ReconnectDelay = v.GetDuration("socket.reconnect_delay")
	}
	if v.IsSet("socket.reconnect_delay_max") {
		config.Socket.ReconnectDelayMax = v.GetDuration("socket.reconnect_delay_max")
	}
	if v.IsSet("socket.max_reconnect_attempts") {
		config.Socket.MaxReconnectAttempts = v.GetInt("socket.max_reconnect_attempts")
	}
	if v.IsSet("backend.url") {
		config.Backend.URL = v.GetString("backend.url")
	}
	if v.IsSet("backend.timeout") {
		config.Backend.Timeout = v.GetDuration("backend.timeout")
	}
	if v.IsSet("auth.token") {
		config.Auth.Token = v.GetString("auth.token")
	}
	if v.IsSet("auth.vendor_id") {
		config.Auth.VendorID = v.GetString("auth.vendor_id")
	}
	if v.IsSet("storage.backend") {
		config.Storage.Backend = v.GetString("storage.backend")
	}
	if v.IsSet("storage.snapshot_path") {
		config.Storage.SnapshotPath = v.GetString("storage.snapshot_path")
	}
	if v.IsSet("intake.resolved_ttl") {
		config.Intake.ResolvedTTL = v.GetDuration("intake.resolved_ttl")
	}
	if v.IsSet("intake.validate_status") {
		config.Intake.ValidateStatus = v.GetBool("intake.validate_status")
	}
	if v.IsSet("intake.shared_resolved") {
		config.Intake.SharedResolved = v.GetBool("intake.shared_resolved")
	}
	if v.IsSet("notifications.capacity") {
		config.Notifications.Capacity = v.GetInt("notifications.capacity")
	}
	if v.IsSet("server.port") {
		config.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("server.allowed_origins") {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("redis.address") {
		config.Redis.Address = v.GetString("redis.address")
	}
	if v.IsSet("redis.password") {
		config.Redis.Password = v.GetString("redis.password")
	}
	if v.IsSet("redis.db") {
		config.Redis.DB = v.GetInt("redis.db")
	}
	if v.IsSet("kafka.enabled") {
		config.Kafka.Enabled = v.GetBool("kafka.enabled")
	}
	if v.IsSet("kafka.brokers") {
		config.Kafka.Brokers = v.GetStringSlice("kafka.brokers")
	}
	if v.IsSet("kafka.topic") {
		config.Kafka.Topic = v.GetString("kafka.topic")
	}
	if v.IsSet("audit.redis_stream") {
		config.Audit.RedisStream = v.GetBool("audit.redis_stream")
	}
	if v.IsSet("tracing.enabled") {
		config.Tracing.Enabled = v.GetBool("tracing.enabled")
	}
	if v.IsSet("tracing.pretty_print") {
		config.Tracing.PrettyPrint = v.GetBool("tracing.pretty_print")
	}
}
