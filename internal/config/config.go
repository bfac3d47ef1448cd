package config

import "time"

// MonitorConfig is the root configuration for a vimonitor instance.
type MonitorConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	API      APIConfig      `yaml:"api"`
	Stream   StreamConfig   `yaml:"stream"`
	VI       VIConfig       `yaml:"vi"`
	Recorder RecorderConfig `yaml:"recorder"`
	Database DBConfig       `yaml:"database"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this monitor.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds LS OpenAPI settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	AppKey     string        `yaml:"app_key"`
	SecretKey  string        `yaml:"secret_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// StreamConfig holds websocket session settings.
type StreamConfig struct {
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	KeepaliveInterval    time.Duration `yaml:"keepalive_interval"`
	KeepaliveTimeout     time.Duration `yaml:"keepalive_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MessageBufferSize    int           `yaml:"message_buffer_size"`
	MaxSubscriptions     int           `yaml:"max_subscriptions"`
}

// VIConfig holds VI cascade settings.
type VIConfig struct {
	// GracePeriod is how long a derived trade subscription outlives the
	// VI release, so late ticks are still observed.
	GracePeriod time.Duration `yaml:"grace_period"`

	// Markets limits which markets get derived trade subscriptions.
	// Valid values are "kospi" and "kosdaq"; empty means both.
	Markets []string `yaml:"markets"`
}

// RecorderConfig holds event persistence settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds the Postgres/TimescaleDB connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
