package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the relay. Values come from defaults,
// then an optional YAML file, then environment variables.
type Config struct {
	BindAddr      string   `yaml:"bind_addr"`
	FallbackAddrs []string `yaml:"fallback_addrs"`
	AutoFallback  bool     `yaml:"auto_fallback"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	HistoryCapacity int           `yaml:"history_capacity"`
	QueueSize       int           `yaml:"queue_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	SSEHeartbeat    time.Duration `yaml:"sse_heartbeat"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	StaticDir       string        `yaml:"static_dir"`

	MQTT    MQTTConfig    `yaml:"mqtt"`
	Journal JournalConfig `yaml:"journal"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// MQTTConfig enables device ingestion over MQTT when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
}

// Enabled reports whether an MQTT broker is configured.
func (m MQTTConfig) Enabled() bool { return m.Broker != "" }

// JournalConfig enables the accepted-reading journal when Dir is set.
type JournalConfig struct {
	Dir       string `yaml:"dir"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxAge    int    `yaml:"max_age_days"`
}

// NotifyConfig enables fall alerts when Endpoint is set.
type NotifyConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Title    string        `yaml:"title"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BindAddr:        "0.0.0.0:3000",
		AutoFallback:    false,
		LogLevel:        "info",
		LogFile:         "logs/vitals_relay.log",
		HistoryCapacity: 50,
		QueueSize:       64,
		WriteTimeout:    5 * time.Second,
		SSEHeartbeat:    15 * time.Second,
		MaxBodyBytes:    64 * 1024,
		CORSOrigins:     []string{"*"},
		MQTT: MQTTConfig{
			ClientID: "vitals-relay",
			Topic:    "vitals/+/reading",
			QoS:      1,
		},
		Journal: JournalConfig{
			MaxSizeMB: 50,
			MaxAge:    7,
		},
		Notify: NotifyConfig{
			Title:   "Fall detected",
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads configuration. envFiles are loaded with godotenv (".env" when
// none are given, missing files are ignored); path names an optional YAML
// file, falling back to TELEMETRY_CONFIG_FILE.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil {
			slog.Debug("failed to load .env file", "error", err)
		}
	} else {
		for _, f := range envFiles {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("env file %s: %w", f, err)
			}
		}
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("TELEMETRY_CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if addr := os.Getenv("TELEMETRY_BIND_ADDR"); addr != "" {
		c.BindAddr = addr
	} else if port := os.Getenv("PORT"); port != "" {
		host, _, err := net.SplitHostPort(c.BindAddr)
		if err != nil {
			host = ""
		}
		c.BindAddr = net.JoinHostPort(host, port)
	}
	c.FallbackAddrs = getEnvListOrDefault("TELEMETRY_FALLBACK_ADDRS", c.FallbackAddrs)
	c.AutoFallback = getEnvBoolOrDefault("TELEMETRY_AUTO_FALLBACK", c.AutoFallback)

	c.LogLevel = strings.ToLower(getEnvOrDefault("TELEMETRY_LOG_LEVEL", c.LogLevel))
	c.LogFile = getEnvOrDefault("TELEMETRY_LOG_FILE", c.LogFile)

	c.HistoryCapacity = getEnvIntOrDefault("TELEMETRY_HISTORY_CAPACITY", c.HistoryCapacity)
	c.QueueSize = getEnvIntOrDefault("TELEMETRY_QUEUE_SIZE", c.QueueSize)
	c.WriteTimeout = getEnvDurationOrDefault("TELEMETRY_WRITE_TIMEOUT", c.WriteTimeout)
	c.SSEHeartbeat = getEnvDurationOrDefault("TELEMETRY_SSE_HEARTBEAT", c.SSEHeartbeat)
	c.MaxBodyBytes = int64(getEnvIntOrDefault("TELEMETRY_MAX_BODY_BYTES", int(c.MaxBodyBytes)))
	c.CORSOrigins = getEnvListOrDefault("TELEMETRY_CORS_ORIGINS", c.CORSOrigins)
	c.StaticDir = getEnvOrDefault("TELEMETRY_STATIC_DIR", c.StaticDir)

	c.MQTT.Broker = getEnvOrDefault("TELEMETRY_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnvOrDefault("TELEMETRY_MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getEnvOrDefault("TELEMETRY_MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnvOrDefault("TELEMETRY_MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.Topic = getEnvOrDefault("TELEMETRY_MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.QoS = getEnvIntOrDefault("TELEMETRY_MQTT_QOS", c.MQTT.QoS)

	c.Journal.Dir = getEnvOrDefault("TELEMETRY_JOURNAL_DIR", c.Journal.Dir)
	c.Journal.MaxSizeMB = getEnvIntOrDefault("TELEMETRY_JOURNAL_MAX_SIZE_MB", c.Journal.MaxSizeMB)
	c.Journal.MaxAge = getEnvIntOrDefault("TELEMETRY_JOURNAL_MAX_AGE_DAYS", c.Journal.MaxAge)

	c.Notify.Endpoint = getEnvOrDefault("TELEMETRY_NOTIFY_ENDPOINT", c.Notify.Endpoint)
	c.Notify.Title = getEnvOrDefault("TELEMETRY_NOTIFY_TITLE", c.Notify.Title)
	c.Notify.Timeout = getEnvDurationOrDefault("TELEMETRY_NOTIFY_TIMEOUT", c.Notify.Timeout)
}

// Validate clamps soft limits and rejects values the relay cannot run with.
func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return errors.New("config: bind address is required")
	}
	if _, _, err := net.SplitHostPort(c.BindAddr); err != nil {
		return fmt.Errorf("config: bind address %q: %w", c.BindAddr, err)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if c.HistoryCapacity < 1 {
		c.HistoryCapacity = 1
	}
	if c.QueueSize < 1 {
		c.QueueSize = 1
	}
	if c.WriteTimeout < 100*time.Millisecond {
		c.WriteTimeout = 100 * time.Millisecond
	}
	if c.SSEHeartbeat < time.Second {
		c.SSEHeartbeat = time.Second
	}
	if c.MaxBodyBytes < 1024 {
		c.MaxBodyBytes = 1024
	}
	if c.MQTT.Enabled() {
		if c.MQTT.Topic == "" {
			return errors.New("config: mqtt topic is required when a broker is set")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("config: mqtt qos %d out of range 0-2", c.MQTT.QoS)
		}
	}
	if c.Journal.MaxSizeMB < 1 {
		c.Journal.MaxSizeMB = 1
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
		slog.Warn("ignoring invalid integer env value", "key", key, "value", val)
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
		slog.Warn("ignoring invalid boolean env value", "key", key, "value", val)
	}
	return defaultVal
}

// getEnvDurationOrDefault accepts Go durations ("5s") or bare milliseconds.
func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	slog.Warn("ignoring invalid duration env value", "key", key, "value", val)
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
