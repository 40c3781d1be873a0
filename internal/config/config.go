// Package config handles AuraLink bridge configuration loading.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/auralink/auralink-bridge/internal/email"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/auralink/config.yaml, /etc/auralink/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "auralink", "config.yaml"))
	}

	paths = append(paths, "/etc/auralink/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all bridge configuration.
type Config struct {
	MQTT      MQTTConfig     `yaml:"mqtt"`
	Email     email.Config   `yaml:"email"`
	LLM       LLMConfig      `yaml:"llm"`
	Bridge    BridgeConfig   `yaml:"bridge"`
	InfluxDB  InfluxDBConfig `yaml:"influxdb"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // text (default) or json
}

// MQTTConfig defines the broker connection and the two topics the
// bridge uses to talk to the display device.
type MQTTConfig struct {
	// Broker is the broker URL. mqtts:// or ssl:// enables TLS.
	Broker string `yaml:"broker"`
	// ClientID is the fixed MQTT client identifier.
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// SensorTopic carries inbound JSON sensor readings.
	SensorTopic string `yaml:"sensor_topic"`
	// BackendTopic receives the JSON response for the device.
	BackendTopic string `yaml:"backend_topic"`
	QoS          int    `yaml:"qos"`
	KeepAliveSec int    `yaml:"keepalive_sec"`
}

// LLMConfig selects the completion provider and model.
type LLMConfig struct {
	// Provider is one of openai, ollama, anthropic. Default: openai.
	Provider   string          `yaml:"provider"`
	Model      string          `yaml:"model"`
	TimeoutSec int             `yaml:"timeout_sec"`
	OpenAI     OpenAIConfig    `yaml:"openai"`
	Ollama     OllamaConfig    `yaml:"ollama"`
	Anthropic  AnthropicConfig `yaml:"anthropic"`
	// Routes maps specific model names to a provider other than the
	// default, e.g. {"llama3.2": "ollama"}.
	Routes map[string]string `yaml:"routes"`
}

// Timeout returns the per-request HTTP timeout.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSec) * time.Second
}

// OpenAIConfig defines an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// OllamaConfig defines a local Ollama server.
type OllamaConfig struct {
	URL string `yaml:"url"`
	// InsecureSkipVerify accepts a self-signed certificate on an
	// https:// Ollama URL.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// BridgeConfig controls the per-reading orchestration.
type BridgeConfig struct {
	// EmailCheckIntervalSec is the minimum time between mailbox polls.
	// Unset means 300; an explicit 0 polls on every reading.
	EmailCheckIntervalSec *int `yaml:"email_check_interval_sec"`
	// MaxEmails caps how many unread messages are fetched per poll.
	MaxEmails int `yaml:"max_emails"`
	// SensorLog is the append-only sensor reading log.
	SensorLog string `yaml:"sensor_log"`
	// HandlerTimeoutSec bounds the total time spent on one reading.
	HandlerTimeoutSec int `yaml:"handler_timeout_sec"`
}

// EmailCheckInterval returns the poll interval as a duration.
func (b BridgeConfig) EmailCheckInterval() time.Duration {
	if b.EmailCheckIntervalSec == nil {
		return defaultEmailCheckIntervalSec * time.Second
	}
	return time.Duration(*b.EmailCheckIntervalSec) * time.Second
}

const defaultEmailCheckIntervalSec = 300

// InfluxDBConfig defines the optional time-series sink for readings.
type InfluxDBConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// Configured reports whether the InfluxDB sink should be enabled.
func (c InfluxDBConfig) Configured() bool {
	return c.URL != "" && c.Bucket != ""
}

// Load reads configuration from a YAML file. A .env file next to the
// config file (or in the working directory) is loaded first so that
// ${VAR} references can point at secrets kept out of the YAML. Values
// already present in the environment are never overridden.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv loads each existing file once. Missing files are ignored.
func loadDotEnv(paths ...string) {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		_ = godotenv.Load(abs)
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "mqtt://broker.hivemq.com:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "auralink_backend_001"
	}
	if c.MQTT.SensorTopic == "" {
		c.MQTT.SensorTopic = "auralink/sensor/data"
	}
	if c.MQTT.BackendTopic == "" {
		c.MQTT.BackendTopic = "auralink/backend/message"
	}
	if c.MQTT.KeepAliveSec == 0 {
		c.MQTT.KeepAliveSec = 60
	}

	c.Email.ApplyDefaults()

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-3.5-turbo"
	}
	if c.LLM.TimeoutSec == 0 {
		c.LLM.TimeoutSec = 60
	}
	if c.LLM.OpenAI.BaseURL == "" {
		c.LLM.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Ollama.URL == "" {
		c.LLM.Ollama.URL = "http://localhost:11434"
	}

	if c.Bridge.EmailCheckIntervalSec == nil {
		interval := defaultEmailCheckIntervalSec
		c.Bridge.EmailCheckIntervalSec = &interval
	}
	if c.Bridge.MaxEmails == 0 {
		c.Bridge.MaxEmails = 5
	}
	if c.Bridge.SensorLog == "" {
		c.Bridge.SensorLog = "sensor_log.txt"
	}
	if c.Bridge.HandlerTimeoutSec == 0 {
		c.Bridge.HandlerTimeoutSec = 120
	}

	if c.InfluxDB.Measurement == "" {
		c.InfluxDB.Measurement = "sensor_reading"
	}
}

// Validate checks that the configuration is internally consistent.
// Returns an error describing the first problem found.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q is invalid (valid: text, json)", c.LogFormat)
	}

	u, err := url.Parse(c.MQTT.Broker)
	if err != nil {
		return fmt.Errorf("mqtt.broker: %w", err)
	}
	switch u.Scheme {
	case "mqtt", "tcp", "mqtts", "ssl", "tls", "ws", "wss":
	default:
		return fmt.Errorf("mqtt.broker %q: unsupported scheme %q", c.MQTT.Broker, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("mqtt.broker %q: missing host", c.MQTT.Broker)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d out of range (0-2)", c.MQTT.QoS)
	}
	if c.MQTT.KeepAliveSec < 0 || c.MQTT.KeepAliveSec > math.MaxUint16 {
		return fmt.Errorf("mqtt.keepalive_sec %d out of range (0-%d)", c.MQTT.KeepAliveSec, math.MaxUint16)
	}
	if c.MQTT.SensorTopic == c.MQTT.BackendTopic {
		return fmt.Errorf("mqtt.sensor_topic and mqtt.backend_topic must differ (both %q)", c.MQTT.SensorTopic)
	}

	if err := c.Email.Validate(); err != nil {
		return err
	}

	if err := validProvider("llm.provider", c.LLM.Provider); err != nil {
		return err
	}
	usesAnthropic := c.LLM.Provider == "anthropic"
	for model, provider := range c.LLM.Routes {
		if err := validProvider("llm.routes."+model, provider); err != nil {
			return err
		}
		usesAnthropic = usesAnthropic || provider == "anthropic"
	}
	if usesAnthropic && c.LLM.Anthropic.APIKey == "" {
		return fmt.Errorf("llm.anthropic.api_key is required when the anthropic provider is used")
	}

	if c.Bridge.EmailCheckIntervalSec != nil && *c.Bridge.EmailCheckIntervalSec < 0 {
		return fmt.Errorf("bridge.email_check_interval_sec must not be negative")
	}
	if c.Bridge.MaxEmails < 1 {
		return fmt.Errorf("bridge.max_emails must be at least 1")
	}

	if c.InfluxDB.Configured() && c.InfluxDB.Org == "" {
		return fmt.Errorf("influxdb.org is required when influxdb.url is set")
	}
	return nil
}

func validProvider(field, p string) error {
	switch p {
	case "openai", "ollama", "anthropic":
		return nil
	}
	return fmt.Errorf("%s %q is invalid (valid: openai, ollama, anthropic)", field, p)
}

// Warnings returns human-readable notes about settings that are valid
// but probably not what the operator intended, such as unset credentials.
// They are logged at startup and never block it.
func (c *Config) Warnings() []string {
	var w []string
	if !c.Email.Configured() {
		w = append(w, "email not configured; every poll will report no new emails")
	} else if c.Email.Password == "" {
		w = append(w, "email.password is empty; use an app-specific password")
	}
	if c.LLM.Ollama.InsecureSkipVerify {
		w = append(w, "llm.ollama.insecure_skip_verify is set; the Ollama certificate is not checked")
	}
	if c.LLM.Provider == "openai" && c.LLM.OpenAI.APIKey == "" {
		w = append(w, "llm.openai.api_key is empty; quotes and summaries will use fallback text")
	}
	return w
}
