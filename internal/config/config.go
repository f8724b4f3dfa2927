package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"offer_booster/internal/model"
)

type Config struct {
	RunTime        string `yaml:"run_time"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	LogLevel       string `yaml:"log_level"`

	// Single-account keys as exposed by the add-on options. They are folded
	// into Accounts when Accounts is empty.
	AccountName     string `yaml:"account_name"`
	ClientID        string `yaml:"client_id"`
	HashCRN         string `yaml:"hashcrn"`
	APIKey          string `yaml:"x_api_key"`
	SecondaryAPIKey string `yaml:"x_wooliesx_api_key"`

	Accounts []model.Account `yaml:"accounts"`

	Notification Flag           `yaml:"notification"`
	Notify       NotifyConfig   `yaml:"notify"`
	MQTT         MQTTConfig     `yaml:"mqtt"`
	NATS         NATSConfig     `yaml:"nats"`
	Email        EmailConfig    `yaml:"email"`
	Provider     ProviderConfig `yaml:"provider"`
	Status       StatusConfig   `yaml:"status"`
}

type NotifyConfig struct {
	Title string `yaml:"title"`
}

type MQTTConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Topic      string `yaml:"topic"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	QoS        int    `yaml:"qos"`
	Retained   bool   `yaml:"retained"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	KeepAliveS int    `yaml:"keep_alive_sec"`
}

func (c MQTTConfig) Broker() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

func (c MQTTConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c MQTTConfig) KeepAlive() time.Duration {
	if c.KeepAliveS <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.KeepAliveS) * time.Second
}

type NATSConfig struct {
	URL       string `yaml:"url"`
	Subject   string `yaml:"subject"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

func (c NATSConfig) Enabled() bool { return strings.TrimSpace(c.URL) != "" }

func (c NATSConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Email    string `yaml:"email"`
	AuthCode string `yaml:"auth_code"`
	To       string `yaml:"to"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	// SummaryWindowMs batches notifications that arrive close together into one mail.
	SummaryWindowMs int `yaml:"summary_window_ms"`
}

func (c EmailConfig) Settings() model.EmailSettings {
	return model.EmailSettings{
		Enabled:  c.Enabled,
		Email:    c.Email,
		AuthCode: c.AuthCode,
		To:       c.To,
		SMTPHost: c.SMTPHost,
		SMTPPort: c.SMTPPort,
	}
}

func (c EmailConfig) SummaryWindow() time.Duration {
	if c.SummaryWindowMs < 0 {
		return 0
	}
	if c.SummaryWindowMs == 0 {
		return 5 * time.Second
	}
	return time.Duration(c.SummaryWindowMs) * time.Millisecond
}

type ProviderConfig struct {
	BaseURL       string           `yaml:"base_url"`
	TimeoutMs     int              `yaml:"timeout_ms"`
	Retry         ProviderRetryCfg `yaml:"retry"`
	UserAgent     string           `yaml:"user_agent"`
	UserLocalTime string           `yaml:"user_local_time"`
	Origin        string           `yaml:"origin"`
	Referer       string           `yaml:"referer"`
	BoostPaceMs   int              `yaml:"boost_pace_ms"`
	Proxy         string           `yaml:"proxy"`
}

type ProviderRetryCfg struct {
	// Attempts is the total number of tries per call, the first one included.
	Attempts      int     `yaml:"attempts"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	MaxWaitMs     int     `yaml:"max_wait_ms"`
}

func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c ProviderConfig) BoostPace() time.Duration {
	if c.BoostPaceMs < 0 {
		return 0
	}
	if c.BoostPaceMs == 0 {
		return 1200 * time.Millisecond
	}
	return time.Duration(c.BoostPaceMs) * time.Millisecond
}

// Backoff returns the wait before retry n (1-based): factor * 2^(n-1) seconds.
func (c ProviderRetryCfg) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	secs := c.BackoffFactor * float64(uint(1)<<uint(n-1))
	d := time.Duration(secs * float64(time.Second))
	if max := c.MaxWait(); d > max {
		d = max
	}
	return d
}

func (c ProviderRetryCfg) MaxWait() time.Duration {
	if c.MaxWaitMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

type StatusConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allow_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

func (c Config) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c Config) NotificationsEnabled() bool {
	return !c.Notification.Set || c.Notification.Value
}

// Flag is a boolean-like option. Only "true" in any case turns it on, so
// both `notification: false` and `notification: "False"` load.
type Flag struct {
	Set   bool
	Value bool
}

func ParseFlag(s string) Flag {
	return Flag{Set: true, Value: strings.EqualFold(strings.TrimSpace(s), "true")}
}

func (f *Flag) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a true/false value", n.Line)
	}
	if n.Tag == "!!null" {
		*f = Flag{}
		return nil
	}
	*f = ParseFlag(n.Value)
	return nil
}

// Load reads the file at path (skipped when path is empty), then applies
// environment overrides and defaults.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", model.ErrConfigInvalid, path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %v", model.ErrConfigInvalid, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("run_time", &c.RunTime)
	str("account_name", &c.AccountName)
	str("client_id", &c.ClientID)
	str("hashcrn", &c.HashCRN)
	str("x_api_key", &c.APIKey)
	str("x_wooliesx_api_key", &c.SecondaryAPIKey)
	str("MQTT_HOST", &c.MQTT.Host)
	str("MQTT_TOPIC", &c.MQTT.Topic)
	str("MQTT_USERNAME", &c.MQTT.Username)
	str("MQTT_PASSWORD", &c.MQTT.Password)
	str("NATS_URL", &c.NATS.URL)
	str("NATS_SUBJECT", &c.NATS.Subject)
	str("LOG_LEVEL", &c.LogLevel)
	str("STATUS_ADDR", &c.Status.Addr)

	if v, ok := lookup("notification"); ok && strings.TrimSpace(v) != "" {
		c.Notification = ParseFlag(v)
	}
	if v, ok := lookup("MQTT_PORT"); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: MQTT_PORT %q is not a number", model.ErrConfigInvalid, v)
		}
		c.MQTT.Port = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.RunTime == "" {
		c.RunTime = "09:00"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	// Without an accounts list the single-account keys always form one bundle,
	// even when empty; the processor skips it with a missing-credentials result.
	if len(c.Accounts) == 0 {
		c.Accounts = []model.Account{{
			Name:            c.AccountName,
			ClientID:        c.ClientID,
			HashCRN:         c.HashCRN,
			APIKey:          c.APIKey,
			SecondaryAPIKey: c.SecondaryAPIKey,
		}}
	}
	for i := range c.Accounts {
		if strings.TrimSpace(c.Accounts[i].Name) == "" {
			if len(c.Accounts) == 1 {
				c.Accounts[i].Name = "My Account"
			} else {
				c.Accounts[i].Name = fmt.Sprintf("Account %d", i+1)
			}
		}
	}
	if c.Notify.Title == "" {
		c.Notify.Title = "Woolworths Loyalty Points"
	}
	if c.MQTT.Host == "" {
		c.MQTT.Host = "core-mosquitto"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "homeassistant/notification/woolworths_points"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "woolworths.points"
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://prod.api-wr.com/wx/v1/csl/customers"
	}
	c.Provider.BaseURL = strings.TrimRight(c.Provider.BaseURL, "/")
	if c.Provider.Origin == "" {
		c.Provider.Origin = "https://www.woolworths.com.au"
	}
	if c.Provider.Referer == "" {
		c.Provider.Referer = "https://www.woolworths.com.au/"
	}
	if c.Provider.Retry.Attempts == 0 {
		c.Provider.Retry.Attempts = 4
	}
	if c.Provider.Retry.BackoffFactor == 0 {
		c.Provider.Retry.BackoffFactor = 1.2
	}
}

func (c Config) validate() error {
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS)
	}
	if c.PollIntervalMs < 0 {
		return errors.New("poll_interval_ms must not be negative")
	}
	if c.Provider.Retry.Attempts < 1 {
		return errors.New("provider.retry.attempts must be at least 1")
	}
	if c.Provider.Retry.BackoffFactor < 0 {
		return errors.New("provider.retry.backoff_factor must not be negative")
	}
	if c.Email.Enabled && strings.TrimSpace(c.Email.Email) == "" {
		return errors.New("email.email is required when email.enabled is true")
	}
	return nil
}
