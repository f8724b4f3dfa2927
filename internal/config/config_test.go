package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offer_booster/internal/model"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func credsEnv() map[string]string {
	return map[string]string{
		"client_id":          "cid",
		"hashcrn":            "crn",
		"x_api_key":          "k1",
		"x_wooliesx_api_key": "k2",
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsFromEnvOnly(t *testing.T) {
	cfg, err := LoadWithEnv("", envOf(credsEnv()))
	require.NoError(t, err)

	assert.Equal(t, "09:00", cfg.RunTime)
	assert.Equal(t, 30*time.Second, cfg.PollInterval())
	assert.True(t, cfg.NotificationsEnabled())
	assert.Equal(t, "Woolworths Loyalty Points", cfg.Notify.Title)

	assert.Equal(t, "tcp://core-mosquitto:1883", cfg.MQTT.Broker())
	assert.Equal(t, "homeassistant/notification/woolworths_points", cfg.MQTT.Topic)
	assert.False(t, cfg.NATS.Enabled())

	assert.Equal(t, "https://prod.api-wr.com/wx/v1/csl/customers", cfg.Provider.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout())
	assert.Equal(t, 1200*time.Millisecond, cfg.Provider.BoostPace())
	assert.Equal(t, 4, cfg.Provider.Retry.Attempts)
	assert.Equal(t, 1.2, cfg.Provider.Retry.BackoffFactor)

	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, model.Account{
		Name:            "My Account",
		ClientID:        "cid",
		HashCRN:         "crn",
		APIKey:          "k1",
		SecondaryAPIKey: "k2",
	}, cfg.Accounts[0])
}

func TestLoad_OptionsJSON(t *testing.T) {
	path := writeFile(t, "options.json", `{"run_time": "07:15", "account_name": "Household", "client_id": "a", "hashcrn": "b", "x_api_key": "c", "x_wooliesx_api_key": "d", "notification": false}`)

	cfg, err := LoadWithEnv(path, envOf(nil))
	require.NoError(t, err)
	assert.Equal(t, "07:15", cfg.RunTime)
	assert.False(t, cfg.NotificationsEnabled())
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "Household", cfg.Accounts[0].Name)
}

func TestLoad_YAMLAccountsList(t *testing.T) {
	path := writeFile(t, "config.yaml", `
run_time: "06:30"
accounts:
  - name: Alice
    client_id: a1
    hashcrn: h1
    api_key: k1
    secondary_api_key: s1
  - client_id: a2
    hashcrn: h2
    api_key: k2
    secondary_api_key: s2
provider:
  base_url: http://localhost:8080/customers/
  boost_pace_ms: -1
  retry:
    attempts: 2
email:
  enabled: true
  email: me@example.com
  summary_window_ms: -1
`)

	cfg, err := LoadWithEnv(path, envOf(nil))
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "Alice", cfg.Accounts[0].Name)
	assert.Equal(t, "Account 2", cfg.Accounts[1].Name)
	assert.Equal(t, "http://localhost:8080/customers", cfg.Provider.BaseURL)
	assert.Equal(t, time.Duration(0), cfg.Provider.BoostPace())
	assert.Equal(t, 2, cfg.Provider.Retry.Attempts)
	assert.Equal(t, time.Duration(0), cfg.Email.SummaryWindow())
	assert.Equal(t, "me@example.com", cfg.Email.Settings().Email)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "run_time: \"06:30\"\nmqtt:\n  host: file-host\n")
	env := credsEnv()
	env["run_time"] = "21:45"
	env["MQTT_HOST"] = "env-host"
	env["MQTT_PORT"] = "1884"
	env["MQTT_TOPIC"] = "custom/topic"
	env["notification"] = "TRUE"
	env["NATS_URL"] = "nats://n:4222"

	cfg, err := LoadWithEnv(path, envOf(env))
	require.NoError(t, err)
	assert.Equal(t, "21:45", cfg.RunTime)
	assert.Equal(t, "tcp://env-host:1884", cfg.MQTT.Broker())
	assert.Equal(t, "custom/topic", cfg.MQTT.Topic)
	assert.True(t, cfg.NotificationsEnabled())
	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, "woolworths.points", cfg.NATS.Subject)
}

func TestLoad_RunTimeIsNotValidatedHere(t *testing.T) {
	env := credsEnv()
	env["run_time"] = "25:99"
	cfg, err := LoadWithEnv("", envOf(env))
	require.NoError(t, err)
	assert.Equal(t, "25:99", cfg.RunTime)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]struct {
		file string
		env  map[string]string
	}{
		"bad port env":     {env: map[string]string{"client_id": "x", "MQTT_PORT": "abc"}},
		"port range":       {file: "client_id: x\nmqtt:\n  port: 70000\n"},
		"qos":              {file: "client_id: x\nmqtt:\n  qos: 3\n"},
		"negative poll":    {file: "client_id: x\npoll_interval_ms: -5\n"},
		"negative backoff": {file: "client_id: x\nprovider:\n  retry:\n    backoff_factor: -1\n"},
		"email no address": {file: "client_id: x\nemail:\n  enabled: true\n"},
		"malformed yaml":   {file: "client_id: [x\n"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := ""
			if tc.file != "" {
				path = writeFile(t, "config.yaml", tc.file)
			}
			_, err := LoadWithEnv(path, envOf(tc.env))
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrConfigInvalid), err.Error())
		})
	}
}

func TestLoad_EmptyCredentialsFoldIntoDefaultAccount(t *testing.T) {
	cfg, err := LoadWithEnv("", envOf(nil))
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "My Account", cfg.Accounts[0].Name)
	assert.Equal(t, []string{"client_id", "hashcrn", "api_key", "secondary_api_key"}, cfg.Accounts[0].MissingFields())
}

func TestLoad_NotificationFlagForms(t *testing.T) {
	cases := map[string]bool{
		`"notification": false`:   false,
		`"notification": true`:    true,
		`"notification": "false"`: false,
		`"notification": "False"`: false,
		`"notification": "TRUE"`:  true,
		`"notification": "yes"`:   false,
		`"notification": null`:    true,
		`"run_time": "09:00"`:     true,
	}
	for field, want := range cases {
		t.Run(field, func(t *testing.T) {
			path := writeFile(t, "options.json", `{"client_id": "x", `+field+`}`)
			cfg, err := LoadWithEnv(path, envOf(nil))
			require.NoError(t, err)
			assert.Equal(t, want, cfg.NotificationsEnabled())
		})
	}

	path := writeFile(t, "options.json", `{"notification": ["true"]}`)
	_, err := LoadWithEnv(path, envOf(nil))
	assert.True(t, errors.Is(err, model.ErrConfigInvalid))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.yaml"), envOf(credsEnv()))
	require.Error(t, err)
}

func TestRetryBackoff(t *testing.T) {
	c := ProviderRetryCfg{BackoffFactor: 1.2}
	assert.Equal(t, 1200*time.Millisecond, c.Backoff(0))
	assert.Equal(t, 4800*time.Millisecond, c.Backoff(3))
	assert.Equal(t, 30*time.Second, c.Backoff(10))
}
