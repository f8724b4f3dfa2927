package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offer_booster/internal/config"
	"offer_booster/internal/logbus"
	"offer_booster/internal/model"
)

type fakeToken struct {
	err      error
	timedOut bool
	done     chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTT struct {
	mqtt.Client

	mu           sync.Mutex
	connectErr   error
	connectSlow  bool
	publishErr   error
	topic        string
	qos          byte
	retained     bool
	payload      []byte
	disconnected bool
}

func (c *fakeMQTT) Connect() mqtt.Token {
	tok := newFakeToken(c.connectErr)
	tok.timedOut = c.connectSlow
	return tok
}

func (c *fakeMQTT) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = topic
	c.qos = qos
	c.retained = retained
	c.payload, _ = payload.([]byte)
	return newFakeToken(c.publishErr)
}

func (c *fakeMQTT) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func testBus() *logbus.Bus {
	return logbus.New(100, nil)
}

func errorLogs(bus *logbus.Bus) []logbus.LogData {
	var out []logbus.LogData
	for _, m := range bus.Snapshot() {
		if d, ok := m.Data.(logbus.LogData); ok && d.Level == "error" {
			out = append(out, d)
		}
	}
	return out
}

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{Host: "broker.local", Port: 1883, Topic: "home/points", TimeoutMs: 200}
}

func TestMQTTNotifier_PublishesPayload(t *testing.T) {
	fake := &fakeMQTT{}
	var gotOpts *mqtt.ClientOptions
	n := NewMQTTNotifier(testMQTTConfig(), "Loyalty Points", testBus())
	n.newClient = func(o *mqtt.ClientOptions) mqtt.Client {
		gotOpts = o
		return fake
	}

	n.Publish(context.Background(), "Main: boosted 2/3", model.LevelWarning)

	require.NotNil(t, gotOpts)
	require.Len(t, gotOpts.Servers, 1)
	assert.Equal(t, "tcp://broker.local:1883", gotOpts.Servers[0].String())
	assert.False(t, gotOpts.AutoReconnect)

	assert.Equal(t, "home/points", fake.topic)
	assert.True(t, fake.disconnected)
	var p Payload
	require.NoError(t, json.Unmarshal(fake.payload, &p))
	assert.Equal(t, Payload{Title: "Loyalty Points", Message: "Main: boosted 2/3", Level: model.LevelWarning}, p)
}

func TestMQTTNotifier_ConnectFailureIsLoggedNotRaised(t *testing.T) {
	bus := testBus()
	fake := &fakeMQTT{connectErr: errors.New("connection refused")}
	n := NewMQTTNotifier(testMQTTConfig(), "t", bus)
	n.newClient = func(*mqtt.ClientOptions) mqtt.Client { return fake }

	assert.NotPanics(t, func() {
		n.Publish(context.Background(), "hello", model.LevelInfo)
	})
	assert.Empty(t, fake.topic)

	logs := errorLogs(bus)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Fields["error"], "connection refused")
	assert.Equal(t, "mqtt", logs[0].Fields["sink"])
}

func TestMQTTNotifier_ConnectTimeoutDisconnects(t *testing.T) {
	bus := testBus()
	fake := &fakeMQTT{connectSlow: true}
	n := NewMQTTNotifier(testMQTTConfig(), "t", bus)
	n.newClient = func(*mqtt.ClientOptions) mqtt.Client { return fake }

	n.Publish(context.Background(), "hello", model.LevelInfo)
	assert.True(t, fake.disconnected)
	assert.Empty(t, fake.topic)

	logs := errorLogs(bus)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Fields["error"], "timed out")
}

func TestMQTTNotifier_PublishFailureDisconnects(t *testing.T) {
	bus := testBus()
	fake := &fakeMQTT{publishErr: errors.New("not authorized")}
	n := NewMQTTNotifier(testMQTTConfig(), "t", bus)
	n.newClient = func(*mqtt.ClientOptions) mqtt.Client { return fake }

	n.Publish(context.Background(), "hello", model.LevelInfo)
	assert.True(t, fake.disconnected)
	assert.Len(t, errorLogs(bus), 1)
}

func TestMQTTNotifier_UnreachableBrokerReturns(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	bus := testBus()
	cfg := config.MQTTConfig{Host: "127.0.0.1", Port: port, Topic: "x", TimeoutMs: 300}
	n := NewMQTTNotifier(cfg, "t", bus)

	start := time.Now()
	n.Publish(context.Background(), "hello", model.LevelError)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.NotEmpty(t, errorLogs(bus))
}

func TestNATSNotifier_UnreachableServerIsLogged(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	bus := testBus()
	n := NewNATSNotifier(config.NATSConfig{URL: "nats://" + addr, Subject: "points", TimeoutMs: 300}, "t", bus)
	assert.NotPanics(t, func() {
		n.Publish(context.Background(), "hello", model.LevelInfo)
	})
	logs := errorLogs(bus)
	require.Len(t, logs, 1)
	assert.Equal(t, "nats", logs[0].Fields["sink"])
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingNotifier) Publish(_ context.Context, message string, level model.Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, string(level)+":"+message)
}

type panickingNotifier struct{}

func (panickingNotifier) Publish(context.Context, string, model.Level) { panic("boom") }

func TestMulti_FansOutAndSurvivesPanics(t *testing.T) {
	bus := testBus()
	a, b := &recordingNotifier{}, &recordingNotifier{}
	m := NewMulti(bus, a, nil, panickingNotifier{}, b)
	assert.Equal(t, 3, m.Len())

	m.Publish(context.Background(), "msg", model.LevelInfo)

	assert.Equal(t, []string{"info:msg"}, a.calls)
	assert.Equal(t, []string{"info:msg"}, b.calls)
	logs := errorLogs(bus)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Fields["error"], "boom")
}

func TestNoop(t *testing.T) {
	assert.NotPanics(t, func() { Noop{}.Publish(context.Background(), "x", model.LevelInfo) })
}

type sentBatch struct {
	subject string
	items   []Notification
}

func testEmailSettings() model.EmailSettings {
	return model.EmailSettings{Enabled: true, Email: "me@example.com", AuthCode: "secret"}
}

func TestEmailNotifier_BatchesWithinWindow(t *testing.T) {
	sent := make(chan sentBatch, 4)
	n := newEmailNotifier(testEmailSettings(), "Points", 50*time.Millisecond, testBus(),
		func(_ context.Context, _ model.EmailSettings, subject string, items []Notification) error {
			sent <- sentBatch{subject: subject, items: items}
			return nil
		})
	t.Cleanup(func() { _ = n.Close(context.Background()) })

	n.Publish(context.Background(), "A: boosted 1/1", model.LevelInfo)
	n.Publish(context.Background(), "B: ERROR – boom", model.LevelError)

	select {
	case b := <-sent:
		require.Len(t, b.items, 2)
		assert.Equal(t, "Points [error] (2 updates)", b.subject)
	case <-time.After(2 * time.Second):
		t.Fatal("no email sent")
	}
}

func TestEmailNotifier_CloseFlushesPending(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	n := newEmailNotifier(testEmailSettings(), "Points", time.Hour, testBus(),
		func(_ context.Context, _ model.EmailSettings, _ string, items []Notification) error {
			mu.Lock()
			defer mu.Unlock()
			count += len(items)
			return nil
		})

	n.Publish(context.Background(), "one", model.LevelInfo)
	require.NoError(t, n.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestEmailNotifier_InvalidSettingsLogged(t *testing.T) {
	bus := testBus()
	called := false
	n := newEmailNotifier(model.EmailSettings{Enabled: true, Email: "nope"}, "Points", 0, bus,
		func(context.Context, model.EmailSettings, string, []Notification) error {
			called = true
			return nil
		})
	n.Publish(context.Background(), "x", model.LevelInfo)
	require.NoError(t, n.Close(context.Background()))

	assert.False(t, called)
	assert.NotEmpty(t, errorLogs(bus))
}

func TestSMTPConfig(t *testing.T) {
	host, port, ssl, err := smtpConfig(model.EmailSettings{Email: "a@gmail.com"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.gmail.com", host)
	assert.Equal(t, 587, port)
	assert.False(t, ssl)

	host, port, ssl, err = smtpConfig(model.EmailSettings{Email: "a@example.org", SMTPHost: "mail.local", SMTPPort: 465})
	require.NoError(t, err)
	assert.Equal(t, "mail.local", host)
	assert.Equal(t, 465, port)
	assert.True(t, ssl)

	host, _, _, err = smtpConfigForEmail("a@corp.example")
	require.NoError(t, err)
	assert.Equal(t, "smtp.corp.example", host)

	_, _, _, err = smtpConfigForEmail("broken")
	assert.Error(t, err)
}

func TestBuildSummaryEmailBody(t *testing.T) {
	items := []Notification{
		{At: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC), Message: "A: boosted 1/2", Level: model.LevelWarning},
	}
	html, text, err := buildSummaryEmailBody("Points [warning]", items)
	require.NoError(t, err)
	assert.Contains(t, html, "A: boosted 1/2")
	assert.Contains(t, html, "#d35400")
	assert.True(t, strings.HasPrefix(text, "Points [warning]"))
	assert.Contains(t, text, "2026-01-02 09:00:00 [warning] A: boosted 1/2")
}
