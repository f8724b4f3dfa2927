package notify

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"offer_booster/internal/config"
	"offer_booster/internal/logbus"
	"offer_booster/internal/model"
)

// MQTTNotifier opens a short-lived broker connection per message, publishes
// the payload and disconnects.
type MQTTNotifier struct {
	cfg   config.MQTTConfig
	title string
	bus   *logbus.Bus

	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewMQTTNotifier(cfg config.MQTTConfig, title string, bus *logbus.Bus) *MQTTNotifier {
	return &MQTTNotifier{
		cfg:       cfg,
		title:     title,
		bus:       bus,
		newClient: mqtt.NewClient,
	}
}

func (n *MQTTNotifier) Publish(ctx context.Context, message string, level model.Level) {
	if err := n.send(ctx, Payload{Title: n.title, Message: message, Level: level}); err != nil {
		logFailure(n.bus, "mqtt", err)
		return
	}
	if n.bus != nil {
		n.bus.Log("debug", "mqtt notification sent", map[string]any{"topic": n.cfg.Topic, "level": level})
	}
}

func (n *MQTTNotifier) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(n.cfg.Broker()).
		SetClientID("offer-booster-" + uuid.NewString()[:8]).
		SetConnectTimeout(n.cfg.Timeout()).
		SetKeepAlive(n.cfg.KeepAlive()).
		SetAutoReconnect(false).
		SetConnectRetry(false)
	if n.cfg.Username != "" {
		opts.SetUsername(n.cfg.Username)
		opts.SetPassword(n.cfg.Password)
	}
	return opts
}

func (n *MQTTNotifier) send(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrNotifyFailed, err)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", model.ErrNotifyFailed, err)
	}

	timeout := n.cfg.Timeout()
	client := n.newClient(n.clientOptions())

	tok := client.Connect()
	if !tok.WaitTimeout(timeout) {
		// Stop the pending attempt so a late connect does not linger.
		client.Disconnect(0)
		return fmt.Errorf("%w: connect %s: timed out", model.ErrNotifyFailed, n.cfg.Broker())
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: connect %s: %v", model.ErrNotifyFailed, n.cfg.Broker(), err)
	}
	defer client.Disconnect(250)

	pub := client.Publish(n.cfg.Topic, byte(n.cfg.QoS), n.cfg.Retained, body)
	if !pub.WaitTimeout(timeout) {
		return fmt.Errorf("%w: publish %s: timed out", model.ErrNotifyFailed, n.cfg.Topic)
	}
	if err := pub.Error(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", model.ErrNotifyFailed, n.cfg.Topic, err)
	}
	return nil
}
