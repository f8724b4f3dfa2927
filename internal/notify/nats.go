package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"offer_booster/internal/config"
	"offer_booster/internal/logbus"
	"offer_booster/internal/model"
)

type NATSNotifier struct {
	cfg   config.NATSConfig
	title string
	bus   *logbus.Bus
}

func NewNATSNotifier(cfg config.NATSConfig, title string, bus *logbus.Bus) *NATSNotifier {
	return &NATSNotifier{cfg: cfg, title: title, bus: bus}
}

func (n *NATSNotifier) Publish(ctx context.Context, message string, level model.Level) {
	if err := n.send(ctx, Payload{Title: n.title, Message: message, Level: level}); err != nil {
		logFailure(n.bus, "nats", err)
		return
	}
	if n.bus != nil {
		n.bus.Log("debug", "nats notification sent", map[string]any{"subject": n.cfg.Subject, "level": level})
	}
}

func (n *NATSNotifier) send(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrNotifyFailed, err)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", model.ErrNotifyFailed, err)
	}

	nc, err := nats.Connect(n.cfg.URL,
		nats.Name("offer-booster"),
		nats.Timeout(n.cfg.Timeout()),
		nats.NoReconnect(),
	)
	if err != nil {
		return fmt.Errorf("%w: connect %s: %v", model.ErrNotifyFailed, n.cfg.URL, err)
	}
	defer nc.Close()

	if err := nc.Publish(n.cfg.Subject, body); err != nil {
		return fmt.Errorf("%w: publish %s: %v", model.ErrNotifyFailed, n.cfg.Subject, err)
	}
	if err := nc.FlushTimeout(n.cfg.Timeout()); err != nil {
		return fmt.Errorf("%w: flush %s: %v", model.ErrNotifyFailed, n.cfg.Subject, err)
	}
	return nil
}
