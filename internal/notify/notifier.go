package notify

import (
	"context"
	"fmt"
	"time"

	"offer_booster/internal/logbus"
	"offer_booster/internal/model"
)

// Payload is the JSON body published to message buses.
type Payload struct {
	Title   string      `json:"title"`
	Message string      `json:"message"`
	Level   model.Level `json:"level"`
}

type Notification struct {
	At      time.Time
	Title   string
	Message string
	Level   model.Level
}

// Notifier is fire-and-forget: implementations log delivery failures and
// never report them to the caller.
type Notifier interface {
	Publish(ctx context.Context, message string, level model.Level)
}

type Noop struct{}

func (Noop) Publish(context.Context, string, model.Level) {}

// Multi fans a notification out to every sink in order.
type Multi struct {
	sinks []Notifier
	bus   *logbus.Bus
}

func NewMulti(bus *logbus.Bus, sinks ...Notifier) *Multi {
	out := make([]Notifier, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Multi{sinks: out, bus: bus}
}

func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Publish(ctx context.Context, message string, level model.Level) {
	for _, s := range m.sinks {
		m.publishOne(ctx, s, message, level)
	}
}

func (m *Multi) publishOne(ctx context.Context, s Notifier, message string, level model.Level) {
	defer func() {
		if r := recover(); r != nil {
			logFailure(m.bus, fmt.Sprintf("%T", s), fmt.Errorf("%w: panic: %v", model.ErrNotifyFailed, r))
		}
	}()
	s.Publish(ctx, message, level)
}

func logFailure(bus *logbus.Bus, sink string, err error) {
	if bus == nil {
		return
	}
	bus.Log("error", "notification failed", map[string]any{
		"sink":  sink,
		"error": err.Error(),
	})
}
