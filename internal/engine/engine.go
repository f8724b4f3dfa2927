package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"offer_booster/internal/logbus"
	"offer_booster/internal/model"
	"offer_booster/internal/notify"
)

type Options struct {
	Processor    *Processor
	Accounts     []model.Account
	Notifier     notify.Notifier
	Bus          *logbus.Bus
	TriggerTime  string
	PollInterval time.Duration
}

// Engine is the daily scheduler. All runs happen on the goroutine that calls
// Run (or RunAll); other goroutines only read state and queue run requests.
type Engine struct {
	processor *Processor
	accounts  []model.Account
	notifier  notify.Notifier
	bus       *logbus.Bus
	rawTime   string
	poll      time.Duration
	now       func() time.Time

	runNow chan struct{}

	mu          sync.Mutex
	phase       model.SchedulerPhase
	trigger     TriggerTime
	validated   bool
	next        time.Time
	lastRun     time.Time
	runs        int
	lastResults []model.ResultState
}

func New(opts Options) *Engine {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}
	n := opts.Notifier
	if n == nil {
		n = notify.Noop{}
	}
	return &Engine{
		processor: opts.Processor,
		accounts:  append([]model.Account(nil), opts.Accounts...),
		notifier:  n,
		bus:       opts.Bus,
		rawTime:   opts.TriggerTime,
		poll:      poll,
		now:       time.Now,
		runNow:    make(chan struct{}, 1),
		phase:     model.PhaseValidating,
	}
}

// Validate checks the trigger time once, before anything is scheduled. On
// failure the engine is aborted and an error notification is published.
func (e *Engine) Validate(ctx context.Context) error {
	t, err := ParseTriggerTime(e.rawTime)
	if err == nil && len(e.accounts) == 0 {
		err = fmt.Errorf("%w: no accounts configured", model.ErrConfigInvalid)
	}
	if err != nil {
		e.mu.Lock()
		e.phase = model.PhaseAborted
		e.publishStateLocked()
		e.mu.Unlock()

		e.log("error", "startup validation failed", map[string]any{"error": err.Error()})
		e.notifier.Publish(ctx, "Startup aborted: "+err.Error(), model.LevelError)
		return err
	}

	e.mu.Lock()
	e.trigger = t
	e.validated = true
	e.mu.Unlock()
	return nil
}

// Run validates, performs the startup run and then polls until ctx is done.
// The only error it returns is a validation failure.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Validate(ctx); err != nil {
		return err
	}
	e.Start(ctx)

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log("info", "scheduler stopped", nil)
			return nil
		case <-ticker.C:
			e.Tick(ctx, e.now())
		}
	}
}

// Start registers the daily trigger and runs every account once right away.
// The catch-up run does not move the registered trigger.
func (e *Engine) Start(ctx context.Context) {
	now := e.now()

	e.mu.Lock()
	e.next = e.trigger.NextRun(now)
	trigger, next := e.trigger, e.next
	e.mu.Unlock()

	names := make([]string, 0, len(e.accounts))
	for _, a := range e.accounts {
		names = append(names, a.Name)
		if missing := a.MissingFields(); len(missing) > 0 {
			e.log("warn", "account has missing credentials", map[string]any{"account": a.Name, "missing": missing})
		}
	}
	e.log("info", "scheduler started", map[string]any{
		"runTime":  trigger.String(),
		"nextRun":  next.Format(time.RFC3339),
		"accounts": names,
		"poll":     e.poll.String(),
	})

	e.RunAll(ctx)
}

// Tick runs all accounts when a run was requested or the trigger has passed,
// then schedules the next trigger from the completion time. It reports
// whether a run happened.
func (e *Engine) Tick(ctx context.Context, now time.Time) bool {
	requested := false
	select {
	case <-e.runNow:
		requested = true
	default:
	}

	e.mu.Lock()
	due := !e.next.IsZero() && !now.Before(e.next)
	e.mu.Unlock()
	if !requested && !due {
		return false
	}

	e.log("info", "run triggered", map[string]any{"requested": requested, "scheduled": due})
	e.RunAll(ctx)

	if due {
		e.mu.Lock()
		e.next = e.trigger.NextRun(e.now())
		next := e.next
		e.publishStateLocked()
		e.mu.Unlock()
		e.log("info", "next run scheduled", map[string]any{"nextRun": next.Format(time.RFC3339)})
	}
	return true
}

// RequestRun queues one out-of-schedule run, picked up on the next poll.
// It returns false when a request is already queued.
func (e *Engine) RequestRun() bool {
	select {
	case e.runNow <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunAll processes every account in order and publishes one notification
// per account.
func (e *Engine) RunAll(ctx context.Context) []model.RunResult {
	e.mu.Lock()
	e.phase = model.PhaseRunning
	e.publishStateLocked()
	e.mu.Unlock()

	results := make([]model.RunResult, 0, len(e.accounts))
	states := make([]model.ResultState, 0, len(e.accounts))
	for _, acc := range e.accounts {
		res := e.processor.Process(ctx, acc)
		msg, level := res.Message(), res.Level()
		e.log(logLevelFor(level), msg, map[string]any{"runId": res.RunID})
		e.notifier.Publish(ctx, msg, level)

		results = append(results, res)
		states = append(states, model.ResultState{
			RunResult: res,
			Level:     level,
			Message:   msg,
			Error:     res.ErrorString(),
		})
	}

	e.mu.Lock()
	e.phase = model.PhaseIdle
	e.lastRun = e.now()
	e.runs++
	e.lastResults = states
	e.publishStateLocked()
	e.mu.Unlock()
	return results
}

func (e *Engine) State() model.SchedulerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() model.SchedulerState {
	st := model.SchedulerState{
		Phase:       e.phase,
		NextRunAt:   e.next,
		LastRunAt:   e.lastRun,
		Runs:        e.runs,
		LastResults: append([]model.ResultState(nil), e.lastResults...),
	}
	if e.validated {
		st.TriggerTime = e.trigger.String()
	} else {
		st.TriggerTime = e.rawTime
	}
	return st
}

func (e *Engine) publishStateLocked() {
	if e.bus != nil {
		e.bus.Publish("scheduler_state", e.stateLocked())
	}
}

func (e *Engine) log(level, msg string, fields map[string]any) {
	if e.bus != nil {
		e.bus.Log(level, msg, fields)
	}
}

func logLevelFor(l model.Level) string {
	switch l {
	case model.LevelError:
		return "error"
	case model.LevelWarning:
		return "warn"
	default:
		return "info"
	}
}
