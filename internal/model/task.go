package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type BoostOutcomeKind string

const (
	BoostOutcomeBoosted  BoostOutcomeKind = "boosted"
	BoostOutcomeRejected BoostOutcomeKind = "rejected"
	BoostOutcomeFailed   BoostOutcomeKind = "failed"
)

type BoostOutcome struct {
	OfferID string           `json:"offerId"`
	Kind    BoostOutcomeKind `json:"kind"`
	Error   string           `json:"error,omitempty"`
}

// RunResult summarises one account's run. Boosted never exceeds Pending.
type RunResult struct {
	RunID       string         `json:"runId"`
	AccountName string         `json:"accountName"`
	Boosted     int            `json:"boosted"`
	Pending     int            `json:"pending"`
	Outcomes    []BoostOutcome `json:"outcomes,omitempty"`
	Err         error          `json:"-"`
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  time.Time      `json:"finishedAt"`
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func (r RunResult) Level() Level {
	switch {
	case r.Err != nil:
		return LevelError
	case r.Boosted < r.Pending:
		return LevelWarning
	default:
		return LevelInfo
	}
}

func (r RunResult) Message() string {
	name := r.AccountName
	if strings.TrimSpace(name) == "" {
		name = "Account"
	}
	switch {
	case errors.Is(r.Err, ErrConfigInvalid):
		return fmt.Sprintf("%s: %v – skipped", name, r.Err)
	case r.Err != nil:
		return fmt.Sprintf("%s: ERROR – %v", name, r.Err)
	case r.Pending == 0:
		return fmt.Sprintf("%s: nothing to boost", name)
	default:
		return fmt.Sprintf("%s: boosted %d/%d", name, r.Boosted, r.Pending)
	}
}

func (r RunResult) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

type SchedulerPhase string

const (
	PhaseValidating SchedulerPhase = "validating"
	PhaseIdle       SchedulerPhase = "idle"
	PhaseRunning    SchedulerPhase = "running"
	PhaseAborted    SchedulerPhase = "aborted"
)

type ResultState struct {
	RunResult
	Level   Level  `json:"level"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type SchedulerState struct {
	Phase       SchedulerPhase `json:"phase"`
	TriggerTime string         `json:"triggerTime"`
	NextRunAt   time.Time      `json:"nextRunAt"`
	LastRunAt   time.Time      `json:"lastRunAt,omitempty"`
	Runs        int            `json:"runs"`
	LastResults []ResultState  `json:"lastResults"`
}
