package orchestrator

import (
	"time"

	"adgenius/analysis"
	"adgenius/generator"
)

// State is a stage of a run.
type State string

const (
	StateAcquiringContent State = "acquiring_content"
	StateAnalyzing        State = "analyzing"
	StateAwaitingDocument State = "awaiting_document"
	StateBriefReady       State = "brief_ready"
	StateDrafting         State = "drafting"
	StateValidating       State = "validating"
	StateRepairing        State = "repairing"
	StateApproved         State = "approved"
	StateTerminal         State = "terminal"
)

// Status is the terminal classification of a run.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusAborted        Status = "aborted"
)

// Transition 记录一次状态迁移。
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Outcome is the only value a caller observes from a run. Draft is nil for aborted runs.
type Outcome struct {
	RunID       string             `json:"run_id"`
	Target      string             `json:"target"`
	Status      Status             `json:"status"`
	Draft       *generator.Draft   `json:"draft,omitempty"`
	Brief       *generator.Brief   `json:"brief,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Attempts    int                `json:"attempts"`
	Artifacts   []string           `json:"artifacts,omitempty"`
	Analysis    []analysis.Attempt `json:"-"`
	Backends    []string           `json:"backends,omitempty"`
	Transitions []Transition       `json:"transitions"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}

// Final reports whether the run reached the terminal state.
func (o *Outcome) Final() bool {
	n := len(o.Transitions)
	return n > 0 && o.Transitions[n-1].To == StateTerminal
}
