package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one invocation of the grazing pipeline (or a single stage command).
type Run struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	Config    string     `json:"config,omitempty"` // config file the run was started with
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Stages  []StageResult `json:"stages"`
	Patches int           `json:"patches"`
	AreaHa  float64       `json:"area_ha"`
	Error   string        `json:"error,omitempty"`
}

// Stage is one step of a run as recorded in the ledger.
type Stage struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    StageStatus  `json:"status"`
	Result    *StageResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// StageStatus represents the current state of a pipeline stage.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// StageResult holds the outcome of a pipeline stage.
type StageResult struct {
	Name        string      `json:"name"`
	Status      StageStatus `json:"status"`
	Duration    int64       `json:"duration_ms"`
	Done        int         `json:"done,omitempty"`
	AlreadyDone int         `json:"already_done,omitempty"`
	Skipped     []string    `json:"skipped,omitempty"`
	Output      string      `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
}
