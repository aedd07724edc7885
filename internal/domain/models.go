package domain

import "time"

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Persisted task status values. StoredStatusBlocked is reserved by the
// schema and never written.
const (
	StoredStatusReady   = "ready"
	StoredStatusError   = "error"
	StoredStatusBlocked = "blocked"
)

// StoredStatus maps an API status onto the persisted vocabulary.
func (s Status) StoredStatus() string {
	if s == StatusError {
		return StoredStatusError
	}
	return StoredStatusReady
}

// StatusFromStored is the inverse of StoredStatus.
func StatusFromStored(v string) Status {
	if v == StoredStatusError {
		return StatusError
	}
	return StatusOK
}

// RawTask is one record as produced by the extractor, before validation.
type RawTask map[string]any

type Task struct {
	ID           string   `json:"id" yaml:"id"`
	Description  string   `json:"description" yaml:"description"`
	Priority     Priority `json:"priority" yaml:"priority"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
	Status       Status   `json:"status" yaml:"status"`
}

type TranscriptRecord struct {
	Hash      string    `json:"hash"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Tasks     []Task    `json:"tasks"`
}

type TranscriptResult struct {
	Hash      string    `json:"hash" yaml:"hash"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	Tasks     []Task    `json:"tasks" yaml:"tasks"`
}

type TranscriptSummary struct {
	Hash       string    `json:"hash" yaml:"hash"`
	CreatedAt  time.Time `json:"createdAt" yaml:"createdAt"`
	TaskCount  int       `json:"taskCount" yaml:"taskCount"`
	CycleCount int       `json:"cycleCount" yaml:"cycleCount"`
}

// Result projects a stored record onto the response shape.
func (r TranscriptRecord) Result() TranscriptResult {
	return TranscriptResult{
		Hash:      r.Hash,
		CreatedAt: r.CreatedAt,
		Tasks:     CloneTasks(r.Tasks),
	}
}

// Summary counts tasks and cycle participants.
func (r TranscriptRecord) Summary() TranscriptSummary {
	summary := TranscriptSummary{Hash: r.Hash, CreatedAt: r.CreatedAt, TaskCount: len(r.Tasks)}
	for _, t := range r.Tasks {
		if t.Status == StatusError {
			summary.CycleCount++
		}
	}
	return summary
}

// Clone returns a deep copy so callers can't alias cached task slices.
func (r TranscriptResult) Clone() TranscriptResult {
	r.Tasks = CloneTasks(r.Tasks)
	return r
}

func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return []Task{}
	}
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		t.Dependencies = append([]string{}, t.Dependencies...)
		out[i] = t
	}
	return out
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

type Job struct {
	ID        string            `json:"id"`
	Hash      string            `json:"hash"`
	Status    JobStatus         `json:"status"`
	Error     string            `json:"error,omitempty"`
	ErrorKind string            `json:"errorKind,omitempty"`
	Result    *TranscriptResult `json:"result,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}
