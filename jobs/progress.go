package jobs

import (
	"encoding/json"
	"os"

	"github.com/minios-linux/pomt/atomicfile"
)

// State is the lifecycle state of a job.
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateFailed   State = "failed"
	StateCanceled State = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed || s == StateCanceled
}

// Progress is the persisted progress record polled by clients.
type Progress struct {
	Total    int    `json:"total"`
	Done     int    `json:"done"`
	Error    bool   `json:"error"`
	Finished bool   `json:"finished"`
	State    State  `json:"state,omitempty"`
	Message  string `json:"message,omitempty"`
}

// DefaultProgress is reported for jobs without a readable record.
func DefaultProgress() Progress {
	return Progress{Total: 1, Done: 0}
}

// ProgressStore reads and writes progress records in a workspace. Each
// record has a single writer; replacement is atomic so readers never see a
// partial document.
type ProgressStore struct {
	ws Workspace
}

// NewProgressStore returns a store backed by ws.
func NewProgressStore(ws Workspace) *ProgressStore {
	return &ProgressStore{ws: ws}
}

// Read returns the record for id, or DefaultProgress when it is missing or
// malformed.
func (s *ProgressStore) Read(id string) Progress {
	if !ValidID(id) {
		return DefaultProgress()
	}
	data, err := os.ReadFile(s.ws.ProgressPath(id))
	if err != nil {
		return DefaultProgress()
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return DefaultProgress()
	}
	return p
}

// Write replaces the record for id.
func (s *ProgressStore) Write(id string, p Progress) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(s.ws.ProgressPath(id), data, 0o644)
}
