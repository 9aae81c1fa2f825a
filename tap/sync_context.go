package tap

import (
	"fmt"
	"time"
)

// SyncContext holds the wiring shared by every part of one run.
// It is immutable after construction.
type SyncContext struct {
	Config Config
	// RecordRequests stores every API exchange under RecordingDir, for
	// building test fixtures.
	RecordRequests bool
	RecordingDir   string
	RunID          string
	StartedAt      time.Time
	Metrics        *Metrics
}

func NewSyncContext(cfg Config, recordRequests bool) *SyncContext {
	started := time.Now().UTC()
	return &SyncContext{
		Config:         cfg,
		RecordRequests: recordRequests,
		RecordingDir:   fmt.Sprintf("testdata/.requests/%d", cfg.AccountID),
		RunID:          started.Format("20060102T150405Z"),
		StartedAt:      started,
		Metrics:        NewMetrics(),
	}
}

// RootContext is the StreamContext every root stream starts from.
func (s *SyncContext) RootContext() StreamContext {
	return NewStreamContext(map[string]any{"account_id": s.Config.AccountID})
}
