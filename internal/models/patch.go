package models

import "time"

// PatchRecord is one applied directive patch, persisted when history is enabled
type PatchRecord struct {
	ID        string    `json:"id" badgerhold:"key"`
	RunID     string    `json:"run_id" badgerhold:"index"` // Correlation ID of the fixlimit run
	Iteration int       `json:"iteration"`                 // 1-based build attempt that triggered the patch
	Command   string    `json:"command"`                   // Build invocation as logged
	Target    string    `json:"target"`                    // Patched file path
	Previous  string    `json:"previous"`                  // Directive value before patching (empty if none)
	Limit     string    `json:"limit"`                     // Value written
	Action    string    `json:"action"`                    // replaced, inserted, unchanged, skipped
	PatchedAt time.Time `json:"patched_at"`
}
