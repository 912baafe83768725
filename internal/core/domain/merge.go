package domain

import "time"

// =============================================================================
// Merge Result
// =============================================================================

// MergeSummary holds the counters of one merge pass.
type MergeSummary struct {
	FilesProcessed  int `json:"filesProcessed"`
	FilesFromBase   int `json:"filesFromBase"`
	FilesFromCustom int `json:"filesFromCustom"`
	FilesOverridden int `json:"filesOverridden"`
	FilesFailed     int `json:"filesFailed"`
}

// Balanced reports whether every processed file was either placed in RUNTIME
// or recorded as failed: FilesFromBase + FilesFromCustom == FilesProcessed - FilesFailed.
func (s MergeSummary) Balanced() bool {
	return s.FilesFromBase+s.FilesFromCustom == s.FilesProcessed-s.FilesFailed
}

// FailedFile records a file that did not make it into RUNTIME.
type FailedFile struct {
	FileName      string `json:"fileName"`
	Reason        string `json:"reason"`
	MovedToRework bool   `json:"movedToRework"`
}

// MergeResult is the aggregate outcome of one merge pass.
//
// Per-file validation failures never flip Success to false; only a
// structural failure (RUNTIME or REWORK roots cannot be prepared) does.
type MergeResult struct {
	RunID       string           `json:"runId"`
	Tenant      string           `json:"tenant"`
	BaseVersion string           `json:"baseVersion,omitempty"`
	Success     bool             `json:"success"`
	Summary     MergeSummary     `json:"summary"`
	FailedFiles []FailedFile     `json:"failedFiles"`
	Warnings    []string         `json:"warnings"`
	RuntimePath string           `json:"runtimePath"`
	Snapshot    *Snapshot        `json:"snapshot,omitempty"`
	Retention   *RetentionResult `json:"retention,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	FinishedAt  time.Time        `json:"finishedAt"`
}

// NewMergeResult creates an empty, successful result for a tenant.
func NewMergeResult(runID, tenant string, startedAt time.Time) *MergeResult {
	return &MergeResult{
		RunID:       runID,
		Tenant:      tenant,
		Success:     true,
		FailedFiles: []FailedFile{},
		Warnings:    []string{},
		StartedAt:   startedAt,
	}
}

// Warn appends a warning.
func (r *MergeResult) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Fail marks the pass as structurally failed and records why.
func (r *MergeResult) Fail(msg string) {
	r.Success = false
	r.Warn(msg)
}

// =============================================================================
// Quarantine
// =============================================================================

// ErrorReport is written next to every quarantined file as
// "{relativePath}.error.json".
type ErrorReport struct {
	FileName     string    `json:"fileName"`
	OriginalPath string    `json:"originalPath"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
}

// ReworkFile is one entry of a tenant's REWORK listing.
type ReworkFile struct {
	FileName  string    `json:"fileName"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
