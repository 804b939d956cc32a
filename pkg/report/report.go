// Package report owns the run's outputs: the JSON debug log with one record
// per input username, and the plain-text file of male usernames. The debug
// log doubles as the resume state for interrupted runs.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	errs "igfilter/pkg/errors"
	"igfilter/pkg/logger"
)

// Final statuses a username can end a run with
const (
	StatusPrefiltered     = "prefiltered_out"
	StatusSkippedVerified = "skipped_verified"
	StatusClassified      = "classified"
	StatusFetchFailed     = "fetch_failed"
	StatusClassifyFailed  = "classify_failed"
)

// Record documents the outcome for one username
type Record struct {
	Username  string    `json:"username"`
	Status    string    `json:"status"`
	Verified  bool      `json:"verified,omitempty"`
	Label     string    `json:"label,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Account   string    `json:"account,omitempty"`
	Duration  float64   `json:"duration_seconds,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunStats summarizes the run in progress, updated on every flush
type RunStats struct {
	TotalUsernames  int     `json:"total_usernames"`
	PrefilteredOut  int     `json:"prefiltered_out"`
	VerifiedSkipped int     `json:"verified_skipped"`
	Processed       int     `json:"processed"`
	MaleFound       int     `json:"male_found"`
	FemaleFound     int     `json:"female_found"`
	UnknownFound    int     `json:"unknown_found"`
	Failed          int     `json:"failed"`
	ProcessingTime  float64 `json:"processing_time_seconds"`
}

// cumulative aggregates across all runs recorded in the file
type cumulative struct {
	TotalResults int `json:"total_results"`
	TotalMale    int `json:"total_male"`
}

type summary struct {
	LastRun    RunStats   `json:"last_run"`
	Cumulative cumulative `json:"cumulative"`
}

type debugFile struct {
	Summary summary  `json:"summary"`
	Results []Record `json:"results"`
}

// Reporter accumulates records between flushes. Records from earlier runs
// are kept so the file stays append-only across runs. Safe for concurrent
// Add calls; Flush is driven by the pipeline between batches.
type Reporter struct {
	debugPath string
	malePath  string
	logger    logger.Logger

	mu      sync.Mutex
	results []Record
	pending []Record
}

// NewReporter creates a reporter, loading any existing debug log. A corrupt
// file is discarded with a warning rather than blocking the run.
func NewReporter(debugPath, malePath string) (*Reporter, error) {
	for _, path := range []string{debugPath, malePath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, errs.Newf(errs.ErrorTypeIO, "failed to create output directory: %v", err)
			}
		}
	}

	r := &Reporter{
		debugPath: debugPath,
		malePath:  malePath,
		logger:    logger.GetLogger(),
	}

	data, err := os.ReadFile(debugPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errs.Newf(errs.ErrorTypeIO, "failed to read debug log: %v", err)
		}
		return r, nil
	}

	var existing debugFile
	if err := json.Unmarshal(data, &existing); err != nil {
		r.logger.WarnWithFields("existing debug log is corrupt, starting fresh", map[string]interface{}{
			"path":  debugPath,
			"error": err.Error(),
		})
		return r, nil
	}

	r.results = existing.Results
	return r, nil
}

// PreviouslyProcessed returns usernames whose recorded outcome should not
// be redone. Fetch and classify failures are retried on a re-run.
func (r *Reporter) PreviouslyProcessed() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	processed := make(map[string]bool, len(r.results))
	for _, record := range r.results {
		switch record.Status {
		case StatusFetchFailed, StatusClassifyFailed:
			continue
		}
		if record.Username != "" {
			processed[record.Username] = true
		}
	}
	return processed
}

// Add buffers a record for the next flush
func (r *Reporter) Add(record Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	r.pending = append(r.pending, record)
	r.mu.Unlock()
}

// Pending returns the number of records waiting for a flush
func (r *Reporter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Results returns a copy of all flushed records
func (r *Reporter) Results() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.results))
	copy(out, r.results)
	return out
}

// Flush commits pending records: the debug log is rewritten atomically, then
// the male usernames file is rebuilt from the committed records. The log
// commits first so the male file is always derived from persisted records;
// a flush that dies between the two writes is repaired by the next one. A
// failure here means output storage is unusable and aborts the run.
func (r *Reporter) Flush(stats RunStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := append(r.results, r.pending...)

	var males []string
	for _, record := range results {
		if record.Status == StatusClassified && record.Label == "male" {
			males = append(males, record.Username)
		}
	}

	file := debugFile{
		Summary: summary{
			LastRun: stats,
			Cumulative: cumulative{
				TotalResults: len(results),
				TotalMale:    len(males),
			},
		},
		Results: results,
	}

	if err := r.writeDebugLog(&file); err != nil {
		return err
	}

	if err := r.writeMales(males); err != nil {
		return err
	}

	newRecords := len(r.pending)
	r.results = results
	r.pending = nil

	r.logger.DebugWithFields("outputs flushed", map[string]interface{}{
		"records": len(results),
		"new":     newRecords,
		"males":   len(males),
	})

	return nil
}

// writeMales rewrites the male output file from the full record set. The
// file is never created before the first male is found.
func (r *Reporter) writeMales(usernames []string) error {
	if len(usernames) == 0 {
		return nil
	}

	var b strings.Builder
	for _, username := range usernames {
		fmt.Fprintln(&b, username)
	}

	tempPath := r.malePath + ".tmp"
	if err := os.WriteFile(tempPath, []byte(b.String()), 0644); err != nil {
		return errs.Newf(errs.ErrorTypeIO, "failed to write male output file: %v", err)
	}
	if err := os.Rename(tempPath, r.malePath); err != nil {
		os.Remove(tempPath)
		return errs.Newf(errs.ErrorTypeIO, "failed to replace male output file: %v", err)
	}

	return nil
}

func (r *Reporter) writeDebugLog(file *debugFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errs.Newf(errs.ErrorTypeIO, "failed to encode debug log: %v", err)
	}

	tempPath := r.debugPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return errs.Newf(errs.ErrorTypeIO, "failed to write debug log: %v", err)
	}
	if err := os.Rename(tempPath, r.debugPath); err != nil {
		os.Remove(tempPath)
		return errs.Newf(errs.ErrorTypeIO, "failed to replace debug log: %v", err)
	}

	return nil
}
