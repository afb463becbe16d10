// Package state persists a JSON summary of each extraction run: the window
// used, per-table statistics and invalid id counts. Subsequent runs can
// read the previous state to resume an incremental window.
package state

import (
	"os"
	"path/filepath"
	"time"

	"github.com/keboola/component-daktela/pkg/errors"
	jsonpool "github.com/keboola/component-daktela/pkg/json"
	"github.com/keboola/component-daktela/pkg/models"
)

// RunState captures the outcome of one extraction run.
type RunState struct {
	Server      string              `json:"server"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	DateFrom    string              `json:"date_from,omitempty"`
	DateTo      string              `json:"date_to,omitempty"`
	Tables      []models.TableStats `json:"tables"`
	TotalRows   int                 `json:"total_rows"`
	TotalErrors int                 `json:"total_errors"`
	// Columns records each table's column order so subsequent runs write
	// identical headers
	Columns map[string][]string `json:"columns,omitempty"`
}

// Load reads a run state file. A missing file yields a nil state, not an
// error, so first runs need no special casing.
func Load(path string) (*RunState, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read state file")
	}

	var st RunState
	if err := jsonpool.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to parse state file")
	}
	return &st, nil
}

// Save writes the run state, creating parent directories as needed.
func Save(path string, st *RunState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create state directory")
	}

	data, err := jsonpool.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to marshal state")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write state file")
	}
	return nil
}
