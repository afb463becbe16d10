package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/component-daktela/pkg/models"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	st := &RunState{
		Server:     "acme",
		StartedAt:  time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 1, 2, 10, 5, 0, 0, time.UTC),
		DateFrom:   "2024-01-01 00:00:00",
		Tables: []models.TableStats{
			{Endpoint: "tickets", Table: "acme_tickets", Records: 10, Rows: 12, Pages: 2},
		},
		TotalRows: 12,
		Columns:   map[string][]string{"acme_tickets": {"id", "name", "title"}},
	}
	require.NoError(t, Save(path, st))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, st.Server, loaded.Server)
	assert.True(t, st.StartedAt.Equal(loaded.StartedAt))
	assert.Equal(t, st.Tables, loaded.Tables)
	assert.Equal(t, 12, loaded.TotalRows)
	assert.Equal(t, st.Columns, loaded.Columns)
}

func TestLoadMissingFile(t *testing.T) {
	st, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
