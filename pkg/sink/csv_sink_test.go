package sink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonpool "github.com/keboola/component-daktela/pkg/json"
	"github.com/keboola/component-daktela/pkg/models"
)

func newTestSink(t *testing.T, opts Options) *CSVSink {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	s, err := NewCSVSink(opts)
	require.NoError(t, err)
	return s
}

func readCSVFile(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriteRowsHeaderOrder(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Options{Dir: dir})

	rows := []models.Row{
		{"id": "1", "zeta": "z", "alpha": "a", "name": "tickets_1"},
	}
	require.NoError(t, s.WriteRows("acme_tickets", rows))
	require.NoError(t, s.Close())

	records := readCSVFile(t, filepath.Join(dir, "acme_tickets.csv"))
	require.Len(t, records, 2)
	assert.Equal(t, []string{"id", "alpha", "name", "zeta"}, records[0])
	assert.Equal(t, []string{"1", "a", "tickets_1", "z"}, records[1])
}

func TestWriteRowsMissingAndExtraColumns(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Options{Dir: dir})

	require.NoError(t, s.WriteRows("acme_tickets", []models.Row{
		{"id": "1", "name": "a", "title": "first"},
	}))
	// Later rows: "title" absent gives an empty cell, "surprise" is dropped
	require.NoError(t, s.WriteRows("acme_tickets", []models.Row{
		{"id": "2", "name": "b", "surprise": "x"},
	}))
	require.NoError(t, s.Close())

	records := readCSVFile(t, filepath.Join(dir, "acme_tickets.csv"))
	require.Len(t, records, 3)
	assert.Equal(t, []string{"id", "name", "title"}, records[0])
	assert.Equal(t, []string{"2", "b", ""}, records[2])
}

func TestWriteRowsValueRendering(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Options{Dir: dir})

	require.NoError(t, s.WriteRows("acme_tickets", []models.Row{
		{"id": "1", "count": 42, "ratio": 1.5, "open": true, "note": nil},
	}))
	require.NoError(t, s.Close())

	records := readCSVFile(t, filepath.Join(dir, "acme_tickets.csv"))
	assert.Equal(t, []string{"id", "count", "note", "open", "ratio"}, records[0])
	assert.Equal(t, []string{"1", "42", "", "true", "1.5"}, records[1])
}

func TestWriteRowsEmptyBatch(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Options{Dir: dir})

	require.NoError(t, s.WriteRows("acme_tickets", nil))
	require.NoError(t, s.Close())

	_, err := os.Stat(filepath.Join(dir, "acme_tickets.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestPresetColumnsWin(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Options{
		Dir:     dir,
		Columns: map[string][]string{"acme_tickets": {"id", "title", "name"}},
	})

	// First row's own column set must not override the preset order
	require.NoError(t, s.WriteRows("acme_tickets", []models.Row{
		{"id": "1", "name": "a", "title": "first", "extra": "dropped"},
	}))
	require.NoError(t, s.Close())

	records := readCSVFile(t, filepath.Join(dir, "acme_tickets.csv"))
	assert.Equal(t, []string{"id", "title", "name"}, records[0])
	assert.Equal(t, []string{"1", "first", "a"}, records[1])
}

func TestColumnsAccessor(t *testing.T) {
	s := newTestSink(t, Options{})

	require.NoError(t, s.WriteRows("acme_tickets", []models.Row{
		{"id": "1", "name": "a"},
	}))

	cols := s.Columns()
	assert.Equal(t, map[string][]string{"acme_tickets": {"id", "name"}}, cols)
}

func TestReadColumnValues(t *testing.T) {
	s := newTestSink(t, Options{})

	require.NoError(t, s.WriteRows("acme_activities", []models.Row{
		{"id": "1", "name": "act_1"},
		{"id": "2", "name": "act_2"},
	}))
	require.NoError(t, s.WriteRows("acme_activities", []models.Row{
		{"id": "3", "name": "act_3"},
	}))

	values, err := s.ReadColumnValues("acme_activities", "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, values)

	// Writes after a read-back still land in the file
	require.NoError(t, s.WriteRows("acme_activities", []models.Row{
		{"id": "4", "name": "act_4"},
	}))
	values, err = s.ReadColumnValues("acme_activities", "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4"}, values)
}

func TestReadColumnValuesUnknownTable(t *testing.T) {
	s := newTestSink(t, Options{})

	values, err := s.ReadColumnValues("acme_nothing", "id")
	require.NoError(t, err)
	assert.Nil(t, values)
}

func TestReadColumnValuesUnknownColumn(t *testing.T) {
	s := newTestSink(t, Options{})
	require.NoError(t, s.WriteRows("acme_tickets", []models.Row{{"id": "1"}}))

	_, err := s.ReadColumnValues("acme_tickets", "missing")
	require.Error(t, err)
}

func TestGzipRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Options{Dir: dir, Gzip: true})

	require.NoError(t, s.WriteRows("acme_tickets", []models.Row{
		{"id": "1", "name": "tickets_1"},
		{"id": "2", "name": "tickets_2"},
	}))

	// Read-back works on the still open, flushed gzip stream
	values, err := s.ReadColumnValues("acme_tickets", "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, values)

	require.NoError(t, s.Close())

	f, err := os.Open(filepath.Join(dir, "acme_tickets.csv.gz"))
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gr.Close()

	records, err := csv.NewReader(gr).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"id", "name"}, records[0])
}

func TestFinalizeTableWritesManifest(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Options{
		Dir:           dir,
		WriteManifest: true,
		Incremental:   true,
		PrimaryKeys:   map[string][]string{"acme_tickets": {"id"}},
	})

	require.NoError(t, s.WriteRows("acme_tickets", []models.Row{
		{"id": "1", "name": "tickets_1"},
	}))
	require.NoError(t, s.FinalizeTable("acme_tickets"))

	data, err := os.ReadFile(filepath.Join(dir, "acme_tickets.csv.manifest"))
	require.NoError(t, err)

	var manifest Manifest
	require.NoError(t, jsonpool.Unmarshal(data, &manifest))
	assert.Equal(t, []string{"id", "name"}, manifest.Columns)
	assert.Equal(t, []string{"id"}, manifest.PrimaryKey)
	assert.True(t, manifest.Incremental)
	assert.Equal(t, 1, manifest.Rows)
}

func TestFinalizeTableUnknownTable(t *testing.T) {
	s := newTestSink(t, Options{WriteManifest: true})
	require.NoError(t, s.FinalizeTable("acme_nothing"))
}

func TestFinalizeTableRejectsLaterWrites(t *testing.T) {
	s := newTestSink(t, Options{})

	require.NoError(t, s.WriteRows("acme_tickets", []models.Row{{"id": "1"}}))
	require.NoError(t, s.FinalizeTable("acme_tickets"))
	require.NoError(t, s.FinalizeTable("acme_tickets"))

	err := s.WriteRows("acme_tickets", []models.Row{{"id": "2"}})
	require.Error(t, err)
}

func TestCloseWithoutFinalizeSkipsManifest(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Options{Dir: dir, WriteManifest: true})

	require.NoError(t, s.WriteRows("acme_tickets", []models.Row{{"id": "1"}}))
	require.NoError(t, s.Close())

	// An aborted table must not look finished
	_, err := os.Stat(filepath.Join(dir, "acme_tickets.csv.manifest"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadColumnValuesAfterFinalizeTable(t *testing.T) {
	s := newTestSink(t, Options{})

	require.NoError(t, s.WriteRows("acme_activities", []models.Row{
		{"id": "1"}, {"id": "2"},
	}))
	require.NoError(t, s.FinalizeTable("acme_activities"))

	// Dependent resolution reads the parent after its finalize
	values, err := s.ReadColumnValues("acme_activities", "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, values)
}

func TestRowCount(t *testing.T) {
	s := newTestSink(t, Options{})

	assert.Equal(t, 0, s.RowCount("acme_tickets"))
	require.NoError(t, s.WriteRows("acme_tickets", []models.Row{
		{"id": "1"}, {"id": "2"},
	}))
	assert.Equal(t, 2, s.RowCount("acme_tickets"))
}
