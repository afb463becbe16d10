// Package sink writes transformed rows to per-table CSV files and exposes
// the written data for dependent id resolution.
package sink

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/keboola/component-daktela/pkg/errors"
	jsonpool "github.com/keboola/component-daktela/pkg/json"
	"github.com/keboola/component-daktela/pkg/logger"
	"github.com/keboola/component-daktela/pkg/metrics"
	"github.com/keboola/component-daktela/pkg/models"
	stringpool "github.com/keboola/component-daktela/pkg/strings"
)

// Sink receives transformed rows grouped by output table.
type Sink interface {
	// WriteRows appends a batch of rows to a table
	WriteRows(table string, rows []models.Row) error

	// ReadColumnValues returns every value of one column written so far
	ReadColumnValues(table, column string) ([]string, error)

	// FinalizeTable closes one finished table after its last batch and
	// writes its manifest; no further writes may follow
	FinalizeTable(table string) error

	// Close closes any table left open without marking it finished
	Close() error
}

// Manifest describes one finished table.
type Manifest struct {
	Columns     []string `json:"columns"`
	PrimaryKey  []string `json:"primary_key"`
	Incremental bool     `json:"incremental"`
	Rows        int      `json:"rows"`
}

// CSVSink writes one CSV file per table under a base directory. Column
// order is fixed when the first batch of a table arrives: a preset order
// from a previous run when available, otherwise id first and the remaining
// columns of the first row in sorted order. Later rows missing a column
// produce an empty cell; unknown columns are dropped.
type CSVSink struct {
	dir           string
	gzipEnabled   bool
	writeManifest bool
	incremental   bool
	primaryKeys   map[string][]string
	presetColumns map[string][]string
	logger        *zap.Logger

	mu     sync.Mutex
	tables map[string]*tableWriter
}

type tableWriter struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	gz      *gzip.Writer
	csv     *csv.Writer
	columns []string
	rows    int
	closed  bool
}

// Options configures a CSVSink.
type Options struct {
	Dir           string
	Gzip          bool
	WriteManifest bool
	// Incremental marks the tables for incremental loading in the manifest
	Incremental bool
	// PrimaryKeys maps table name to manifest primary key columns
	PrimaryKeys map[string][]string
	// Columns presets the column order per table, typically from a previous
	// run's state, so headers stay stable across runs
	Columns map[string][]string
}

// NewCSVSink creates a sink writing under opts.Dir, creating it as needed.
func NewCSVSink(opts Options) (*CSVSink, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create output directory")
	}
	return &CSVSink{
		dir:           opts.Dir,
		gzipEnabled:   opts.Gzip,
		writeManifest: opts.WriteManifest,
		incremental:   opts.Incremental,
		primaryKeys:   opts.PrimaryKeys,
		presetColumns: opts.Columns,
		logger:        logger.With(zap.String("component", "csv_sink")),
		tables:        make(map[string]*tableWriter),
	}, nil
}

// WriteRows appends a batch of rows to the table, creating the file and
// fixing the header on first write.
func (s *CSVSink) WriteRows(table string, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tw, err := s.tableFor(table, rows[0])
	if err != nil {
		return err
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return errors.New(errors.ErrorTypeFile, "write after table finalize").
			WithDetail("table", table)
	}

	record := make([]string, len(tw.columns))
	for _, row := range rows {
		for i, col := range tw.columns {
			record[i] = stringpool.ValueToString(row[col])
		}
		if err := tw.csv.Write(record); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write row").
				WithDetail("table", table)
		}
		tw.rows++
	}
	tw.csv.Flush()
	if err := tw.csv.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush rows").
			WithDetail("table", table)
	}

	metrics.RowsWritten.WithLabelValues(table).Add(float64(len(rows)))
	return nil
}

// tableFor returns the writer of a table, creating it with a header derived
// from the first row when missing.
func (s *CSVSink) tableFor(table string, first models.Row) (*tableWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tw, ok := s.tables[table]; ok {
		return tw, nil
	}

	columns := s.presetColumns[table]
	if len(columns) == 0 {
		columns = headerFor(first)
	}

	name := table + ".csv"
	if s.gzipEnabled {
		name += ".gz"
	}
	path := filepath.Join(s.dir, name)

	file, err := os.Create(path) //nolint:gosec // G304: path derives from configured output dir
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create output file").
			WithDetail("table", table)
	}

	tw := &tableWriter{
		path:    path,
		file:    file,
		columns: columns,
	}
	var out io.Writer = file
	if s.gzipEnabled {
		tw.gz = gzip.NewWriter(file)
		out = tw.gz
	}
	tw.csv = csv.NewWriter(out)

	if err := tw.csv.Write(columns); err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to write header").
			WithDetail("table", table)
	}

	s.logger.Info("created output table",
		zap.String("table", table),
		zap.Int("columns", len(columns)))
	s.tables[table] = tw
	return tw, nil
}

// headerFor derives the fixed column order: id first, the remaining columns
// of the first row sorted.
func headerFor(first models.Row) []string {
	columns := make([]string, 0, len(first))
	for col := range first {
		if col != "id" {
			columns = append(columns, col)
		}
	}
	sort.Strings(columns)
	return append([]string{"id"}, columns...)
}

// ReadColumnValues reads back every value of a column written so far. The
// pending output is flushed first so the read sees complete data.
func (s *CSVSink) ReadColumnValues(table, column string) ([]string, error) {
	s.mu.Lock()
	tw, ok := s.tables[table]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	// A finalized table is already flushed and its file closed
	if !tw.closed {
		tw.csv.Flush()
		if err := tw.csv.Error(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to flush table").
				WithDetail("table", table)
		}
		if tw.gz != nil {
			if err := tw.gz.Flush(); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to flush gzip stream").
					WithDetail("table", table)
			}
		}
	}

	file, err := os.Open(tw.path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to reopen table").
			WithDetail("table", table)
	}
	defer file.Close()

	var in io.Reader = file
	if tw.gz != nil {
		gr, err := gzip.NewReader(file)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open gzip stream").
				WithDetail("table", table)
		}
		defer gr.Close()
		in = gr
	}

	reader := csv.NewReader(in)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read table header").
			WithDetail("table", table)
	}

	idx := -1
	for i, col := range header {
		if col == column {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, errors.New(errors.ErrorTypeFile,
			stringpool.Sprintf("column %q not present in table %q", column, table))
	}

	values := make([]string, 0, tw.rows)
	for {
		record, err := reader.Read()
		// A flushed but still open gzip stream ends in ErrUnexpectedEOF
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read table").
				WithDetail("table", table)
		}
		if idx < len(record) {
			values = append(values, record[idx])
		}
	}
	return values, nil
}

// Columns returns the fixed column order of every created table.
func (s *CSVSink) Columns() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]string, len(s.tables))
	for table, tw := range s.tables {
		out[table] = append([]string(nil), tw.columns...)
	}
	return out
}

// RowCount returns the number of rows written to a table so far.
func (s *CSVSink) RowCount(table string) int {
	s.mu.Lock()
	tw, ok := s.tables[table]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.rows
}

// FinalizeTable closes a finished table and writes its manifest. It is a
// no-op for tables that received no rows or were already finalized.
func (s *CSVSink) FinalizeTable(table string) error {
	s.mu.Lock()
	tw, ok := s.tables[table]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	tw.mu.Lock()
	if tw.closed {
		tw.mu.Unlock()
		return nil
	}
	err := tw.close()
	rows := tw.rows
	columns := tw.columns
	tw.mu.Unlock()

	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to finalize table").
			WithDetail("table", table)
	}
	if s.writeManifest {
		return s.writeTableManifest(table, tw.path, columns, rows)
	}
	return nil
}

// Close closes every table still open, without writing manifests. Tables
// already finalized are untouched. This is the cleanup path of a failed
// run; completion manifests only come from FinalizeTable.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for table, tw := range s.tables {
		tw.mu.Lock()
		if tw.closed {
			tw.mu.Unlock()
			continue
		}
		err := tw.close()
		tw.mu.Unlock()

		if err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeFile, "failed to close table").
				WithDetail("table", table)
		}
	}
	return firstErr
}

// close flushes and closes the underlying writers. Caller holds tw.mu.
func (tw *tableWriter) close() error {
	tw.csv.Flush()
	err := tw.csv.Error()
	if err == nil && tw.gz != nil {
		err = tw.gz.Close()
	}
	if cerr := tw.file.Close(); err == nil {
		err = cerr
	}
	tw.closed = true
	return err
}

func (s *CSVSink) writeTableManifest(table, path string, columns []string, rows int) error {
	manifest := Manifest{
		Columns:     columns,
		PrimaryKey:  s.primaryKeys[table],
		Incremental: s.incremental,
		Rows:        rows,
	}
	data, err := jsonpool.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to marshal manifest").
			WithDetail("table", table)
	}
	if err := os.WriteFile(path+".manifest", data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write manifest").
			WithDetail("table", table)
	}
	return nil
}
