package extractor

import (
	"github.com/keboola/component-daktela/pkg/models"
	"github.com/keboola/component-daktela/pkg/sink"
)

// batcher accumulates rows for one table and flushes them to the sink in
// fixed-size batches. It is not safe for concurrent use; callers serialize
// access.
type batcher struct {
	sink  sink.Sink
	table string
	size  int
	rows  []models.Row
	total int
}

func newBatcher(s sink.Sink, table string, size int) *batcher {
	if size < 1 {
		size = 1
	}
	return &batcher{
		sink:  s,
		table: table,
		size:  size,
		rows:  make([]models.Row, 0, size),
	}
}

// Add buffers one row, flushing when the batch is full.
func (b *batcher) Add(row models.Row) error {
	b.rows = append(b.rows, row)
	if len(b.rows) >= b.size {
		return b.Flush()
	}
	return nil
}

// Flush writes the buffered rows to the sink.
func (b *batcher) Flush() error {
	if len(b.rows) == 0 {
		return nil
	}
	if err := b.sink.WriteRows(b.table, b.rows); err != nil {
		return err
	}
	b.total += len(b.rows)
	b.rows = b.rows[:0]
	return nil
}

// Rows returns the number of rows flushed so far.
func (b *batcher) Rows() int {
	return b.total
}
