package sink

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// CSVConfig shapes the CSV output.
type CSVConfig struct {
	Path string
	// Comma is the field separator; ',' when zero.
	Comma rune
	// NullValue is written for null cells. Empty string when unset.
	NullValue string
}

// CSVSink renders batches as CSV with a header row. Column metadata does
// not survive this format; it exists for eyeballing and spreadsheet
// roundtrips, not archival.
type CSVSink struct {
	out    *atomicFile
	w      *csv.Writer
	schema *arrow.Schema
	wrote  bool
}

// NewCSVSink opens the temp file and writes the header on first Write.
func NewCSVSink(schema *arrow.Schema, cfg CSVConfig) (*CSVSink, error) {
	out, err := newAtomicFile(cfg.Path)
	if err != nil {
		return nil, err
	}
	comma := cfg.Comma
	if comma == 0 {
		comma = ','
	}
	w := csv.NewWriter(out.tmp, schema,
		csv.WithComma(comma),
		csv.WithHeader(true),
		csv.WithNullWriter(cfg.NullValue),
	)
	return &CSVSink{out: out, w: w, schema: schema}, nil
}

// Write appends one batch.
func (s *CSVSink) Write(rec arrow.Record) error {
	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("%w: write csv batch: %v", ErrWriteFailed, err)
	}
	s.wrote = true
	return nil
}

// Finalize flushes and publishes the file. The writer emits the header with
// the first batch, so a sink that never saw one gets an empty batch here:
// a zero-row output is still a parseable CSV with column names.
func (s *CSVSink) Finalize() error {
	if s.out.done {
		return nil
	}
	if !s.wrote {
		b := array.NewRecordBuilder(memory.NewGoAllocator(), s.schema)
		rec := b.NewRecord()
		err := s.w.Write(rec)
		rec.Release()
		b.Release()
		if err != nil {
			_ = s.out.discard()
			return fmt.Errorf("%w: write csv header: %v", ErrWriteFailed, err)
		}
	}
	if err := s.w.Flush(); err != nil {
		_ = s.out.discard()
		return fmt.Errorf("%w: flush csv: %v", ErrWriteFailed, err)
	}
	if err := s.w.Error(); err != nil {
		_ = s.out.discard()
		return fmt.Errorf("%w: csv writer: %v", ErrWriteFailed, err)
	}
	return s.out.commit()
}

// Abort drops the partial output.
func (s *CSVSink) Abort() error {
	return s.out.discard()
}
