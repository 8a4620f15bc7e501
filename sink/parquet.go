package sink

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// DefaultRowGroupLength is the row-group row count used when the caller
// does not choose one.
const DefaultRowGroupLength = 64 << 10

// createdBy is the fixed producer string embedded in the footer. Keeping it
// constant makes repeated conversions of one input byte-identical.
const createdBy = "udf2parquet"

// ParquetConfig shapes the output file.
type ParquetConfig struct {
	// Path is the destination. The file only appears once Finalize
	// succeeds.
	Path string
	// Compression applies to every column chunk. The zero value is
	// uncompressed.
	Compression compress.Compression
	// RowGroupLength caps rows per row group; DefaultRowGroupLength when 0.
	RowGroupLength int64
	// DictionaryColumns lists columns to dictionary-encode. Everything else
	// is written plain.
	DictionaryColumns []string
}

// ParquetSink writes batches to a Parquet file via the Arrow bridge. The
// Arrow schema, field metadata included, is stored in the footer so readers
// can recover the exact column model.
type ParquetSink struct {
	out *atomicFile
	fw  *pqarrow.FileWriter
}

// NewParquetSink opens the temp file and the Parquet writer for the given
// schema.
func NewParquetSink(schema *arrow.Schema, cfg ParquetConfig) (*ParquetSink, error) {
	out, err := newAtomicFile(cfg.Path)
	if err != nil {
		return nil, err
	}

	rowGroup := cfg.RowGroupLength
	if rowGroup <= 0 {
		rowGroup = DefaultRowGroupLength
	}
	props := []parquet.WriterProperty{
		parquet.WithCompression(cfg.Compression),
		parquet.WithMaxRowGroupLength(rowGroup),
		parquet.WithCreatedBy(createdBy),
		parquet.WithDictionaryDefault(false),
	}
	for _, col := range cfg.DictionaryColumns {
		props = append(props, parquet.WithDictionaryFor(col, true))
	}

	fw, err := pqarrow.NewFileWriter(
		schema,
		out.tmp,
		parquet.NewWriterProperties(props...),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()),
	)
	if err != nil {
		_ = out.discard()
		return nil, fmt.Errorf("%w: create parquet writer: %v", ErrWriteFailed, err)
	}
	return &ParquetSink{out: out, fw: fw}, nil
}

// Write appends one batch.
func (s *ParquetSink) Write(rec arrow.Record) error {
	if err := s.fw.Write(rec); err != nil {
		return fmt.Errorf("%w: write batch: %v", ErrWriteFailed, err)
	}
	return nil
}

// Finalize writes the footer and publishes the file. A finalized file with
// zero rows is still a valid Parquet file carrying the schema.
func (s *ParquetSink) Finalize() error {
	if s.out.done {
		return nil
	}
	if err := s.fw.Close(); err != nil {
		_ = s.out.discard()
		return fmt.Errorf("%w: close parquet writer: %v", ErrWriteFailed, err)
	}
	return s.out.commit()
}

// Abort drops the partial output.
func (s *ParquetSink) Abort() error {
	return s.out.discard()
}
