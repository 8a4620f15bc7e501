// Package convert drives whole-container conversions: parse the preamble,
// derive the column model, assemble rows from the event stream, and hand
// batches to an output sink. It owns the error taxonomy and the
// skip-and-warn / strict policy split.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/udfkit/udf2parquet/binio"
	"github.com/udfkit/udf2parquet/columnar"
	"github.com/udfkit/udf2parquet/sink"
	"github.com/udfkit/udf2parquet/udf"
)

// ---------------------------------------------------------------------
// Conversion State
// ---------------------------------------------------------------------

type state uint8

const (
	stateStart state = iota
	stateHeaderRead
	stateDecoding
	stateFinalizing
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateHeaderRead:
		return "header-read"
	case stateDecoding:
		return "decoding"
	case stateFinalizing:
		return "finalizing"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return "start"
	}
}

// ---------------------------------------------------------------------
// Entry Points
// ---------------------------------------------------------------------

// Convert decodes one container held in memory and writes the output file.
// On failure the returned error is a *ConversionError, nothing has been
// published at the output path, and any pre-existing file there is intact.
func Convert(ctx context.Context, input []byte, output string, opts Options) (*Result, error) {
	c := &conversion{
		opts:  opts.withDefaults(),
		input: input,
		out:   output,
	}
	c.log = c.opts.Logger
	return c.run(ctx)
}

// ConvertFile reads a container from disk and converts it.
func ConvertFile(ctx context.Context, input, output string, opts Options) (*Result, error) {
	raw, err := os.ReadFile(input)
	if err != nil {
		return nil, &ConversionError{
			Kind:   KindFormat,
			Offset: -1,
			Err:    fmt.Errorf("read %q: %w", input, err),
		}
	}
	return Convert(ctx, raw, output, opts)
}

// ---------------------------------------------------------------------
// Conversion Driver
// ---------------------------------------------------------------------

type conversion struct {
	opts  Options
	log   *zap.Logger
	input []byte
	out   string

	st      state
	res     *Result
	builder *columnar.TableBuilder
	snk     sink.Sink

	// colIdx maps a channel tag to its column indexes, one per axis.
	colIdx map[uint8][]int

	rowOpen  bool
	poisoned bool
	// warnedChannels dedupes per-channel warnings for opaque channels.
	warnedChannels map[string]bool

	started time.Time
}

func (c *conversion) run(ctx context.Context) (*Result, error) {
	c.started = time.Now()
	c.res = &Result{
		Output:    c.out,
		Format:    c.opts.Format,
		BytesRead: int64(len(c.input)),
	}
	c.warnedChannels = make(map[string]bool)

	cur := binio.NewCursor(c.input)
	hdr, err := udf.ParseHeader(cur)
	if err != nil {
		// Anything wrong with the preamble, truncation included, means
		// there is no usable container.
		return nil, c.fail(KindFormat, int64(cur.Position()), err)
	}
	c.st = stateHeaderRead
	c.log.Debug("header parsed",
		zap.String("version", string(hdr.Version)),
		zap.Int("channels", len(hdr.Channels)),
		zap.Int("body_start", hdr.BodyStart))

	schema, err := c.buildSchema(hdr)
	if err != nil {
		return nil, c.fail(KindSchema, -1, err)
	}

	c.builder = columnar.NewTableBuilder(c.opts.Allocator, schema,
		columnar.WithDictionaryThreshold(c.opts.DictionaryThreshold))
	defer c.builder.Release()

	c.colIdx = make(map[uint8][]int)
	for _, ch := range hdr.Channels {
		if ch.Opaque {
			continue
		}
		idx := make([]int, 0, len(ch.Types))
		for _, name := range ch.Columns() {
			idx = append(idx, schema.ColumnIndex(name))
		}
		c.colIdx[ch.Tag] = idx
	}

	c.st = stateDecoding
	if err := c.decode(ctx, cur, hdr); err != nil {
		return nil, err
	}

	c.st = stateFinalizing
	if err := ctx.Err(); err != nil {
		return nil, c.fail(KindCancelled, -1, err)
	}
	if err := c.flush(); err != nil {
		return nil, c.fail(classify(err), -1, err)
	}
	// A valid container with no rows still yields a valid output file
	// carrying the schema.
	if err := c.ensureSink(); err != nil {
		return nil, c.fail(classify(err), -1, err)
	}
	if err := c.snk.Finalize(); err != nil {
		return nil, c.fail(KindOutput, -1, err)
	}

	c.finishResult(schema)
	c.st = stateDone

	conversionsTotal.WithLabelValues("ok").Inc()
	rowsConvertedTotal.Add(float64(c.res.Rows))
	inputBytesTotal.Add(float64(c.res.BytesRead))
	conversionSeconds.Observe(c.res.Elapsed.Seconds())

	c.log.Info("conversion complete",
		zap.String("output", c.out),
		zap.Int64("rows", c.res.Rows),
		zap.Int("columns", c.res.Columns),
		zap.Int64("dropped_rows", c.res.DroppedRows),
		zap.Int64("warnings", c.res.WarningsRaised),
		zap.Duration("elapsed", c.res.Elapsed))
	return c.res, nil
}

func (c *conversion) buildSchema(hdr *udf.Header) (*columnar.Schema, error) {
	schema, err := columnar.InferSchema(hdr)
	if err != nil {
		return nil, err
	}
	if c.opts.SchemaMode == SchemaValidate {
		if c.opts.DeclaredSchema == nil {
			return nil, fmt.Errorf("%w: validate mode without a declared schema", columnar.ErrFieldCountMismatch)
		}
		if err := schema.Validate(c.opts.DeclaredSchema); err != nil {
			return nil, err
		}
	}
	if c.opts.ApplyScaling {
		schema = schema.Scaled()
	}
	if len(c.opts.Metadata) > 0 {
		schema = schema.WithExtra(c.opts.Metadata)
	}
	return schema, nil
}

// ---------------------------------------------------------------------
// Event Loop
// ---------------------------------------------------------------------

func (c *conversion) decode(ctx context.Context, cur *binio.Cursor, hdr *udf.Header) error {
	dec := udf.NewDecoder(cur, hdr)
	for {
		if err := ctx.Err(); err != nil {
			return c.fail(KindCancelled, int64(dec.InputOffset()), err)
		}

		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var de *udf.DecodeError
			if !errors.As(err, &de) {
				return c.fail(classify(err), int64(dec.InputOffset()), err)
			}
			if c.opts.ErrorPolicy == Strict {
				return c.fail(classify(de.Err), de.Offset, de)
			}
			c.survive(de)
			if !de.Recoverable() {
				// Truncated tail: keep everything assembled so far.
				break
			}
			continue
		}

		switch ev := ev.(type) {
		case *udf.TimestampEvent:
			if err := c.closeRow(); err != nil {
				return c.fail(classify(err), -1, err)
			}
			c.builder.BeginRow(int64(ev.Nanos))
			c.rowOpen = true
			c.poisoned = false

		case *udf.LabelEvent:
			if !c.rowOpen {
				c.res.SkippedEvents++
				c.warn(int64(ev.Off), "", ReasonOrphanEvent, "label before first timestamp")
				continue
			}
			if !c.poisoned {
				c.builder.SetLabel(ev.Text)
			}

		case *udf.MeasurementEvent:
			if !c.rowOpen {
				c.res.SkippedEvents++
				c.warn(int64(ev.Off), ev.Channel.Name, ReasonOrphanEvent, "measurement before first timestamp")
				continue
			}
			if c.poisoned {
				c.res.SkippedEvents++
				continue
			}
			cols := c.colIdx[ev.Channel.Tag]
			for i, f := range ev.Fields {
				if err := c.builder.Set(cols[i], f); err != nil {
					if c.opts.ErrorPolicy == Strict {
						return c.fail(classify(err), int64(ev.Off), err)
					}
					c.warn(int64(ev.Off), ev.Channel.Name, warnReason(err), err.Error())
					c.poisoned = true
					break
				}
			}
		}
	}
	return c.closeRowWrapped()
}

// survive handles a recoverable (or terminal-but-lenient) decode error
// under the skip-and-warn policy. Damage that forced a resynchronization
// poisons the row being assembled: its contents can no longer be trusted.
// Cleanly skipped events (opaque channels, a garbled label) only cost
// themselves.
func (c *conversion) survive(de *udf.DecodeError) {
	c.res.SkippedEvents++
	reason := warnReason(de.Err)
	switch {
	case errors.Is(de.Err, udf.ErrUnknownFieldType):
		if c.warnedChannels[de.Channel] {
			return
		}
		c.warnedChannels[de.Channel] = true
		c.warn(de.Offset, de.Channel, reason, de.Error())
	case errors.Is(de.Err, udf.ErrMalformedString):
		c.warn(de.Offset, de.Channel, reason, de.Error())
	default:
		c.warn(de.Offset, de.Channel, reason, de.Error())
		if c.rowOpen {
			c.poisoned = true
		}
	}
}

// closeRow commits or discards the row being assembled and flushes a full
// batch through the sink.
func (c *conversion) closeRow() error {
	if !c.rowOpen {
		return nil
	}
	if c.poisoned {
		c.builder.DiscardRow()
		c.res.DroppedRows++
	} else {
		c.builder.CommitRow()
		if c.builder.Pending() >= c.opts.RowGroupSize {
			if err := c.flush(); err != nil {
				return err
			}
		}
	}
	c.rowOpen = false
	c.poisoned = false
	return nil
}

func (c *conversion) closeRowWrapped() error {
	if err := c.closeRow(); err != nil {
		return c.fail(classify(err), -1, err)
	}
	return nil
}

// ---------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------

// ensureSink creates the output sink on first use. Deferring creation to
// the first flush lets the dictionary-encoding decision see real data.
func (c *conversion) ensureSink() error {
	if c.snk != nil {
		return nil
	}

	var dict []string
	if c.opts.Format == FormatParquet {
		for i, col := range c.builder.Schema().Cols {
			if c.builder.LowCardinality(i) {
				dict = append(dict, col.Name)
			}
		}
	}
	c.res.DictionaryColumns = dict

	schema := c.builder.ArrowSchema()
	var (
		s   sink.Sink
		err error
	)
	switch c.opts.Format {
	case FormatCSV:
		s, err = sink.NewCSVSink(schema, sink.CSVConfig{Path: c.out})
	case FormatIPC:
		s, err = sink.NewIPCSink(schema, sink.IPCConfig{Path: c.out, Allocator: c.opts.Allocator})
	default:
		s, err = sink.NewParquetSink(schema, sink.ParquetConfig{
			Path:              c.out,
			Compression:       c.opts.Compression.codec(),
			RowGroupLength:    int64(c.opts.RowGroupSize),
			DictionaryColumns: dict,
		})
	}
	if err != nil {
		return err
	}
	c.snk = s
	return nil
}

func (c *conversion) flush() error {
	if c.builder.Pending() == 0 {
		return nil
	}
	if err := c.ensureSink(); err != nil {
		return err
	}
	rec := c.builder.Flush()
	defer rec.Release()
	return c.snk.Write(rec)
}

// ---------------------------------------------------------------------
// Failure and Warnings
// ---------------------------------------------------------------------

func (c *conversion) fail(kind ErrorKind, offset int64, err error) error {
	if c.snk != nil {
		_ = c.snk.Abort()
	}
	c.st = stateFailed

	var rows, record int64
	if c.builder != nil {
		rows = c.builder.Rows()
		if c.rowOpen {
			record = rows + 1
		}
	}
	cerr := &ConversionError{
		Kind:          kind,
		Offset:        offset,
		Record:        record,
		RowsConverted: rows,
		Err:           err,
	}
	conversionsTotal.WithLabelValues("failed").Inc()
	c.log.Error("conversion failed",
		zap.String("output", c.out),
		zap.String("kind", kind.String()),
		zap.Int64("rows_converted", rows),
		zap.Error(err))
	return cerr
}

func (c *conversion) warn(offset int64, channel, reason, msg string) {
	c.res.WarningsRaised++
	warningsTotal.WithLabelValues(reason).Inc()
	if int64(len(c.res.Warnings)) >= int64(c.opts.MaxWarnings) {
		c.res.WarningsTruncated = true
		return
	}
	var record int64
	if c.rowOpen {
		record = c.builder.Rows() + 1
	}
	c.res.Warnings = append(c.res.Warnings, Warning{
		Record:  record,
		Offset:  offset,
		Channel: channel,
		Reason:  reason,
		Message: msg,
	})
}

func (c *conversion) finishResult(schema *columnar.Schema) {
	c.res.Rows = c.builder.Rows()
	c.res.Columns = schema.NumCols()
	c.res.Schema = schema
	c.res.NullCounts = make(map[string]int64, schema.NumCols())
	for i, col := range schema.Cols {
		c.res.NullCounts[col.Name] = c.builder.NullCount(i)
	}
	if st, err := os.Stat(c.out); err == nil {
		c.res.BytesWritten = st.Size()
	}
	c.res.Elapsed = time.Since(c.started)
}
