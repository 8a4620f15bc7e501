package convert_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	goparquet "github.com/fraugster/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfkit/udf2parquet/binio"
	"github.com/udfkit/udf2parquet/columnar"
	"github.com/udfkit/udf2parquet/convert"
	"github.com/udfkit/udf2parquet/udf"
	"github.com/udfkit/udf2parquet/udf/udftest"
)

const (
	tagTemp   = 0x10
	tagCount  = 0x11
	tagStatus = 0x12
	tagHidden = 0x18
)

// sensorContainer builds five records of a two-channel acquisition. With
// corruptThird, record three's measurements are replaced by junk bytes under
// an undeclared tag.
func sensorContainer(corruptThird bool) []byte {
	b := udftest.New(udf.Version10).
		Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}}).
		Channel(udftest.ChannelSpec{Tag: tagCount, Name: "count", Types: []string{"u16"}})
	for i := 1; i <= 5; i++ {
		b.Timestamp(uint64(i * 1000))
		if corruptThird && i == 3 {
			b.Raw(0x77, 0xDE, 0xAD, 0xBE, 0xEF)
			continue
		}
		b.Measure(tagTemp, float64(i)+0.5)
		b.Measure(tagCount, i*10)
	}
	return b.Bytes()
}

func readParquet(t *testing.T, path string) arrow.Table {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	mem := memory.NewGoAllocator()
	tbl, err := pqarrow.ReadTable(context.Background(), f,
		parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	require.NoError(t, err)
	t.Cleanup(tbl.Release)
	return tbl
}

func int64Values(t *testing.T, tbl arrow.Table, col int) []int64 {
	t.Helper()
	var out []int64
	for _, chunk := range tbl.Column(col).Data().Chunks() {
		a := chunk.(*array.Int64)
		for i := 0; i < a.Len(); i++ {
			out = append(out, a.Value(i))
		}
	}
	return out
}

func float64Values(t *testing.T, tbl arrow.Table, col int) []float64 {
	t.Helper()
	var out []float64
	for _, chunk := range tbl.Column(col).Data().Chunks() {
		a := chunk.(*array.Float64)
		for i := 0; i < a.Len(); i++ {
			out = append(out, a.Value(i))
		}
	}
	return out
}

func inferredSchema(t *testing.T, raw []byte) *columnar.Schema {
	t.Helper()
	hdr, err := udf.ParseHeader(binio.NewCursor(raw))
	require.NoError(t, err)
	s, err := columnar.InferSchema(hdr)
	require.NoError(t, err)
	return s
}

func tmpFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var tmps []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			tmps = append(tmps, e.Name())
		}
	}
	return tmps
}

func TestConvertParquetRoundTrip(t *testing.T) {
	t.Parallel()

	input := sensorContainer(false)
	path := filepath.Join(t.TempDir(), "out.parquet")

	res, err := convert.Convert(context.Background(), input, path, convert.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Rows)
	assert.Equal(t, 4, res.Columns)
	assert.EqualValues(t, 0, res.DroppedRows)
	assert.EqualValues(t, 0, res.SkippedEvents)
	assert.Empty(t, res.Warnings)
	assert.EqualValues(t, len(input), res.BytesRead)
	assert.Positive(t, res.BytesWritten)
	assert.EqualValues(t, 0, res.NullCounts["time_ns"])
	assert.EqualValues(t, 5, res.NullCounts["label"])
	assert.EqualValues(t, 0, res.NullCounts["temp"])

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, st.Size(), res.BytesWritten)

	tbl := readParquet(t, path)
	require.EqualValues(t, 5, tbl.NumRows())
	require.EqualValues(t, 4, tbl.NumCols())
	assert.Equal(t, "time_ns", tbl.Schema().Field(0).Name)
	assert.Equal(t, "label", tbl.Schema().Field(1).Name)
	assert.Equal(t, "temp", tbl.Schema().Field(2).Name)
	assert.Equal(t, "count", tbl.Schema().Field(3).Name)

	assert.Equal(t, []int64{1000, 2000, 3000, 4000, 5000}, int64Values(t, tbl, 0))
	assert.Equal(t, []float64{1.5, 2.5, 3.5, 4.5, 5.5}, float64Values(t, tbl, 2))
	assert.Equal(t, []int64{10, 20, 30, 40, 50}, int64Values(t, tbl, 3))
	labels := tbl.Column(1).Data().Chunk(0)
	assert.EqualValues(t, 5, labels.NullN())
}

func TestConvertCorruptRecordSkipAndWarn(t *testing.T) {
	t.Parallel()

	input := sensorContainer(true)
	path := filepath.Join(t.TempDir(), "out.parquet")

	res, err := convert.Convert(context.Background(), input, path, convert.Options{
		ErrorPolicy: convert.SkipAndWarn,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, res.Rows)
	assert.EqualValues(t, 1, res.DroppedRows)
	assert.EqualValues(t, 1, res.SkippedEvents)
	assert.EqualValues(t, 1, res.WarningsRaised)
	require.Len(t, res.Warnings, 1)

	w := res.Warnings[0]
	assert.EqualValues(t, 3, w.Record)
	assert.Equal(t, convert.ReasonUnknownChannelTag, w.Reason)
	assert.Positive(t, w.Offset)

	tbl := readParquet(t, path)
	assert.Equal(t, []int64{1000, 2000, 4000, 5000}, int64Values(t, tbl, 0))
}

func TestConvertCorruptRecordStrict(t *testing.T) {
	t.Parallel()

	input := sensorContainer(true)
	dir := t.TempDir()
	path := filepath.Join(dir, "out.parquet")

	_, err := convert.Convert(context.Background(), input, path, convert.Options{
		ErrorPolicy: convert.Strict,
	})
	require.Error(t, err)

	var cerr *convert.ConversionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, convert.KindIntegrity, cerr.Kind)
	assert.EqualValues(t, 2, cerr.RowsConverted)
	assert.EqualValues(t, 3, cerr.Record)
	assert.ErrorIs(t, err, udf.ErrUnknownChannelTag)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "failed conversion must not publish a file")
	assert.Empty(t, tmpFiles(t, dir))
}

func TestConvertEmptyBody(t *testing.T) {
	t.Parallel()

	input := udftest.New(udf.Version10).
		Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}}).
		Channel(udftest.ChannelSpec{Tag: tagCount, Name: "count", Types: []string{"u16"}}).
		Bytes()
	path := filepath.Join(t.TempDir(), "empty.parquet")

	res, err := convert.Convert(context.Background(), input, path, convert.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.Rows)
	assert.Equal(t, 4, res.Columns)

	tbl := readParquet(t, path)
	assert.EqualValues(t, 0, tbl.NumRows())
	assert.EqualValues(t, 4, tbl.NumCols())
}

func TestConvertRejectsBrokenPreambles(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input []byte
		want  error
	}{
		{"zero-byte input", nil, udf.ErrTruncatedInput},
		{"not a container", []byte("GIF89a totally not it"), udf.ErrBadMagic},
		{"future version", []byte("9.9\r\n\r\n"), udf.ErrUnsupportedVersion},
		{"garbled version", []byte("x.y\r\n\r\n"), udf.ErrBadMagic},
		{"missing v1.1 padding", []byte("1.1\r\n\r\n"), udf.ErrTruncatedInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "out.parquet")
			_, err := convert.Convert(context.Background(), tc.input, path, convert.Options{})
			require.Error(t, err)

			var cerr *convert.ConversionError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, convert.KindFormat, cerr.Kind)
			assert.ErrorIs(t, err, tc.want)
			_, statErr := os.Stat(path)
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestConvertOpaqueChannelWarnsOnce(t *testing.T) {
	t.Parallel()

	b := udftest.New(udf.Version10).
		Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}}).
		Channel(udftest.ChannelSpec{Tag: tagHidden, Name: "hidden", Types: []string{"q12"}, DeclaredSize: 4})
	for i := 1; i <= 3; i++ {
		b.Timestamp(uint64(i * 100))
		b.Measure(tagTemp, float64(i))
		b.Raw(tagHidden, 0x01, 0x02, 0x03, 0x04)
	}
	path := filepath.Join(t.TempDir(), "out.parquet")

	res, err := convert.Convert(context.Background(), b.Bytes(), path, convert.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Rows)
	assert.Equal(t, 3, res.Columns, "opaque channel contributes no column")
	assert.EqualValues(t, 3, res.SkippedEvents)
	assert.EqualValues(t, 1, res.WarningsRaised, "repeat events on one channel warn once")
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "hidden", res.Warnings[0].Channel)
	assert.Equal(t, convert.ReasonUnknownFieldType, res.Warnings[0].Reason)
	assert.Equal(t, -1, res.Schema.ColumnIndex("hidden"))

	tbl := readParquet(t, path)
	assert.EqualValues(t, 3, tbl.NumRows())
	assert.Empty(t, tbl.Schema().FieldIndices("hidden"))
}

func TestConvertOrphanEventsAreSkipped(t *testing.T) {
	t.Parallel()

	b := udftest.New(udf.Version10).
		Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}})
	b.Measure(tagTemp, 9.9)
	b.Label("early")
	b.Timestamp(1000)
	b.Measure(tagTemp, 1.5)
	path := filepath.Join(t.TempDir(), "out.parquet")

	res, err := convert.Convert(context.Background(), b.Bytes(), path, convert.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Rows)
	assert.EqualValues(t, 2, res.SkippedEvents)
	require.Len(t, res.Warnings, 2)
	for _, w := range res.Warnings {
		assert.Equal(t, convert.ReasonOrphanEvent, w.Reason)
		assert.EqualValues(t, 0, w.Record)
	}

	tbl := readParquet(t, path)
	assert.Equal(t, []float64{1.5}, float64Values(t, tbl, 2))
}

func truncatedContainer() []byte {
	b := udftest.New(udf.Version10).
		Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}})
	b.Timestamp(1000).Measure(tagTemp, 1.5)
	b.Timestamp(2000).Measure(tagTemp, 2.5)
	b.Timestamp(3000)
	// The third measurement is cut off mid-event.
	b.Raw(tagTemp, 0x01, 0x02, 0x03)
	return b.Bytes()
}

func TestConvertTruncatedTailKeepsCompleteRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.parquet")
	res, err := convert.Convert(context.Background(), truncatedContainer(), path, convert.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Rows)
	assert.EqualValues(t, 1, res.DroppedRows, "the cut-off record cannot be trusted")
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, convert.ReasonTruncatedInput, res.Warnings[0].Reason)

	tbl := readParquet(t, path)
	assert.Equal(t, []int64{1000, 2000}, int64Values(t, tbl, 0))
}

func TestConvertTruncatedTailStrict(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.parquet")
	_, err := convert.Convert(context.Background(), truncatedContainer(), path, convert.Options{
		ErrorPolicy: convert.Strict,
	})
	var cerr *convert.ConversionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, convert.KindIntegrity, cerr.Kind)
	assert.EqualValues(t, 2, cerr.RowsConverted)
	assert.ErrorIs(t, err, udf.ErrTruncatedInput)
}

func TestConvertLabels(t *testing.T) {
	t.Parallel()

	b := udftest.New(udf.Version10).
		Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}})
	b.Timestamp(1000).Label("run-a").Measure(tagTemp, 1.0)
	b.Timestamp(2000).Measure(tagTemp, 2.0)
	b.Timestamp(3000).Label("run-b").Measure(tagTemp, 3.0)
	b.Timestamp(4000).Label("first").Label("final").Measure(tagTemp, 4.0)
	path := filepath.Join(t.TempDir(), "out.parquet")

	res, err := convert.Convert(context.Background(), b.Bytes(), path, convert.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, res.Rows)
	assert.EqualValues(t, 1, res.NullCounts["label"])

	tbl := readParquet(t, path)
	labels := tbl.Column(1).Data().Chunk(0).(*array.String)
	assert.Equal(t, "run-a", labels.Value(0))
	assert.True(t, labels.IsNull(1))
	assert.Equal(t, "run-b", labels.Value(2))
	assert.Equal(t, "final", labels.Value(3), "the last label on a record wins")
}

func TestConvertMalformedLabel(t *testing.T) {
	t.Parallel()

	build := func() []byte {
		b := udftest.New(udf.Version10).
			Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}})
		b.Timestamp(1000)
		b.Raw(udf.TagLabel, 0xFF, 0xFE, 'a', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
		b.Measure(tagTemp, 1.5)
		return b.Bytes()
	}

	t.Run("lenient keeps the record", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "out.parquet")
		res, err := convert.Convert(context.Background(), build(), path, convert.Options{})
		require.NoError(t, err)
		assert.EqualValues(t, 1, res.Rows)
		assert.EqualValues(t, 1, res.NullCounts["label"])
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, convert.ReasonMalformedString, res.Warnings[0].Reason)

		tbl := readParquet(t, path)
		assert.Equal(t, []float64{1.5}, float64Values(t, tbl, 2))
	})

	t.Run("strict aborts", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "out.parquet")
		_, err := convert.Convert(context.Background(), build(), path, convert.Options{
			ErrorPolicy: convert.Strict,
		})
		var cerr *convert.ConversionError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, convert.KindIntegrity, cerr.Kind)
		assert.EqualValues(t, 0, cerr.RowsConverted)
		assert.EqualValues(t, 1, cerr.Record)
		assert.ErrorIs(t, err, udf.ErrMalformedString)
	})
}

func TestConvertEventSizeConflicts(t *testing.T) {
	t.Parallel()

	t.Run("declared larger than fields", func(t *testing.T) {
		t.Parallel()
		b := udftest.New(udf.Version10).
			Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}, DeclaredSize: 10})
		b.Timestamp(1000).Measure(tagTemp, 1.5).Raw(0x00, 0x00)
		b.Timestamp(2000).Measure(tagTemp, 2.5).Raw(0x00, 0x00)
		path := filepath.Join(t.TempDir(), "out.parquet")

		res, err := convert.Convert(context.Background(), b.Bytes(), path, convert.Options{})
		require.NoError(t, err)
		assert.EqualValues(t, 0, res.Rows)
		assert.EqualValues(t, 2, res.DroppedRows)
		require.NotEmpty(t, res.Warnings)
		assert.Equal(t, convert.ReasonRecordLengthMismatch, res.Warnings[0].Reason)
	})

	t.Run("declared smaller than fields", func(t *testing.T) {
		t.Parallel()
		b := udftest.New(udf.Version10).
			Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}, DeclaredSize: 4})
		b.Timestamp(1000).Raw(tagTemp, 0x01, 0x02, 0x03, 0x04)
		path := filepath.Join(t.TempDir(), "out.parquet")

		res, err := convert.Convert(context.Background(), b.Bytes(), path, convert.Options{})
		require.NoError(t, err)
		assert.EqualValues(t, 0, res.Rows)
		assert.EqualValues(t, 1, res.DroppedRows)
		require.NotEmpty(t, res.Warnings)
		assert.Equal(t, convert.ReasonRecordLengthMismatch, res.Warnings[0].Reason)
	})

	t.Run("strict aborts on the conflict", func(t *testing.T) {
		t.Parallel()
		b := udftest.New(udf.Version10).
			Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}, DeclaredSize: 10})
		b.Timestamp(1000).Measure(tagTemp, 1.5).Raw(0x00, 0x00)
		path := filepath.Join(t.TempDir(), "out.parquet")

		_, err := convert.Convert(context.Background(), b.Bytes(), path, convert.Options{
			ErrorPolicy: convert.Strict,
		})
		var cerr *convert.ConversionError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, convert.KindIntegrity, cerr.Kind)
		assert.ErrorIs(t, err, udf.ErrRecordLengthMismatch)
	})
}

func scaledContainer() []byte {
	b := udftest.New(udf.Version11).
		Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "pressure", Types: []string{"u16"}, Scale: 0.5, Offset: 2})
	b.Timestamp(1000).Measure(tagTemp, 10)
	b.Timestamp(2000).Measure(tagTemp, 20)
	b.Timestamp(3000).Measure(tagTemp, 30)
	return b.Bytes()
}

func TestConvertScaling(t *testing.T) {
	t.Parallel()

	t.Run("applied", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "out.parquet")
		res, err := convert.Convert(context.Background(), scaledContainer(), path, convert.Options{
			ApplyScaling: true,
		})
		require.NoError(t, err)

		i := res.Schema.ColumnIndex("pressure")
		require.GreaterOrEqual(t, i, 0)
		assert.Equal(t, udf.TypeFloat64, res.Schema.Cols[i].Type)
		assert.True(t, res.Schema.Cols[i].Scaled)

		tbl := readParquet(t, path)
		assert.Equal(t, []float64{7, 12, 17}, float64Values(t, tbl, 2))
	})

	t.Run("raw by default", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "out.parquet")
		res, err := convert.Convert(context.Background(), scaledContainer(), path, convert.Options{})
		require.NoError(t, err)

		i := res.Schema.ColumnIndex("pressure")
		require.GreaterOrEqual(t, i, 0)
		assert.Equal(t, udf.TypeInt64, res.Schema.Cols[i].Type)

		tbl := readParquet(t, path)
		assert.Equal(t, []int64{10, 20, 30}, int64Values(t, tbl, 2))
	})
}

func TestConvertCarriesMetadata(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.parquet")
	res, err := convert.Convert(context.Background(), sensorContainer(false), path, convert.Options{
		Metadata: map[string]string{"operator": "kim", "source": "rig-7"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Schema)

	md := readParquet(t, path).Schema().Metadata()
	require.GreaterOrEqual(t, md.FindKey("operator"), 0)
	assert.Equal(t, "kim", md.Values()[md.FindKey("operator")])
	require.GreaterOrEqual(t, md.FindKey("source"), 0)
	assert.Equal(t, "rig-7", md.Values()[md.FindKey("source")])
	require.GreaterOrEqual(t, md.FindKey("udf.version"), 0)
	assert.Equal(t, "1.0", md.Values()[md.FindKey("udf.version")])
}

func TestConvertRowGroupSize(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.parquet")
	res, err := convert.Convert(context.Background(), sensorContainer(false), path, convert.Options{
		RowGroupSize: 2,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Rows)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := file.NewParquetReader(f)
	require.NoError(t, err)
	defer r.Close()
	assert.EqualValues(t, 5, r.NumRows())
	assert.Equal(t, 3, r.NumRowGroups())
}

func TestConvertOutputIsDeterministic(t *testing.T) {
	t.Parallel()

	b := udftest.New(udf.Version10).
		Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}}).
		Channel(udftest.ChannelSpec{Tag: tagStatus, Name: "status", Types: []string{"s"}})
	states := []string{"ok", "warn", "ok", "ok", "warn", "fault"}
	for i, s := range states {
		b.Timestamp(uint64((i + 1) * 1000))
		b.Measure(tagTemp, float64(i))
		b.Measure(tagStatus, s)
	}
	input := b.Bytes()

	dir := t.TempDir()
	p1 := filepath.Join(dir, "one.parquet")
	p2 := filepath.Join(dir, "two.parquet")
	_, err := convert.Convert(context.Background(), input, p1, convert.Options{})
	require.NoError(t, err)
	_, err = convert.Convert(context.Background(), input, p2, convert.Options{})
	require.NoError(t, err)

	b1, err := os.ReadFile(p1)
	require.NoError(t, err)
	b2, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(b1, b2), "repeated conversions must be byte-identical")
}

func TestConvertDictionaryColumns(t *testing.T) {
	t.Parallel()

	b := udftest.New(udf.Version10).
		Channel(udftest.ChannelSpec{Tag: tagStatus, Name: "status", Types: []string{"s"}})
	for i := 1; i <= 6; i++ {
		b.Timestamp(uint64(i * 1000))
		if i%2 == 0 {
			b.Measure(tagStatus, "ok")
		} else {
			b.Measure(tagStatus, "warn")
		}
	}
	path := filepath.Join(t.TempDir(), "out.parquet")

	res, err := convert.Convert(context.Background(), b.Bytes(), path, convert.Options{})
	require.NoError(t, err)
	assert.Contains(t, res.DictionaryColumns, "status")

	tbl := readParquet(t, path)
	col := tbl.Column(2).Data().Chunk(0).(*array.String)
	assert.Equal(t, "warn", col.Value(0))
	assert.Equal(t, "ok", col.Value(1))
}

func TestConvertCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.parquet")
	_, err := convert.Convert(ctx, sensorContainer(false), path, convert.Options{})

	var cerr *convert.ConversionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, convert.KindCancelled, cerr.Kind)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, tmpFiles(t, dir))
}

func TestConvertCSVOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	res, err := convert.Convert(context.Background(), sensorContainer(false), path, convert.Options{
		Format: convert.FormatCSV,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Rows)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "time_ns,label,temp,count", strings.TrimSpace(lines[0]))
	assert.Equal(t, "1000,,1.5,10", strings.TrimSpace(lines[1]))
}

func TestConvertCSVZeroRowsKeepsHeader(t *testing.T) {
	t.Parallel()

	input := udftest.New(udf.Version10).
		Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}}).
		Bytes()
	path := filepath.Join(t.TempDir(), "empty.csv")

	_, err := convert.Convert(context.Background(), input, path, convert.Options{
		Format: convert.FormatCSV,
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "time_ns,label,temp", strings.TrimSpace(string(raw)))
}

func TestConvertIPCOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.arrow")
	res, err := convert.Convert(context.Background(), sensorContainer(false), path, convert.Options{
		Format: convert.FormatIPC,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Rows)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 1, r.NumRecords())
	rec, err := r.RecordAt(0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, rec.NumRows())
	assert.Equal(t, "temp", rec.Schema().Field(2).Name)
}

func TestConvertValidateMode(t *testing.T) {
	t.Parallel()

	input := sensorContainer(false)

	t.Run("matching declaration passes", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "out.parquet")
		_, err := convert.Convert(context.Background(), input, path, convert.Options{
			SchemaMode:     convert.SchemaValidate,
			DeclaredSchema: inferredSchema(t, input),
		})
		require.NoError(t, err)
	})

	t.Run("column count mismatch fails", func(t *testing.T) {
		t.Parallel()
		other := udftest.New(udf.Version10).
			Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"d"}}).
			Channel(udftest.ChannelSpec{Tag: tagCount, Name: "count", Types: []string{"u16"}}).
			Channel(udftest.ChannelSpec{Tag: tagStatus, Name: "status", Types: []string{"s"}}).
			Bytes()
		path := filepath.Join(t.TempDir(), "out.parquet")
		_, err := convert.Convert(context.Background(), input, path, convert.Options{
			SchemaMode:     convert.SchemaValidate,
			DeclaredSchema: inferredSchema(t, other),
		})
		var cerr *convert.ConversionError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, convert.KindSchema, cerr.Kind)
		assert.ErrorIs(t, err, columnar.ErrFieldCountMismatch)
	})

	t.Run("narrower declared type fails", func(t *testing.T) {
		t.Parallel()
		other := udftest.New(udf.Version10).
			Channel(udftest.ChannelSpec{Tag: tagTemp, Name: "temp", Types: []string{"s32"}}).
			Channel(udftest.ChannelSpec{Tag: tagCount, Name: "count", Types: []string{"u16"}}).
			Bytes()
		path := filepath.Join(t.TempDir(), "out.parquet")
		_, err := convert.Convert(context.Background(), input, path, convert.Options{
			SchemaMode:     convert.SchemaValidate,
			DeclaredSchema: inferredSchema(t, other),
		})
		var cerr *convert.ConversionError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, convert.KindSchema, cerr.Kind)
		assert.ErrorIs(t, err, columnar.ErrIncompatibleFieldType)
	})

	t.Run("missing declaration fails", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "out.parquet")
		_, err := convert.Convert(context.Background(), input, path, convert.Options{
			SchemaMode: convert.SchemaValidate,
		})
		var cerr *convert.ConversionError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, convert.KindSchema, cerr.Kind)
	})
}

// The output of a conversion must be readable by an independent parquet
// implementation, not just the library that wrote it.
func TestConvertReadableByIndependentReader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.parquet")
	_, err := convert.Convert(context.Background(), sensorContainer(false), path, convert.Options{})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := goparquet.NewFileReader(f)
	require.NoError(t, err)
	require.EqualValues(t, 5, r.NumRows())

	rows := 0
	for {
		row, err := r.NextRow()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if rows == 0 {
			assert.Equal(t, int64(1000), row["time_ns"])
			assert.Equal(t, 1.5, row["temp"])
			assert.Equal(t, int64(10), row["count"])
			_, hasLabel := row["label"]
			assert.False(t, hasLabel, "null cells stay out of the row map")
		}
		rows++
	}
	assert.Equal(t, 5, rows)
}

func TestConvertFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "capture.udf")
	require.NoError(t, os.WriteFile(in, sensorContainer(false), 0o644))
	out := filepath.Join(dir, "capture.parquet")

	res, err := convert.ConvertFile(context.Background(), in, out, convert.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Rows)

	_, err = convert.ConvertFile(context.Background(), filepath.Join(dir, "nope.udf"), out, convert.Options{})
	var cerr *convert.ConversionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, convert.KindFormat, cerr.Kind)
}
