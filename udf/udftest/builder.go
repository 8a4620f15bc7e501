// Package udftest assembles UDF containers in memory so tests can exercise
// decoding and conversion without fixture files on disk.
package udftest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/udfkit/udf2parquet/udf"
)

// ChannelSpec declares one channel for the built container.
type ChannelSpec struct {
	Tag   uint8
	Name  string
	Types []string
	Axes  []string
	// Scale defaults to 1 when zero. Offset and Properties are emitted only
	// in version 1.1 containers.
	Scale      float64
	Offset     float64
	Properties string
	// DeclaredSize overrides the size slot: 0 writes the summed field
	// widths, a positive value writes that number, OmitSize leaves the slot
	// empty. SizeText, when set, wins and is written verbatim.
	DeclaredSize int
	SizeText     string
}

// OmitSize leaves the channel's size slot empty.
const OmitSize = -1

// Builder accumulates channel declarations and body events, then renders the
// container with Bytes. Methods panic on misuse; this package is for tests.
type Builder struct {
	version  udf.Version
	channels []ChannelSpec
	byTag    map[uint8]*ChannelSpec
	body     bytes.Buffer
}

// New returns a builder for the given container version.
func New(version udf.Version) *Builder {
	return &Builder{
		version: version,
		byTag:   make(map[uint8]*ChannelSpec),
	}
}

// Channel appends a channel declaration.
func (b *Builder) Channel(spec ChannelSpec) *Builder {
	b.channels = append(b.channels, spec)
	b.byTag[spec.Tag] = &b.channels[len(b.channels)-1]
	return b
}

// Timestamp appends a row-opening timestamp event.
func (b *Builder) Timestamp(nanos uint64) *Builder {
	b.body.WriteByte(udf.TagTimestamp)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], nanos)
	b.body.Write(buf[:])
	return b
}

// Label appends a label event. Text longer than the fixed label width
// panics.
func (b *Builder) Label(text string) *Builder {
	if len(text) > 16 {
		panic(fmt.Sprintf("udftest: label %q exceeds 16 bytes", text))
	}
	b.body.WriteByte(udf.TagLabel)
	var buf [16]byte
	copy(buf[:], text)
	b.body.Write(buf[:])
	return b
}

// Measure appends a measurement event for the channel with the given tag.
// Values are encoded per the channel's declared types: integers for the
// fixed-width integer types, float64 for "f" and "d", string for "s"/"st".
func (b *Builder) Measure(tag uint8, values ...any) *Builder {
	spec, ok := b.byTag[tag]
	if !ok {
		panic(fmt.Sprintf("udftest: no channel with tag 0x%02X", tag))
	}
	if len(values) != len(spec.Types) {
		panic(fmt.Sprintf("udftest: channel %q takes %d values, got %d", spec.Name, len(spec.Types), len(values)))
	}
	b.body.WriteByte(tag)
	for i, tok := range spec.Types {
		encodeValue(&b.body, tok, values[i])
	}
	return b
}

// Raw appends arbitrary bytes to the body, for corruption scenarios.
func (b *Builder) Raw(p ...byte) *Builder {
	b.body.Write(p)
	return b
}

// Bytes renders the full container.
func (b *Builder) Bytes() []byte {
	var out bytes.Buffer
	out.WriteString(string(b.version))
	out.WriteString("\r\n")
	for i := range b.channels {
		out.WriteString(b.channelLine(&b.channels[i]))
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n")
	if b.version == udf.Version11 {
		out.Write([]byte{0, 0})
	}
	out.Write(b.body.Bytes())
	return out.Bytes()
}

func (b *Builder) channelLine(spec *ChannelSpec) string {
	size := spec.SizeText
	if size == "" {
		switch {
		case spec.DeclaredSize == OmitSize:
			size = ""
		case spec.DeclaredSize > 0:
			size = strconv.Itoa(spec.DeclaredSize)
		default:
			size = strconv.Itoa(fieldWidths(spec.Types))
		}
	}
	scale := spec.Scale
	if scale == 0 {
		scale = 1
	}
	parts := []string{
		strconv.Itoa(int(spec.Tag)),
		spec.Name,
		size,
		strings.Join(spec.Types, ","),
		strings.Join(spec.Axes, ","),
		strconv.FormatFloat(scale, 'g', -1, 64),
	}
	if b.version == udf.Version11 {
		parts = append(parts,
			strconv.FormatFloat(spec.Offset, 'g', -1, 64),
			spec.Properties,
		)
	}
	return strings.Join(parts, ":")
}

func fieldWidths(types []string) int {
	total := 0
	for _, tok := range types {
		wt, ok := udf.LookupWireType(tok)
		if !ok {
			panic(fmt.Sprintf("udftest: cannot size unknown type %q", tok))
		}
		total += wt.Width
	}
	return total
}

func encodeValue(buf *bytes.Buffer, tok string, v any) {
	switch tok {
	case "s8", "u8":
		buf.WriteByte(byte(asInt(tok, v)))
	case "s16", "u16":
		var p [2]byte
		binary.LittleEndian.PutUint16(p[:], uint16(asInt(tok, v)))
		buf.Write(p[:])
	case "u24":
		n := asInt(tok, v)
		buf.Write([]byte{byte(n), byte(n >> 8), byte(n >> 16)})
	case "s32", "u32":
		var p [4]byte
		binary.LittleEndian.PutUint32(p[:], uint32(asInt(tok, v)))
		buf.Write(p[:])
	case "s64", "u64":
		var p [8]byte
		binary.LittleEndian.PutUint64(p[:], uint64(asInt(tok, v)))
		buf.Write(p[:])
	case "f":
		var p [4]byte
		binary.LittleEndian.PutUint32(p[:], math.Float32bits(float32(asFloat(tok, v))))
		buf.Write(p[:])
	case "d":
		var p [8]byte
		binary.LittleEndian.PutUint64(p[:], math.Float64bits(asFloat(tok, v)))
		buf.Write(p[:])
	case "s", "st":
		s, ok := v.(string)
		if !ok {
			panic(fmt.Sprintf("udftest: type %q takes a string, got %T", tok, v))
		}
		if len(s) > 16 {
			panic(fmt.Sprintf("udftest: string %q exceeds 16 bytes", s))
		}
		var p [16]byte
		copy(p[:], s)
		buf.Write(p[:])
	default:
		panic(fmt.Sprintf("udftest: cannot encode unknown type %q", tok))
	}
}

func asInt(tok string, v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case uint64:
		return int64(n)
	default:
		panic(fmt.Sprintf("udftest: type %q takes an integer, got %T", tok, v))
	}
}

func asFloat(tok string, v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	default:
		panic(fmt.Sprintf("udftest: type %q takes a float, got %T", tok, v))
	}
}
