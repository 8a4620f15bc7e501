package udf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/udfkit/udf2parquet/binio"
)

// Reserved body tags. Channel declarations may not claim tags at or above
// reservedTagFloor.
const (
	// TagTimestamp and TagTimestampAlt both introduce an 8-byte timestamp
	// event carrying nanoseconds since the Unix epoch. Either one opens a
	// new output row.
	TagTimestamp    = 0xF0
	TagTimestampAlt = 0xF1
	// TagLabel introduces a 16-byte NUL-padded text annotation that applies
	// to the current row.
	TagLabel = 0xF8

	reservedTagFloor = 0xF0
)

const (
	headerTerminator = "\r\n\r\n"
	// maxHeaderBytes bounds the preamble scan so a corrupt or non-UDF input
	// cannot force a walk over the whole body.
	maxHeaderBytes = 64 << 10
	// versionOnePointOneSkip is the extra terminator padding after the CRLF
	// pair in version 1.1 containers.
	versionOnePointOneSkip = 2
)

// Version identifies a supported container revision.
type Version string

const (
	Version10 Version = "1.0"
	Version11 Version = "1.1"
)

// Channel is one decoded channel declaration from the container preamble.
type Channel struct {
	// Tag is the body byte that introduces this channel's events.
	Tag uint8
	// Name is the channel name from the declaration.
	Name string
	// DeclaredSize is the event size stated in the preamble, or 0 when the
	// slot was empty or not numeric.
	DeclaredSize int
	// EventSize is the byte count one event of this channel occupies in the
	// body. It is DeclaredSize when stated, otherwise the sum of the field
	// widths.
	EventSize int
	// Types lists the decoded wire types of the channel's fields, in
	// declaration order. It is empty for opaque channels.
	Types []WireType
	// RawTypes preserves the declaration tokens as written.
	RawTypes []string
	// Axes names the channel's fields, index-aligned with Types.
	Axes []string
	// Scale is the multiplier applied to numeric values when scaling is
	// requested. Offset is added after the multiply; it is always 0 in
	// version 1.0 containers.
	Scale  float64
	Offset float64
	// Properties is the free-form trailing declaration field of version 1.1.
	Properties string
	// Opaque marks a channel declaring at least one type token outside the
	// type table. Its events are skipped whole using EventSize.
	Opaque bool

	// fieldBytes is the summed width of Types, checked against EventSize on
	// every event.
	fieldBytes int
}

// Columns returns the output column names this channel contributes, one per
// axis. A lone unnamed axis collapses to the bare channel name.
func (c *Channel) Columns() []string {
	if len(c.Axes) == 1 && c.Axes[0] == "" {
		return []string{c.Name}
	}
	cols := make([]string, len(c.Axes))
	for i, axis := range c.Axes {
		cols[i] = c.Name + "." + axis
	}
	return cols
}

// Header is the decoded container preamble.
type Header struct {
	Version Version
	// Channels holds the declarations in preamble order.
	Channels []*Channel
	// BodyStart is the byte offset of the first event tag.
	BodyStart int

	byTag map[uint8]*Channel
}

// ChannelByTag resolves a body tag to its channel declaration.
func (h *Header) ChannelByTag(tag uint8) (*Channel, bool) {
	c, ok := h.byTag[tag]
	return c, ok
}

// ParseHeader decodes the container preamble and leaves the cursor at the
// first body event. The preamble is UTF-8 text: a version line, then one
// channel declaration per line, terminated by a blank line (CRLF CRLF).
// Version 1.1 pads the terminator with two further bytes.
func ParseHeader(cur *binio.Cursor) (*Header, error) {
	if cur.Remaining() == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrTruncatedInput)
	}
	text, err := cur.ScanUntil([]byte(headerTerminator), maxHeaderBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: no preamble terminator within %d bytes", ErrBadMagic, maxHeaderBytes)
	}

	lines := strings.Split(string(text), "\r\n")
	version, err := parseVersion(lines[0])
	if err != nil {
		return nil, err
	}
	if version == Version11 {
		if err := cur.Skip(versionOnePointOneSkip); err != nil {
			return nil, fmt.Errorf("%w: preamble terminator cut short", ErrTruncatedInput)
		}
	}

	h := &Header{
		Version: version,
		byTag:   make(map[uint8]*Channel),
	}
	names := make(map[string]struct{})
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		ch, err := parseChannelLine(line, version)
		if err != nil {
			return nil, err
		}
		if _, dup := h.byTag[ch.Tag]; dup {
			return nil, fmt.Errorf("%w: duplicate channel tag 0x%02X", ErrBadMagic, ch.Tag)
		}
		if _, dup := names[ch.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate channel name %q", ErrBadMagic, ch.Name)
		}
		names[ch.Name] = struct{}{}
		h.byTag[ch.Tag] = ch
		h.Channels = append(h.Channels, ch)
	}
	h.BodyStart = cur.Position()
	return h, nil
}

func parseVersion(line string) (Version, error) {
	v := strings.TrimSpace(line)
	switch Version(v) {
	case Version10:
		return Version10, nil
	case Version11:
		return Version11, nil
	}
	// A plausible version line means a container from a revision we do not
	// speak; anything else means this is not a container at all.
	if major, minor, ok := strings.Cut(v, "."); ok {
		if _, err := strconv.Atoi(major); err == nil {
			if _, err := strconv.Atoi(minor); err == nil {
				return "", fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
			}
		}
	}
	return "", fmt.Errorf("%w: version line %q", ErrBadMagic, v)
}

func parseChannelLine(line string, version Version) (*Channel, error) {
	want := 6
	if version == Version11 {
		want = 8
	}
	parts := strings.Split(line, ":")
	if len(parts) != want {
		return nil, fmt.Errorf("%w: channel line has %d fields, want %d: %q", ErrBadMagic, len(parts), want, line)
	}

	tag, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || tag < 0 || tag > 0xFF {
		return nil, fmt.Errorf("%w: channel tag %q", ErrBadMagic, parts[0])
	}
	if tag >= reservedTagFloor {
		return nil, fmt.Errorf("%w: channel tag 0x%02X is in the reserved range", ErrBadMagic, tag)
	}

	name := strings.TrimSpace(parts[1])
	if name == "" {
		return nil, fmt.Errorf("%w: channel 0x%02X has no name", ErrBadMagic, tag)
	}

	// The size slot is advisory and tolerates junk; several producers write
	// placeholders here. A stated size becomes authoritative for event
	// framing.
	declared := 0
	if n, err := strconv.Atoi(strings.TrimSpace(parts[2])); err == nil && n > 0 {
		declared = n
	}

	ch := &Channel{
		Tag:          uint8(tag),
		Name:         name,
		DeclaredSize: declared,
	}

	rawTypes := splitList(parts[3])
	computed := 0
	for _, tok := range rawTypes {
		wt, ok := LookupWireType(tok)
		if !ok {
			ch.Opaque = true
		}
		ch.RawTypes = append(ch.RawTypes, tok)
		if !ch.Opaque {
			ch.Types = append(ch.Types, wt)
			computed += wt.Width
		}
	}
	if ch.Opaque {
		ch.Types = nil
	}

	axes := splitList(parts[4])
	if !ch.Opaque {
		if len(ch.Types) == 0 {
			return nil, fmt.Errorf("%w: channel %q declares no field types", ErrBadMagic, name)
		}
		if len(axes) != len(ch.Types) {
			return nil, fmt.Errorf("%w: channel %q has %d axes for %d types", ErrBadMagic, name, len(axes), len(ch.Types))
		}
		if len(axes) > 1 {
			seen := make(map[string]struct{}, len(axes))
			for _, a := range axes {
				if a == "" {
					return nil, fmt.Errorf("%w: channel %q has an unnamed axis", ErrBadMagic, name)
				}
				if _, dup := seen[a]; dup {
					return nil, fmt.Errorf("%w: channel %q repeats axis %q", ErrBadMagic, name, a)
				}
				seen[a] = struct{}{}
			}
		}
	}
	ch.Axes = axes

	scale := strings.TrimSpace(parts[5])
	ch.Scale = 1
	if scale != "" {
		v, err := strconv.ParseFloat(scale, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: channel %q scale %q", ErrBadMagic, name, scale)
		}
		ch.Scale = v
	}

	if version == Version11 {
		off := strings.TrimSpace(parts[6])
		if off != "" {
			v, err := strconv.ParseFloat(off, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: channel %q offset %q", ErrBadMagic, name, off)
			}
			ch.Offset = v
		}
		ch.Properties = strings.TrimSpace(parts[7])
	}

	ch.fieldBytes = computed
	switch {
	case ch.Opaque && declared == 0:
		return nil, fmt.Errorf("%w: opaque channel %q has no usable event size", ErrBadMagic, name)
	case declared > 0:
		ch.EventSize = declared
	default:
		ch.EventSize = computed
	}
	return ch, nil
}

// splitList splits a comma-separated declaration slot, trimming each entry.
// An empty slot yields a single empty entry, matching a one-field channel
// with an unnamed axis.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
