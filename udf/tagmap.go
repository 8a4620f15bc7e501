package udf

// EventClass partitions the body tag space.
type EventClass uint8

const (
	// ClassUnknown marks a tag with no mapping; the decoder resynchronizes
	// past it.
	ClassUnknown EventClass = iota
	// ClassTimestamp marks the row-opening timestamp tags.
	ClassTimestamp
	// ClassLabel marks the row annotation tag.
	ClassLabel
	// ClassMeasurement marks a declared channel tag.
	ClassMeasurement
)

// TagResolver maps a body tag byte to its event class. Measurement tags also
// resolve to their channel declaration. The header-backed resolver covers the
// standard layout; callers with containers that repurpose the reserved space
// can substitute their own.
type TagResolver interface {
	Resolve(tag uint8) (EventClass, *Channel)
}

// headerResolver resolves tags against a parsed preamble, with the reserved
// tags fixed by the format.
type headerResolver struct {
	hdr *Header
}

// ResolverForHeader returns the standard resolver for a parsed preamble.
func ResolverForHeader(hdr *Header) TagResolver {
	return &headerResolver{hdr: hdr}
}

func (r *headerResolver) Resolve(tag uint8) (EventClass, *Channel) {
	switch tag {
	case TagTimestamp, TagTimestampAlt:
		return ClassTimestamp, nil
	case TagLabel:
		return ClassLabel, nil
	}
	if ch, ok := r.hdr.ChannelByTag(tag); ok {
		return ClassMeasurement, ch
	}
	return ClassUnknown, nil
}
