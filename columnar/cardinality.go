package columnar

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/spaolacci/murmur3"
)

// DefaultDictionaryThreshold is the distinct-value count at which a string
// column stops being a dictionary-encoding candidate.
const DefaultDictionaryThreshold = 4096

// distinctTracker estimates per-column distinct counts with a bloom filter
// over murmur3 hashes. The count saturates at the limit; past that the
// column is treated as high cardinality and values are no longer hashed.
type distinctTracker struct {
	filter *bloom.BloomFilter
	count  int
	limit  int
}

func newDistinctTracker(limit int) *distinctTracker {
	return &distinctTracker{
		filter: bloom.NewWithEstimates(uint(limit)*2, 0.001),
		limit:  limit,
	}
}

func (d *distinctTracker) observe(v string) {
	if d.count >= d.limit {
		return
	}
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], murmur3.Sum64([]byte(v)))
	if d.filter.Test(key[:]) {
		return
	}
	d.filter.Add(key[:])
	d.count++
}

// distinct reports the observed distinct count, clipped at the limit.
func (d *distinctTracker) distinct() int { return d.count }

// lowCardinality reports whether the column stayed under the limit.
func (d *distinctTracker) lowCardinality() bool { return d.count < d.limit }
