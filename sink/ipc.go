package sink

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// IPCConfig shapes the Arrow IPC file output.
type IPCConfig struct {
	Path      string
	Allocator memory.Allocator
}

// IPCSink writes batches to an Arrow IPC file. The format preserves the
// schema and field metadata exactly, which makes it the cheapest faithful
// interchange target when the consumer is another Arrow process.
type IPCSink struct {
	out *atomicFile
	w   *ipc.FileWriter
}

// NewIPCSink opens the temp file and the IPC file writer.
func NewIPCSink(schema *arrow.Schema, cfg IPCConfig) (*IPCSink, error) {
	out, err := newAtomicFile(cfg.Path)
	if err != nil {
		return nil, err
	}
	mem := cfg.Allocator
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	w, err := ipc.NewFileWriter(out.tmp,
		ipc.WithSchema(schema),
		ipc.WithAllocator(mem),
	)
	if err != nil {
		_ = out.discard()
		return nil, fmt.Errorf("%w: create ipc writer: %v", ErrWriteFailed, err)
	}
	return &IPCSink{out: out, w: w}, nil
}

// Write appends one batch.
func (s *IPCSink) Write(rec arrow.Record) error {
	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("%w: write ipc batch: %v", ErrWriteFailed, err)
	}
	return nil
}

// Finalize closes the IPC footer and publishes the file.
func (s *IPCSink) Finalize() error {
	if s.out.done {
		return nil
	}
	if err := s.w.Close(); err != nil {
		_ = s.out.discard()
		return fmt.Errorf("%w: close ipc writer: %v", ErrWriteFailed, err)
	}
	return s.out.commit()
}

// Abort drops the partial output.
func (s *IPCSink) Abort() error {
	return s.out.discard()
}
