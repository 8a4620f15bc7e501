// Package sink writes assembled record batches out as Parquet, CSV, or
// Arrow IPC files. Every sink stages its output in a temp file next to the
// destination and renames it into place on Finalize, so a failed or aborted
// conversion never leaves a partial file at the target path and never
// touches a pre-existing one.
package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
)

// ErrWriteFailed is the base error for all sink failures.
var ErrWriteFailed = errors.New("sink: output write failed")

// Sink consumes record batches that all share one schema. Exactly one of
// Finalize or Abort must be called; both are idempotent.
type Sink interface {
	// Write appends one batch. The sink does not retain the record.
	Write(rec arrow.Record) error
	// Finalize flushes everything and publishes the output file.
	Finalize() error
	// Abort discards all partial output.
	Abort() error
}

// atomicFile stages writes in a hidden temp file in the destination
// directory, publishing via rename.
type atomicFile struct {
	path string
	tmp  *os.File
	done bool
}

func newAtomicFile(path string) (*atomicFile, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file in %q: %v", ErrWriteFailed, dir, err)
	}
	return &atomicFile{path: path, tmp: tmp}, nil
}

func (a *atomicFile) Name() string { return a.tmp.Name() }

// commit syncs, closes, and renames the temp file onto the destination.
func (a *atomicFile) commit() error {
	if a.done {
		return nil
	}
	a.done = true
	if err := a.tmp.Sync(); err != nil {
		_ = a.tmp.Close()
		_ = os.Remove(a.tmp.Name())
		return fmt.Errorf("%w: sync %q: %v", ErrWriteFailed, a.tmp.Name(), err)
	}
	if err := a.tmp.Close(); err != nil {
		_ = os.Remove(a.tmp.Name())
		return fmt.Errorf("%w: close %q: %v", ErrWriteFailed, a.tmp.Name(), err)
	}
	if err := os.Rename(a.tmp.Name(), a.path); err != nil {
		_ = os.Remove(a.tmp.Name())
		return fmt.Errorf("%w: rename to %q: %v", ErrWriteFailed, a.path, err)
	}
	return nil
}

// discard closes and removes the temp file, leaving the destination alone.
func (a *atomicFile) discard() error {
	if a.done {
		return nil
	}
	a.done = true
	_ = a.tmp.Close()
	if err := os.Remove(a.tmp.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove temp %q: %v", ErrWriteFailed, a.tmp.Name(), err)
	}
	return nil
}
