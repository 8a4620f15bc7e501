// Package archive ships finished conversion outputs to longer-term storage.
package archive

import (
	"context"
	"fmt"
	"strings"
)

// Archiver stores a finished output file under a key and reports the
// locator it landed at.
type Archiver interface {
	Store(ctx context.Context, path, key string) (string, error)
}

// ParseTarget resolves an archive destination string. A "gs://bucket" or
// "gs://bucket/prefix" target archives to Cloud Storage; anything else is
// treated as a local directory.
func ParseTarget(ctx context.Context, target string) (Archiver, error) {
	if rest, ok := strings.CutPrefix(target, "gs://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("archive target %q has no bucket", target)
		}
		return NewGCSArchiver(ctx, bucket, prefix)
	}
	if target == "" {
		return nil, fmt.Errorf("empty archive target")
	}
	return NewDirArchiver(target), nil
}

// objectName joins a configured prefix and a store key into an object path.
func objectName(prefix, key string) string {
	key = strings.TrimPrefix(key, "/")
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}
