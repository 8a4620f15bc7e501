package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DirArchiver copies outputs into a local directory tree. It backs the
// filesystem archive target and stands in for bucket storage in tests.
type DirArchiver struct {
	root string
}

// NewDirArchiver archives into the given root directory.
func NewDirArchiver(root string) *DirArchiver {
	return &DirArchiver{root: root}
}

// Store copies the file at path to root/key, creating directories as
// needed, and returns the destination path.
func (a *DirArchiver) Store(ctx context.Context, path, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer func() { _ = src.Close() }()

	dst := filepath.Join(a.root, filepath.FromSlash(objectName("", key)))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create %q: %w", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("failed to copy to %q: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close %q: %w", dst, err)
	}
	return dst, nil
}
