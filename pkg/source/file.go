package source

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// File reads records from a local text file.
type File struct {
	path string

	mu          sync.Mutex
	lastModTime time.Time
	lastSize    int64
	lastDigest  string
}

// NewFile returns a source reading the file at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Name implements Source.
func (f *File) Name() string {
	return "file"
}

// Path returns the watched file path.
func (f *File) Path() string {
	return f.path
}

// Fetch implements Source. Modification time and size are compared first; the file is
// read and hashed only when they differ from the last fetch or previous is not the
// digest of that fetch.
func (f *File) Fetch(ctx context.Context, previous string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	info, err := os.Stat(f.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if info.IsDir() {
		return Snapshot{}, fmt.Errorf("%w: %s is a directory", ErrUnreadable, f.path)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if previous != "" && previous == f.lastDigest &&
		info.ModTime().Equal(f.lastModTime) && info.Size() == f.lastSize {
		return Snapshot{}, ErrUnchanged
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	digest := Fingerprint(data)
	f.lastModTime = info.ModTime()
	f.lastSize = info.Size()
	f.lastDigest = digest

	if digest == previous {
		return Snapshot{}, ErrUnchanged
	}

	return Snapshot{Data: data, Fingerprint: digest}, nil
}

// HealthCheck implements Source.
func (f *File) HealthCheck(context.Context) error {
	if _, err := os.Stat(f.path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return nil
}

// Close implements Source.
func (f *File) Close() error {
	return nil
}
