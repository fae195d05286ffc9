package logging

import (
	"fmt"
	"os"
	"sync"
)

// RotatingFile is a write syncer that rotates its backing file once a write
// would push it past maxSize bytes, keeping at most maxBackups historical
// files (<path>.1 is the newest backup, higher suffixes are older; the oldest
// is discarded first). All writes go through one mutex, so concurrent
// producers on the same stream never interleave partial lines.
type RotatingFile struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int
	file       *os.File
	size       int64
	rotations  int
}

// OpenRotatingFile opens (or creates) the stream's current file for append.
func OpenRotatingFile(path string, maxSize int64, maxBackups int) (*RotatingFile, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("rotation size must be positive, got %d", maxSize)
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	return &RotatingFile{
		path:       path,
		maxSize:    maxSize,
		maxBackups: maxBackups,
		file:       f,
		size:       st.Size(),
	}, nil
}

// Write appends p as a whole; it triggers a rotation first when the current
// file already holds data and p would push it past the size threshold.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// rotate shifts path -> path.1 -> path.2 ... dropping anything beyond
// maxBackups, then reopens a fresh current file. Caller holds the mutex.
func (r *RotatingFile) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}

	if r.maxBackups == 0 {
		os.Remove(r.path)
	} else {
		os.Remove(backupName(r.path, r.maxBackups))
		for i := r.maxBackups - 1; i >= 1; i-- {
			os.Rename(backupName(r.path, i), backupName(r.path, i+1))
		}
		if err := os.Rename(r.path, backupName(r.path, 1)); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = 0
	r.rotations++
	return nil
}

// Sync flushes the current file to disk.
func (r *RotatingFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Sync()
}

// Close closes the current file.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// Rotations reports how many times the stream has rotated since opening.
func (r *RotatingFile) Rotations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotations
}

func backupName(path string, i int) string {
	return fmt.Sprintf("%s.%d", path, i)
}
