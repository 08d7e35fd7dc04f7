package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// maxLineSize bounds a single JSON line when reading the file back.
const maxLineSize = 1 << 20

// FileStore persists summaries as append-only JSON lines in a local file.
// Later lines for the same session id supersede earlier ones.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on the first [FileStore.Save].
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save appends s to the file.
func (st *FileStore) Save(_ context.Context, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	data = append(data, '\n')

	st.mu.Lock()
	defer st.mu.Unlock()

	f, err := os.OpenFile(st.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	return nil
}

// Get returns the most recent record for id.
func (st *FileStore) Get(_ context.Context, id string) (Summary, error) {
	var (
		found Summary
		ok    bool
	)
	err := st.scan(func(s Summary) {
		if s.SessionID == id {
			found, ok = s, true
		}
	})
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		return Summary{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return found, nil
}

// List returns the latest record of every session matching opts.
func (st *FileStore) List(_ context.Context, opts ListOptions) ([]Summary, error) {
	latest := make(map[string]Summary)
	err := st.scan(func(s Summary) {
		latest[s.SessionID] = s
	})
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(latest))
	for _, s := range latest {
		if opts.Exercise == "" || s.Exercise == opts.Exercise {
			out = append(out, s)
		}
	}
	return newestFirst(out, opts.Limit), nil
}

// Ping checks that the file's directory is writable by opening the file for
// append.
func (st *FileStore) Ping(context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	f, err := os.OpenFile(st.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return f.Close()
}

// Close implements [Store]. The file is opened per operation, so there is
// nothing to release.
func (st *FileStore) Close() error { return nil }

// scan calls fn for every decodable line in the file. Malformed lines are
// logged and skipped. A missing file behaves like an empty one.
func (st *FileStore) scan(fn func(Summary)) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	f, err := os.Open(st.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: open file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var s Summary
		if err := json.Unmarshal(b, &s); err != nil {
			slog.Warn("store: skipping malformed line", "path", st.path, "line", line, "err", err)
			continue
		}
		fn(s)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("store: read: %w", err)
	}
	return nil
}
