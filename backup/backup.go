// Package backup writes zstd-compressed JSON snapshots of the state store
// to a local directory, and restores from them. Snapshots are plain files
// so any external sync mechanism can pick them up.
package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/dnspause/dnspause/state"
)

const snapshotExt = ".json.zst"

// Writer writes and prunes snapshots in a directory.
type Writer struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithNow sets the time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates a snapshot writer for the given directory.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{
		dir:    dir,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write stores the snapshot and returns the file path. The write is atomic:
// data goes to a temp file which is renamed into place.
func (w *Writer) Write(snap *state.Snapshot) (string, error) {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	name := "dnspause-" + w.now().UTC().Format("20060102-150405") + snapshotExt
	path := filepath.Join(w.dir, name)

	tmp, err := os.CreateTemp(w.dir, ".snapshot-*")
	if err != nil {
		return "", fmt.Errorf("creating temp snapshot: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("creating zstd writer: %w", err)
	}

	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		_ = enc.Close()
		_ = tmp.Close()
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("flushing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("placing snapshot: %w", err)
	}

	w.logger.Info("wrote state snapshot", "path", path)
	return path, nil
}

// Prune removes the oldest snapshots, keeping the newest keep files.
// It returns how many were removed.
func (w *Writer) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	names, err := w.list()
	if err != nil {
		return 0, err
	}
	if len(names) <= keep {
		return 0, nil
	}

	// Names embed a UTC timestamp, so lexical order is age order.
	sort.Strings(names)
	stale := names[:len(names)-keep]

	removed := 0
	for _, name := range stale {
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil {
			return removed, fmt.Errorf("removing snapshot %s: %w", name, err)
		}
		removed++
	}

	if removed > 0 {
		w.logger.Debug("pruned snapshots", "removed", removed, "kept", keep)
	}
	return removed, nil
}

// Latest returns the path of the newest snapshot, or "" when none exist.
func (w *Writer) Latest() (string, error) {
	names, err := w.list()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(w.dir, names[len(names)-1]), nil
}

func (w *Writer) list() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing backup directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), snapshotExt) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Read loads a snapshot from a file written by Write.
func Read(path string) (*state.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	var snap state.Snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}
