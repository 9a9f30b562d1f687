// Package state persists the small amount of local state dnspause keeps:
// the selected profile identifier and a bounded history of toggle
// operations. Storage is a single bbolt file; profile state itself lives
// server-side and is never persisted here.
package state

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("state: not found")

// DefaultMaxHistory bounds the toggle history; the oldest records are
// pruned as new ones are appended.
const DefaultMaxHistory = 500

var (
	bucketSettings = []byte("settings")
	bucketHistory  = []byte("history")
)

var (
	keySelectedProfile = []byte("selected_profile")
	keyPauseDuration   = []byte("pause_duration")
)

// ToggleRecord is one completed toggle operation.
type ToggleRecord struct {
	ID          string    `json:"id"`
	ProfileID   string    `json:"profile_id"`
	ProfileName string    `json:"profile_name"`
	Action      string    `json:"action"` // "paused" or "resumed"
	Until       time.Time `json:"until,omitempty"`
	At          time.Time `json:"at"`
}

// Snapshot is an exportable copy of the whole store, used by backups.
type Snapshot struct {
	SelectedProfile string         `json:"selected_profile,omitempty"`
	History         []ToggleRecord `json:"history,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Store is the bbolt-backed state database.
type Store struct {
	db         *bbolt.DB
	logger     *slog.Logger
	now        func() time.Time
	maxHistory int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithMaxHistory bounds the number of retained toggle records.
func WithMaxHistory(n int) Option {
	return func(s *Store) {
		s.maxHistory = n
	}
}

// New creates a Store; call Open before use.
func New(opts ...Option) *Store {
	s := &Store{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
		maxHistory: DefaultMaxHistory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database at the given path, creating buckets as needed.
func (s *Store) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	s.db = db

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSettings, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return err
	}

	s.logger.Debug("opened state database", "path", path)
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SelectedProfile returns the last-selected profile identifier.
func (s *Store) SelectedProfile(_ context.Context) (string, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketSettings).Get(keySelectedProfile)
		if val == nil {
			return ErrNotFound
		}
		id = string(val)
		return nil
	})
	return id, err
}

// SetSelectedProfile stores the last-selected profile identifier.
func (s *Store) SetSelectedProfile(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Put(keySelectedProfile, []byte(id))
	})
}

// PauseDuration returns the preferred pause duration.
func (s *Store) PauseDuration(_ context.Context) (time.Duration, error) {
	var d time.Duration
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketSettings).Get(keyPauseDuration)
		if val == nil {
			return ErrNotFound
		}
		parsed, err := time.ParseDuration(string(val))
		if err != nil {
			return fmt.Errorf("parsing stored pause duration: %w", err)
		}
		d = parsed
		return nil
	})
	return d, err
}

// SetPauseDuration stores the preferred pause duration.
func (s *Store) SetPauseDuration(_ context.Context, d time.Duration) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Put(keyPauseDuration, []byte(d.String()))
	})
}

// AppendToggle appends a toggle record and prunes history past the bound.
// Records are keyed by bucket sequence so iteration order is append order.
func (s *Store) AppendToggle(_ context.Context, rec ToggleRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = s.now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding toggle record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketHistory)

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating history sequence: %w", err)
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("writing toggle record: %w", err)
		}

		return s.pruneHistory(bucket)
	})
}

// pruneHistory removes the oldest records while over the bound.
func (s *Store) pruneHistory(bucket *bbolt.Bucket) error {
	if s.maxHistory <= 0 {
		return nil
	}

	count := 0
	c := bucket.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		count++
	}

	excess := count - s.maxHistory
	if excess <= 0 {
		return nil
	}

	// Collect keys first; deleting through the bucket while a cursor is
	// iterating invalidates the cursor position.
	stale := make([][]byte, 0, excess)
	for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// History returns up to limit toggle records, newest first. A limit of 0
// returns everything.
func (s *Store) History(_ context.Context, limit int) ([]ToggleRecord, error) {
	var records []ToggleRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec ToggleRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding toggle record: %w", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Export copies the whole store into a Snapshot.
func (s *Store) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CreatedAt: s.now()}

	selected, err := s.SelectedProfile(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	snap.SelectedProfile = selected

	history, err := s.History(ctx, 0)
	if err != nil {
		return nil, err
	}
	snap.History = history

	return snap, nil
}

// Restore replaces the store contents with the snapshot's. The snapshot's
// history is newest-first (as produced by Export); records are re-appended
// oldest-first so sequence order is preserved.
func (s *Store) Restore(ctx context.Context, snap *Snapshot) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketHistory); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(bucketHistory); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("resetting history: %w", err)
	}

	if snap.SelectedProfile != "" {
		if err := s.SetSelectedProfile(ctx, snap.SelectedProfile); err != nil {
			return err
		}
	} else {
		err := s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketSettings).Delete(keySelectedProfile)
		})
		if err != nil {
			return err
		}
	}

	for i := len(snap.History) - 1; i >= 0; i-- {
		if err := s.AppendToggle(ctx, snap.History[i]); err != nil {
			return err
		}
	}
	return nil
}
