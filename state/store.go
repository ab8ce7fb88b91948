// Package state keeps a history of runs and the checkpoint a run leaves behind
// when it needs an operator before it can be published. It is a small bbolt
// database, by default in ~/.tokengen/state.db
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/overmindtech/tokengen/pipeline"
	"go.etcd.io/bbolt"
)

// Bucket names for bbolt
var (
	runsBucketName = []byte("runs")
	metaBucketName = []byte("meta")
	checkpointKey  = []byte("checkpoint")
)

// ErrNotFound is returned when a run doesn't exist
var ErrNotFound = errors.New("run not found")

// Run is the record of one `tokengen run`
type Run struct {
	ID         uuid.UUID          `json:"id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at,omitzero"`
	Regions    []string           `json:"regions"`
	Summaries  []pipeline.Summary `json:"summaries"`
	Total      int                `json:"total"`
	// Published is set once the token files were committed and pushed
	Published bool `json:"published"`
	// NeedsIntervention is set while the run waits on a checkpoint
	NeedsIntervention bool   `json:"needs_intervention"`
	Error             string `json:"error,omitempty"`
}

// NewRun returns a run with a time ordered ID
func NewRun(regions []string, now time.Time) (*Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating run id: %w", err)
	}
	return &Run{
		ID:        id,
		StartedAt: now,
		Regions:   regions,
	}, nil
}

// Checkpoint marks a run that stopped at a version control conflict
type Checkpoint struct {
	RunID     uuid.UUID `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Reason    string    `json:"reason"`
	Branch    string    `json:"branch"`
}

// Store is the bbolt backed state database
type Store struct {
	db   *bbolt.DB
	path string
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// a second tokengen holding the file makes this time out rather than hang
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %v: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{runsBucketName, metaBucketName} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Path of the database file
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces run
func (s *Store) SaveRun(run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucketName).Put(run.ID[:], data)
	})
}

// GetRun returns the run with id, or ErrNotFound
func (s *Store) GetRun(id uuid.UUID) (*Run, error) {
	var run *Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(runsBucketName).Get(id[:])
		if data == nil {
			return fmt.Errorf("%w: %v", ErrNotFound, id)
		}
		run = new(Run)
		return json.Unmarshal(data, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Runs returns up to limit runs, newest first. A limit of zero or less
// returns every run
func (s *Store) Runs(limit int) ([]*Run, error) {
	var runs []*Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		// v7 ids sort by creation time, so walking backwards is newest first
		c := tx.Bucket(runsBucketName).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			run := new(Run)
			if err := json.Unmarshal(v, run); err != nil {
				return fmt.Errorf("decoding run %x: %w", k, err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	return runs, err
}

// SetCheckpoint records cp, replacing any existing checkpoint
func (s *Store) SetCheckpoint(cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucketName).Put(checkpointKey, data)
	})
}

// Checkpoint returns the pending checkpoint, or nil if there isn't one
func (s *Store) Checkpoint() (*Checkpoint, error) {
	var cp *Checkpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(metaBucketName).Get(checkpointKey)
		if data == nil {
			return nil
		}
		cp = new(Checkpoint)
		return json.Unmarshal(data, cp)
	})
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	return cp, nil
}

// ClearCheckpoint removes the pending checkpoint if there is one
func (s *Store) ClearCheckpoint() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucketName).Delete(checkpointKey)
	})
}
