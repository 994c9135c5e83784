package location

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

var bucketLocations = []byte("locations")

// BoltRepo is the single-process ledger used when no database is configured.
type BoltRepo struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBoltRepo(path string) (*BoltRepo, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLocations)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltRepo{db: db, now: time.Now}, nil
}

func (r *BoltRepo) Close() error {
	return r.db.Close()
}

// record is the stored form of a State together with its current claim.
type record struct {
	State
	ClaimToken string `json:"claim_token,omitempty"`
}

func getState(b *bbolt.Bucket, id string) (*record, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var s record
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode location %s: %w", id, err)
	}
	return &s, nil
}

func putState(b *bbolt.Bucket, s *record) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return b.Put([]byte(s.ID), data)
}

func (r *BoltRepo) Claim(_ context.Context, loc source.Location, ttl time.Duration, force bool) (string, error) {
	token := ""
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLocations)
		now := r.now()
		s, err := getState(b, loc.ID())
		if err != nil {
			return err
		}
		switch {
		case s == nil:
			s = &record{State: State{ID: loc.ID(), Origin: loc.Origin, URL: loc.URL}}
		case s.Status == StatusFailed:
		case s.Status == StatusProcessing && now.Sub(s.UpdatedAt) > ttl:
		case force && s.Status != StatusProcessing:
		default:
			return nil
		}
		s.Status = StatusProcessing
		s.Reason = ""
		s.Attempts++
		s.UpdatedAt = now
		s.ClaimToken = uuid.NewString()
		token = s.ClaimToken
		return putState(b, s)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// owned applies fn only while token still holds the processing claim on id.
func (r *BoltRepo) owned(id, token string, fn func(*State)) error {
	return r.update(id, func(s *record) error {
		if s.Status != StatusProcessing || s.ClaimToken == "" || s.ClaimToken != token {
			return ErrClaimLost
		}
		fn(&s.State)
		return nil
	})
}

func (r *BoltRepo) update(id string, fn func(*record) error) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLocations)
		s, err := getState(b, id)
		if err != nil {
			return err
		}
		if s == nil {
			return ErrNotFound
		}
		if err := fn(s); err != nil {
			return err
		}
		s.UpdatedAt = r.now()
		return putState(b, s)
	})
}

func (r *BoltRepo) Complete(_ context.Context, id, token, documentID, contentHash string, chunkCount int) error {
	return r.owned(id, token, func(s *State) {
		s.Status = StatusCompleted
		s.Outcome = "ingested"
		s.DocumentID = documentID
		s.ContentHash = contentHash
		s.ChunkCount = chunkCount
		s.Reason = ""
	})
}

func (r *BoltRepo) Skip(_ context.Context, id, token, outcome, reason string) error {
	return r.owned(id, token, func(s *State) {
		s.Status = StatusSkipped
		s.Outcome = outcome
		s.Reason = reason
	})
}

func (r *BoltRepo) Fail(_ context.Context, id, token, reason string) error {
	return r.owned(id, token, func(s *State) {
		s.Status = StatusFailed
		s.Outcome = "failed"
		s.Reason = reason
	})
}

func (r *BoltRepo) Reset(_ context.Context, id string) error {
	return r.update(id, func(s *record) error {
		s.Status = StatusFailed
		s.Outcome = "reset"
		s.Reason = "reset"
		s.ClaimToken = ""
		return nil
	})
}

func (r *BoltRepo) Get(_ context.Context, id string) (*State, error) {
	var out *State
	err := r.db.View(func(tx *bbolt.Tx) error {
		s, err := getState(tx.Bucket(bucketLocations), id)
		if s != nil {
			out = &s.State
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

func (r *BoltRepo) Terminal(_ context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLocations)
		for _, id := range ids {
			s, err := getState(b, id)
			if err != nil {
				return err
			}
			if s != nil && s.Status.Terminal() {
				out[id] = true
			}
		}
		return nil
	})
	return out, err
}

func (r *BoltRepo) each(fn func(State)) error {
	return r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLocations).ForEach(func(_, v []byte) error {
			var s State
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			fn(s)
			return nil
		})
	})
}

func (r *BoltRepo) ListFailed(_ context.Context) ([]State, error) {
	var states []State
	err := r.each(func(s State) {
		if s.Status == StatusFailed {
			states = append(states, s)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(states, func(i, j int) bool {
		if !states[i].UpdatedAt.Equal(states[j].UpdatedAt) {
			return states[i].UpdatedAt.After(states[j].UpdatedAt)
		}
		return states[i].ID < states[j].ID
	})
	return states, nil
}

func (r *BoltRepo) CountByStatus(_ context.Context) (map[Status]int, error) {
	counts := make(map[Status]int)
	err := r.each(func(s State) { counts[s.Status]++ })
	return counts, err
}
