package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
)

var (
	bucketChunks = []byte("chunks")
	bucketMeta   = []byte("meta")
	keyModel     = []byte("model")
)

// Open returns an index whose entries are written through to a bbolt file at
// path and reloaded from it on the next Open.
func Open(path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	idx := NewIndex()
	idx.db = db
	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		idx.model = string(meta.Get(keyModel))

		chunks, err := tx.CreateBucketIfNotExists(bucketChunks)
		if err != nil {
			return err
		}
		return chunks.ForEach(func(k, v []byte) error {
			var e document.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode chunk %s: %w", k, err)
			}
			idx.entries[e.ID] = e
			idx.norms[e.ID] = norm(e.Vector)
			if idx.dimension == 0 {
				idx.dimension = len(e.Vector)
			}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the backing file. It is a no-op for an index from NewIndex.
func (s *Index) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Index) persistModel(model string) error {
	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyModel, []byte(model))
	})
}

func (s *Index) persist(put []document.Entry, del []string) error {
	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		for _, e := range put {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(e.ID), data); err != nil {
				return err
			}
		}
		for _, id := range del {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}
