package contextstore

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const mapperBucket = "mapper_context"

// Persister durably stores the mapper scope in a bbolt database so it
// survives a mapper restart; the flow and script scopes are intentionally
// not persisted since they are defined to reset on reload/restart.
type Persister struct {
	db *bolt.DB
}

// OpenPersister opens or creates the bbolt database at path.
func OpenPersister(path string) (*Persister, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("contextstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(mapperBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("contextstore: create bucket: %w", err)
	}
	return &Persister{db: db}, nil
}

// Close releases the underlying database file.
func (p *Persister) Close() error {
	return p.db.Close()
}

// Save writes the mapper scope snapshot to disk, one key per bbolt entry so
// that individual key deletes don't require rewriting the whole namespace.
func (p *Persister) Save(snapshot map[string]any) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(mapperBucket))
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		for k, v := range snapshot {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal key %s: %w", k, err)
			}
			if err := b.Put([]byte(k), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetKey upserts a single key without rewriting the whole snapshot.
func (p *Persister) SetKey(key string, value any) error {
	if value == nil {
		return p.DeleteKey(key)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal key %s: %w", key, err)
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(mapperBucket)).Put([]byte(key), data)
	})
}

// DeleteKey removes a single persisted key.
func (p *Persister) DeleteKey(key string) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(mapperBucket)).Delete([]byte(key))
	})
}

// Load reads the persisted mapper scope back into a snapshot map.
func (p *Persister) Load() (map[string]any, error) {
	out := make(map[string]any)
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(mapperBucket))
		return b.ForEach(func(k, v []byte) error {
			var value any
			if err := json.Unmarshal(v, &value); err != nil {
				return fmt.Errorf("unmarshal key %s: %w", k, err)
			}
			out[string(k)] = value
			return nil
		})
	})
	return out, err
}
