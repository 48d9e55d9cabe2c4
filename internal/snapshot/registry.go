package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketVersion   = []byte("v1")
	bucketSnapshots = []byte("snapshots")
)

// Record is the metadata kept per snapshot.
type Record struct {
	Num         uint64    `json:"-"`
	Parent      uint64    `json:"parent,omitempty"`
	ReadOnly    bool      `json:"readOnly"`
	CreatedAt   time.Time `json:"createdAt"`
	Description string    `json:"description,omitempty"`
}

// Registry stores snapshot records in a bolt database next to the snapshots.
type Registry struct {
	db *bolt.DB
}

// OpenRegistry opens (creating if needed) the registry database at path.
func OpenRegistry(path string) (*Registry, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open snapshot registry %s: %w", path, err)
	}
	return &Registry{db: db}, nil
}

// Close releases the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

func numKey(num uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], num)
	return key[:]
}

// Put stores or replaces the record of rec.Num.
func (r *Registry) Put(rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		vb, err := tx.CreateBucketIfNotExists(bucketVersion)
		if err != nil {
			return err
		}
		b, err := vb.CreateBucketIfNotExists(bucketSnapshots)
		if err != nil {
			return err
		}
		return b.Put(numKey(rec.Num), value)
	})
}

// Get returns the record of snapshot num.
func (r *Registry) Get(num uint64) (Record, error) {
	var rec Record
	err := r.db.View(func(tx *bolt.Tx) error {
		b := snapshotBucket(tx)
		if b == nil {
			return fmt.Errorf("snapshot %d: %w", num, errdefs.ErrNotFound)
		}
		value := b.Get(numKey(num))
		if value == nil {
			return fmt.Errorf("snapshot %d: %w", num, errdefs.ErrNotFound)
		}
		return json.Unmarshal(value, &rec)
	})
	rec.Num = num
	return rec, err
}

// Delete removes the record of snapshot num. Removing an absent record is
// not an error.
func (r *Registry) Delete(num uint64) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := snapshotBucket(tx)
		if b == nil {
			return nil
		}
		return b.Delete(numKey(num))
	})
}

// List returns all records ordered by snapshot number.
func (r *Registry) List() ([]Record, error) {
	var out []Record
	err := r.db.View(func(tx *bolt.Tx) error {
		b := snapshotBucket(tx)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			rec.Num = binary.BigEndian.Uint64(k)
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func snapshotBucket(tx *bolt.Tx) *bolt.Bucket {
	vb := tx.Bucket(bucketVersion)
	if vb == nil {
		return nil
	}
	return vb.Bucket(bucketSnapshots)
}
