// Package local emulates a serverless control plane on top of bbolt.
//
// Every Make call upserts a record keyed by the resource's logical identity,
// so repeating a deployment converges instead of duplicating state. Record
// IDs are generated once and survive restarts.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/types"
)

// Name is the registry name of this backend
const Name = "local"

// DBFile is the state file created inside the state directory
const DBFile = "fundeploy.db"

var bucketMeta = []byte("meta")

var keyRevision = []byte("current_revision")

// Record is the stored state of one realized resource
type Record struct {
	Kind types.Kind `json:"kind"`
	Key  string     `json:"key"`
	ID   string     `json:"id"`
	Name string     `json:"name"`
	ARN  string     `json:"arn"`
	// Generation increases whenever the stored input changes.
	Generation int64             `json:"generation"`
	CreatedRev int64             `json:"createdRev"`
	UpdatedRev int64             `json:"updatedRev"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Input      json.RawMessage   `json:"input"`
}

// Handle converts a record to the handle dependents consume
func (r *Record) Handle() types.Handle {
	attrs := make(map[string]string, len(r.Attributes)+1)
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	attrs["generation"] = strconv.FormatInt(r.Generation, 10)
	return types.Handle{Kind: r.Kind, Name: r.Name, ID: r.ID, ARN: r.ARN, Attributes: attrs}
}

// Backend is the bbolt-backed control plane
type Backend struct {
	mu sync.RWMutex

	// In-memory index of every record, ordered by kind then key
	index *btree.BTreeG[*Record]

	db         *bbolt.DB
	currentRev int64
	dir        string
}

var _ providers.Primitives = (*Backend)(nil)

// Factory opens a backend in cfg.StateDir
func Factory(_ context.Context, cfg providers.Config) (providers.Primitives, error) {
	dir := cfg.StateDir
	if dir == "" {
		dir = "."
	}
	return Open(dir)
}

// Open opens or creates the state database in dir
func Open(dir string) (*Backend, error) {
	db, err := bbolt.Open(filepath.Join(dir, DBFile), 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketMeta}
		for _, kind := range kinds {
			buckets = append(buckets, []byte(kind))
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	b := &Backend{
		index: btree.NewG(32, func(a, b *Record) bool {
			if a.Kind != b.Kind {
				return a.Kind < b.Kind
			}
			return a.Key < b.Key
		}),
		db:  db,
		dir: dir,
	}
	if err := b.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

var kinds = []types.Kind{
	types.KindRole, types.KindService, types.KindFunction, types.KindTrigger,
	types.KindGroup, types.KindApi, types.KindTable,
}

// Name returns the backend name
func (b *Backend) Name() string { return Name }

// Close closes the state database
func (b *Backend) Close() error {
	return b.db.Close()
}

// CurrentRevision returns the revision of the last write
func (b *Backend) CurrentRevision() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentRev
}

// Get returns the record for a logical key
func (b *Backend) Get(kind types.Kind, key string) (*Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Get(&Record{Kind: kind, Key: key})
}

// list returns every record of one kind, ordered by key
func (b *Backend) list(kind types.Kind) []*Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Record
	b.index.AscendRange(&Record{Kind: kind}, &Record{Kind: kind + "\x00"}, func(r *Record) bool {
		out = append(out, r)
		return true
	})
	return out
}

// upsert stores input under (kind, key) and returns the record's handle.
// An unchanged input is a no-op that keeps revision and generation.
func (b *Backend) upsert(ctx context.Context, kind types.Kind, key, name string, attrs map[string]string, input any) (types.Handle, error) {
	if err := ctx.Err(); err != nil {
		return types.Handle{}, err
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return types.Handle{}, types.Permanent("local."+string(kind), fmt.Errorf("failed to encode input: %w", err))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, found := b.index.Get(&Record{Kind: kind, Key: key})
	if found && bytes.Equal(existing.Input, raw) && equalAttrs(existing.Attributes, attrs) {
		return existing.Handle(), nil
	}

	rev := b.currentRev + 1
	rec := &Record{
		Kind:       kind,
		Key:        key,
		Name:       name,
		ARN:        fmt.Sprintf("arn:fundeploy:local:%s/%s", kind, key),
		Generation: 1,
		CreatedRev: rev,
		UpdatedRev: rev,
		UpdatedAt:  time.Now().UTC(),
		Attributes: attrs,
		Input:      raw,
	}
	if found {
		rec.ID = existing.ID
		rec.CreatedRev = existing.CreatedRev
		rec.Generation = existing.Generation + 1
	} else {
		rec.ID = uuid.NewString()
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(kind)).Put([]byte(key), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyRevision, []byte(strconv.FormatInt(rev, 10)))
	})
	if err != nil {
		return types.Handle{}, types.Transient("local."+string(kind), fmt.Errorf("failed to write record: %w", err))
	}

	b.currentRev = rev
	b.index.ReplaceOrInsert(rec)
	return rec.Handle(), nil
}

// exists reports whether a record is stored for (kind, key)
func (b *Backend) exists(kind types.Kind, key string) bool {
	_, ok := b.Get(kind, key)
	return ok
}

func (b *Backend) load() error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyRevision); data != nil {
			rev, err := strconv.ParseInt(string(data), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt revision %q: %w", data, err)
			}
			b.currentRev = rev
		}
		for _, kind := range kinds {
			err := tx.Bucket([]byte(kind)).ForEach(func(k, v []byte) error {
				var rec Record
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("corrupt record %s/%s: %w", kind, k, err)
				}
				b.index.ReplaceOrInsert(&rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func equalAttrs(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
