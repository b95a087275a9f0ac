package pebblestore

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = pebble.ErrNotFound

// Options configures the wrapper.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// SyncWrites requests a WAL fsync on each committed batch. Off, Pebble's
	// own policies still apply; durability latency is traded for throughput.
	SyncWrites bool
}

// DB wraps a Pebble database with the configured sync policy.
type DB struct {
	inner *pebble.DB
	sync  bool
}

// Open creates or opens a Pebble database at opts.DataDir.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebblestore: Options.DataDir is required")
	}
	inner, err := pebble.Open(opts.DataDir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &DB{inner: inner, sync: opts.SyncWrites}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

func (db *DB) writeOpt() *pebble.WriteOptions {
	if db.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// NewBatch creates a batch for atomic multi-key updates.
func (db *DB) NewBatch() *pebble.Batch {
	return db.inner.NewBatch()
}

// CommitBatch commits the batch with the configured sync policy.
func (db *DB) CommitBatch(b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebblestore: nil batch")
	}
	return b.Commit(db.writeOpt())
}

// Set writes a single key.
func (db *DB) Set(key, value []byte) error {
	return db.inner.Set(key, value, db.writeOpt())
}

// Delete removes a single key.
func (db *DB) Delete(key []byte) error {
	return db.inner.Delete(key, db.writeOpt())
}

// Get copies the value for the given key.
func (db *DB) Get(key []byte) ([]byte, error) {
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// NewIter creates an iterator bounded to [lower, upper).
func (db *DB) NewIter(lower, upper []byte) (*pebble.Iterator, error) {
	return db.inner.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
}

// PrefixUpperBound returns the exclusive upper bound for a key prefix scan.
func PrefixUpperBound(prefix []byte) []byte {
	return append(append([]byte{}, prefix...), 0xFF)
}
