// Package kvstore wraps a badger key/value database as the transactional
// local storage backend for resembl's snippet, alias, tag, collection, and
// version-log records.
package kvstore

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// StoreConfig configures a Store's underlying badger database.
type StoreConfig struct {
	Paths            []string // absolute path; only the first is currently used
	MinimumFreeSpace int      // minimum free disk space required, in GB
	Logger           *logrus.Logger
}

// Store is a generic byte-oriented wrapper over badger, giving resembl's
// higher layers (pkg/storage) a transactional key/value interface without
// any resembl-specific record shapes baked in.
type Store struct {
	config       StoreConfig
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
	log          *logrus.Logger
}

// Open opens (or creates) a badger database per config, after validating
// the configured path and available free space.
func Open(config StoreConfig) (*Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	log := config.Logger

	if err := checkConfig(config); err != nil {
		return nil, fmt.Errorf("resembl: checking kvstore config: %w", err)
	}

	opts := badger.DefaultOptions(config.Paths[0])
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("resembl: opening badger database: %w", err)
	}

	if err := logDiskUsage(log, config.Paths); err != nil {
		log.WithError(err).Warn("could not report disk usage for storage path")
	}

	return &Store{config: config, badgerDB: db, log: log}, nil
}

// Write stores a single key/value pair in its own transaction.
func (s *Store) Write(key, value []byte) error {
	atomic.AddUint64(&s.writeCounter, 1)
	return s.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes key from the store. Deleting a missing key is a no-op.
func (s *Store) Delete(key []byte) error {
	atomic.AddUint64(&s.writeCounter, 1)
	return s.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// WriteBatch writes every key/value pair in one transaction.
func (s *Store) WriteBatch(pairs [][2][]byte) error {
	return s.badgerDB.Update(func(txn *badger.Txn) error {
		for _, kv := range pairs {
			atomic.AddUint64(&s.writeCounter, 1)
			if err := txn.Set(kv[0], kv[1]); err != nil {
				return fmt.Errorf("resembl: writing batch entry: %w", err)
			}
		}
		return nil
	})
}

// Read returns the value stored at key, or badger.ErrKeyNotFound.
func (s *Store) Read(key []byte) ([]byte, error) {
	atomic.AddUint64(&s.readCounter, 1)
	var value []byte
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resembl: reading key %s: %w", hex.EncodeToString(key), err)
	}
	return value, nil
}

// Exists reports whether key is present, without copying its value.
func (s *Store) Exists(key []byte) (bool, error) {
	atomic.AddUint64(&s.readCounter, 1)
	var exists bool
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// Update runs fn inside a single read-write transaction, letting callers
// (pkg/storage) compose multi-key mutations atomically.
func (s *Store) Update(fn func(txn *badger.Txn) error) error {
	return s.badgerDB.Update(fn)
}

// View runs fn inside a single read-only transaction.
func (s *Store) View(fn func(txn *badger.Txn) error) error {
	return s.badgerDB.View(fn)
}

// IterPrefix calls fn with every key/value pair whose key has the given
// prefix, in key order, stopping early if fn returns false. Values are
// copied out of the transaction so fn may retain them.
func (s *Store) IterPrefix(prefix []byte, fn func(key, value []byte) (keepGoing bool)) error {
	atomic.AddUint64(&s.readCounter, 1)
	return s.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("resembl: copying iterated value: %w", err)
			}
			if !fn(key, value) {
				break
			}
		}
		return nil
	})
}

// Clean flattens and garbage-collects the value log, per
// clean() orchestrator operation.
func (s *Store) Clean() error {
	if err := s.badgerDB.Sync(); err != nil {
		return fmt.Errorf("resembl: syncing db: %w", err)
	}
	if err := s.badgerDB.Flatten(runtime.NumCPU()); err != nil {
		return fmt.Errorf("resembl: flattening db: %w", err)
	}
	if err := s.badgerDB.RunValueLogGC(0.1); err != nil && err != badger.ErrNoRewrite {
		return fmt.Errorf("resembl: running value log gc: %w", err)
	}
	return nil
}

// Close syncs and closes the underlying database.
func (s *Store) Close() error {
	if err := s.badgerDB.Close(); err != nil {
		return fmt.Errorf("resembl: closing badger database: %w", err)
	}
	return nil
}
