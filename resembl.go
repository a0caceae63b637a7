// Package resembl is a local similarity-search engine over a corpus of
// assembly-code snippets: tokenize/normalize, weighted n-gram shingling,
// MinHash, banded LSH with an on-disk cache, and hybrid Jaccard/Levenshtein/
// CFG ranking, backed by content-addressed storage with alias, tag,
// collection, and version side-tables.
package resembl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maci0/resembl/internal/config"
	"github.com/maci0/resembl/internal/kvstore"
	"github.com/maci0/resembl/pkg/lsh"
	"github.com/maci0/resembl/pkg/logging"
	"github.com/maci0/resembl/pkg/rerr"
	"github.com/maci0/resembl/pkg/storage"
	"github.com/maci0/resembl/pkg/types"
	workerpool "github.com/maci0/resembl/pkg/workerPool"
)

var (
	ErrNotStarted = errors.New("resembl: engine not started")
	ErrClosed     = errors.New("resembl: engine closed")
)

// Config configures an Engine instance.
type Config struct {
	// Paths holds the data directory. Only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is a free-space threshold enforced before opening the
	// KV store.
	MinimumFreeGB uint
	// CacheDir overrides the LSH cache directory; defaults to
	// CACHE_DIR or Paths[0]/cache.
	CacheDir string
	// ConfigDir overrides the config file directory; defaults to
	// CONFIG_DIR or ~/.config/resembl.
	ConfigDir string
	// Logger is an optional structured logger; defaults to
	// logging.New(logging.Options{}).
	Logger *slog.Logger
	// WorkerCount sizes the bulk-import worker pool; 0 picks the
	// pool's own default (3x NumCPU).
	WorkerCount int
}

// Engine is resembl's main handle: it owns the storage backend, the live
// LSH index, and the configuration, and exposes the Search Orchestrator
// operations (Add, Find, Compare, Reindex, Clean, Merge, Stats).
type Engine struct {
	log    *slog.Logger
	config Config
	cfg    config.Config

	storageMu sync.RWMutex
	store     *storage.Storage
	kv        *kvstore.Store

	indexMu sync.RWMutex
	index   *lsh.Index

	pool *workerpool.WorkerPool[importResult]

	cachePath string

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

func defaultLogger() *slog.Logger {
	return logging.New(logging.Options{Level: slog.LevelInfo})
}

// New constructs an Engine handle. New performs no I/O; call Start to open
// storage and build or load the LSH index.
func New(conf Config) (*Engine, error) {
	if len(conf.Paths) == 0 {
		return nil, fmt.Errorf("resembl: at least one path must be provided in config")
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	return &Engine{log: conf.Logger, config: conf}, nil
}

// Start opens the KV store, loads configuration, and ensures the LSH
// index is ready (loaded from cache or rebuilt from storage). Start is
// idempotent; only the first call has effect.
func (e *Engine) Start(ctx context.Context) error {
	var startErr error
	e.startOnce.Do(func() {
		dataRoot := e.config.Paths[0]
		if err := os.MkdirAll(dataRoot, 0o700); err != nil {
			startErr = fmt.Errorf("resembl: mkdir %s: %w", dataRoot, err)
			return
		}

		configDir := e.config.ConfigDir
		if configDir == "" {
			var err error
			configDir, err = config.Dir()
			if err != nil {
				startErr = fmt.Errorf("resembl: resolving config dir: %w", err)
				return
			}
		}
		cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
		if err != nil {
			startErr = fmt.Errorf("resembl: loading config: %w", err)
			return
		}
		e.cfg = cfg

		kvPath := filepath.Join(dataRoot, "kv")
		if err := os.MkdirAll(kvPath, 0o700); err != nil {
			startErr = fmt.Errorf("resembl: mkdir %s: %w", kvPath, err)
			return
		}

		kv, err := kvstore.Open(kvstore.StoreConfig{
			Paths:            []string{kvPath},
			MinimumFreeSpace: int(e.config.MinimumFreeGB),
		})
		if err != nil {
			startErr = fmt.Errorf("resembl: opening kv store: %w", err)
			return
		}

		store, err := storage.New(kv, e.log)
		if err != nil {
			kv.Close()
			startErr = fmt.Errorf("resembl: opening storage: %w", err)
			return
		}

		cacheDir := e.config.CacheDir
		if cacheDir == "" {
			cacheDir = os.Getenv("CACHE_DIR")
		}
		if cacheDir == "" {
			cacheDir = filepath.Join(dataRoot, "cache")
		}
		if err := os.MkdirAll(cacheDir, 0o700); err != nil {
			startErr = fmt.Errorf("resembl: creating cache dir: %w", err)
			return
		}

		e.storageMu.Lock()
		e.kv = kv
		e.store = store
		e.storageMu.Unlock()
		e.cachePath = filepath.Join(cacheDir, "lsh.cache")

		e.pool = workerpool.NewWorkerPool[importResult](workerpool.Config{WorkerCount: e.config.WorkerCount})
		e.started.Store(true)

		if err := e.ensureIndex(); err != nil {
			if rerr.Is(err, rerr.StaleIndex) {
				e.log.Warn("stored minhashes are stale, reindexing", "error", err)
				if reindexErr := e.Reindex(); reindexErr != nil {
					startErr = fmt.Errorf("resembl: recovering from stale index: %w", reindexErr)
					e.started.Store(false)
					return
				}
			} else {
				startErr = fmt.Errorf("resembl: ensuring index: %w", err)
				e.started.Store(false)
				return
			}
		}

		e.log.Info("resembl engine started", "path", dataRoot)
	})
	return startErr
}

// Run starts the engine, blocks until ctx is canceled, then closes it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return e.CloseWithoutContext()
}

// Close saves the LSH cache and closes the storage and KV store; it does
// not stop the worker pool's goroutines. Close is idempotent.
func (e *Engine) Close(ctx context.Context) error {
	var closeErr error
	e.closeOnce.Do(func() {
		e.indexMu.RLock()
		idx := e.index
		e.indexMu.RUnlock()
		if idx != nil {
			if fp, err := e.fingerprint(); err == nil {
				if err := lsh.Save(e.cachePath, idx, lsh.Fingerprint(fp)); err != nil {
					e.log.Warn("saving lsh cache on close failed", "error", err)
				}
			}
		}

		e.storageMu.Lock()
		store := e.store
		kv := e.kv
		e.store = nil
		e.kv = nil
		e.storageMu.Unlock()

		if store != nil {
			store.Close()
		}
		if kv != nil {
			if err := kv.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("resembl: closing kv store: %w", err))
			}
		}

		e.log.Info("resembl engine closed")
	})
	return closeErr
}

// CloseWithoutContext closes the engine using a background context.
func (e *Engine) CloseWithoutContext() error {
	return e.Close(context.Background())
}

func (e *Engine) storageHandle() (*storage.Storage, error) {
	if !e.started.Load() {
		return nil, ErrNotStarted
	}
	e.storageMu.RLock()
	store := e.store
	e.storageMu.RUnlock()
	if store == nil {
		return nil, ErrClosed
	}
	return store, nil
}

func (e *Engine) fingerprint() (uint64, error) {
	store, err := e.storageHandle()
	if err != nil {
		return 0, err
	}
	return store.Fingerprint()
}

func (e *Engine) indexParams() types.IndexParams {
	params := types.IndexParams{
		NumPermutations: e.cfg.NumPermutations,
		NgramSize:       e.cfg.NgramSize,
		Generalize:      true,
	}
	params.Bands, params.RowsPerBand = lsh.Bands(params.NumPermutations, e.cfg.LSHThreshold)
	return params
}

func nowUnixNano() int64 {
	return time.Now().UnixNano()
}
