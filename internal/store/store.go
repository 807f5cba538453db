// Package store owns the bleve index holding appointment documents: the
// on-disk or in-memory location, the single writer, and snapshot reads.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"

	apperrors "github.com/Aman-CERP/apptindex/internal/errors"
)

// MemoryPath selects an in-memory index.
const MemoryPath = ":memory:"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("index store is closed")

// Store is the index store handle. The bleve index is opened lazily and
// shared by the writer and by readers; each bleve search runs against its
// own point-in-time snapshot.
type Store struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	index  bleve.Index
	writer *Writer
	closed bool

	// inflight counts searches and commits using index outside mu.
	inflight sync.WaitGroup

	// writeMu serializes drain cycles within the process; fileLock does
	// the same across processes sharing an index directory.
	writeMu  sync.Mutex
	fileLock *FileLock
	retry    apperrors.RetryConfig
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLockRetry sets how long AcquireWriter retries a held file lock.
func WithLockRetry(cfg apperrors.RetryConfig) Option {
	return func(s *Store) {
		s.retry = cfg
	}
}

// New returns a store for the index at path, or an in-memory index when
// path is MemoryPath or empty. Nothing is opened until first use.
func New(path string, opts ...Option) *Store {
	if path == "" {
		path = MemoryPath
	}
	s := &Store{
		path:   path,
		logger: slog.Default(),
		retry:  apperrors.DefaultRetryConfig(),
	}
	if !s.InMemory() {
		s.fileLock = NewFileLock(path)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the configured index location.
func (s *Store) Path() string {
	return s.path
}

// InMemory reports whether the index lives only in memory.
func (s *Store) InMemory() bool {
	return s.path == MemoryPath
}

// Open returns the writer, opening the index if needed. A missing index
// is always created. An already open writer is reused unless force is set,
// in which case the index is erased.
func (s *Store) Open(force bool) (*Writer, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	wasOpen := s.index != nil
	if force && !wasOpen && !s.InMemory() {
		if err := os.RemoveAll(s.path); err != nil {
			s.mu.Unlock()
			return nil, apperrors.New(apperrors.ErrCodeIndexOpen, "cannot erase index", err).
				WithDetail("path", s.path)
		}
	}

	if s.index == nil {
		if err := s.openLocked(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}

	if force {
		s.writer = nil
	}
	if s.writer == nil {
		s.writer = newWriter(s)
	}
	w := s.writer
	s.mu.Unlock()

	// An open index is emptied in place so searches keep running.
	if force && wasOpen {
		if err := w.DeleteAll(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// AcquireWriter enters the drain critical section: the in-process mutex,
// then the cross-process file lock. The returned release must be called.
func (s *Store) AcquireWriter(ctx context.Context) (func(), error) {
	s.writeMu.Lock()

	if s.fileLock == nil {
		return s.writeMu.Unlock, nil
	}

	err := apperrors.Retry(ctx, s.retry, func() error {
		acquired, err := s.fileLock.TryLock()
		if err != nil {
			return apperrors.New(apperrors.ErrCodeIndexOpen, "cannot lock index", err)
		}
		if !acquired {
			return apperrors.New(apperrors.ErrCodeIndexLocked, "index is locked by another process", nil).
				WithDetail("lock", s.fileLock.Path())
		}
		return nil
	})
	if err != nil {
		s.writeMu.Unlock()
		return nil, err
	}

	return func() {
		if err := s.fileLock.Unlock(); err != nil {
			s.logger.Warn("index_unlock_failed", slog.String("error", err.Error()))
		}
		s.writeMu.Unlock()
	}, nil
}

// Search runs req against a snapshot of the committed index. A store whose
// index was never created creates an empty one first.
func (s *Store) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	idx, release, err := s.reader()
	if err != nil {
		return nil, err
	}
	defer release()
	return idx.SearchInContext(ctx, req)
}

// DocCount returns the number of committed documents.
func (s *Store) DocCount() (uint64, error) {
	idx, release, err := s.reader()
	if err != nil {
		return 0, err
	}
	defer release()
	return idx.DocCount()
}

// DocIDs returns the ids of every committed document.
func (s *Store) DocIDs(ctx context.Context) ([]string, error) {
	idx, release, err := s.reader()
	if err != nil {
		return nil, err
	}
	defer release()

	n, err := idx.DocCount()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(n), 0, false)
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Close closes the index once in-flight searches have finished. Staged
// writes that were never committed are lost.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.writer = nil
	idx := s.index
	s.index = nil
	s.mu.Unlock()

	if idx == nil {
		return nil
	}
	s.inflight.Wait()
	return idx.Close()
}

// acquire returns the open index and a release func, or a nil index when
// it has not been opened yet. The lock is only held while taking the
// reference, so a long search never holds back the writer.
func (s *Store) acquire() (bleve.Index, func(), error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, nil, ErrClosed
	}
	if s.index == nil {
		return nil, nil, nil
	}
	s.inflight.Add(1)
	return s.index, s.inflight.Done, nil
}

// reader is acquire, creating the index first when it does not exist.
func (s *Store) reader() (bleve.Index, func(), error) {
	idx, release, err := s.acquire()
	if err != nil || idx != nil {
		return idx, release, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if s.index == nil {
		s.logger.Info("index_created_on_read", slog.String("path", s.path))
		if err := s.openLocked(); err != nil {
			s.mu.Unlock()
			return nil, nil, err
		}
	}
	s.mu.Unlock()

	return s.reader()
}

// openLocked opens or creates the index, clearing it first when its
// metadata is damaged. Callers hold s.mu.
func (s *Store) openLocked() error {
	indexMapping := newIndexMapping()

	if s.InMemory() {
		idx, err := bleve.NewMemOnly(indexMapping)
		if err != nil {
			return apperrors.New(apperrors.ErrCodeIndexOpen, "cannot create in-memory index", err)
		}
		s.index = idx
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexOpen, "cannot create index directory", err).
			WithDetail("path", s.path)
	}

	if validErr := validateIndexIntegrity(s.path); validErr != nil {
		s.logger.Warn("index_corrupted",
			slog.String("path", s.path),
			slog.String("error", validErr.Error()))
		if err := s.clearLocked(validErr); err != nil {
			return err
		}
	}

	start := time.Now()
	idx, err := bleve.Open(s.path)
	switch {
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		idx, err = bleve.New(s.path, indexMapping)
		if err == nil {
			s.logger.Info("index_created", slog.String("path", s.path))
		}
	case err != nil && isCorruptionError(err):
		s.logger.Warn("index_open_failed",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		if clearErr := s.clearLocked(err); clearErr != nil {
			return clearErr
		}
		idx, err = bleve.New(s.path, indexMapping)
	}
	if err != nil {
		return apperrors.New(apperrors.ErrCodeIndexOpen, "cannot open index", err).
			WithDetail("path", s.path)
	}

	s.index = idx
	s.logger.Debug("index_opened",
		slog.String("path", s.path),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (s *Store) clearLocked(cause error) error {
	if err := os.RemoveAll(s.path); err != nil {
		return apperrors.New(apperrors.ErrCodeCorruptIndex,
			fmt.Sprintf("index corrupted at %s and cannot be removed: %v", s.path, cause), err).
			WithSuggestion("remove the index directory manually and run apptindex rebuild")
	}
	s.logger.Info("index_cleared",
		slog.String("path", s.path),
		slog.String("reason", "corruption detected, rebuild required"))
	return nil
}

// purgePage is the number of documents removed per batch when emptying
// the index.
const purgePage = 1000

// purgeAll deletes every document from idx, one page per batch.
func purgeAll(ctx context.Context, idx bleve.Index) (int, error) {
	removed := 0
	for {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), purgePage, 0, false)
		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return removed, err
		}
		if len(res.Hits) == 0 {
			return removed, nil
		}
		batch := idx.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := idx.Batch(batch); err != nil {
			return removed, err
		}
		removed += len(res.Hits)
	}
}
