package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/apptindex/internal/document"
	apperrors "github.com/Aman-CERP/apptindex/internal/errors"
)

// Writer stages document writes and deletes in a bleve batch. Nothing is
// visible to readers until Commit applies the batch.
type Writer struct {
	store *Store

	mu      sync.Mutex
	staged  int
	adds    map[string]document.Document
	deletes map[string]struct{}
	order   []string
}

func newWriter(s *Store) *Writer {
	w := &Writer{store: s}
	w.reset()
	return w
}

func (w *Writer) reset() {
	w.staged = 0
	w.adds = make(map[string]document.Document)
	w.deletes = make(map[string]struct{})
	w.order = w.order[:0]
}

// Add stages documents for writing. A document replaces any existing
// document with the same id.
func (w *Writer) Add(docs ...document.Document) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, doc := range docs {
		id := doc.DocID()
		w.adds[id] = doc
		w.order = append(w.order, "+"+id)
		w.staged++
	}
}

// Delete stages removal of the documents for the given appointment ids.
func (w *Writer) Delete(ids ...int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, id := range ids {
		docID := document.DocID(id)
		w.deletes[docID] = struct{}{}
		w.order = append(w.order, "-"+docID)
		w.staged++
	}
}

// Pending returns the number of staged operations.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.staged
}

// Rollback discards staged operations.
func (w *Writer) Rollback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
}

// Commit applies staged operations in the order they were staged and
// makes them visible to new searches. Staged operations are discarded
// whether or not the commit succeeds.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.reset()

	if w.staged == 0 {
		return nil
	}

	s := w.store
	idx, release, err := s.acquire()
	if err != nil {
		return err
	}
	if idx == nil {
		return ErrClosed
	}
	defer release()

	batch := idx.NewBatch()
	for _, op := range w.order {
		id := op[1:]
		if op[0] == '-' {
			batch.Delete(id)
			continue
		}
		doc, ok := w.adds[id]
		if !ok {
			continue
		}
		if err := batch.Index(id, doc.Fields()); err != nil {
			return apperrors.New(apperrors.ErrCodeIndexWrite, fmt.Sprintf("cannot stage document %s", id), err)
		}
	}

	if err := idx.Batch(batch); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexWrite, "cannot commit batch", err).
			WithDetail("operations", fmt.Sprint(batch.Size()))
	}

	s.logger.Debug("index_committed", slog.Int("operations", w.staged))
	return nil
}

// DeleteAll empties the index and discards staged operations. Searches
// running meanwhile see the index shrink but are never blocked.
func (w *Writer) DeleteAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()

	s := w.store
	idx, release, err := s.reader()
	if err != nil {
		return err
	}
	defer release()

	removed, err := purgeAll(context.Background(), idx)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeIndexWrite, "cannot empty index", err).
			WithDetail("removed", fmt.Sprint(removed))
	}
	s.logger.Info("index_emptied", slog.String("path", s.path), slog.Int("documents", removed))
	return nil
}
