// Package persistence writes project snapshots in the background.
//
// Save never blocks on I/O: it records the snapshot as the pending version
// for its project id and wakes the worker. Several saves for one project
// before the worker runs collapse into the latest one. A failed write is
// logged and dropped; it is neither retried nor reported to the caller, so
// durability is at most once per snapshot.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/printstudio/internal/models"
	"github.com/digkill/printstudio/internal/repository"
)

const writeTimeout = 10 * time.Second

type Writer struct {
	store repository.ProjectStore
	log   *slog.Logger

	mu      sync.Mutex
	pending map[string]models.Project
	order   []string
	writing *models.Project
	closed  bool

	// ioMu serialises backend writes with deletes so a queued save can
	// never land after a delete of the same project.
	ioMu sync.Mutex

	wake chan struct{}
	idle *sync.Cond
	busy bool
	done chan struct{}
}

func NewWriter(store repository.ProjectStore, log *slog.Logger) *Writer {
	w := &Writer{
		store:   store,
		log:     log,
		pending: make(map[string]models.Project),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.idle = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Save schedules p to be written. It returns immediately.
func (w *Writer) Save(p models.Project) {
	if p.ID == "" {
		return
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if _, queued := w.pending[p.ID]; !queued {
		w.order = append(w.order, p.ID)
	}
	w.pending[p.ID] = p
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for range w.wake {
		for {
			p, ok := w.next()
			if !ok {
				break
			}
			w.write(p)
			w.mu.Lock()
			w.writing = nil
			w.mu.Unlock()
		}
		w.mu.Lock()
		w.busy = false
		w.idle.Broadcast()
		closed := w.closed && len(w.order) == 0
		w.mu.Unlock()
		if closed {
			return
		}
	}
}

func (w *Writer) next() (models.Project, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 {
		return models.Project{}, false
	}
	id := w.order[0]
	w.order = w.order[1:]
	p := w.pending[id]
	delete(w.pending, id)
	w.writing = &p
	w.busy = true
	return p, true
}

func (w *Writer) write(p models.Project) {
	w.ioMu.Lock()
	defer w.ioMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.store.Save(ctx, p); err != nil && w.log != nil {
		w.log.Error("persist project snapshot", "err", err, "project_id", p.ID)
	}
}

// Flush waits until every snapshot scheduled before the call was attempted.
func (w *Writer) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		w.idle.Broadcast()
		w.mu.Unlock()
	})
	defer stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.order) > 0 || w.busy {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !w.closed {
			select {
			case w.wake <- struct{}{}:
			default:
			}
		}
		w.idle.Wait()
	}
	return nil
}

// Close flushes outstanding snapshots and stops the worker.
func (w *Writer) Close(ctx context.Context) error {
	err := w.Flush(ctx)
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.wake)
	}
	w.mu.Unlock()
	select {
	case <-w.done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// Load reads a saved project, preferring a snapshot not yet written.
func (w *Writer) Load(ctx context.Context, id string) (models.Project, error) {
	w.mu.Lock()
	p, ok := w.pending[id]
	if !ok && w.writing != nil && w.writing.ID == id {
		p, ok = *w.writing, true
	}
	w.mu.Unlock()
	if ok {
		return p, nil
	}
	p, err := w.store.Get(ctx, id)
	if err != nil {
		return models.Project{}, fmt.Errorf("load project: %w", err)
	}
	return p, nil
}

// List waits for queued writes so the listing reflects them.
func (w *Writer) List(ctx context.Context) ([]models.Project, error) {
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	projects, err := w.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// Delete drops any queued snapshot for id and removes the stored record.
func (w *Writer) Delete(ctx context.Context, id string) error {
	w.mu.Lock()
	_, queued := w.pending[id]
	if queued {
		delete(w.pending, id)
		for i, qid := range w.order {
			if qid == id {
				w.order = append(w.order[:i], w.order[i+1:]...)
				break
			}
		}
	}
	w.mu.Unlock()

	w.ioMu.Lock()
	defer w.ioMu.Unlock()
	err := w.store.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) && queued {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}
