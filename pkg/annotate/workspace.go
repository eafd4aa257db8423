package annotate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/store"
)

var ErrIndex = errors.New("session index out of range")

// Source lists the sessions available for annotation, newest first.
type Source interface {
	List(ctx context.Context) ([]store.Session, error)
}

// Sink persists a corrected peak list and returns where it went.
type Sink interface {
	Write(sessionID string, peaks []int, signal []float64, fs float64, now time.Time) (string, error)
}

// Workspace ties the session list to the status book and the annotation sink.
// It is safe for concurrent use.
type Workspace struct {
	source Source
	status *store.StatusBook
	sink   Sink
	opts   Options
	log    *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions []store.Session
}

func NewWorkspace(source Source, status *store.StatusBook, sink Sink, opts Options, log *zap.Logger) *Workspace {
	if log == nil {
		log = zap.NewNop()
	}
	return &Workspace{
		source: source,
		status: status,
		sink:   sink,
		opts:   opts,
		log:    log,
		now:    time.Now,
	}
}

// Reload fetches the session list from the source.
func (w *Workspace) Reload(ctx context.Context) error {
	sessions, err := w.source.List(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.sessions = sessions
	w.mu.Unlock()

	c := w.Stats()
	w.log.Info("Sessions loaded",
		zap.Int("total", c.Total),
		zap.Int("done", c.Done),
		zap.Int("bad", c.Bad),
		zap.Int("pending", c.Pending))
	return nil
}

func (w *Workspace) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.sessions)
}

// Session returns a copy of the session at idx.
func (w *Workspace) Session(idx int) (store.Session, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if idx < 0 || idx >= len(w.sessions) {
		return store.Session{}, fmt.Errorf("%w: %d of %d", ErrIndex, idx, len(w.sessions))
	}
	return w.sessions[idx], nil
}

// Status of the session at idx.
func (w *Workspace) Status(idx int) (store.Status, error) {
	s, err := w.Session(idx)
	if err != nil {
		return "", err
	}
	return w.status.Get(s.ID), nil
}

// Open builds an editor for the session at idx.
func (w *Workspace) Open(idx int) (*Editor, error) {
	s, err := w.Session(idx)
	if err != nil {
		return nil, err
	}
	return NewEditor(s.IRWaveform, s.SamplingRateHz, w.opts), nil
}

// Save writes the editor's peaks for the session at idx and marks it done.
func (w *Workspace) Save(idx int, e *Editor) (string, error) {
	s, err := w.Session(idx)
	if err != nil {
		return "", err
	}
	path, err := w.sink.Write(s.ID, e.Peaks(), e.Signal(), e.SampleRate(), w.now())
	if err != nil {
		return "", fmt.Errorf("failed to save annotations: %w", err)
	}
	if err := w.status.Set(s.ID, store.StatusDone); err != nil {
		return path, err
	}
	w.log.Info("Annotations saved", zap.String("session", s.ID), zap.String("path", path), zap.Int("peaks", len(e.peaks)))
	return path, nil
}

// MarkBad flags the session at idx as unusable.
func (w *Workspace) MarkBad(idx int) error {
	s, err := w.Session(idx)
	if err != nil {
		return err
	}
	w.log.Info("Session marked bad", zap.String("session", s.ID))
	return w.status.Set(s.ID, store.StatusBad)
}

// NextPending returns the first pending session after current, wrapping around to
// the start. current is returned when no other session is pending.
func (w *Workspace) NextPending(current int) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := len(w.sessions)
	for i := current + 1; i < n; i++ {
		if w.status.Get(w.sessions[i].ID) == store.StatusPending {
			return i
		}
	}
	for i := 0; i < current && i < n; i++ {
		if w.status.Get(w.sessions[i].ID) == store.StatusPending {
			return i
		}
	}
	return current
}

func (w *Workspace) Stats() store.Counts {
	return w.status.Counts(w.Len())
}

// Labels returns a one-line description of every session with its status.
func (w *Workspace) Labels() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.sessions))
	for i := range w.sessions {
		out[i] = w.sessions[i].Label(w.status.Get(w.sessions[i].ID))
	}
	return out
}
