package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Mirror is an external copy of presence state used to warm the store
// after a restart.
type Mirror interface {
	Save(ctx context.Context, p models.DriverPresence) error
	Load(ctx context.Context) ([]models.DriverPresence, error)
}

// MirrorWriter buffers presence changes and writes them to a Mirror in the
// background, retrying with exponential backoff. Pending writes are
// coalesced per driver so the buffer never grows past the driver count and
// the newest state is what eventually lands.
type MirrorWriter struct {
	mirror     Mirror
	logger     *slog.Logger
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	pending map[string]models.DriverPresence
	wake    chan struct{}
}

// NewMirrorWriter bounds each flush pass to maxElapsed of retrying; what is
// still unwritten then goes back in the buffer.
func NewMirrorWriter(m Mirror, maxElapsed time.Duration, logger *slog.Logger) *MirrorWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MirrorWriter{
		mirror: m,
		logger: logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = maxElapsed
			return b
		},
		pending: make(map[string]models.DriverPresence),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue never blocks. An older update never replaces a newer pending one.
func (w *MirrorWriter) Enqueue(p models.DriverPresence) {
	w.mu.Lock()
	if cur, ok := w.pending[p.DriverID]; ok && cur.UpdatedAt.After(p.UpdatedAt) {
		w.mu.Unlock()
		return
	}
	w.pending[p.DriverID] = clone(p)
	w.mu.Unlock()
	w.signal()
}

func (w *MirrorWriter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *MirrorWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Run drains the buffer until ctx is cancelled.
func (w *MirrorWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}
		if failed := w.Flush(ctx); failed > 0 && ctx.Err() == nil {
			w.signal()
		}
	}
}

// Flush writes everything currently pending and returns how many writes
// were requeued. The whole pass shares one backoff: a failed write is
// retried before moving on, and once the backoff is exhausted the failed
// write and everything after it are requeued.
func (w *MirrorWriter) Flush(ctx context.Context) int {
	w.mu.Lock()
	batch := make([]models.DriverPresence, 0, len(w.pending))
	for _, p := range w.pending {
		batch = append(batch, p)
	}
	w.pending = make(map[string]models.DriverPresence, len(batch))
	w.mu.Unlock()

	op := func() error {
		for len(batch) > 0 {
			if err := w.mirror.Save(ctx, batch[0]); err != nil {
				return err
			}
			batch = batch[1:]
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		observability.MirrorRetries.Inc()
		w.logger.Warn("presence_mirror_retry", "driver_id", batch[0].DriverID, "remaining", len(batch), "error", err, "next", next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(w.newBackOff(), ctx), notify); err != nil {
		observability.MirrorFailures.Add(float64(len(batch)))
		w.logger.Error("presence_mirror_failed", "requeued", len(batch), "error", err)
		for _, p := range batch {
			w.requeue(p)
		}
	}
	return len(batch)
}

func (w *MirrorWriter) requeue(p models.DriverPresence) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.pending[p.DriverID]; ok && !cur.UpdatedAt.Before(p.UpdatedAt) {
		return
	}
	w.pending[p.DriverID] = p
}
