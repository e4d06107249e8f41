package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/creditapproval/credit"
)

const (
	defaultBuffer       = 256
	defaultWriteTimeout = 5 * time.Second
)

var _ credit.DecisionRecorder = (*Recorder)(nil)

// Recorder fans decisions out to sinks from a single background goroutine.
// RecordDecision never blocks; when the buffer is full the decision is dropped.
type Recorder struct {
	sinks        []Sink
	logger       *slog.Logger
	onDrop       func()
	writeTimeout time.Duration

	queue  chan credit.Decision
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithBuffer sets the queue capacity
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan credit.Decision, n)
		}
	}
}

// WithLogger sets the recorder logger
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithDropHook is called for every decision that could not be queued
func WithDropHook(fn func()) RecorderOption {
	return func(r *Recorder) { r.onDrop = fn }
}

// WithWriteTimeout bounds each sink write
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.writeTimeout = d }
}

// NewRecorder starts the background writer
func NewRecorder(sinks []Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sinks:        sinks,
		logger:       slog.Default(),
		writeTimeout: defaultWriteTimeout,
		queue:        make(chan credit.Decision, defaultBuffer),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.run()
	return r
}

// RecordDecision queues d for writing
func (r *Recorder) RecordDecision(ctx context.Context, d credit.Decision) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(ctx, d, "recorder closed")
		return
	}

	select {
	case r.queue <- d:
	default:
		r.drop(ctx, d, "buffer full")
	}
}

func (r *Recorder) drop(ctx context.Context, d credit.Decision, reason string) {
	if r.onDrop != nil {
		r.onDrop()
	}
	r.logger.WarnContext(ctx, "audit record dropped", "decision_id", d.ID, "reason", reason)
}

func (r *Recorder) run() {
	defer close(r.done)
	for d := range r.queue {
		r.write(d)
	}
}

func (r *Recorder) write(d credit.Decision) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range r.sinks {
		g.Go(func() error {
			if err := s.Write(ctx, d); err != nil {
				return fmt.Errorf("%T: %w", s, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Error("failed to write audit record", "decision_id", d.ID, "error", err)
	}
}

// Close stops accepting decisions and waits for queued ones to be written,
// or for ctx to end
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit drain interrupted: %w", ctx.Err())
	}
}
