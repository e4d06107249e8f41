package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liamcoop/creditapproval/model"
)

// Loader reads a model bundle from wherever it is persisted
type Loader interface {
	Load() (*model.Bundle, error)
}

// FileLoader loads the classifier and scaler artifacts from local files
type FileLoader struct {
	ModelPath  string
	ScalerPath string
}

// Load reads both artifacts
func (l FileLoader) Load() (*model.Bundle, error) {
	return model.Load(l.ModelPath, l.ScalerPath)
}

// LoadObserver is told about every load attempt
type LoadObserver interface {
	ObserveLoad(ok bool, took time.Duration)
}

// Manager owns the process-wide inference engine. The bundle is loaded on
// first use and shared read-only afterwards. A failed load is not cached, so
// the next caller tries again.
type Manager struct {
	loader   Loader
	logger   *slog.Logger
	observer LoadObserver

	engine atomic.Pointer[model.Engine]
	mu     sync.Mutex
	loads  atomic.Int64
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithObserver reports load outcomes to o
func WithObserver(o LoadObserver) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a manager that loads through loader
func NewManager(loader Loader, opts ...Option) *Manager {
	m := &Manager{
		loader: loader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Engine returns the loaded engine, loading the bundle if this is the first call.
// Concurrent first callers block on a single load and all receive the same engine.
func (m *Manager) Engine() (*model.Engine, error) {
	if e := m.engine.Load(); e != nil {
		return e, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e := m.engine.Load(); e != nil {
		return e, nil
	}

	start := time.Now()
	bundle, err := m.loader.Load()
	m.loads.Add(1)
	if m.observer != nil {
		m.observer.ObserveLoad(err == nil, time.Since(start))
	}
	if err != nil {
		var notFound *model.ArtifactNotFoundError
		if errors.As(err, &notFound) {
			m.logger.Warn("model artifact not found", "path", notFound.Path)
		} else {
			m.logger.Error("failed to load model", "error", err)
		}
		return nil, err
	}

	e := model.NewEngine(bundle)
	m.engine.Store(e)

	m.logger.Info("model loaded",
		"bundle_id", bundle.ID,
		"features", bundle.FeatureNames,
		"estimators", len(bundle.Forest.Trees),
		"took", time.Since(start).String(),
	)
	return e, nil
}

// Preload loads the bundle eagerly. Used at startup when a missing model should
// stop the process instead of surfacing on the first request.
func (m *Manager) Preload() error {
	if _, err := m.Engine(); err != nil {
		return fmt.Errorf("preload model: %w", err)
	}
	return nil
}

// Loaded reports whether a bundle is in memory. It never triggers a load.
func (m *Manager) Loaded() bool {
	return m.engine.Load() != nil
}

// Loads returns how many load attempts have been made
func (m *Manager) Loads() int64 {
	return m.loads.Load()
}
