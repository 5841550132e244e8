package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// TuningOverrides is the on-disk shape of the hot-reloadable retrieval
// knobs. Absent fields keep their current values.
type TuningOverrides struct {
	SimilarityThreshold *float64 `yaml:"similarity_threshold"`
	MaxChunks           *int     `yaml:"max_chunks"`
	RRFK                *int     `yaml:"rrf_k"`
	MinResultsThreshold *int     `yaml:"min_results_threshold"`
	EnableFallback      *bool    `yaml:"enable_fallback"`
	EnableDensityCalc   *bool    `yaml:"enable_density_calc"`
}

// TuningWatcher watches a yaml file of retrieval overrides and applies
// changes without a restart. An invalid or unreadable file keeps the last
// good configuration.
type TuningWatcher struct {
	path    string
	base    RetrievalConfig
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	logger  *zap.Logger

	mu      sync.RWMutex
	current RetrievalConfig
	started bool
}

// NewTuningWatcher creates a watcher over the given overrides file. The base
// configuration is what overrides are layered onto; it is also the snapshot
// until the file is first read.
func NewTuningWatcher(path string, base RetrievalConfig, logger *zap.Logger) (*TuningWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("tuning file path cannot be empty")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &TuningWatcher{
		path:    path,
		base:    base,
		watcher: watcher,
		stopCh:  make(chan struct{}),
		logger:  logger,
		current: base,
	}, nil
}

// Start loads the file once and begins watching its directory. Editors and
// config mounts replace files by rename, so the directory is watched rather
// than the file itself.
func (tw *TuningWatcher) Start() error {
	tw.mu.Lock()
	if tw.started {
		tw.mu.Unlock()
		return nil
	}
	tw.started = true
	tw.mu.Unlock()

	dir := filepath.Dir(tw.path)
	if err := tw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch tuning directory: %w", err)
	}

	if _, err := os.Stat(tw.path); err == nil {
		tw.reload("initial_load")
	}

	go tw.watchLoop()

	tw.logger.Info("Tuning watcher started", zap.String("path", tw.path))
	return nil
}

// Stop stops watching for changes.
func (tw *TuningWatcher) Stop() {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if !tw.started {
		return
	}
	close(tw.stopCh)
	if err := tw.watcher.Close(); err != nil {
		tw.logger.Error("Error closing tuning watcher", zap.Error(err))
	}
	tw.started = false
}

// Snapshot returns the current effective retrieval configuration.
func (tw *TuningWatcher) Snapshot() RetrievalConfig {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	return tw.current
}

func (tw *TuningWatcher) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			tw.logger.Error("Tuning watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-tw.stopCh:
			return
		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			tw.handleEvent(event)
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			tw.logger.Error("Tuning watcher error", zap.Error(err))
		}
	}
}

func (tw *TuningWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != filepath.Base(tw.path) {
		return
	}

	switch {
	case event.Op&fsnotify.Write == fsnotify.Write,
		event.Op&fsnotify.Create == fsnotify.Create:
		// Small delay to handle rapid successive writes
		time.Sleep(50 * time.Millisecond)
		tw.reload("modify")
	case event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		tw.mu.Lock()
		tw.current = tw.base
		tw.mu.Unlock()
		tw.logger.Info("Tuning file removed, reverted to base configuration",
			zap.String("path", tw.path))
	}
}

// reload parses the overrides file and swaps in the merged configuration.
func (tw *TuningWatcher) reload(action string) {
	data, err := os.ReadFile(tw.path)
	if err != nil {
		tw.logger.Error("Failed to read tuning file",
			zap.String("path", tw.path),
			zap.String("action", action),
			zap.Error(err),
		)
		return
	}

	var overrides TuningOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		tw.logger.Error("Failed to parse tuning file, keeping current configuration",
			zap.String("path", tw.path),
			zap.String("action", action),
			zap.Error(err),
		)
		return
	}

	merged := tw.base
	if overrides.SimilarityThreshold != nil {
		merged.SimilarityThreshold = *overrides.SimilarityThreshold
	}
	if overrides.MaxChunks != nil {
		merged.MaxChunks = *overrides.MaxChunks
	}
	if overrides.RRFK != nil {
		merged.RRFK = *overrides.RRFK
	}
	if overrides.MinResultsThreshold != nil {
		merged.MinResultsThreshold = *overrides.MinResultsThreshold
	}
	if overrides.EnableFallback != nil {
		merged.EnableFallback = *overrides.EnableFallback
	}
	if overrides.EnableDensityCalc != nil {
		merged.EnableDensityCalc = *overrides.EnableDensityCalc
	}

	if err := ValidateRetrieval(merged); err != nil {
		tw.logger.Error("Rejected tuning update, keeping current configuration",
			zap.String("path", tw.path),
			zap.String("action", action),
			zap.Error(err),
		)
		return
	}

	tw.mu.Lock()
	tw.current = merged
	tw.mu.Unlock()

	tw.logger.Info("Tuning configuration applied",
		zap.String("action", action),
		zap.Float64("similarity_threshold", merged.SimilarityThreshold),
		zap.Int("max_chunks", merged.MaxChunks),
		zap.Int("rrf_k", merged.RRFK),
		zap.Int("min_results_threshold", merged.MinResultsThreshold),
		zap.Bool("enable_fallback", merged.EnableFallback),
		zap.Bool("enable_density_calc", merged.EnableDensityCalc),
	)
}
