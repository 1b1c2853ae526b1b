package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/angeloszaimis/devserve/config"
	"github.com/angeloszaimis/devserve/internal/broadcast"
	"github.com/angeloszaimis/devserve/internal/shutdown"
)

const defaultDebounce = 100 * time.Millisecond

// System watches source paths and rebuilds on change.
type System struct {
	fsw       *fsnotify.Watcher
	builder   Builder
	ignore    *ignoreSet
	debounce  time.Duration
	listener  *shutdown.Listener
	buildDone *broadcast.Sender[struct{}]
	logger    *slog.Logger
}

// New creates a watch system. On success it owns buildDone, which may be nil
// when nobody needs rebuild notifications. It subscribes to sig immediately
// so a shutdown requested before Run is not missed.
func New(
	watchCfg config.WatchConfig,
	buildCfg config.BuildConfig,
	sig *shutdown.Signal,
	buildDone *broadcast.Sender[struct{}],
	logger *slog.Logger,
) (*System, error) {
	builder, dist, err := newBuilder(buildCfg)
	if err != nil {
		return nil, err
	}

	return newSystem(watchCfg, builder, dist, sig, buildDone, logger)
}

// NewWithBuilder is New with a caller-supplied builder.
func NewWithBuilder(
	watchCfg config.WatchConfig,
	builder Builder,
	sig *shutdown.Signal,
	buildDone *broadcast.Sender[struct{}],
	logger *slog.Logger,
) (*System, error) {
	return newSystem(watchCfg, builder, "", sig, buildDone, logger)
}

func newBuilder(buildCfg config.BuildConfig) (Builder, string, error) {
	if buildCfg.Command == "" {
		return NopBuilder{}, "", nil
	}

	dist, err := filepath.Abs(buildCfg.Dist)
	if err != nil {
		return nil, "", fmt.Errorf("resolve dist dir: %w", err)
	}

	return CommandBuilder{
		Command: buildCfg.Command,
		Env: []string{
			"DEVSERVE_BUILD_DIST=" + dist,
			"DEVSERVE_BUILD_PUBLIC_URL=" + buildCfg.PublicURL,
		},
	}, dist, nil
}

// newSystem ignores dist when it is set, since the builder writes there.
func newSystem(
	watchCfg config.WatchConfig,
	builder Builder,
	dist string,
	sig *shutdown.Signal,
	buildDone *broadcast.Sender[struct{}],
	logger *slog.Logger,
) (*System, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	debounce := watchCfg.DebounceEvery()
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	s := &System{
		fsw:       fsw,
		builder:   builder,
		ignore:    newIgnoreSet(watchCfg.Ignore, dist),
		debounce:  debounce,
		buildDone: buildDone,
		logger:    logger,
	}

	for _, p := range watchCfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("resolve watch path %q: %w", p, err)
		}
		if err := s.addTree(abs); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %q: %w", p, err)
		}
	}

	s.listener = sig.Subscribe()
	return s, nil
}

// addTree watches root and every directory below it that is not ignored.
func (s *System) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && s.ignore.match(p) {
			return filepath.SkipDir
		}
		return s.fsw.Add(p)
	})
}

// Build runs the builder once.
func (s *System) Build(ctx context.Context) error {
	start := time.Now()

	if err := s.builder.Build(ctx); err != nil {
		return err
	}

	s.logger.Info("Build finished", slog.Duration("duration", time.Since(start)))
	return nil
}

// Run watches until shutdown or ctx ends. The file watcher and the
// build-done handle are released on return.
func (s *System) Run(ctx context.Context) error {
	defer s.Close()

	ctx, cancel := s.listener.Context(ctx)
	defer cancel()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.logger.Debug("Watch loop stopped")
			return nil

		case event, ok := <-s.fsw.Events:
			if !ok {
				return nil
			}
			if !s.relevant(event) {
				continue
			}

			s.logger.Debug("Change detected",
				slog.String("path", event.Name),
				slog.String("op", event.Op.String()))

			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C

		case err, ok := <-s.fsw.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("File watcher error", slog.String("err", err.Error()))

		case <-fire:
			fire = nil
			s.rebuild(ctx)
		}
	}
}

func (s *System) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod || s.ignore.match(event.Name) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := s.addTree(event.Name); err != nil {
				s.logger.Warn("Failed to watch new directory",
					slog.String("path", event.Name),
					slog.String("err", err.Error()))
			}
		}
	}

	return true
}

func (s *System) rebuild(ctx context.Context) {
	if err := s.Build(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Build failed", slog.String("err", err.Error()))
		}
		return
	}

	if s.buildDone != nil {
		_, _ = s.buildDone.Send(struct{}{})
	}
}

// Close releases the file watcher, the shutdown subscription and the
// build-done handle. Run calls it on return; call it directly only when Run
// will never be called.
func (s *System) Close() {
	if err := s.fsw.Close(); err != nil {
		s.logger.Debug("Closing file watcher", slog.String("err", err.Error()))
	}
	s.listener.Close()
	if s.buildDone != nil {
		s.buildDone.Close()
	}
}
