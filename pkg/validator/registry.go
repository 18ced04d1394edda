package validator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/cel-go/cel"
)

// Registry holds the compiled profiles: the built-in set overlaid with an
// optional profiles directory.
type Registry struct {
	env    *cel.Env
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	builtin []*Profile
	current profileSet
}

// NewRegistry compiles the built-in profiles and, when dir is set, the
// profiles found there.
func NewRegistry(dir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := newCELEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	builtin, err := LoadBuiltinProfiles()
	if err != nil {
		return nil, fmt.Errorf("load built-in profiles: %w", err)
	}
	r := &Registry{env: env, dir: dir, logger: logger, builtin: builtin}
	if err := r.compile(builtin); err != nil {
		return nil, err
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the profiles directory. On error the previous set stays
// active.
func (r *Registry) Reload() error {
	set := make(profileSet)
	set.merge(r.builtin)

	if r.dir != "" {
		extra, err := LoadProfileDir(r.dir)
		if err != nil {
			return err
		}
		if err := r.compile(extra); err != nil {
			return err
		}
		set.merge(extra)
	}
	if err := verify(set); err != nil {
		return err
	}

	r.mu.Lock()
	r.current = set
	r.mu.Unlock()
	r.logger.Info("validation profiles loaded", "count", len(set), "dir", r.dir)
	return nil
}

// Profiles returns the active profiles ordered by identifier.
func (r *Registry) Profiles() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.sorted()
}

// resolve returns the active set, overlaid with extraDir when set.
func (r *Registry) resolve(extraDir string) (profileSet, error) {
	r.mu.RLock()
	set := r.current
	r.mu.RUnlock()

	if extraDir == "" || filepath.Clean(extraDir) == filepath.Clean(r.dir) {
		return set, nil
	}
	extra, err := LoadProfileDir(extraDir)
	if err != nil {
		return nil, err
	}
	if err := r.compile(extra); err != nil {
		return nil, err
	}
	out := set.clone()
	out.merge(extra)
	if err := verify(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Registry) compile(profiles []*Profile) error {
	for _, p := range profiles {
		checks := make([]check, 0, len(p.Checks))
		for _, def := range p.Checks {
			c, err := compileCheck(r.env, p.Identifier, def)
			if err != nil {
				return fmt.Errorf("profile %s (%s): %w", p.Identifier, p.source, err)
			}
			checks = append(checks, c)
		}
		p.checks = checks
	}
	return nil
}

func verify(set profileSet) error {
	for _, p := range set.sorted() {
		if _, err := set.chain(p); err != nil {
			return err
		}
	}
	return nil
}

// Watch reloads the profiles directory when its YAML files change, until ctx
// is done. It returns immediately when no directory is configured.
func (r *Registry) Watch(ctx context.Context) error {
	if r.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create profile watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		// Editors emit bursts of events; coalesce them.
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isProfileFile(ev.Name) || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
					continue
				}
				debounce = time.After(200 * time.Millisecond)
			case <-debounce:
				debounce = nil
				if err := r.Reload(); err != nil {
					r.logger.Error("profile reload failed, keeping previous profiles", "dir", r.dir, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("profile watcher error", "error", err)
			}
		}
	}()
	return nil
}

func isProfileFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
