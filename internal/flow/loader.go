package flow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thin-edge/tedge-mapper-core/internal/config"
	"github.com/thin-edge/tedge-mapper-core/internal/logging"
	"github.com/thin-edge/tedge-mapper-core/internal/steps"
)

const disabledSuffix = ".disabled"
const templateSuffix = ".template"

// snapshot maps an active flow's path to its last-seen modification time,
// used to diff directory state across a debounce window rather than
// reacting to each individual fsnotify event.
type snapshot map[string]time.Time

// Loader scans a flows directory, parses and validates `.toml` flow
// files, and reports additions/changes/removals after watching for
// filesystem activity.
type Loader struct {
	dir      string
	registry *steps.Registry
	log      *logging.Scoped
	debounce time.Duration

	mu   sync.Mutex
	last snapshot
}

// NewLoader constructs a Loader for dir. debounce defaults to 200ms when
// zero.
func NewLoader(dir string, registry *steps.Registry, log *logging.Scoped, debounce time.Duration) *Loader {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Loader{dir: dir, registry: registry, log: log, debounce: debounce}
}

// scan lists the directory's active flow files: `*.toml`, excluding any
// file ending in `.toml.template` (reference only) and any whose
// `.toml.disabled` sibling exists (the sibling wins over the live file).
func (l *Loader) scan() (snapshot, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("flow: read dir %s: %w", l.dir, err)
	}

	disabled := make(map[string]bool)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".toml"+disabledSuffix) {
			disabled[strings.TrimSuffix(e.Name(), disabledSuffix)] = true
		}
	}

	snap := make(snapshot)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".toml") || strings.HasSuffix(name, templateSuffix) {
			continue
		}
		if disabled[name] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snap[filepath.Join(l.dir, name)] = info.ModTime()
	}
	return snap, nil
}

// Parse reads and validates a single flow file, naming it after the file
// basename without extension.
func (l *Loader) Parse(path string) (*Definition, error) {
	def, err := config.LoadTOML[Definition](path)
	if err != nil {
		return nil, fmt.Errorf("flow: parse %s: %w", path, err)
	}
	def.Path = path
	def.Name = strings.TrimSuffix(filepath.Base(path), ".toml")

	if err := def.Validate(l.stepExists); err != nil {
		return nil, err
	}
	return &def, nil
}

func (l *Loader) stepExists(step StepDef) error {
	if step.Builtin != "" {
		if _, ok := l.registry.Resolve(step.Builtin); !ok {
			return fmt.Errorf("unknown builtin %q", step.Builtin)
		}
		return nil
	}
	scriptPath := step.Script
	if !filepath.IsAbs(scriptPath) {
		scriptPath = filepath.Join(l.dir, scriptPath)
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return fmt.Errorf("script not found: %s", step.Script)
	}
	return nil
}

// LoadAll parses every active flow file currently in the directory.
// Invalid files are reported as (path, error) pairs rather than aborting
// the whole load, per the "other flows are unaffected" requirement.
func (l *Loader) LoadAll() (map[string]*Definition, map[string]error) {
	snap, err := l.scan()
	if err != nil {
		return nil, map[string]error{l.dir: err}
	}

	valid := make(map[string]*Definition)
	invalid := make(map[string]error)
	for path := range snap {
		def, err := l.Parse(path)
		if err != nil {
			invalid[path] = err
			continue
		}
		valid[path] = def
	}

	l.mu.Lock()
	l.last = snap
	l.mu.Unlock()

	return valid, invalid
}

// ChangeSet describes what a directory reconciliation found.
type ChangeSet struct {
	Added   map[string]*Definition
	Changed map[string]*Definition
	Removed []string
	Invalid map[string]error
}

// reconcile compares the current directory snapshot to the last one and
// classifies every active path as added, changed or unchanged, and every
// vanished path as removed.
func (l *Loader) reconcile() (ChangeSet, error) {
	snap, err := l.scan()
	if err != nil {
		return ChangeSet{}, err
	}

	l.mu.Lock()
	prev := l.last
	l.last = snap
	l.mu.Unlock()

	cs := ChangeSet{
		Added:   make(map[string]*Definition),
		Changed: make(map[string]*Definition),
		Invalid: make(map[string]error),
	}

	for path, modTime := range snap {
		prevMod, existed := prev[path]
		def, err := l.Parse(path)
		if err != nil {
			cs.Invalid[path] = err
			continue
		}
		switch {
		case !existed:
			cs.Added[path] = def
		case !prevMod.Equal(modTime):
			cs.Changed[path] = def
		}
	}
	for path := range prev {
		if _, stillThere := snap[path]; !stillThere {
			cs.Removed = append(cs.Removed, path)
		}
	}

	return cs, nil
}

// Watch runs until ctx is cancelled, calling onChange after every
// debounced burst of filesystem activity that actually altered the
// directory's effective flow set.
func (l *Loader) Watch(ctx context.Context, onChange func(ChangeSet)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("flow: new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("flow: watch %s: %w", l.dir, err)
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.WithError(err).Warn("flow directory watch error")
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if timer == nil {
				timer = time.AfterFunc(l.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(l.debounce)
			}
		case <-fire:
			cs, err := l.reconcile()
			if err != nil {
				l.log.WithError(err).Error("flow directory reconcile failed")
				continue
			}
			for path, err := range cs.Invalid {
				l.log.With("path", path).WithError(err).Error("flow validation failed, flow not started")
			}
			if len(cs.Added) == 0 && len(cs.Changed) == 0 && len(cs.Removed) == 0 {
				continue
			}
			onChange(cs)
		}
	}
}
