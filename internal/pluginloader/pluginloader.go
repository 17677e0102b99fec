// Package pluginloader watches a directory of plugin.yaml manifests
// and mounts the named built-in service under a nested Dispatcher at
// the manifest's declared path prefix. It mirrors go-claw's
// internal/skills loader and internal/config/watcher.go: fsnotify
// drives re-reads, a registry of named factories stands in for actual
// dynamic code loading (Go has no idiomatic story for loading
// arbitrary untrusted code at runtime the way a scripting-language
// host does, so "plugin" here means "manifest-selected, compiled-in
// capability").
//
// Because the Dispatcher's route table is append-only (spec.md §5),
// a manifest is mounted at most once: re-writing an already-mounted
// manifest is a no-op, and there is no unmount.
package pluginloader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/basket/appcd/internal/dispatcher"
)

// Manifest is the plugin.yaml shape.
type Manifest struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Mount   string `yaml:"mount"`
	Enabled bool   `yaml:"enabled"`
}

// Factory builds the nested Dispatcher a manifest should be mounted
// as, given its manifest. Returning an error aborts that one mount;
// the loader continues watching for further files.
type Factory func(Manifest) (*dispatcher.Dispatcher, error)

// Loader watches dir for *.yaml manifests and mounts each recognized
// plugin name on root exactly once.
type Loader struct {
	dir      string
	root     *dispatcher.Dispatcher
	registry map[string]Factory
	logger   *slog.Logger

	mu      sync.Mutex
	mounted map[string]bool
}

// New builds a Loader. registry maps a manifest's Name to the
// Factory that knows how to build that plugin's nested Dispatcher.
func New(dir string, root *dispatcher.Dispatcher, registry map[string]Factory, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{
		dir:      dir,
		root:     root,
		registry: registry,
		logger:   logger,
		mounted:  map[string]bool{},
	}
}

// LoadExisting scans dir once for manifests already on disk, mounting
// each one. Call before Watch so the daemon starts with a complete
// plugin set even if fsnotify misses the initial population.
func (l *Loader) LoadExisting() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read plugin dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isManifest(e.Name()) {
			continue
		}
		l.tryMount(filepath.Join(l.dir, e.Name()))
	}
	return nil
}

// Watch runs until ctx is cancelled, mounting newly-created or
// modified manifests as they appear.
func (l *Loader) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(l.dir); err != nil {
		fsw.Close()
		if os.IsNotExist(err) {
			l.logger.Warn("pluginloader: plugin dir does not exist, not watching", "dir", l.dir)
			return nil
		}
		return err
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isManifest(ev.Name) {
					continue
				}
				l.tryMount(ev.Name)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				l.logger.Error("pluginloader: watch error", "error", err)
			}
		}
	}()
	return nil
}

func (l *Loader) tryMount(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		l.logger.Error("pluginloader: read manifest", "path", path, "error", err)
		return
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		l.logger.Error("pluginloader: parse manifest", "path", path, "error", err)
		return
	}
	if !m.Enabled {
		l.logger.Debug("pluginloader: manifest disabled, skipping", "name", m.Name)
		return
	}

	l.mu.Lock()
	if l.mounted[m.Name] {
		l.mu.Unlock()
		l.logger.Debug("pluginloader: already mounted, skipping re-read", "name", m.Name)
		return
	}
	l.mu.Unlock()

	factory, ok := l.registry[m.Name]
	if !ok {
		l.logger.Warn("pluginloader: no factory registered for plugin", "name", m.Name)
		return
	}
	nested, err := factory(m)
	if err != nil {
		l.logger.Error("pluginloader: build plugin", "name", m.Name, "error", err)
		return
	}
	if err := l.root.Register(m.Mount, nested); err != nil {
		l.logger.Error("pluginloader: mount plugin", "name", m.Name, "mount", m.Mount, "error", err)
		return
	}

	l.mu.Lock()
	l.mounted[m.Name] = true
	l.mu.Unlock()
	l.logger.Info("pluginloader: mounted plugin", "name", m.Name, "version", m.Version, "mount", m.Mount)
}

func isManifest(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".yaml") || strings.HasSuffix(base, ".yml")
}
