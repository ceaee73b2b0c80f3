// SPDX-License-Identifier: LGPL-3.0-or-later

package scriptaction

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"actionloop/logger"
)

// Watcher watches plugin directories for file changes and triggers
// reloads through its Manager.
type Watcher struct {
	manager  *Manager
	logger   logger.Logger
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
}

// NewWatcher creates a Watcher and starts its event loop.
func NewWatcher(manager *Manager, log logger.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	w := &Watcher{
		manager:  manager,
		logger:   log,
		watcher:  fsWatcher,
		stopChan: make(chan struct{}),
	}

	go w.eventLoop()
	return w, nil
}

// Watch adds dir to the set of watched directories.
func (w *Watcher) Watch(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	w.logger.Debug("watching directory for action handler plugins", "dir", dir)
	return nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stopChan)
	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	debounce := make(map[string]time.Time)
	debounceDuration := time.Second

	for {
		select {
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".so") {
				continue
			}

			now := time.Now()
			if last, exists := debounce[event.Name]; exists && now.Sub(last) < debounceDuration {
				continue
			}
			debounce[event.Name] = now

			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("plugin file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := pluginNameFromPath(event.Name)

	w.logger.Debug("action handler plugin file event",
		"name", name,
		"path", event.Name,
		"op", event.Op.String())

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		w.handleCreate(event.Name)
	case event.Op&fsnotify.Write == fsnotify.Write:
		w.handleUpdate(name, event.Name)
	case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
		w.handleRemove(name)
	}
}

func (w *Watcher) handleCreate(path string) {
	w.logger.Info("new action handler plugin detected", "path", path)
	time.Sleep(500 * time.Millisecond)

	if err := w.manager.LoadPlugin(path); err != nil {
		w.logger.Error("failed to load new plugin", "path", path, "error", err)
		return
	}
	w.logger.Info("new action handler plugin loaded", "path", path)
}

func (w *Watcher) handleUpdate(name, path string) {
	w.logger.Info("action handler plugin updated", "name", name, "path", path)
	time.Sleep(500 * time.Millisecond)

	if err := w.manager.ReloadPlugin(name); err != nil {
		w.logger.Error("failed to reload plugin", "name", name, "error", err)
		return
	}
	w.logger.Info("action handler plugin reloaded", "name", name)
}

func (w *Watcher) handleRemove(name string) {
	w.logger.Info("action handler plugin removed", "name", name)

	if err := w.manager.UnloadPlugin(name); err != nil {
		w.logger.Error("failed to unload plugin", "name", name, "error", err)
		return
	}
	w.logger.Info("action handler plugin unloaded", "name", name)
}

func pluginNameFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".so")
}
