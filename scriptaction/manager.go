// SPDX-License-Identifier: LGPL-3.0-or-later

package scriptaction

import (
	"fmt"
	"sync"
	"time"

	"actionloop/daemon/jobs"
	"actionloop/logger"
)

// Config configures which plugins load and whether they hot-reload.
type Config struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Directories  []string `yaml:"directories" json:"directories"`
	EnabledList  []string `yaml:"enabled_list" json:"enabled_list"`
	DisabledList []string `yaml:"disabled_list" json:"disabled_list"`
	HotReload    bool     `yaml:"hot_reload" json:"hot_reload"`
}

// Manager loads action-handler plugins and registers them with a
// daemon/jobs.Manager by Kind.
type Manager struct {
	logger  logger.Logger
	loader  *Loader
	jobs    *jobs.Manager
	plugins map[string]*Info
	mu      sync.RWMutex
	watcher *Watcher
	config  *Config
}

// NewManager creates a Manager that registers loaded handlers with
// jobsManager.
func NewManager(jobsManager *jobs.Manager, log logger.Logger, config *Config) *Manager {
	if config == nil {
		config = &Config{
			Enabled:     true,
			Directories: DefaultPluginDirs(),
		}
	}
	if len(config.Directories) == 0 {
		config.Directories = DefaultPluginDirs()
	}
	if envDirs := ParsePluginPath(); len(envDirs) > 0 {
		config.Directories = append(config.Directories, envDirs...)
	}

	return &Manager{
		logger:  log,
		loader:  NewLoader(log),
		jobs:    jobsManager,
		plugins: make(map[string]*Info),
		config:  config,
	}
}

// LoadAll discovers and loads every plugin in the configured
// directories.
func (m *Manager) LoadAll() error {
	if !m.config.Enabled {
		m.logger.Info("action handler plugin system disabled")
		return nil
	}

	m.logger.Info("discovering action handler plugins", "directories", m.config.Directories)

	paths, err := m.loader.DiscoverAll(m.config.Directories)
	if err != nil {
		return fmt.Errorf("discover plugins: %w", err)
	}

	m.logger.Info("found plugin files", "count", len(paths))

	var loaded int
	for _, path := range paths {
		if err := m.LoadPlugin(path); err != nil {
			m.logger.Warn("failed to load plugin", "path", path, "error", err)
			continue
		}
		loaded++
	}

	m.logger.Info("action handler plugins loaded", "total", loaded, "failed", len(paths)-loaded)
	return nil
}

// LoadPlugin loads a single plugin file and registers its handler.
func (m *Manager) LoadPlugin(path string) error {
	info, handler, err := m.loader.Load(path)
	if err != nil {
		return err
	}

	if !m.isPluginEnabled(info.Metadata.Name) {
		m.logger.Info("plugin disabled by configuration", "name", info.Metadata.Name)
		info.Status = StatusDisabled
		m.addPluginInfo(info)
		return nil
	}

	m.jobs.RegisterHandler(info.Metadata.Kind, jobs.Handler(handler))

	info.LoadedAt = time.Now()
	info.Status = StatusLoaded
	m.addPluginInfo(info)

	m.logger.Info("action handler registered", "name", info.Metadata.Name, "kind", info.Metadata.Kind)
	return nil
}

// UnloadPlugin marks a plugin unloaded. The handler it registered
// remains live in daemon/jobs.Manager's dispatch table: the Kind->Handler
// registry has no removal API, matching mainloop's own no-dequeue
// design for admitted actions.
func (m *Manager) UnloadPlugin(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.plugins[name]
	if !exists {
		return fmt.Errorf("plugin not found: %s", name)
	}

	info.Status = StatusUnloaded
	m.logger.Info("action handler plugin unloaded", "name", name)
	return nil
}

// ReloadPlugin unloads then reloads the named plugin from its original
// path, replacing its registered handler.
func (m *Manager) ReloadPlugin(name string) error {
	m.mu.RLock()
	info, exists := m.plugins[name]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("plugin not found: %s", name)
	}

	if err := m.UnloadPlugin(name); err != nil {
		return fmt.Errorf("unload plugin: %w", err)
	}
	if err := m.LoadPlugin(info.Path); err != nil {
		return fmt.Errorf("reload plugin: %w", err)
	}

	m.logger.Info("action handler plugin reloaded", "name", name)
	return nil
}

// ListPlugins returns info for every plugin the manager has seen.
func (m *Manager) ListPlugins() []*Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugins := make([]*Info, 0, len(m.plugins))
	for _, info := range m.plugins {
		plugins = append(plugins, info)
	}
	return plugins
}

// GetPlugin returns info for a single named plugin.
func (m *Manager) GetPlugin(name string) (*Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, exists := m.plugins[name]
	return info, exists
}

// StartWatcher starts the hot-reload file watcher if configured.
func (m *Manager) StartWatcher() error {
	if !m.config.HotReload {
		m.logger.Info("plugin hot-reload disabled")
		return nil
	}

	watcher, err := NewWatcher(m, m.logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	for _, dir := range m.config.Directories {
		if err := watcher.Watch(dir); err != nil {
			m.logger.Warn("failed to watch directory", "dir", dir, "error", err)
		}
	}

	m.watcher = watcher
	m.logger.Info("action handler hot-reload watcher started")
	return nil
}

// StopWatcher stops the file watcher.
func (m *Manager) StopWatcher() error {
	if m.watcher == nil {
		return nil
	}
	if err := m.watcher.Close(); err != nil {
		return err
	}
	m.watcher = nil
	m.logger.Info("action handler hot-reload watcher stopped")
	return nil
}

func (m *Manager) addPluginInfo(info *Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins[info.Metadata.Name] = info
}

func (m *Manager) isPluginEnabled(name string) bool {
	if len(m.config.EnabledList) > 0 {
		for _, enabled := range m.config.EnabledList {
			if enabled == name {
				return true
			}
		}
		return false
	}

	if len(m.config.DisabledList) > 0 {
		for _, disabled := range m.config.DisabledList {
			if disabled == name {
				return false
			}
		}
	}

	return true
}

// GetStats returns a summary count by plugin status.
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]interface{}{
		"total":    len(m.plugins),
		"loaded":   0,
		"failed":   0,
		"disabled": 0,
	}

	for _, info := range m.plugins {
		switch info.Status {
		case StatusLoaded:
			stats["loaded"] = stats["loaded"].(int) + 1
		case StatusFailed:
			stats["failed"] = stats["failed"].(int) + 1
		case StatusDisabled:
			stats["disabled"] = stats["disabled"].(int) + 1
		}
	}

	return stats
}
