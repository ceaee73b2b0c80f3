// SPDX-License-Identifier: LGPL-3.0-or-later

// Package scriptaction loads external action handlers from Go plugin
// (.so) files, so a deployment can add new action Kinds without
// rebuilding the daemon. A hot-reload watcher keeps handlers current as
// plugin files change on disk.
package scriptaction

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"time"

	"actionloop/daemon/models"
	"actionloop/logger"
	"actionloop/mainloop"
)

// HandlerFunc builds a mainloop.Action from a wire-level
// ActionDefinition. A plugin exposes one of these per Kind it handles;
// the shape matches daemon/jobs.Handler exactly so a loaded value can
// be registered directly with a jobs.Manager.
type HandlerFunc func(def models.ActionDefinition) (mainloop.Action, error)

// Metadata describes an action-handler plugin.
type Metadata struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Author      string `json:"author"`

	// Kind is the action Kind this plugin's handler builds actions for.
	Kind string `json:"kind"`

	MinSDKVersion string    `json:"min_sdk_version"`
	BuildTime     time.Time `json:"build_time"`
	GoVersion     string    `json:"go_version"`
}

// ValidateMetadata checks that required fields are present.
func (m *Metadata) ValidateMetadata() error {
	if m.Name == "" {
		return ErrInvalidMetadata{Field: "name", Reason: "cannot be empty"}
	}
	if m.Kind == "" {
		return ErrInvalidMetadata{Field: "kind", Reason: "cannot be empty"}
	}
	return nil
}

// ErrInvalidMetadata indicates invalid plugin metadata.
type ErrInvalidMetadata struct {
	Field  string
	Reason string
}

func (e ErrInvalidMetadata) Error() string {
	return "invalid plugin metadata: " + e.Field + " " + e.Reason
}

// Info is runtime information about a loaded handler plugin.
type Info struct {
	Metadata Metadata  `json:"metadata"`
	Path     string    `json:"path"`
	Status   Status    `json:"status"`
	LoadedAt time.Time `json:"loaded_at"`
	Error    string    `json:"error,omitempty"`
}

// Status is a plugin's lifecycle state.
type Status string

const (
	StatusLoaded   Status = "loaded"
	StatusFailed   Status = "failed"
	StatusDisabled Status = "disabled"
	StatusUnloaded Status = "unloaded"
)

// Loader opens action-handler plugins from shared libraries.
type Loader struct {
	logger logger.Logger
}

// NewLoader creates a Loader.
func NewLoader(log logger.Logger) *Loader {
	return &Loader{logger: log}
}

// Load opens the plugin at path and returns its metadata and handler.
// A plugin must export:
//
//	var ActionInfo = scriptaction.Metadata{...}
//	func NewHandler() scriptaction.HandlerFunc { ... }
func (l *Loader) Load(path string) (*Info, HandlerFunc, error) {
	l.logger.Info("loading action handler plugin", "path", path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("plugin file not found: %s", path)
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open plugin: %w", err)
	}

	metadataSym, err := p.Lookup("ActionInfo")
	if err != nil {
		return nil, nil, fmt.Errorf("plugin missing ActionInfo: %w", err)
	}
	metadata, ok := metadataSym.(*Metadata)
	if !ok {
		return nil, nil, fmt.Errorf("ActionInfo has wrong type: %T", metadataSym)
	}
	if err := metadata.ValidateMetadata(); err != nil {
		return nil, nil, fmt.Errorf("invalid plugin metadata: %w", err)
	}

	factorySym, err := p.Lookup("NewHandler")
	if err != nil {
		return nil, nil, fmt.Errorf("plugin missing NewHandler: %w", err)
	}
	newHandler, ok := factorySym.(func() HandlerFunc)
	if !ok {
		return nil, nil, fmt.Errorf("NewHandler has wrong type: %T", factorySym)
	}

	info := &Info{
		Metadata: *metadata,
		Path:     path,
		Status:   StatusLoaded,
	}

	l.logger.Info("action handler plugin loaded",
		"name", metadata.Name,
		"version", metadata.Version,
		"kind", metadata.Kind)

	return info, newHandler(), nil
}

// Discover scans dir for .so files.
func (l *Loader) Discover(dir string) ([]string, error) {
	l.logger.Debug("discovering handler plugins", "dir", dir)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		l.logger.Debug("plugin directory does not exist", "dir", dir)
		return nil, nil
	}

	var paths []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".so") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	l.logger.Debug("discovered handler plugins", "count", len(paths), "dir", dir)
	return paths, nil
}

// DiscoverAll scans multiple directories.
func (l *Loader) DiscoverAll(dirs []string) ([]string, error) {
	var all []string
	for _, dir := range dirs {
		paths, err := l.Discover(dir)
		if err != nil {
			l.logger.Warn("failed to discover handler plugins", "dir", dir, "error", err)
			continue
		}
		all = append(all, paths...)
	}
	return all, nil
}

// DefaultPluginDirs returns the standard search path for handler
// plugins: system-wide, then user-local, then the working directory.
func DefaultPluginDirs() []string {
	dirs := []string{
		"/usr/local/lib/actionloop/plugins",
		"/usr/lib/actionloop/plugins",
	}

	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".actionloop", "plugins"))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, filepath.Join(cwd, "plugins"))
	}

	return dirs
}

// ParsePluginPath parses the ACTIONLOOP_PLUGIN_PATH environment
// variable into a list of directories.
func ParsePluginPath() []string {
	pluginPath := os.Getenv("ACTIONLOOP_PLUGIN_PATH")
	if pluginPath == "" {
		return nil
	}

	separator := ":"
	if os.PathSeparator == '\\' {
		separator = ";"
	}
	return strings.Split(pluginPath, separator)
}
