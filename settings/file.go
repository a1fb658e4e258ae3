// Copyright 2025 The Outline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
)

// File is a [Provider] backed by a YAML document such as:
//
//	proxy_enabled: true
//	api_proxy_enabled: false
//
// The file is watched for changes. A missing file yields the default settings, and a
// change that fails to parse keeps the last good settings.
type File struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

var _ Provider = (*File)(nil)

// FileConfig configures [OpenFile].
type FileConfig struct {
	// Path is the settings file. Required.
	Path string
	// Logger is used for reload diagnostics (optional).
	Logger *slog.Logger
	// DisableWatch turns off live reloading. [File.Reload] can still be called explicitly.
	DisableWatch bool
}

// OpenFile loads the settings file and starts watching it. It fails if the file exists
// but is not a valid settings document.
func OpenFile(cfg FileConfig) (*File, error) {
	if cfg.Path == "" {
		return nil, errors.New("settings path is required")
	}
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings path %s: %w", cfg.Path, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := &File{path: absPath, logger: logger}
	snapshot, err := readFile(absPath)
	if err != nil {
		return nil, err
	}
	f.current.Store(&snapshot)

	if cfg.DisableWatch {
		return f, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory rather than the file, since editors and config management
	// replace the file instead of writing it in place.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}
	f.watcher = watcher
	f.wg.Add(1)
	go f.processEvents()
	return f, nil
}

// Path returns the absolute path of the settings file.
func (f *File) Path() string {
	return f.path
}

// Snapshot implements [Provider].
func (f *File) Snapshot() Snapshot {
	return *f.current.Load()
}

// Reload re-reads the file. On failure the previous settings are kept and the error is returned.
func (f *File) Reload() error {
	snapshot, err := readFile(f.path)
	if err != nil {
		return err
	}
	old := f.current.Swap(&snapshot)
	if *old != snapshot {
		f.logger.Info("settings changed", "path", f.path,
			"proxy_enabled", snapshot.ProxyEnabled, "api_proxy_enabled", snapshot.APIProxyEnabled)
	}
	return nil
}

// Close stops watching the file.
func (f *File) Close() error {
	if f.watcher == nil {
		return nil
	}
	err := f.watcher.Close()
	f.wg.Wait()
	return err
}

func (f *File) processEvents() {
	defer f.wg.Done()
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := f.Reload(); err != nil {
				f.logger.Warn("ignoring invalid settings file", "path", f.path, "error", err)
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("settings watcher error", "path", f.path, "error", err)
		}
	}
}

func readFile(path string) (Snapshot, error) {
	var snapshot Snapshot
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return snapshot, nil
	}
	if err != nil {
		return snapshot, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.UnmarshalWithOptions(data, &snapshot, yaml.Strict()); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	return snapshot, nil
}
