// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pricing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File is the on-disk pricing format:
//
//	prices:
//	  openai:
//	    gpt-4: 0.03
//	  gemini:
//	    ultra: 0.01
type File struct {
	Version string   `yaml:"version,omitempty"`
	Prices  Snapshot `yaml:"prices"`
}

// StaticFeed serves Defaults with an optional YAML file layered on top.
// Watch reloads the file when it changes.
type StaticFeed struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current Snapshot
	loaded  time.Time
}

// NewStaticFeed loads path when set. A missing file is not an error; the
// defaults apply until it appears.
func NewStaticFeed(path string, logger *slog.Logger) (*StaticFeed, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &StaticFeed{path: path, logger: logger, current: Defaults()}
	if path != "" {
		if err := f.Reload(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return f, nil
}

// CurrentPrices implements the finops price feed. Static prices ignore the
// window.
func (f *StaticFeed) CurrentPrices(ctx context.Context, window time.Duration) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current.Clone(), nil
}

// Reload re-reads the pricing file. On error the previous prices stay.
func (f *StaticFeed) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read pricing file: %w", err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse pricing file %s: %w", f.path, err)
	}

	next := Defaults().Merge(file.Prices)
	f.mu.Lock()
	f.current = next
	f.loaded = time.Now()
	f.mu.Unlock()

	f.logger.Info("pricing file loaded", slog.String("path", f.path), slog.Int("providers", len(file.Prices)))
	return nil
}

// Watch reloads the pricing file on change until ctx is done. The parent
// directory is watched so editors that replace the file are handled.
func (f *StaticFeed) Watch(ctx context.Context) error {
	if f.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(f.path)
	if err != nil {
		return fmt.Errorf("failed to resolve path %s: %w", f.path, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch path %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := f.Reload(); err != nil {
				f.logger.Warn("pricing reload failed", slog.String("path", f.path), slog.String("error", err.Error()))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("pricing watcher error", slog.String("error", err.Error()))
		}
	}
}

// LoadedAt returns when the file was last read, or zero.
func (f *StaticFeed) LoadedAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loaded
}
