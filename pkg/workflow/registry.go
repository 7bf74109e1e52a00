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

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/getnvoi/conveyor/pkg/errors"
)

// Registry holds validated workflow definitions by ID. It is safe for
// concurrent use; the engine resolves sub-workflow steps through it.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*Definition
	logger    *slog.Logger
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		workflows: make(map[string]*Definition),
		logger:    slog.Default().With(slog.String("component", "registry")),
	}
}

// Register validates a definition and stores it, replacing any previous
// version under the same ID.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("workflow %s: %w", def.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[def.ID] = def
	return nil
}

// Get returns the definition for an ID.
func (r *Registry) Get(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.workflows[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	return def, nil
}

// List returns the registered workflow IDs in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove deletes a workflow from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workflows, id)
}

// LoadFile parses, validates, and registers a single workflow document.
func (r *Registry) LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := r.Register(def); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDir loads every .yaml/.yml file in a directory. Files that fail to
// parse or validate are skipped with a warning so one broken document does
// not take down the rest.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read workflow directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isWorkflowFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := r.LoadFile(path)
		if err != nil {
			r.logger.Warn("skipping workflow file", "path", path, "error", err)
			continue
		}
		r.logger.Info("loaded workflow", "workflow_id", def.ID, "path", path)
	}
	return nil
}

// Watch reloads workflow files in dir as they are created or modified,
// until ctx is cancelled. Broken documents keep the previously registered
// version.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := watcher.Add(absDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		logger := r.logger.With(slog.String("path", absDir))
		logger.Info("workflow watcher started")
		for {
			select {
			case <-ctx.Done():
				logger.Info("workflow watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				r.handleWatchEvent(logger, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("workflow watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (r *Registry) handleWatchEvent(logger *slog.Logger, event fsnotify.Event) {
	if !isWorkflowFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	def, err := r.LoadFile(event.Name)
	if err != nil {
		logger.Warn("failed to reload workflow", "file", event.Name, "error", err)
		return
	}
	logger.Info("reloaded workflow", "workflow_id", def.ID, "file", event.Name)
}

func isWorkflowFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
