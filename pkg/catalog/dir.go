package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// Dir serves workflows from a directory of .json, .yaml and .yml files. A
// file's id defaults to its base name.
type Dir struct {
	path string

	mu     sync.RWMutex
	memory *Memory
}

// NewDir loads every workflow file in path. Files that fail to parse are
// reported in the returned error while the rest stay available.
func NewDir(path string) (*Dir, error) {
	d := &Dir{path: path}
	err := d.Reload()
	if d.memory == nil {
		return nil, err
	}
	return d, err
}

// Reload rereads the directory and swaps the catalog contents atomically
func (d *Dir) Reload() error {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return fmt.Errorf("failed to read workflow directory: %w", err)
	}

	mem, _ := NewMemory()
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isWorkflowFile(entry.Name()) {
			continue
		}
		wf, err := workflow.LoadFile(filepath.Join(d.path, entry.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := mem.Get(context.Background(), wf.ID); err == nil {
			errs = append(errs, fmt.Errorf("duplicate workflow id %q in %s", wf.ID, entry.Name()))
			continue
		}
		if err := mem.Save(wf); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
		}
	}

	d.mu.Lock()
	d.memory = mem
	d.mu.Unlock()
	return errors.Join(errs...)
}

// Get implements Source
func (d *Dir) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.memory.Get(ctx, id)
}

// List implements Source
func (d *Dir) List(ctx context.Context) ([]*workflow.Workflow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.memory.List(ctx)
}

func isWorkflowFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
