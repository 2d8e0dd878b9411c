// Package checkpoint loads safetensors checkpoints into parameter trees
// under a device map, spilling disk-mapped tensors to an offload folder, and
// provides the scoped guard that pages a node's tensors onto its execution
// device and back.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/born-ml/dispatch/internal/tensor"
)

const offloadIndexName = "index.json"

// OffloadFolder owns a directory of spilled tensor values: one .dat file per
// tensor plus a JSON index mapping tensor paths to their entries. A folder
// is exclusively owned by the tree it was populated for; concurrent loads
// must use distinct folders.
type OffloadFolder struct {
	dir string

	mu    sync.Mutex
	index map[string]*tensor.OffloadEntry
}

// NewOffloadFolder creates or reopens an offload folder at dir. An existing
// index is loaded so entries survive across processes.
func NewOffloadFolder(dir string) (*OffloadFolder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create offload folder: %w", err)
	}
	f := &OffloadFolder{
		dir:   dir,
		index: make(map[string]*tensor.OffloadEntry),
	}
	raw, err := os.ReadFile(filepath.Join(dir, offloadIndexName))
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read offload index: %w", err)
	}
	if err := json.Unmarshal(raw, &f.index); err != nil {
		return nil, fmt.Errorf("failed to parse offload index: %w", err)
	}
	return f, nil
}

// ScratchFolder creates a uniquely named offload folder under the system
// temp directory.
func ScratchFolder() (*OffloadFolder, error) {
	return NewOffloadFolder(filepath.Join(os.TempDir(), "dispatch-offload-"+uuid.NewString()))
}

// Dir returns the folder's directory.
func (f *OffloadFolder) Dir() string { return f.dir }

// WriteEntry persists a tensor's bytes to the folder and returns the
// placeholder entry to install in its stead.
func (f *OffloadFolder) WriteEntry(path string, data []byte, dtype tensor.DataType, shape tensor.Shape) (*tensor.OffloadEntry, error) {
	file := filepath.Join(f.dir, path+".dat")
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write offload file for %s: %w", path, err)
	}
	entry := &tensor.OffloadEntry{
		File:  file,
		DType: dtype,
		Shape: shape.Clone(),
	}

	f.mu.Lock()
	f.index[path] = entry
	err := f.saveIndexLocked()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ReadEntry streams an entry's bytes back from disk.
func (f *OffloadFolder) ReadEntry(entry *tensor.OffloadEntry) ([]byte, error) {
	return readEntryFile(entry)
}

// Entry returns the recorded entry for a tensor path.
func (f *OffloadFolder) Entry(path string) (*tensor.OffloadEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.index[path]
	return e, ok
}

// Paths returns every tensor path with an entry in the folder.
func (f *OffloadFolder) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.index))
	for p := range f.index {
		out = append(out, p)
	}
	return out
}

// Remove deletes the folder and everything in it. The owning tree must not
// hold offloaded tensors pointing into it afterwards.
func (f *OffloadFolder) Remove() error {
	return os.RemoveAll(f.dir)
}

func (f *OffloadFolder) saveIndexLocked() error {
	raw, err := json.Marshal(f.index)
	if err != nil {
		return fmt.Errorf("failed to marshal offload index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(f.dir, offloadIndexName), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write offload index: %w", err)
	}
	return nil
}

// readEntryFile reads the bytes behind an offload placeholder, validating
// the length against the entry's shape and dtype.
func readEntryFile(entry *tensor.OffloadEntry) ([]byte, error) {
	data, err := os.ReadFile(entry.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read offload file: %w", err)
	}
	if want := entry.Shape.NumElements() * entry.DType.Size(); len(data) != want {
		return nil, fmt.Errorf("offload file %s has %d bytes, want %d", entry.File, len(data), want)
	}
	return data, nil
}
