package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/born-ml/dispatch/internal/serialization"
	"github.com/born-ml/dispatch/internal/tensor"
)

// Source supplies checkpoint tensors by path. Implementations must be safe
// for concurrent Read calls on distinct names.
type Source interface {
	// Keys returns every tensor path in the checkpoint, sorted.
	Keys() []string
	// Read loads one tensor onto the host.
	Read(name string) (*tensor.RawTensor, error)
	// Close releases underlying files.
	Close() error
}

// ResolveSource opens a checkpoint at path, which may be a single
// safetensors file, a *.index.json shard index, or a directory containing
// one.
func ResolveSource(path string) (Source, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		indexPath, err := FindIndex(path)
		if err != nil {
			return nil, err
		}
		return openSharded(indexPath)
	}
	if strings.HasSuffix(path, ".index.json") {
		return openSharded(path)
	}
	return OpenFileSource(path)
}

// StateDictSource serves tensors from an in-memory map.
type StateDictSource map[string]*tensor.RawTensor

func (s StateDictSource) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s StateDictSource) Read(name string) (*tensor.RawTensor, error) {
	t, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", serialization.ErrTensorNotFound, name)
	}
	return t, nil
}

func (s StateDictSource) Close() error { return nil }

// FileSource serves tensors from one memory-mapped safetensors file.
type FileSource struct {
	reader *serialization.MmapReader
}

// OpenFileSource memory-maps a single safetensors file.
func OpenFileSource(path string) (*FileSource, error) {
	r, err := serialization.NewMmapReader(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{reader: r}, nil
}

func (s *FileSource) Keys() []string { return s.reader.TensorNames() }

func (s *FileSource) Read(name string) (*tensor.RawTensor, error) {
	return s.reader.ReadTensor(name)
}

func (s *FileSource) Close() error { return s.reader.Close() }

// ShardedSource serves tensors from a sharded checkpoint via its index.
// Shard files are opened lazily and kept open until Close.
type ShardedSource struct {
	dir   string
	index *Index

	mu      sync.Mutex
	readers map[string]*serialization.MmapReader
}

func openSharded(indexPath string) (*ShardedSource, error) {
	idx, err := LoadIndex(indexPath)
	if err != nil {
		return nil, err
	}
	return &ShardedSource{
		dir:     filepath.Dir(indexPath),
		index:   idx,
		readers: make(map[string]*serialization.MmapReader),
	}, nil
}

// Index exposes the shard index, letting the loader group work per shard.
func (s *ShardedSource) Index() *Index { return s.index }

func (s *ShardedSource) Keys() []string { return s.index.Keys() }

func (s *ShardedSource) Read(name string) (*tensor.RawTensor, error) {
	shard, ok := s.index.WeightMap[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", serialization.ErrTensorNotFound, name)
	}
	r, err := s.shardReader(shard)
	if err != nil {
		return nil, err
	}
	return r.ReadTensor(name)
}

func (s *ShardedSource) shardReader(shard string) (*serialization.MmapReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.readers[shard]; ok {
		return r, nil
	}
	r, err := serialization.NewMmapReader(filepath.Join(s.dir, shard))
	if err != nil {
		return nil, fmt.Errorf("failed to open shard %s: %w", shard, err)
	}
	s.readers[shard] = r
	return r, nil
}

func (s *ShardedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, r := range s.readers {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.readers = make(map[string]*serialization.MmapReader)
	return first
}
