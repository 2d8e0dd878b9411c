package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"
)

// Index maps tensor paths to the shard files holding them. It mirrors the
// *.index.json layout used by sharded safetensors checkpoints.
type Index struct {
	Metadata  IndexMetadata     `json:"metadata,omitempty"`
	WeightMap map[string]string `json:"weight_map"`
}

// IndexMetadata carries optional totals recorded alongside the weight map.
type IndexMetadata struct {
	TotalSize int64 `json:"total_size,omitempty"`
}

// LoadIndex reads and parses a checkpoint index file.
func LoadIndex(path string) (*Index, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint index: %w", err)
	}
	if idx.WeightMap == nil {
		return nil, fmt.Errorf("checkpoint index %s has no weight_map", path)
	}
	return &idx, nil
}

// FindIndex locates the single *.index.json file in a checkpoint directory.
func FindIndex(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.index.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no *.index.json found in %s", dir)
	}
	if len(matches) > 1 {
		sort.Strings(matches)
		return "", fmt.Errorf("multiple index files found in %s: %v", dir, matches)
	}
	return matches[0], nil
}

// Shards groups the index's tensor paths by shard file, each group sorted.
func (idx *Index) Shards() map[string][]string {
	out := make(map[string][]string)
	for path, shard := range idx.WeightMap {
		out[shard] = append(out[shard], path)
	}
	for _, paths := range out {
		sort.Strings(paths)
	}
	return out
}

// Keys returns every tensor path in the index, sorted.
func (idx *Index) Keys() []string {
	keys := make([]string, 0, len(idx.WeightMap))
	for k := range idx.WeightMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
