package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/born-ml/dispatch/checkpoint"
	"github.com/born-ml/dispatch/internal/format"
	"github.com/born-ml/dispatch/internal/serialization"
)

type tensorLine struct {
	name  string
	dtype string
	shape []int
	bytes int64
	shard string
}

func inspectCmd() *cli.Command {
	var (
		checkpointPath string
		filter         string
		limit          int64
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "List the tensors of a safetensors checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"c"},
				Usage:       "safetensors file, *.index.json, or checkpoint directory",
				Destination: &checkpointPath,
				Required:    true,
			},
			&cli.StringFlag{Name: "filter", Usage: "substring filter for tensor names", Destination: &filter},
			&cli.IntFlag{Name: "limit", Usage: "limit tensor listing (0 = no limit)", Value: 50, Destination: &limit},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			lines, shards, err := collectTensors(checkpointPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			var total int64
			dtypeCounts := map[string]int{}
			dtypeBytes := map[string]int64{}
			for _, l := range lines {
				total += l.bytes
				dtypeCounts[l.dtype]++
				dtypeBytes[l.dtype] += l.bytes
			}

			fmt.Printf("Checkpoint: %s\n", checkpointPath)
			if shards > 1 {
				fmt.Printf("Shards:     %d\n", shards)
			}
			fmt.Printf("Tensors:    %d\n", len(lines))
			fmt.Printf("Data size:  %s\n", format.HumanBytes(total))

			dtypes := make([]string, 0, len(dtypeCounts))
			for dt := range dtypeCounts {
				dtypes = append(dtypes, dt)
			}
			sort.Strings(dtypes)
			for _, dt := range dtypes {
				fmt.Printf("  %-6s %d tensors (%s)\n", dt, dtypeCounts[dt], format.HumanBytes(dtypeBytes[dt]))
			}
			fmt.Println()

			printed := 0
			for _, l := range lines {
				if filter != "" && !strings.Contains(l.name, filter) {
					continue
				}
				line := fmt.Sprintf("%s  dtype=%s shape=%s size=%s", l.name, l.dtype, formatShape(l.shape), format.HumanBytes(l.bytes))
				if l.shard != "" {
					line += fmt.Sprintf(" shard=%s", l.shard)
				}
				fmt.Println(line)
				printed++
				if limit > 0 && int64(printed) >= limit {
					break
				}
			}
			if limit > 0 && printed < len(lines) {
				fmt.Printf("... (%d shown of %d)\n", printed, len(lines))
			}
			return nil
		},
	}
}

// collectTensors gathers name, dtype, shape, and byte size for every tensor
// in a checkpoint, reading headers only.
func collectTensors(path string) ([]tensorLine, int, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}

	var indexPath string
	switch {
	case stat.IsDir():
		indexPath, err = checkpoint.FindIndex(path)
		if err != nil {
			return nil, 0, err
		}
	case strings.HasSuffix(path, ".index.json"):
		indexPath = path
	default:
		lines, err := readShardHeader(path, "")
		return lines, 1, err
	}

	idx, err := checkpoint.LoadIndex(indexPath)
	if err != nil {
		return nil, 0, err
	}
	dir := filepath.Dir(indexPath)

	shards := idx.Shards()
	names := make([]string, 0, len(shards))
	for shard := range shards {
		names = append(names, shard)
	}
	sort.Strings(names)

	var lines []tensorLine
	for _, shard := range names {
		shardLines, err := readShardHeader(filepath.Join(dir, shard), shard)
		if err != nil {
			return nil, 0, fmt.Errorf("shard %s: %w", shard, err)
		}
		lines = append(lines, shardLines...)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].name < lines[j].name })
	return lines, len(names), nil
}

func readShardHeader(path, shard string) ([]tensorLine, error) {
	r, err := serialization.NewMmapReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	var lines []tensorLine
	for _, name := range r.TensorNames() {
		info, err := r.TensorInfo(name)
		if err != nil {
			return nil, err
		}
		lines = append(lines, tensorLine{
			name:  name,
			dtype: string(info.DType),
			shape: info.Shape,
			bytes: info.DataOffsets[1] - info.DataOffsets[0],
			shard: shard,
		})
	}
	return lines, nil
}

func formatShape(shape []int) string {
	if len(shape) == 0 {
		return "[]"
	}
	parts := make([]string, len(shape))
	for i, v := range shape {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
