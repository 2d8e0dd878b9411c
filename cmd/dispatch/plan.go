package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/born-ml/dispatch/checkpoint"
	"github.com/born-ml/dispatch/module"
	"github.com/born-ml/dispatch/placement"
	"github.com/born-ml/dispatch/tensor"
)

func planCmd() *cli.Command {
	var (
		checkpointPath string
		budgetSpec     string
		configPath     string
		noSplit        string
		dtypeName      string
		offloadBuffers bool
		fallback       bool
		balance        bool
	)

	return &cli.Command{
		Name:  "plan",
		Usage: "Compute a device map for a safetensors checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"c"},
				Usage:       "safetensors file, *.index.json, or checkpoint directory",
				Destination: &checkpointPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "budget",
				Aliases:     []string{"b"},
				Usage:       "device capacities, e.g. \"gpu:0=10GiB,gpu:1=10GiB,cpu=64GiB\"",
				Destination: &budgetSpec,
			},
			&cli.StringFlag{Name: "config", Usage: "YAML file with plan settings", Destination: &configPath},
			&cli.StringFlag{Name: "no-split", Usage: "comma-separated module classes placed whole", Destination: &noSplit},
			&cli.StringFlag{Name: "dtype", Usage: "size floats as this dtype (float16, bfloat16, ...)", Destination: &dtypeName},
			&cli.BoolFlag{Name: "offload-buffers", Usage: "treat buffers as offloadable", Destination: &offloadBuffers},
			&cli.BoolFlag{Name: "fallback", Usage: "split oversized layers into single tensors on the first accelerator", Destination: &fallback},
			&cli.BoolFlag{Name: "balance", Usage: "spread weights across all accelerators instead of filling in order", Destination: &balance},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			var cfg PlanConfig
			if configPath != "" {
				var err error
				cfg, err = loadPlanConfig(configPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			applyPlanConfig(c, cfg, &noSplit, &dtypeName, &offloadBuffers, &fallback, &balance)

			budget, err := cfg.budget()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if budgetSpec != "" {
				if err := parseBudgetSpec(budget, budgetSpec); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			if len(budget.Entries()) == 0 {
				return cli.Exit("error: no budget given; use --budget or a config file", 1)
			}

			opts := placement.PlanOptions{
				Budget:             budget,
				OffloadBuffers:     offloadBuffers,
				FallbackAllocation: fallback,
			}
			if noSplit != "" {
				opts.NoSplitClasses = map[string]struct{}{}
				for _, class := range strings.Split(noSplit, ",") {
					if class = strings.TrimSpace(class); class != "" {
						opts.NoSplitClasses[class] = struct{}{}
					}
				}
			}
			if dtypeName != "" {
				dt, err := parseDType(dtypeName)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				opts.SizeOptions.DTypeOverride = &dt
			}

			src, err := checkpoint.ResolveSource(checkpointPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open checkpoint: %v", err), 1)
			}
			defer func() { _ = src.Close() }()

			tree, err := treeFromSource(src)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read checkpoint: %v", err), 1)
			}

			if balance {
				sizes := placement.ComputeSizes(tree, opts.SizeOptions)
				opts.Budget = placement.Balance(tree, budget, sizes, opts.NoSplitClasses)
			}

			dm, report, err := placement.Plan(tree, opts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			for _, w := range report.Warnings {
				_, _ = fmt.Fprintf(os.Stderr, "warning: %s\n", w.Message)
			}

			out, err := json.MarshalIndent(dm, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

// applyPlanConfig fills plan variables from the config file when the
// corresponding CLI flag was not explicitly set.
func applyPlanConfig(c *cli.Command, cfg PlanConfig,
	noSplit *string, dtypeName *string, offloadBuffers, fallback, balance *bool,
) {
	if len(cfg.NoSplitClasses) > 0 && !c.IsSet("no-split") {
		*noSplit = strings.Join(cfg.NoSplitClasses, ",")
	}
	if cfg.DType != "" && !c.IsSet("dtype") {
		*dtypeName = cfg.DType
	}
	if cfg.OffloadBuffers != nil && !c.IsSet("offload-buffers") {
		*offloadBuffers = *cfg.OffloadBuffers
	}
	if cfg.FallbackAllocation != nil && !c.IsSet("fallback") {
		*fallback = *cfg.FallbackAllocation
	}
	if cfg.Balance != nil && !c.IsSet("balance") {
		*balance = *cfg.Balance
	}
}

// parseBudgetSpec parses "gpu:0=10GiB,cpu=64GiB" into budget entries, in
// order of appearance.
func parseBudgetSpec(b *placement.Budget, spec string) error {
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		dev, size, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("budget entry %q: want device=size", pair)
		}
		if err := b.SetString(tensor.Device(strings.TrimSpace(dev)), strings.TrimSpace(size)); err != nil {
			return fmt.Errorf("budget %s: %w", dev, err)
		}
	}
	return nil
}

func parseDType(name string) (tensor.DataType, error) {
	switch strings.ToLower(name) {
	case "float32", "f32", "fp32":
		return tensor.Float32, nil
	case "float64", "f64", "fp64":
		return tensor.Float64, nil
	case "float16", "f16", "fp16":
		return tensor.Float16, nil
	case "bfloat16", "bf16":
		return tensor.BFloat16, nil
	case "int32", "i32":
		return tensor.Int32, nil
	case "int64", "i64":
		return tensor.Int64, nil
	case "uint8", "u8":
		return tensor.Uint8, nil
	case "bool":
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", name)
	}
}

// treeFromSource synthesizes a module tree from checkpoint tensor paths, so
// the planner sees the same layer structure the names encode. Each dotted
// prefix becomes a node and the final segment a parameter on it.
func treeFromSource(src checkpoint.Source) (*module.Node, error) {
	root := module.New("Checkpoint")
	for _, key := range src.Keys() {
		t, err := src.Read(key)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", key, err)
		}
		owner, name := root, key
		if i := strings.LastIndex(key, "."); i >= 0 {
			owner = ensureNode(root, key[:i])
			name = key[i+1:]
		}
		owner.AddParameter(name, t)
	}
	return root, nil
}

func ensureNode(root *module.Node, path string) *module.Node {
	cur := root
	for _, part := range strings.Split(path, ".") {
		next, ok := cur.Child(part)
		if !ok {
			next = module.New("Module")
			cur.AddChild(part, next)
		}
		cur = next
	}
	return cur
}
