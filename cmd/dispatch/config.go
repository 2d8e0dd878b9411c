package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/dispatch/placement"
	"github.com/born-ml/dispatch/tensor"
)

// PlanConfig mirrors the plan command flags for users who keep placement
// settings in a YAML file. Budget entries are ordered: accelerators are
// filled in the order they appear.
type PlanConfig struct {
	Budget             []BudgetEntryConfig `yaml:"budget"`
	NoSplitClasses     []string            `yaml:"no_split_classes"`
	OffloadBuffers     *bool               `yaml:"offload_buffers"`
	FallbackAllocation *bool               `yaml:"fallback_allocation"`
	Balance            *bool               `yaml:"balance"`
	DType              string              `yaml:"dtype"`
}

// BudgetEntryConfig is one ordered budget line, e.g.
//
//	- device: "gpu:0"
//	  capacity: 10GiB
type BudgetEntryConfig struct {
	Device   string `yaml:"device"`
	Capacity string `yaml:"capacity"`
}

func loadPlanConfig(path string) (PlanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PlanConfig{}, err
	}
	var cfg PlanConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PlanConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c PlanConfig) budget() (*placement.Budget, error) {
	b := placement.NewBudget()
	for _, e := range c.Budget {
		if e.Device == "" {
			return nil, fmt.Errorf("budget entry missing device")
		}
		if err := b.SetString(tensor.Device(e.Device), e.Capacity); err != nil {
			return nil, fmt.Errorf("budget %s: %w", e.Device, err)
		}
	}
	return b, nil
}
