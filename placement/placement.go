// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package placement provides the public placement planning API: per-node
// size accounting, tied-storage analysis, device budgets, and the greedy
// hierarchical planner that assigns a parameter tree across accelerators,
// host, and disk.
//
// Example:
//
//	budget := placement.NewBudget()
//	if err := budget.SetString(tensor.Accelerator(0), "10GiB"); err != nil {
//		return err
//	}
//	if err := budget.SetString(tensor.CPU, "64GiB"); err != nil {
//		return err
//	}
//	dm, report, err := placement.Plan(tree, placement.PlanOptions{Budget: budget})
package placement

import (
	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/placement"
)

// SizeOptions controls how tensor byte widths are computed.
type SizeOptions = placement.SizeOptions

// ComputeSizes returns the byte footprint of every node and tensor, by path.
func ComputeSizes(tree *module.Node, opts SizeOptions) map[string]int64 {
	return placement.ComputeSizes(tree, opts)
}

// TotalBufferBytes sums the effective sizes of every buffer in the tree.
func TotalBufferBytes(tree *module.Node, opts SizeOptions) int64 {
	return placement.TotalBufferBytes(tree, opts)
}

// TieGroup is a set of tensor paths aliasing one storage block.
type TieGroup = placement.TieGroup

// FindTied groups the tree's tensor paths by storage identity.
func FindTied(tree *module.Node) []TieGroup { return placement.FindTied(tree) }

// Retie re-establishes storage sharing after tensors have been rebuilt.
func Retie(tree *module.Node, groups []TieGroup) error {
	return placement.Retie(tree, groups)
}

// Budget is an ordered device capacity table.
type Budget = placement.Budget

// BudgetEntry is one device's byte capacity.
type BudgetEntry = placement.BudgetEntry

// NewBudget creates an empty budget.
func NewBudget() *Budget { return placement.NewBudget() }

// Balance rewrites accelerator capacities to spread a tree evenly.
func Balance(tree *module.Node, b *Budget, sizes map[string]int64, noSplitClasses map[string]struct{}) *Budget {
	return placement.Balance(tree, b, sizes, noSplitClasses)
}

// DeviceMap assigns subtrees and tensors to devices by dotted path.
type DeviceMap = placement.DeviceMap

// Clean coalesces sibling entries that share a device.
func Clean(dm DeviceMap) DeviceMap { return placement.Clean(dm) }

// Check validates a device map against a tree.
func Check(tree *module.Node, dm DeviceMap) error { return placement.Check(tree, dm) }

// PlanOptions configures the automatic placement planner.
type PlanOptions = placement.PlanOptions

// Report carries the advisories produced while planning.
type Report = placement.Report

// Warning is one planner advisory.
type Warning = placement.Warning

// WarningKind classifies planner advisories.
type WarningKind = placement.WarningKind

// Warning kinds.
const (
	WarnInsufficientMemory WarningKind = placement.WarnInsufficientMemory
	WarnBufferConcurrency  WarningKind = placement.WarnBufferConcurrency
)

// ValidationError reports a path or group that does not match the tree.
type ValidationError = placement.ValidationError

// ErrInsufficientCapacity reports that no device can accept a unit.
var ErrInsufficientCapacity = placement.ErrInsufficientCapacity

// Plan assigns every tensor in the tree to a device.
func Plan(tree *module.Node, opts PlanOptions) (DeviceMap, *Report, error) {
	return placement.Plan(tree, opts)
}
