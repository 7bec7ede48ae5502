// Package assembly builds the hierarchical assembly tree of machines,
// modules, submodules, and parts.
package assembly

import (
	"errors"
	"fmt"
	"log/slog"

	"assembler/core/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrCycleDetected indicates that the module hierarchy contains a cycle. The
// parent edges are expected to form a forest, but nothing at the schema level
// enforces it, so every traversal re-checks.
var ErrCycleDetected = errors.New("cycle detected in module hierarchy")

// PartEdge is a part attached to a module. Edge identity is the composite
// (module, part) pair; the module is the enclosing node.
type PartEdge struct {
	Part     schema.Part `json:"part"`
	Quantity uint        `json:"quantity"`
}

// Node is one module in the assembly tree. LinkId identifies the edge through
// which the node was reached: the MachineModule link id for machine roots,
// the module's own id for parent-module edges.
type Node struct {
	Module     schema.Module `json:"module"`
	LinkId     uuid.UUID     `json:"link_id"`
	Quantity   uint          `json:"quantity"`
	Parts      []PartEdge    `json:"parts"`
	Submodules []*Node       `json:"submodules"`
}

// MachineTree is the assembly tree of a whole machine, one node per root
// module link.
type MachineTree struct {
	Machine schema.Machine `json:"machine"`
	Modules []*Node        `json:"modules"`
}

// BuildMachineTree resolves every root module link of the machine into a
// nested tree. Root links are visited in insertion order.
func BuildMachineTree(db *gorm.DB, machineId uuid.UUID) (*MachineTree, error) {
	machine, err := schema.GetMachine(machineId, db)
	if err != nil {
		return nil, err
	}

	var links []schema.MachineModule
	result := db.Preload("Module").
		Where("machine_id = ?", machineId).
		Order("created_at, id").
		Find(&links)
	if result.Error != nil {
		slog.Error("sql error listing machine module links", "machine_id", machineId, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	tree := &MachineTree{Machine: machine, Modules: make([]*Node, 0, len(links))}

	visited := map[uuid.UUID]struct{}{}
	for _, link := range links {
		if link.Module == nil {
			slog.Error("machine module link has no module loaded", "link_id", link.Id)
			return nil, schema.ErrDbAccessFailed
		}
		node, err := buildNode(db, *link.Module, link.Id, link.Quantity, visited)
		if err != nil {
			return nil, err
		}
		tree.Modules = append(tree.Modules, node)
	}

	return tree, nil
}

// BuildModuleTree resolves a single module and everything below it.
func BuildModuleTree(db *gorm.DB, moduleId uuid.UUID) (*Node, error) {
	module, err := schema.GetModule(moduleId, db, false)
	if err != nil {
		return nil, err
	}

	visited := map[uuid.UUID]struct{}{}
	return buildNode(db, module, module.Id, 1, visited)
}

// buildNode resolves one module depth-first. The visited set spans the whole
// traversal: any module reachable twice means the forest invariant is broken
// and the build fails fast instead of looping.
func buildNode(db *gorm.DB, module schema.Module, linkId uuid.UUID, quantity uint, visited map[uuid.UUID]struct{}) (*Node, error) {
	if _, seen := visited[module.Id]; seen {
		return nil, fmt.Errorf("%w: module %v (%v) reached twice", ErrCycleDetected, module.Decimal, module.Id)
	}
	visited[module.Id] = struct{}{}

	node := &Node{
		Module:     module,
		LinkId:     linkId,
		Quantity:   quantity,
		Parts:      make([]PartEdge, 0),
		Submodules: make([]*Node, 0),
	}

	var parts []schema.ModulePart
	result := db.Preload("Part").
		Where("module_id = ?", module.Id).
		Order("created_at, part_id").
		Find(&parts)
	if result.Error != nil {
		slog.Error("sql error listing module parts", "module_id", module.Id, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	for _, link := range parts {
		if link.Part == nil {
			slog.Error("module part link has no part loaded", "module_id", link.ModuleId, "part_id", link.PartId)
			return nil, schema.ErrDbAccessFailed
		}
		node.Parts = append(node.Parts, PartEdge{Part: *link.Part, Quantity: link.Quantity})
	}

	var submodules []schema.Module
	result = db.Where("parent_module_id = ?", module.Id).
		Order("created_at, id").
		Find(&submodules)
	if result.Error != nil {
		slog.Error("sql error listing submodules", "module_id", module.Id, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	for _, submodule := range submodules {
		child, err := buildNode(db, submodule, submodule.Id, 1, visited)
		if err != nil {
			return nil, err
		}
		node.Submodules = append(node.Submodules, child)
	}

	return node, nil
}

// CountNodes returns the number of module nodes in the tree.
func CountNodes(nodes []*Node) int {
	total := 0
	for _, node := range nodes {
		total += 1 + CountNodes(node.Submodules)
	}
	return total
}
