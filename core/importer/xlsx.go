// Package importer loads machine and module composition from XLSX bills of
// materials. Column headers may be English or Cyrillic ("NUMBER/ ОБОЗНАЧЕНИЕ")
// and are matched on the part before the slash.
package importer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"assembler/core/assembly"
	"assembler/core/schema"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

var (
	colNumber      = "number"
	colDescription = "description"
	colQuantity    = "q-ty"
	colChapter     = "chapt."
)

var requiredColumns = []string{colNumber, colDescription, colQuantity, colChapter}

// Summary reports what an import created or updated.
type Summary struct {
	ModulesCreated int `json:"modules_created"`
	PartsCreated   int `json:"parts_created"`
	LinksUpdated   int `json:"links_updated"`
}

type row struct {
	decimal     string
	description string
	chapter     string
	quantity    uint
}

func normalize(value string) string {
	return strings.ReplaceAll(strings.TrimSpace(value), "\n", "")
}

func parseQuantity(value string) uint {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f < 0 {
		return 1
	}
	return uint(f)
}

// isPartChapter reports whether the chapter column marks a row as a terminal
// part rather than a nested module.
func isPartChapter(chapter string) bool {
	return strings.Contains(chapter, "others") || strings.Contains(chapter, "stand. parts")
}

// readRows parses the first sheet into rows, validating the header.
func readRows(data io.Reader) ([]row, error) {
	f, err := excelize.OpenReader(data)
	if err != nil {
		return nil, fmt.Errorf("error opening xlsx file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("xlsx file has no sheets")
	}

	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("error reading xlsx rows: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("xlsx file is empty")
	}

	// Header cells like "NUMBER/ ОБОЗНАЧЕНИЕ" are keyed on the english half.
	columns := map[string]int{}
	for i, header := range raw[0] {
		key := strings.ToLower(strings.TrimSpace(strings.Split(header, "/")[0]))
		columns[key] = i
	}
	for _, col := range requiredColumns {
		if _, ok := columns[col]; !ok {
			return nil, fmt.Errorf("column %q is missing in the xlsx file", col)
		}
	}

	cell := func(cells []string, col string) string {
		idx := columns[col]
		if idx >= len(cells) {
			return ""
		}
		return cells[idx]
	}

	rows := make([]row, 0, len(raw)-1)
	for _, cells := range raw[1:] {
		rows = append(rows, row{
			decimal:     normalize(cell(cells, colNumber)),
			description: normalize(cell(cells, colDescription)),
			chapter:     strings.ToLower(normalize(cell(cells, colChapter))),
			quantity:    parseQuantity(cell(cells, colQuantity)),
		})
	}

	return rows, nil
}

// moduleName derives the short module name from the full description. Long
// descriptions with a parenthesized suffix keep only the leading part.
func moduleName(description string, maxLen int) string {
	if idx := strings.Index(description, "("); idx > maxLen {
		return strings.TrimSpace(description[:idx])
	}
	if len(description) > maxLen {
		return strings.TrimSpace(description[:maxLen])
	}
	return description
}

func upsertModule(txn *gorm.DB, decimal, name, description string) (schema.Module, bool, error) {
	var module schema.Module
	result := txn.Limit(1).Find(&module, "decimal = ?", decimal)
	if result.Error != nil {
		slog.Error("sql error looking up module by decimal", "decimal", decimal, "error", result.Error)
		return module, false, schema.ErrDbAccessFailed
	}

	if result.RowsAffected == 0 {
		module = schema.Module{Id: uuid.New(), Decimal: decimal, Name: name, Description: description, Status: schema.ModuleInProgress}
		if err := txn.Create(&module).Error; err != nil {
			slog.Error("sql error creating imported module", "decimal", decimal, "error", err)
			return module, false, schema.ErrDbAccessFailed
		}
		return module, true, nil
	}

	err := txn.Model(&module).Updates(map[string]interface{}{"name": name, "description": description}).Error
	if err != nil {
		slog.Error("sql error updating imported module", "decimal", decimal, "error", err)
		return module, false, schema.ErrDbAccessFailed
	}
	return module, false, nil
}

func upsertPart(txn *gorm.DB, decimal, name string) (schema.Part, bool, error) {
	var part schema.Part
	result := txn.Limit(1).Find(&part, "decimal = ?", decimal)
	if result.Error != nil {
		slog.Error("sql error looking up part by decimal", "decimal", decimal, "error", result.Error)
		return part, false, schema.ErrDbAccessFailed
	}

	if result.RowsAffected == 0 {
		part = schema.Part{Id: uuid.New(), Decimal: decimal, Name: name}
		if err := txn.Create(&part).Error; err != nil {
			slog.Error("sql error creating imported part", "decimal", decimal, "error", err)
			return part, false, schema.ErrDbAccessFailed
		}
		return part, true, nil
	}

	if err := txn.Model(&part).Update("name", name).Error; err != nil {
		slog.Error("sql error updating imported part", "decimal", decimal, "error", err)
		return part, false, schema.ErrDbAccessFailed
	}
	return part, false, nil
}

// checkForestIntact rejects attaching module below parent when the module is
// the parent itself or one of its ancestors: parent edges must stay a forest.
// The walk carries a visited set so an already broken hierarchy fails instead
// of looping.
func checkForestIntact(txn *gorm.DB, module schema.Module, parentModuleId uuid.UUID) error {
	visited := map[uuid.UUID]struct{}{}
	ancestor := &parentModuleId
	for ancestor != nil {
		if *ancestor == module.Id {
			return fmt.Errorf("%w: row %v resolves to the target module or one of its ancestors", assembly.ErrCycleDetected, module.Decimal)
		}
		if _, seen := visited[*ancestor]; seen {
			return fmt.Errorf("%w: module %v reached twice walking up from the target module", assembly.ErrCycleDetected, *ancestor)
		}
		visited[*ancestor] = struct{}{}

		parent, err := schema.GetModule(*ancestor, txn, false)
		if err != nil {
			return err
		}
		ancestor = parent.ParentModuleId
	}
	return nil
}

// ImportMachine parses top-level modules from an XLSX bill of materials and
// attaches them to the machine. Part chapters are rejected: parts belong to
// module imports.
func ImportMachine(db *gorm.DB, data io.Reader, machineId uuid.UUID) (Summary, error) {
	rows, err := readRows(data)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary

	err = db.Transaction(func(txn *gorm.DB) error {
		for _, r := range rows {
			if isPartChapter(r.chapter) {
				return errors.New("'stand. parts' and 'others' chapters must be imported into a module, not a machine")
			}
			if r.decimal == "" {
				return errors.New("module row must have a decimal number")
			}

			module, created, err := upsertModule(txn, r.decimal, moduleName(r.description, 25), r.description)
			if err != nil {
				return err
			}
			if created {
				summary.ModulesCreated++
			}

			var link schema.MachineModule
			result := txn.Limit(1).Find(&link, "machine_id = ? AND module_id = ?", machineId, module.Id)
			if result.Error != nil {
				slog.Error("sql error looking up machine module link", "machine_id", machineId, "module_id", module.Id, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
			if result.RowsAffected == 0 {
				link = schema.MachineModule{Id: uuid.New(), MachineId: machineId, ModuleId: module.Id, Quantity: r.quantity}
				if err := txn.Create(&link).Error; err != nil {
					slog.Error("sql error creating machine module link", "machine_id", machineId, "module_id", module.Id, "error", err)
					return schema.ErrDbAccessFailed
				}
			} else if err := txn.Model(&link).Update("quantity", r.quantity).Error; err != nil {
				slog.Error("sql error updating machine module link", "machine_id", machineId, "module_id", module.Id, "error", err)
				return schema.ErrDbAccessFailed
			}
			summary.LinksUpdated++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	return summary, nil
}

// ImportModule parses submodules and parts from an XLSX bill of materials and
// attaches them below the parent module. The chapter column distinguishes
// parts from nested modules.
func ImportModule(db *gorm.DB, data io.Reader, parentModuleId uuid.UUID) (Summary, error) {
	rows, err := readRows(data)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary

	err = db.Transaction(func(txn *gorm.DB) error {
		for _, r := range rows {
			if r.decimal == "" {
				return errors.New("row must have a decimal number")
			}

			if isPartChapter(r.chapter) {
				part, created, err := upsertPart(txn, r.decimal, moduleName(r.description, 255))
				if err != nil {
					return err
				}
				if created {
					summary.PartsCreated++
				}

				var link schema.ModulePart
				result := txn.Limit(1).Find(&link, "module_id = ? AND part_id = ?", parentModuleId, part.Id)
				if result.Error != nil {
					slog.Error("sql error looking up module part link", "module_id", parentModuleId, "part_id", part.Id, "error", result.Error)
					return schema.ErrDbAccessFailed
				}
				if result.RowsAffected == 0 {
					link = schema.ModulePart{ModuleId: parentModuleId, PartId: part.Id, Quantity: r.quantity}
					if err := txn.Create(&link).Error; err != nil {
						slog.Error("sql error creating module part link", "module_id", parentModuleId, "part_id", part.Id, "error", err)
						return schema.ErrDbAccessFailed
					}
				} else if err := txn.Model(&link).Update("quantity", r.quantity).Error; err != nil {
					slog.Error("sql error updating module part link", "module_id", parentModuleId, "part_id", part.Id, "error", err)
					return schema.ErrDbAccessFailed
				}
				summary.LinksUpdated++
				continue
			}

			module, created, err := upsertModule(txn, r.decimal, moduleName(r.description, 15), r.description)
			if err != nil {
				return err
			}
			if created {
				summary.ModulesCreated++
			}

			if err := checkForestIntact(txn, module, parentModuleId); err != nil {
				return err
			}

			if err := txn.Model(&module).Update("parent_module_id", parentModuleId).Error; err != nil {
				slog.Error("sql error attaching imported submodule", "module_id", module.Id, "parent_module_id", parentModuleId, "error", err)
				return schema.ErrDbAccessFailed
			}
			summary.LinksUpdated++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	return summary, nil
}
