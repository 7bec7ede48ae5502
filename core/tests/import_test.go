package tests

import (
	"bytes"
	"fmt"
	"testing"

	"assembler/core/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// buildXlsx writes a bill of materials sheet. Each row is
// [number, description, quantity, chapter].
func buildXlsx(t *testing.T, rows [][]string) *bytes.Buffer {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	header := []interface{}{"NUMBER/ ОБОЗНАЧЕНИЕ", "DESCRIPTION/ НАИМЕНОВАНИЕ", "Q-TY/ КОЛ.", "CHAPT./ РАЗДЕЛ"}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))

	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		require.NoError(t, f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &cells))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestImportMachineComposition(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	machineId, err := user.createMachine("press", "1.0")
	require.NoError(t, err)

	book := buildXlsx(t, [][]string{
		{"AB.100", "Frame assembly", "1", "assemblies"},
		{"AB.200", "Drive assembly", "2", "assemblies"},
	})

	var summary map[string]int
	err = user.Post(fmt.Sprintf("/machine/%v/import", machineId)).
		File("bom.xlsx", book).Do(&summary)
	require.NoError(t, err)
	assert.Equal(t, 2, summary["modules_created"])
	assert.Equal(t, 2, summary["links_updated"])

	var tree machineTree
	err = user.Get(fmt.Sprintf("/machine/%v/tree", machineId)).Do(&tree)
	require.NoError(t, err)
	require.Len(t, tree.Modules, 2)

	quantities := map[string]uint{}
	for _, node := range tree.Modules {
		quantities[node.Module["name"].(string)] = node.Quantity
	}
	assert.Equal(t, uint(1), quantities["Frame assembly"])
	assert.Equal(t, uint(2), quantities["Drive assembly"])
}

func TestImportMachineIsIdempotent(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	machineId, err := user.createMachine("press", "1.0")
	require.NoError(t, err)

	rows := [][]string{{"AB.100", "Frame assembly", "1", "assemblies"}}

	var summary map[string]int
	err = user.Post(fmt.Sprintf("/machine/%v/import", machineId)).
		File("bom.xlsx", buildXlsx(t, rows)).Do(&summary)
	require.NoError(t, err)
	assert.Equal(t, 1, summary["modules_created"])

	// Re-importing the same sheet updates instead of duplicating.
	rows[0][2] = "4"
	err = user.Post(fmt.Sprintf("/machine/%v/import", machineId)).
		File("bom.xlsx", buildXlsx(t, rows)).Do(&summary)
	require.NoError(t, err)
	assert.Equal(t, 0, summary["modules_created"])
	assert.Equal(t, 1, summary["links_updated"])

	var tree machineTree
	err = user.Get(fmt.Sprintf("/machine/%v/tree", machineId)).Do(&tree)
	require.NoError(t, err)
	require.Len(t, tree.Modules, 1)
	assert.Equal(t, uint(4), tree.Modules[0].Quantity)
}

func TestImportMachineRejectsPartChapters(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	machineId, err := user.createMachine("press", "1.0")
	require.NoError(t, err)

	book := buildXlsx(t, [][]string{
		{"GOST-7798", "Bolt M8x40", "24", "stand. parts"},
	})

	err = user.Post(fmt.Sprintf("/machine/%v/import", machineId)).
		File("bom.xlsx", book).Do(nil)
	assert.Error(t, err)
}

func TestImportModuleComposition(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	parent, err := user.createModule("AB.200", "drive")
	require.NoError(t, err)

	book := buildXlsx(t, [][]string{
		{"AB.210", "Gearbox unit", "1", "assemblies"},
		{"GOST-7798", "Bolt M8x40", "24", "stand. parts"},
		{"DIN-125", "Washer 8.4", "24", "others"},
	})

	var summary map[string]int
	err = user.Post(fmt.Sprintf("/module/%v/import", parent)).
		File("bom.xlsx", book).Do(&summary)
	require.NoError(t, err)
	assert.Equal(t, 1, summary["modules_created"])
	assert.Equal(t, 2, summary["parts_created"])
	assert.Equal(t, 3, summary["links_updated"])

	var node treeNode
	err = user.Get(fmt.Sprintf("/module/%v/tree", parent)).Do(&node)
	require.NoError(t, err)
	require.Len(t, node.Submodules, 1)
	assert.Equal(t, "Gearbox unit", node.Submodules[0].Module["name"])
	require.Len(t, node.Parts, 2)
	assert.Equal(t, uint(24), node.Parts[0].Quantity)
}

func TestImportModuleRejectsCycleRows(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	parent, err := user.createModule("AB.200", "drive")
	require.NoError(t, err)
	child, err := user.createModule("AB.210", "gearbox")
	require.NoError(t, err)
	require.NoError(t, user.setModuleParent(child, &parent))

	// A sheet naming the target module itself must not re-parent it.
	book := buildXlsx(t, [][]string{{"AB.210", "Gearbox unit", "1", "assemblies"}})
	err = user.Post(fmt.Sprintf("/module/%v/import", child)).
		File("bom.xlsx", book).Do(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")

	// Nor may a sheet pull an ancestor below its own descendant.
	book = buildXlsx(t, [][]string{{"AB.200", "Drive assembly", "1", "assemblies"}})
	err = user.Post(fmt.Sprintf("/module/%v/import", child)).
		File("bom.xlsx", book).Do(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")

	var reloaded schema.Module
	require.NoError(t, env.db.First(&reloaded, "id = ?", uuid.MustParse(parent)).Error)
	assert.Nil(t, reloaded.ParentModuleId)

	// The hierarchy is still a forest and the tree resolves.
	var node treeNode
	require.NoError(t, user.Get(fmt.Sprintf("/module/%v/tree", parent)).Do(&node))
	require.Len(t, node.Submodules, 1)
	assert.Empty(t, node.Submodules[0].Submodules)
}

func TestImportMissingColumnRejected(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	machineId, err := user.createMachine("press", "1.0")
	require.NoError(t, err)

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	header := []interface{}{"NUMBER", "DESCRIPTION"}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	err = user.Post(fmt.Sprintf("/machine/%v/import", machineId)).
		File("bom.xlsx", buf).Do(nil)
	assert.Error(t, err)
}
