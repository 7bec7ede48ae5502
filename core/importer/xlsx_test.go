package importer

import (
	"bytes"
	"fmt"
	"testing"

	"assembler/core/assembly"
	"assembler/core/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestModuleName(t *testing.T) {
	assert.Equal(t, "Frame", moduleName("Frame", 25))
	assert.Equal(t, "Frame assembly welded st", moduleName("Frame assembly welded steel", 24))
	assert.Equal(t, "Drive assembly complete kit", moduleName("Drive assembly complete kit (with motor and gearbox)", 25))
}

func TestIsPartChapter(t *testing.T) {
	assert.True(t, isPartChapter("stand. parts"))
	assert.True(t, isPartChapter("others"))
	assert.True(t, isPartChapter("chapter: others etc"))
	assert.False(t, isPartChapter("assemblies"))
	assert.False(t, isPartChapter(""))
}

func TestParseQuantity(t *testing.T) {
	assert.Equal(t, uint(4), parseQuantity("4"))
	assert.Equal(t, uint(2), parseQuantity(" 2.0 "))
	assert.Equal(t, uint(0), parseQuantity("0"))
	assert.Equal(t, uint(1), parseQuantity(""))
	assert.Equal(t, uint(1), parseQuantity("n/a"))
}

func setupDb(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(schema.Tables()...))
	return db
}

func buildBom(t *testing.T, rows [][]string) *bytes.Buffer {
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

func TestImportModuleRejectsSelfRow(t *testing.T) {
	db := setupDb(t)

	target := schema.Module{Id: uuid.New(), Decimal: "AB.100", Name: "frame", Status: schema.ModuleInProgress}
	require.NoError(t, db.Create(&target).Error)

	// A row carrying the target module's own decimal would make the module
	// its own parent.
	_, err := ImportModule(db, buildBom(t, [][]string{
		{"AB.100", "Frame assembly", "1", "assemblies"},
	}), target.Id)
	require.ErrorIs(t, err, assembly.ErrCycleDetected)

	var reloaded schema.Module
	require.NoError(t, db.First(&reloaded, "id = ?", target.Id).Error)
	assert.Nil(t, reloaded.ParentModuleId)

	_, err = assembly.BuildModuleTree(db, target.Id)
	assert.NoError(t, err)
}

func TestImportModuleRejectsAncestorRow(t *testing.T) {
	db := setupDb(t)

	parent := schema.Module{Id: uuid.New(), Decimal: "AB.100", Name: "frame", Status: schema.ModuleInProgress}
	require.NoError(t, db.Create(&parent).Error)
	child := schema.Module{Id: uuid.New(), Decimal: "AB.110", Name: "brace", Status: schema.ModuleInProgress, ParentModuleId: &parent.Id}
	require.NoError(t, db.Create(&child).Error)

	// Importing the ancestor's decimal into the child would close a loop
	// through the parent edge.
	_, err := ImportModule(db, buildBom(t, [][]string{
		{"AB.100", "Frame assembly", "1", "assemblies"},
	}), child.Id)
	require.ErrorIs(t, err, assembly.ErrCycleDetected)

	var reloaded schema.Module
	require.NoError(t, db.First(&reloaded, "id = ?", parent.Id).Error)
	assert.Nil(t, reloaded.ParentModuleId)

	_, err = assembly.BuildModuleTree(db, parent.Id)
	assert.NoError(t, err)
}
