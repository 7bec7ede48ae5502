package assembly

import (
	"testing"

	"assembler/core/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDb(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(schema.Tables()...))
	return db
}

func createModule(t *testing.T, db *gorm.DB, decimal, name string, parent *uuid.UUID) uuid.UUID {
	module := schema.Module{
		Id: uuid.New(), Decimal: decimal, Name: name,
		Status: schema.ModuleInProgress, ParentModuleId: parent,
	}
	require.NoError(t, db.Create(&module).Error)
	return module.Id
}

func createPart(t *testing.T, db *gorm.DB, name string) uuid.UUID {
	part := schema.Part{Id: uuid.New(), Decimal: "P-" + name, Name: name}
	require.NoError(t, db.Create(&part).Error)
	return part.Id
}

func TestBuildMachineTree(t *testing.T) {
	db := setupDb(t)

	machine := schema.Machine{Id: uuid.New(), Name: "press", Version: "1.0"}
	require.NoError(t, db.Create(&machine).Error)

	frame := createModule(t, db, "AB.100", "frame", nil)
	drive := createModule(t, db, "AB.200", "drive", nil)
	gearbox := createModule(t, db, "AB.210", "gearbox", &drive)
	_ = createModule(t, db, "AB.211", "shaft", &gearbox)

	bolt := createPart(t, db, "bolt")
	require.NoError(t, db.Create(&schema.ModulePart{ModuleId: gearbox, PartId: bolt, Quantity: 12}).Error)

	require.NoError(t, db.Create(&schema.MachineModule{Id: uuid.New(), MachineId: machine.Id, ModuleId: frame, Quantity: 1}).Error)
	require.NoError(t, db.Create(&schema.MachineModule{Id: uuid.New(), MachineId: machine.Id, ModuleId: drive, Quantity: 2}).Error)

	tree, err := BuildMachineTree(db, machine.Id)
	require.NoError(t, err)

	assert.Equal(t, "press", tree.Machine.Name)
	require.Len(t, tree.Modules, 2)
	assert.Equal(t, 4, CountNodes(tree.Modules))

	byName := map[string]*Node{}
	for _, node := range tree.Modules {
		byName[node.Module.Name] = node
	}

	require.Contains(t, byName, "drive")
	driveNode := byName["drive"]
	assert.Equal(t, uint(2), driveNode.Quantity)
	require.Len(t, driveNode.Submodules, 1)

	gearboxNode := driveNode.Submodules[0]
	assert.Equal(t, "gearbox", gearboxNode.Module.Name)
	require.Len(t, gearboxNode.Parts, 1)
	assert.Equal(t, "bolt", gearboxNode.Parts[0].Part.Name)
	assert.Equal(t, uint(12), gearboxNode.Parts[0].Quantity)
	require.Len(t, gearboxNode.Submodules, 1)
	assert.Equal(t, "shaft", gearboxNode.Submodules[0].Module.Name)

	assert.Empty(t, byName["frame"].Submodules)
}

func TestBuildMachineTreeUnknownMachine(t *testing.T) {
	db := setupDb(t)

	_, err := BuildMachineTree(db, uuid.New())
	assert.ErrorIs(t, err, schema.ErrMachineNotFound)
}

func TestBuildModuleTree(t *testing.T) {
	db := setupDb(t)

	drive := createModule(t, db, "AB.200", "drive", nil)
	gearbox := createModule(t, db, "AB.210", "gearbox", &drive)
	createModule(t, db, "AB.220", "coupling", &drive)

	node, err := BuildModuleTree(db, drive)
	require.NoError(t, err)
	assert.Equal(t, "drive", node.Module.Name)
	assert.Len(t, node.Submodules, 2)

	node, err = BuildModuleTree(db, gearbox)
	require.NoError(t, err)
	assert.Equal(t, "gearbox", node.Module.Name)
	assert.Empty(t, node.Submodules)
}

func TestCycleDetected(t *testing.T) {
	db := setupDb(t)

	a := createModule(t, db, "AB.100", "alpha", nil)
	b := createModule(t, db, "AB.200", "beta", &a)

	// Close the loop directly, bypassing the API guard.
	require.NoError(t, db.Model(&schema.Module{}).Where("id = ?", a).Update("parent_module_id", b).Error)

	_, err := BuildModuleTree(db, a)
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestSelfCycleDetected(t *testing.T) {
	db := setupDb(t)

	a := createModule(t, db, "AB.100", "alpha", nil)
	require.NoError(t, db.Model(&schema.Module{}).Where("id = ?", a).Update("parent_module_id", a).Error)

	_, err := BuildModuleTree(db, a)
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestRender(t *testing.T) {
	db := setupDb(t)

	machine := schema.Machine{Id: uuid.New(), Name: "press", Version: "1.0"}
	require.NoError(t, db.Create(&machine).Error)

	frame := createModule(t, db, "AB.100", "frame", nil)
	washer := createPart(t, db, "washer")
	require.NoError(t, db.Create(&schema.ModulePart{ModuleId: frame, PartId: washer, Quantity: 0}).Error)
	require.NoError(t, db.Create(&schema.MachineModule{Id: uuid.New(), MachineId: machine.Id, ModuleId: frame, Quantity: 3}).Error)

	tree, err := BuildMachineTree(db, machine.Id)
	require.NoError(t, err)

	out := Render(tree)
	assert.Equal(t, "Machine: press (version 1.0)\nModule: frame (x3)\n    Part: washer (x0)\n", out)
}
