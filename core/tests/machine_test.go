package tests

import (
	"fmt"
	"testing"

	"assembler/core/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineCreateAndList(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	_, err = user.createMachine("press", "1.0")
	require.NoError(t, err)
	_, err = user.createMachine("press", "2.0")
	require.NoError(t, err)

	var machines []map[string]interface{}
	err = user.Get("/machine/list").Do(&machines)
	require.NoError(t, err)
	require.Len(t, machines, 2)
	assert.Equal(t, "1.0", machines[0]["version"])
	assert.Equal(t, "2.0", machines[1]["version"])
}

func TestDuplicateMachineRejected(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	_, err = user.createMachine("press", "1.0")
	require.NoError(t, err)

	_, err = user.createMachine("press", "1.0")
	assert.Error(t, err)
}

type treeNode struct {
	Module     map[string]interface{} `json:"module"`
	Quantity   uint                   `json:"quantity"`
	Parts      []struct {
		Part     map[string]interface{} `json:"part"`
		Quantity uint                   `json:"quantity"`
	} `json:"parts"`
	Submodules []treeNode `json:"submodules"`
}

type machineTree struct {
	Machine map[string]interface{} `json:"machine"`
	Modules []treeNode             `json:"modules"`
}

func TestMachineTree(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	machineId, err := user.createMachine("press", "1.0")
	require.NoError(t, err)

	frame, err := user.createModule("AB.100", "frame")
	require.NoError(t, err)
	drive, err := user.createModule("AB.200", "drive")
	require.NoError(t, err)
	gearbox, err := user.createModule("AB.210", "gearbox")
	require.NoError(t, err)

	bolt, err := user.createPart("bolt M8")
	require.NoError(t, err)

	require.NoError(t, user.attachModule(machineId, frame, 1))
	require.NoError(t, user.attachModule(machineId, drive, 2))
	require.NoError(t, user.setModuleParent(gearbox, &drive))
	require.NoError(t, user.attachPart(gearbox, bolt, 12))

	var tree machineTree
	err = user.Get(fmt.Sprintf("/machine/%v/tree", machineId)).Do(&tree)
	require.NoError(t, err)

	require.Len(t, tree.Modules, 2)
	assert.Equal(t, "frame", tree.Modules[0].Module["name"])
	assert.Equal(t, uint(1), tree.Modules[0].Quantity)
	assert.Equal(t, "drive", tree.Modules[1].Module["name"])
	assert.Equal(t, uint(2), tree.Modules[1].Quantity)

	require.Len(t, tree.Modules[1].Submodules, 1)
	sub := tree.Modules[1].Submodules[0]
	assert.Equal(t, "gearbox", sub.Module["name"])
	require.Len(t, sub.Parts, 1)
	assert.Equal(t, "bolt M8", sub.Parts[0].Part["name"])
	assert.Equal(t, uint(12), sub.Parts[0].Quantity)
}

func TestMachineTreeRender(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	machineId, err := user.createMachine("press", "1.0")
	require.NoError(t, err)

	frame, err := user.createModule("AB.100", "frame")
	require.NoError(t, err)
	washer, err := user.createPart("washer")
	require.NoError(t, err)

	require.NoError(t, user.attachModule(machineId, frame, 3))
	// Quantity zero marks a part that is listed but not currently fitted.
	require.NoError(t, user.attachPart(frame, washer, 0))

	body, err := user.Get(fmt.Sprintf("/machine/%v/tree/render", machineId)).DoRaw()
	require.NoError(t, err)

	assert.Contains(t, body, "Machine: press (version 1.0)")
	assert.Contains(t, body, "Module: frame (x3)")
	assert.Contains(t, body, "Part: washer (x0)")
}

func TestModuleCycleRejected(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	a, err := user.createModule("AB.100", "alpha")
	require.NoError(t, err)
	b, err := user.createModule("AB.200", "beta")
	require.NoError(t, err)

	require.NoError(t, user.setModuleParent(b, &a))

	// alpha -> beta -> alpha would loop.
	err = user.setModuleParent(a, &b)
	assert.Error(t, err)

	// A module cannot be its own parent either.
	err = user.setModuleParent(a, &a)
	assert.Error(t, err)
}

func TestDetachModule(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	machineId, err := user.createMachine("press", "1.0")
	require.NoError(t, err)
	frame, err := user.createModule("AB.100", "frame")
	require.NoError(t, err)

	require.NoError(t, user.attachModule(machineId, frame, 1))
	require.NoError(t, user.Delete(fmt.Sprintf("/machine/%v/modules/%v", machineId, frame)).Do(nil))

	// Detaching again reports not attached.
	err = user.Delete(fmt.Sprintf("/machine/%v/modules/%v", machineId, frame)).Do(nil)
	assert.Error(t, err)

	var tree machineTree
	err = user.Get(fmt.Sprintf("/machine/%v/tree", machineId)).Do(&tree)
	require.NoError(t, err)
	assert.Empty(t, tree.Modules)
}

func TestAttachModuleUpdatesQuantity(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	machineId, err := user.createMachine("press", "1.0")
	require.NoError(t, err)
	frame, err := user.createModule("AB.100", "frame")
	require.NoError(t, err)

	require.NoError(t, user.attachModule(machineId, frame, 1))
	require.NoError(t, user.attachModule(machineId, frame, 5))

	var tree machineTree
	err = user.Get(fmt.Sprintf("/machine/%v/tree", machineId)).Do(&tree)
	require.NoError(t, err)
	require.Len(t, tree.Modules, 1)
	assert.Equal(t, uint(5), tree.Modules[0].Quantity)
}

func TestMachineDeleteRequiresAdmin(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)
	admin, err := env.adminClient()
	require.NoError(t, err)

	machineId, err := user.createMachine("press", "1.0")
	require.NoError(t, err)
	frame, err := user.createModule("AB.100", "frame")
	require.NoError(t, err)
	require.NoError(t, user.attachModule(machineId, frame, 1))

	err = user.Delete(fmt.Sprintf("/machine/%v", machineId)).Do(nil)
	assert.Error(t, err)

	require.NoError(t, admin.Delete(fmt.Sprintf("/machine/%v", machineId)).Do(nil))

	err = user.Get(fmt.Sprintf("/machine/%v", machineId)).Do(nil)
	assert.Error(t, err)

	// Module survives the machine delete with its machine ref cleared.
	var module schema.Module
	require.NoError(t, env.db.First(&module, "id = ?", uuid.MustParse(frame)).Error)
	assert.Nil(t, module.MachineId)
}

func TestMachineClientAttach(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	machineId, err := user.createMachine("press", "1.0")
	require.NoError(t, err)

	var res map[string]string
	err = user.Post("/client/create").Json(map[string]string{"name": "Acme Metalworks"}).Do(&res)
	require.NoError(t, err)
	clientId := res["client_id"]

	err = user.Post(fmt.Sprintf("/machine/%v/clients/%v", machineId, clientId)).
		Json(map[string]string{"comment": "installed on line 3"}).Do(nil)
	require.NoError(t, err)

	var machines []map[string]interface{}
	err = user.Get(fmt.Sprintf("/client/%v/machines", clientId)).Do(&machines)
	require.NoError(t, err)
	require.Len(t, machines, 1)
	assert.Equal(t, "press", machines[0]["name"])

	require.NoError(t, user.Delete(fmt.Sprintf("/machine/%v/clients/%v", machineId, clientId)).Do(nil))

	err = user.Get(fmt.Sprintf("/client/%v/machines", clientId)).Do(&machines)
	require.NoError(t, err)
	assert.Empty(t, machines)
}
