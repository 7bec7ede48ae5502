package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrRoleNotFound         = errors.New("role not found")
	ErrUserRoleNotFound     = errors.New("user role assignment not found")
	ErrClientNotFound       = errors.New("client not found")
	ErrMachineNotFound      = errors.New("machine not found")
	ErrManufacturerNotFound = errors.New("manufacturer not found")
	ErrModuleNotFound       = errors.New("module not found")
	ErrPartNotFound         = errors.New("part not found")
	ErrBlueprintNotFound    = errors.New("blueprint not found")
	ErrTaskNotFound         = errors.New("task not found")
	ErrDbAccessFailed       = errors.New("db access failed")
)

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetRole(roleId uuid.UUID, db *gorm.DB) (Role, error) {
	var role Role

	result := db.First(&role, "id = ?", roleId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return role, ErrRoleNotFound
		}
		slog.Error("sql error in get role", "role_id", roleId, "error", result.Error)
		return role, ErrDbAccessFailed
	}

	return role, nil
}

func GetUserRole(roleId, userId uuid.UUID, db *gorm.DB) (UserRole, error) {
	var userRole UserRole
	result := db.First(&userRole, "role_id = ? and user_id = ?", roleId, userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return userRole, ErrUserRoleNotFound
		}
		slog.Error("sql error in get user role", "role_id", roleId, "user_id", userId, "error", result.Error)
		return userRole, ErrDbAccessFailed
	}

	return userRole, nil
}

// GetUserRoleNames returns the names of every role assigned to the user.
func GetUserRoleNames(userId uuid.UUID, db *gorm.DB) ([]string, error) {
	var assignments []UserRole
	result := db.Preload("Role").Find(&assignments, "user_id = ?", userId)
	if result.Error != nil {
		slog.Error("sql error in get user role names", "user_id", userId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}

	names := make([]string, 0, len(assignments))
	for _, assignment := range assignments {
		if assignment.Role != nil {
			names = append(names, assignment.Role.Name)
		}
	}
	return names, nil
}

func GetClient(clientId uuid.UUID, db *gorm.DB) (Client, error) {
	var client Client

	result := db.First(&client, "id = ?", clientId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return client, ErrClientNotFound
		}
		slog.Error("sql error in get client", "client_id", clientId, "error", result.Error)
		return client, ErrDbAccessFailed
	}

	return client, nil
}

func GetMachine(machineId uuid.UUID, db *gorm.DB) (Machine, error) {
	var machine Machine

	result := db.First(&machine, "id = ?", machineId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return machine, ErrMachineNotFound
		}
		slog.Error("sql error in get machine", "machine_id", machineId, "error", result.Error)
		return machine, ErrDbAccessFailed
	}

	return machine, nil
}

func GetModule(moduleId uuid.UUID, db *gorm.DB, loadParts bool) (Module, error) {
	var module Module

	query := db
	if loadParts {
		query = query.Preload("Parts", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at, part_id")
		}).Preload("Parts.Part")
	}
	result := query.First(&module, "id = ?", moduleId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return module, ErrModuleNotFound
		}
		slog.Error("sql error in get module", "module_id", moduleId, "error", result.Error)
		return module, ErrDbAccessFailed
	}

	return module, nil
}

func GetPart(partId uuid.UUID, db *gorm.DB) (Part, error) {
	var part Part

	result := db.First(&part, "id = ?", partId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return part, ErrPartNotFound
		}
		slog.Error("sql error in get part", "part_id", partId, "error", result.Error)
		return part, ErrDbAccessFailed
	}

	return part, nil
}

func GetBlueprint(blueprintId uuid.UUID, db *gorm.DB) (Blueprint, error) {
	var blueprint Blueprint

	result := db.First(&blueprint, "id = ?", blueprintId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return blueprint, ErrBlueprintNotFound
		}
		slog.Error("sql error in get blueprint", "blueprint_id", blueprintId, "error", result.Error)
		return blueprint, ErrDbAccessFailed
	}

	return blueprint, nil
}

func GetTask(taskId uuid.UUID, db *gorm.DB, loadUsers bool) (Task, error) {
	var task Task

	query := db
	if loadUsers {
		query = query.Preload("Sender").Preload("Recipient")
	}
	result := query.First(&task, "id = ?", taskId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return task, ErrTaskNotFound
		}
		slog.Error("sql error in get task", "task_id", taskId, "error", result.Error)
		return task, ErrDbAccessFailed
	}

	return task, nil
}
