package storage

import (
	"path/filepath"

	"github.com/google/uuid"
)

// Blueprint PDF drawings and STEP models are stored under separate prefixes,
// keyed by the owning record id.

func ModuleSchemePath(moduleId uuid.UUID) string {
	return filepath.Join("blueprints", "modules", moduleId.String()+".pdf")
}

func ModuleStepPath(moduleId uuid.UUID) string {
	return filepath.Join("steps", "modules", moduleId.String()+".step")
}

func BlueprintSchemePath(blueprintId uuid.UUID) string {
	return filepath.Join("blueprints", blueprintId.String()+".pdf")
}

func BlueprintStepPath(blueprintId uuid.UUID) string {
	return filepath.Join("steps", blueprintId.String()+".step")
}

func TaskAttachmentPath(taskId uuid.UUID, filename string) string {
	return filepath.Join("tasks", "attachments", taskId.String(), filepath.Base(filename))
}
