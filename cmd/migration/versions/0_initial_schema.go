package versions

import (
	"log"

	"assembler/core/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Migration_0_initial_schema creates the full schema and seeds the role
// catalog. Role names are referenced by permission middleware, so they are
// part of the schema rather than runtime data.
func Migration_0_initial_schema(txn *gorm.DB) error {
	log.Println("performing initial schema migration")

	err := txn.Migrator().AutoMigrate(schema.Tables()...)
	if err != nil {
		return err
	}

	defaultRoles := []schema.Role{
		{Name: "developer", Description: "Creates blueprints and modules"},
		{Name: "validator", Description: "Validates blueprints"},
		{Name: "approver", Description: "Approves validated blueprints"},
	}

	for _, role := range defaultRoles {
		var existing schema.Role
		result := txn.Limit(1).Find(&existing, "name = ?", role.Name)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			role.Id = uuid.New()
			if err := txn.Create(&role).Error; err != nil {
				return err
			}
		}
	}

	log.Println("initial schema migration complete")

	return nil
}
