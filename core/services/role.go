package services

import (
	"fmt"
	"log/slog"
	"net/http"

	"assembler/core/auth"
	"assembler/core/schema"
	"assembler/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RoleService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *RoleService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.With(auth.AdminOnly(s.db)).Post("/create", s.CreateRole)

	r.Get("/list", s.List)

	r.Route("/{role_id}", func(r chi.Router) {
		r.Get("/users", s.RoleUsers)

		r.Group(func(r chi.Router) {
			r.Use(auth.AdminOnly(s.db))

			r.Delete("/", s.DeleteRole)

			r.Post("/users/{user_id}", s.AssignRole)
			r.Delete("/users/{user_id}", s.RemoveRole)
		})
	})

	return r
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createRoleResponse struct {
	RoleId uuid.UUID `json:"role_id"`
}

func (s *RoleService) CreateRole(w http.ResponseWriter, r *http.Request) {
	var params createRoleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "role name must be specified", http.StatusBadRequest)
		return
	}

	newRole := schema.Role{Id: uuid.New(), Name: params.Name, Description: params.Description}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		var existingRole schema.Role
		result := txn.Limit(1).Find(&existingRole, "name = ?", params.Name)
		if result.Error != nil {
			slog.Error("sql error checking for duplicate role name", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(fmt.Errorf("role with name %v already exists", params.Name), http.StatusConflict)
		}

		result = txn.Create(&newRole)
		if result.Error != nil {
			slog.Error("sql error creating new role", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createRoleResponse{RoleId: newRole.Id})
}

func (s *RoleService) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleId, err := utils.URLParamUUID(r, "role_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkRoleExists(txn, roleId); err != nil {
			return err
		}

		result := txn.Delete(&schema.UserRole{}, "role_id = ?", roleId)
		if result.Error != nil {
			slog.Error("sql error deleting role assignments", "role_id", roleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Role{Id: roleId})
		if result.Error != nil {
			slog.Error("sql error deleting role", "role_id", roleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type assignRoleRequest struct {
	Description string `json:"description"`
}

func (s *RoleService) AssignRole(w http.ResponseWriter, r *http.Request) {
	roleId, err := utils.URLParamUUID(r, "role_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Assignment description is optional, an empty body is accepted.
	var params assignRoleRequest
	if r.ContentLength > 0 && !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkRoleExists(txn, roleId); err != nil {
			return err
		}

		if err := checkUserExists(txn, userId); err != nil {
			return err
		}

		result := txn.Save(&schema.UserRole{UserId: userId, RoleId: roleId, RoleDescription: params.Description})
		if result.Error != nil {
			slog.Error("sql error creating user role assignment", "role_id", roleId, "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error assigning role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *RoleService) RemoveRole(w http.ResponseWriter, r *http.Request) {
	roleId, err := utils.URLParamUUID(r, "role_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkRoleExists(txn, roleId); err != nil {
			return err
		}

		if err := checkUserExists(txn, userId); err != nil {
			return err
		}

		if err := checkRoleAssigned(txn, roleId, userId); err != nil {
			return err
		}

		result := txn.Delete(&schema.UserRole{UserId: userId, RoleId: roleId})
		if result.Error != nil {
			slog.Error("sql error deleting user role assignment", "role_id", roleId, "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error removing role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type RoleInfo struct {
	Id          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

func (s *RoleService) List(w http.ResponseWriter, r *http.Request) {
	var roles []schema.Role
	result := s.db.Order("name").Find(&roles)
	if result.Error != nil {
		slog.Error("sql error listing roles", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing roles: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]RoleInfo, 0, len(roles))
	for _, role := range roles {
		infos = append(infos, RoleInfo{Id: role.Id, Name: role.Name, Description: role.Description})
	}

	utils.WriteJsonResponse(w, infos)
}

type RoleUserInfo struct {
	UserId      uuid.UUID `json:"user_id"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
}

func (s *RoleService) RoleUsers(w http.ResponseWriter, r *http.Request) {
	roleId, err := utils.URLParamUUID(r, "role_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkRoleExists(s.db, roleId); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var assignments []schema.UserRole
	result := s.db.Preload("User").Where("role_id = ?", roleId).Find(&assignments)
	if result.Error != nil {
		slog.Error("sql error listing role users", "role_id", roleId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing role users: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]RoleUserInfo, 0, len(assignments))
	for _, assignment := range assignments {
		info := RoleUserInfo{UserId: assignment.UserId, Description: assignment.RoleDescription}
		if assignment.User != nil {
			info.Email = assignment.User.Email
			info.FullName = assignment.User.FullName()
		}
		infos = append(infos, info)
	}

	utils.WriteJsonResponse(w, infos)
}
