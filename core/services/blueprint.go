package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"assembler/core/auth"
	"assembler/core/schema"
	"assembler/core/storage"
	"assembler/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Validation and approval are separate sign-offs held by different roles.
const (
	RoleValidator = "validator"
	RoleApprover  = "approver"
)

type BlueprintService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	storage  storage.Storage
}

func (s *BlueprintService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/list", s.List)
	r.Post("/create", s.CreateBlueprint)

	r.Route("/{blueprint_id}", func(r chi.Router) {
		r.Get("/", s.GetBlueprint)
		r.Post("/", s.UpdateBlueprint)
		r.With(auth.AdminOnly(s.db)).Delete("/", s.DeleteBlueprint)

		r.With(auth.RoleOnly(s.db, RoleValidator)).Post("/validate", s.Validate)
		r.With(auth.RoleOnly(s.db, RoleApprover)).Post("/approve", s.Approve)

		r.With(checkSufficientStorage(s.storage)).Post("/scheme", s.UploadScheme)
		r.Get("/scheme", s.DownloadScheme)

		r.With(checkSufficientStorage(s.storage)).Post("/step", s.UploadStep)
		r.Get("/step", s.DownloadStep)
	})

	return r
}

type blueprintRequest struct {
	Weight       *float64 `json:"weight"`
	Scale        string   `json:"scale"`
	Version      string   `json:"version"`
	NamingScheme string   `json:"naming_scheme"`
}

type createBlueprintResponse struct {
	BlueprintId uuid.UUID `json:"blueprint_id"`
}

func (s *BlueprintService) CreateBlueprint(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params blueprintRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.NamingScheme == "" {
		http.Error(w, "blueprint naming scheme must be specified", http.StatusBadRequest)
		return
	}

	newBlueprint := schema.Blueprint{
		Id:           uuid.New(),
		Weight:       params.Weight,
		Scale:        params.Scale,
		Version:      params.Version,
		NamingScheme: params.NamingScheme,
		DeveloperId:  user.Id,
	}

	result := s.db.Create(&newBlueprint)
	if result.Error != nil {
		slog.Error("sql error creating new blueprint", "error", result.Error)
		http.Error(w, fmt.Sprintf("error creating blueprint: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, createBlueprintResponse{BlueprintId: newBlueprint.Id})
}

type BlueprintInfo struct {
	Id           uuid.UUID  `json:"id"`
	Weight       *float64   `json:"weight"`
	Scale        string     `json:"scale"`
	Version      string     `json:"version"`
	NamingScheme string     `json:"naming_scheme"`
	DeveloperId  uuid.UUID  `json:"developer_id"`
	ValidatorId  *uuid.UUID `json:"validator_id"`
	ApproverId   *uuid.UUID `json:"approver_id"`
	HasScheme    bool       `json:"has_scheme"`
	HasStep      bool       `json:"has_step"`
	CreatedAt    time.Time  `json:"created_at"`
}

func convertToBlueprintInfo(blueprint *schema.Blueprint) BlueprintInfo {
	return BlueprintInfo{
		Id:           blueprint.Id,
		Weight:       blueprint.Weight,
		Scale:        blueprint.Scale,
		Version:      blueprint.Version,
		NamingScheme: blueprint.NamingScheme,
		DeveloperId:  blueprint.DeveloperId,
		ValidatorId:  blueprint.ValidatorId,
		ApproverId:   blueprint.ApproverId,
		HasScheme:    blueprint.SchemeFile != "",
		HasStep:      blueprint.StepFile != "",
		CreatedAt:    blueprint.CreatedAt,
	}
}

func (s *BlueprintService) List(w http.ResponseWriter, r *http.Request) {
	var blueprints []schema.Blueprint
	result := s.db.Order("created_at").Find(&blueprints)
	if result.Error != nil {
		slog.Error("sql error listing blueprints", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing blueprints: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]BlueprintInfo, 0, len(blueprints))
	for _, blueprint := range blueprints {
		infos = append(infos, convertToBlueprintInfo(&blueprint))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *BlueprintService) GetBlueprint(w http.ResponseWriter, r *http.Request) {
	blueprintId, err := utils.URLParamUUID(r, "blueprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	blueprint, err := schema.GetBlueprint(blueprintId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrBlueprintNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting blueprint: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, convertToBlueprintInfo(&blueprint))
}

func (s *BlueprintService) UpdateBlueprint(w http.ResponseWriter, r *http.Request) {
	blueprintId, err := utils.URLParamUUID(r, "blueprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params blueprintRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		blueprint, err := schema.GetBlueprint(blueprintId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrBlueprintNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.Weight != nil {
			blueprint.Weight = params.Weight
		}
		if params.Scale != "" {
			blueprint.Scale = params.Scale
		}
		if params.Version != "" {
			blueprint.Version = params.Version
		}
		if params.NamingScheme != "" {
			blueprint.NamingScheme = params.NamingScheme
		}

		// Content changed, so existing sign-offs no longer apply.
		blueprint.ValidatorId = nil
		blueprint.ApproverId = nil

		result := txn.Save(&blueprint)
		if result.Error != nil {
			slog.Error("sql error updating blueprint", "blueprint_id", blueprintId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating blueprint: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *BlueprintService) DeleteBlueprint(w http.ResponseWriter, r *http.Request) {
	blueprintId, err := utils.URLParamUUID(r, "blueprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var blueprint schema.Blueprint

	err = s.db.Transaction(func(txn *gorm.DB) error {
		blueprint, err = schema.GetBlueprint(blueprintId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrBlueprintNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		result := txn.Delete(&schema.Blueprint{Id: blueprintId})
		if result.Error != nil {
			slog.Error("sql error deleting blueprint", "blueprint_id", blueprintId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting blueprint: %v", err), GetResponseCode(err))
		return
	}

	for _, path := range []string{blueprint.SchemeFile, blueprint.StepFile} {
		if path == "" {
			continue
		}
		if err := s.storage.Delete(path); err != nil {
			slog.Error("error deleting blueprint file from storage", "blueprint_id", blueprintId, "path", path, "error", err)
		}
	}

	utils.WriteSuccess(w)
}

// signOff records the current user in the given sign-off column.
func (s *BlueprintService) signOff(w http.ResponseWriter, r *http.Request, column string) {
	blueprintId, err := utils.URLParamUUID(r, "blueprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if _, err := schema.GetBlueprint(blueprintId, txn); err != nil {
			if errors.Is(err, schema.ErrBlueprintNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		result := txn.Model(&schema.Blueprint{Id: blueprintId}).Update(column, user.Id)
		if result.Error != nil {
			slog.Error("sql error recording blueprint sign-off", "blueprint_id", blueprintId, "column", column, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error recording sign-off: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *BlueprintService) Validate(w http.ResponseWriter, r *http.Request) {
	s.signOff(w, r, "validator_id")
}

func (s *BlueprintService) Approve(w http.ResponseWriter, r *http.Request) {
	s.signOff(w, r, "approver_id")
}

func (s *BlueprintService) uploadBlueprintFile(w http.ResponseWriter, r *http.Request, column, extension string, pathFor func(uuid.UUID) string) {
	blueprintId, err := utils.URLParamUUID(r, "blueprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := schema.GetBlueprint(blueprintId, s.db); err != nil {
		if errors.Is(err, schema.ErrBlueprintNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading file from request: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != extension {
		http.Error(w, fmt.Sprintf("invalid file extension '%v', expected '%v'", ext, extension), http.StatusUnprocessableEntity)
		return
	}

	path := pathFor(blueprintId)
	if err := s.storage.Write(path, file); err != nil {
		slog.Error("error writing blueprint file to storage", "blueprint_id", blueprintId, "path", path, "error", err)
		http.Error(w, "error saving file", http.StatusInternalServerError)
		return
	}

	result := s.db.Model(&schema.Blueprint{Id: blueprintId}).Update(column, path)
	if result.Error != nil {
		slog.Error("sql error recording blueprint file path", "blueprint_id", blueprintId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error saving file: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *BlueprintService) downloadBlueprintFile(w http.ResponseWriter, r *http.Request, contentType string, pathOf func(*schema.Blueprint) string) {
	blueprintId, err := utils.URLParamUUID(r, "blueprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	blueprint, err := schema.GetBlueprint(blueprintId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrBlueprintNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting blueprint: %v", err), http.StatusInternalServerError)
		return
	}

	path := pathOf(&blueprint)
	if path == "" {
		http.Error(w, "no file has been uploaded for blueprint", http.StatusNotFound)
		return
	}

	data, err := s.storage.Read(path)
	if err != nil {
		slog.Error("error reading blueprint file from storage", "blueprint_id", blueprintId, "path", path, "error", err)
		http.Error(w, "error reading file", http.StatusInternalServerError)
		return
	}
	defer data.Close()

	utils.WriteFileResponse(w, filepath.Base(path), contentType, data)
}

func (s *BlueprintService) UploadScheme(w http.ResponseWriter, r *http.Request) {
	s.uploadBlueprintFile(w, r, "scheme_file", ".pdf", storage.BlueprintSchemePath)
}

func (s *BlueprintService) DownloadScheme(w http.ResponseWriter, r *http.Request) {
	s.downloadBlueprintFile(w, r, "application/pdf", func(b *schema.Blueprint) string { return b.SchemeFile })
}

func (s *BlueprintService) UploadStep(w http.ResponseWriter, r *http.Request) {
	s.uploadBlueprintFile(w, r, "step_file", ".step", storage.BlueprintStepPath)
}

func (s *BlueprintService) DownloadStep(w http.ResponseWriter, r *http.Request) {
	s.downloadBlueprintFile(w, r, "application/octet-stream", func(b *schema.Blueprint) string { return b.StepFile })
}
