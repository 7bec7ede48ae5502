package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"assembler/core/assembly"
	"assembler/core/auth"
	"assembler/core/importer"
	"assembler/core/schema"
	"assembler/core/storage"
	"assembler/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ModuleService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	storage  storage.Storage
}

func (s *ModuleService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/list", s.List)
	r.Post("/create", s.CreateModule)

	r.Route("/{module_id}", func(r chi.Router) {
		r.Get("/", s.GetModule)
		r.Post("/", s.UpdateModule)
		r.With(auth.AdminOnly(s.db)).Delete("/", s.DeleteModule)

		r.Get("/tree", s.Tree)
		r.Get("/tree/render", s.RenderTree)

		r.Post("/status", s.UpdateStatus)
		r.Post("/parent", s.SetParent)

		r.Post("/parts/{part_id}", s.AttachPart)
		r.Delete("/parts/{part_id}", s.DetachPart)

		r.With(checkSufficientStorage(s.storage)).Post("/scheme", s.UploadScheme)
		r.Get("/scheme", s.DownloadScheme)

		r.With(checkSufficientStorage(s.storage)).Post("/step", s.UploadStep)
		r.Get("/step", s.DownloadStep)

		r.Post("/import", s.ImportComposition)
	})

	return r
}

type moduleRequest struct {
	Decimal        string     `json:"decimal"`
	Name           string     `json:"name"`
	Version        string     `json:"version"`
	Description    string     `json:"description"`
	ParentModuleId *uuid.UUID `json:"parent_module_id"`
	MachineId      *uuid.UUID `json:"machine_id"`
	ManufacturerId *uuid.UUID `json:"manufacturer_id"`
}

type createModuleResponse struct {
	ModuleId uuid.UUID `json:"module_id"`
}

func (s *ModuleService) CreateModule(w http.ResponseWriter, r *http.Request) {
	var params moduleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Decimal == "" || params.Name == "" {
		http.Error(w, "module decimal and name must be specified", http.StatusBadRequest)
		return
	}

	newModule := schema.Module{
		Id:             uuid.New(),
		Decimal:        params.Decimal,
		Name:           params.Name,
		Version:        params.Version,
		Description:    params.Description,
		Status:         schema.ModuleInProgress,
		ParentModuleId: params.ParentModuleId,
		MachineId:      params.MachineId,
		ManufacturerId: params.ManufacturerId,
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		if params.ParentModuleId != nil {
			if err := checkModuleExists(txn, *params.ParentModuleId); err != nil {
				return err
			}
		}
		if params.MachineId != nil {
			if err := checkMachineExists(txn, *params.MachineId); err != nil {
				return err
			}
		}

		result := txn.Create(&newModule)
		if result.Error != nil {
			slog.Error("sql error creating new module", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating module: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createModuleResponse{ModuleId: newModule.Id})
}

type ModuleInfo struct {
	Id             uuid.UUID  `json:"id"`
	Decimal        string     `json:"decimal"`
	Name           string     `json:"name"`
	Version        string     `json:"version"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	ParentModuleId *uuid.UUID `json:"parent_module_id"`
	MachineId      *uuid.UUID `json:"machine_id"`
	ManufacturerId *uuid.UUID `json:"manufacturer_id"`
	HasScheme      bool       `json:"has_scheme"`
	HasStep        bool       `json:"has_step"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func convertToModuleInfo(module *schema.Module) ModuleInfo {
	return ModuleInfo{
		Id:             module.Id,
		Decimal:        module.Decimal,
		Name:           module.Name,
		Version:        module.Version,
		Description:    module.Description,
		Status:         module.Status,
		ParentModuleId: module.ParentModuleId,
		MachineId:      module.MachineId,
		ManufacturerId: module.ManufacturerId,
		HasScheme:      module.SchemeFile != "",
		HasStep:        module.StepFile != "",
		CreatedAt:      module.CreatedAt,
		UpdatedAt:      module.UpdatedAt,
	}
}

func (s *ModuleService) List(w http.ResponseWriter, r *http.Request) {
	query := s.db.Order("decimal")
	if status := r.URL.Query().Get("status"); status != "" {
		if err := schema.CheckValidModuleStatus(status); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		query = query.Where("status = ?", status)
	}
	if decimal := r.URL.Query().Get("decimal"); decimal != "" {
		query = query.Where("decimal = ?", decimal)
	}
	if name := r.URL.Query().Get("name"); name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}

	var modules []schema.Module
	result := query.Find(&modules)
	if result.Error != nil {
		slog.Error("sql error listing modules", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing modules: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]ModuleInfo, 0, len(modules))
	for _, module := range modules {
		infos = append(infos, convertToModuleInfo(&module))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *ModuleService) GetModule(w http.ResponseWriter, r *http.Request) {
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	module, err := schema.GetModule(moduleId, s.db, true)
	if err != nil {
		if errors.Is(err, schema.ErrModuleNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting module: %v", err), http.StatusInternalServerError)
		return
	}

	type modulePartInfo struct {
		PartId   uuid.UUID `json:"part_id"`
		Name     string    `json:"name"`
		Quantity uint      `json:"quantity"`
	}
	type moduleDetail struct {
		ModuleInfo
		Parts []modulePartInfo `json:"parts"`
	}

	detail := moduleDetail{ModuleInfo: convertToModuleInfo(&module), Parts: make([]modulePartInfo, 0, len(module.Parts))}
	for _, link := range module.Parts {
		info := modulePartInfo{PartId: link.PartId, Quantity: link.Quantity}
		if link.Part != nil {
			info.Name = link.Part.Name
		}
		detail.Parts = append(detail.Parts, info)
	}

	utils.WriteJsonResponse(w, detail)
}

func (s *ModuleService) UpdateModule(w http.ResponseWriter, r *http.Request) {
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params moduleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		module, err := schema.GetModule(moduleId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrModuleNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.Decimal != "" {
			module.Decimal = params.Decimal
		}
		if params.Name != "" {
			module.Name = params.Name
		}
		if params.Version != "" {
			module.Version = params.Version
		}
		if params.Description != "" {
			module.Description = params.Description
		}
		if params.MachineId != nil {
			if err := checkMachineExists(txn, *params.MachineId); err != nil {
				return err
			}
			module.MachineId = params.MachineId
		}
		if params.ManufacturerId != nil {
			module.ManufacturerId = params.ManufacturerId
		}

		result := txn.Save(&module)
		if result.Error != nil {
			slog.Error("sql error updating module", "module_id", moduleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating module: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *ModuleService) DeleteModule(w http.ResponseWriter, r *http.Request) {
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var module schema.Module

	err = s.db.Transaction(func(txn *gorm.DB) error {
		module, err = schema.GetModule(moduleId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrModuleNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		// Children are lifted to the root, not deleted with the parent.
		result := txn.Model(&schema.Module{}).Where("parent_module_id = ?", moduleId).Update("parent_module_id", nil)
		if result.Error != nil {
			slog.Error("sql error detaching submodules", "module_id", moduleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.ModulePart{}, "module_id = ?", moduleId)
		if result.Error != nil {
			slog.Error("sql error deleting module part links", "module_id", moduleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.MachineModule{}, "module_id = ?", moduleId)
		if result.Error != nil {
			slog.Error("sql error deleting machine module links", "module_id", moduleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Module{Id: moduleId})
		if result.Error != nil {
			slog.Error("sql error deleting module", "module_id", moduleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting module: %v", err), GetResponseCode(err))
		return
	}

	for _, path := range []string{module.SchemeFile, module.StepFile} {
		if path == "" {
			continue
		}
		if err := s.storage.Delete(path); err != nil {
			slog.Error("error deleting module file from storage", "module_id", moduleId, "path", path, "error", err)
		}
	}

	utils.WriteSuccess(w)
}

func (s *ModuleService) Tree(w http.ResponseWriter, r *http.Request) {
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	node, err := assembly.BuildModuleTree(s.db, moduleId)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, schema.ErrModuleNotFound):
			responseCode = http.StatusNotFound
		case errors.Is(err, assembly.ErrCycleDetected):
			responseCode = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("error building module tree: %v", err), responseCode)
		return
	}

	utils.WriteJsonResponse(w, node)
}

func (s *ModuleService) RenderTree(w http.ResponseWriter, r *http.Request) {
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	node, err := assembly.BuildModuleTree(s.db, moduleId)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, schema.ErrModuleNotFound):
			responseCode = http.StatusNotFound
		case errors.Is(err, assembly.ErrCycleDetected):
			responseCode = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("error building module tree: %v", err), responseCode)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(assembly.RenderModule(node))); err != nil {
		slog.Error("error writing rendered tree", "module_id", moduleId, "error", err)
	}
}

type updateModuleStatusRequest struct {
	Status string `json:"status"`
}

func (s *ModuleService) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateModuleStatusRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := schema.CheckValidModuleStatus(params.Status); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkModuleExists(txn, moduleId); err != nil {
			return err
		}

		result := txn.Model(&schema.Module{Id: moduleId}).Update("status", params.Status)
		if result.Error != nil {
			slog.Error("sql error updating module status", "module_id", moduleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating module status: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type setParentRequest struct {
	ParentModuleId *uuid.UUID `json:"parent_module_id"`
}

// SetParent reassigns the module in the hierarchy. A null parent makes the
// module a root. The new edge is rejected if it would close a cycle.
func (s *ModuleService) SetParent(w http.ResponseWriter, r *http.Request) {
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params setParentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkModuleExists(txn, moduleId); err != nil {
			return err
		}

		if params.ParentModuleId != nil {
			if *params.ParentModuleId == moduleId {
				return CodedError(errors.New("module cannot be its own parent"), http.StatusUnprocessableEntity)
			}
			if err := checkModuleExists(txn, *params.ParentModuleId); err != nil {
				return err
			}

			// Walk up from the new parent. Finding the module means the edge
			// would close a cycle; revisiting an ancestor means the ancestry
			// is already cyclic, and the walk fails fast instead of looping.
			visited := map[uuid.UUID]struct{}{}
			ancestor := params.ParentModuleId
			for ancestor != nil {
				if *ancestor == moduleId {
					return CodedError(fmt.Errorf("%w: module %v is an ancestor of the requested parent", assembly.ErrCycleDetected, moduleId), http.StatusUnprocessableEntity)
				}
				if _, seen := visited[*ancestor]; seen {
					return CodedError(fmt.Errorf("%w: module %v reached twice in the ancestry of the requested parent", assembly.ErrCycleDetected, *ancestor), http.StatusUnprocessableEntity)
				}
				visited[*ancestor] = struct{}{}

				parent, err := schema.GetModule(*ancestor, txn, false)
				if err != nil {
					return CodedError(err, http.StatusInternalServerError)
				}
				ancestor = parent.ParentModuleId
			}
		}

		result := txn.Model(&schema.Module{Id: moduleId}).Update("parent_module_id", params.ParentModuleId)
		if result.Error != nil {
			slog.Error("sql error updating module parent", "module_id", moduleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error setting module parent: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type attachPartRequest struct {
	Quantity *uint `json:"quantity"`
}

func (s *ModuleService) AttachPart(w http.ResponseWriter, r *http.Request) {
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	partId, err := utils.URLParamUUID(r, "part_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params attachPartRequest
	if r.ContentLength > 0 && !utils.ParseRequestBody(w, r, &params) {
		return
	}
	quantity := uint(1)
	if params.Quantity != nil {
		quantity = *params.Quantity
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkModuleExists(txn, moduleId); err != nil {
			return err
		}
		if err := checkPartExists(txn, partId); err != nil {
			return err
		}

		var existing schema.ModulePart
		result := txn.Limit(1).Find(&existing, "module_id = ? AND part_id = ?", moduleId, partId)
		if result.Error != nil {
			slog.Error("sql error checking for existing module part link", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if result.RowsAffected != 0 {
			result = txn.Model(&existing).Update("quantity", quantity)
		} else {
			result = txn.Create(&schema.ModulePart{ModuleId: moduleId, PartId: partId, Quantity: quantity})
		}
		if result.Error != nil {
			slog.Error("sql error saving module part link", "module_id", moduleId, "part_id", partId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error attaching part to module: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *ModuleService) DetachPart(w http.ResponseWriter, r *http.Request) {
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	partId, err := utils.URLParamUUID(r, "part_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkModuleExists(txn, moduleId); err != nil {
			return err
		}

		result := txn.Delete(&schema.ModulePart{}, "module_id = ? AND part_id = ?", moduleId, partId)
		if result.Error != nil {
			slog.Error("sql error deleting module part link", "module_id", moduleId, "part_id", partId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return CodedError(errors.New("part is not attached to module"), http.StatusNotFound)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error detaching part from module: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

// uploadModuleFile stores an uploaded drawing or model file and records its
// path on the module row.
func (s *ModuleService) uploadModuleFile(w http.ResponseWriter, r *http.Request, column, extension string, pathFor func(uuid.UUID) string) {
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkModuleExists(s.db, moduleId); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
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

	path := pathFor(moduleId)
	if err := s.storage.Write(path, file); err != nil {
		slog.Error("error writing module file to storage", "module_id", moduleId, "path", path, "error", err)
		http.Error(w, "error saving file", http.StatusInternalServerError)
		return
	}

	result := s.db.Model(&schema.Module{Id: moduleId}).Update(column, path)
	if result.Error != nil {
		slog.Error("sql error recording module file path", "module_id", moduleId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error saving file: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *ModuleService) downloadModuleFile(w http.ResponseWriter, r *http.Request, contentType string, pathOf func(*schema.Module) string) {
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	module, err := schema.GetModule(moduleId, s.db, false)
	if err != nil {
		if errors.Is(err, schema.ErrModuleNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting module: %v", err), http.StatusInternalServerError)
		return
	}

	path := pathOf(&module)
	if path == "" {
		http.Error(w, "no file has been uploaded for module", http.StatusNotFound)
		return
	}

	data, err := s.storage.Read(path)
	if err != nil {
		slog.Error("error reading module file from storage", "module_id", moduleId, "path", path, "error", err)
		http.Error(w, "error reading file", http.StatusInternalServerError)
		return
	}
	defer data.Close()

	utils.WriteFileResponse(w, filepath.Base(path), contentType, data)
}

func (s *ModuleService) UploadScheme(w http.ResponseWriter, r *http.Request) {
	s.uploadModuleFile(w, r, "scheme_file", ".pdf", storage.ModuleSchemePath)
}

func (s *ModuleService) DownloadScheme(w http.ResponseWriter, r *http.Request) {
	s.downloadModuleFile(w, r, "application/pdf", func(m *schema.Module) string { return m.SchemeFile })
}

func (s *ModuleService) UploadStep(w http.ResponseWriter, r *http.Request) {
	s.uploadModuleFile(w, r, "step_file", ".step", storage.ModuleStepPath)
}

func (s *ModuleService) DownloadStep(w http.ResponseWriter, r *http.Request) {
	s.downloadModuleFile(w, r, "application/octet-stream", func(m *schema.Module) string { return m.StepFile })
}

func (s *ModuleService) ImportComposition(w http.ResponseWriter, r *http.Request) {
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkModuleExists(s.db, moduleId); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading file from request: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	summary, err := importer.ImportModule(s.db, file, moduleId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error importing module composition: %v", err), http.StatusUnprocessableEntity)
		return
	}

	slog.Info("imported module composition", "module_id", moduleId,
		"modules_created", summary.ModulesCreated, "parts_created", summary.PartsCreated, "links_updated", summary.LinksUpdated)

	utils.WriteJsonResponse(w, summary)
}
