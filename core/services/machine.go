package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"assembler/core/assembly"
	"assembler/core/auth"
	"assembler/core/importer"
	"assembler/core/schema"
	"assembler/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MachineService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *MachineService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/list", s.List)
	r.Post("/create", s.CreateMachine)

	r.Route("/{machine_id}", func(r chi.Router) {
		r.Get("/", s.GetMachine)
		r.With(auth.AdminOnly(s.db)).Delete("/", s.DeleteMachine)

		r.Get("/tree", s.Tree)
		r.Get("/tree/render", s.RenderTree)

		r.Post("/modules/{module_id}", s.AttachModule)
		r.Delete("/modules/{module_id}", s.DetachModule)

		r.Post("/clients/{client_id}", s.AttachClient)
		r.Delete("/clients/{client_id}", s.DetachClient)

		r.Post("/import", s.ImportComposition)
	})

	return r
}

type createMachineRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type createMachineResponse struct {
	MachineId uuid.UUID `json:"machine_id"`
}

func (s *MachineService) CreateMachine(w http.ResponseWriter, r *http.Request) {
	var params createMachineRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" || params.Version == "" {
		http.Error(w, "machine name and version must be specified", http.StatusBadRequest)
		return
	}

	newMachine := schema.Machine{Id: uuid.New(), Name: params.Name, Version: params.Version}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.Machine
		result := txn.Limit(1).Find(&existing, "name = ? AND version = ?", params.Name, params.Version)
		if result.Error != nil {
			slog.Error("sql error checking for duplicate machine", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(fmt.Errorf("machine %v version %v already exists", params.Name, params.Version), http.StatusConflict)
		}

		result = txn.Create(&newMachine)
		if result.Error != nil {
			slog.Error("sql error creating new machine", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating machine: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createMachineResponse{MachineId: newMachine.Id})
}

type MachineInfo struct {
	Id      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Version string    `json:"version"`
}

func (s *MachineService) List(w http.ResponseWriter, r *http.Request) {
	var machines []schema.Machine
	result := s.db.Order("name, version").Find(&machines)
	if result.Error != nil {
		slog.Error("sql error listing machines", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing machines: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]MachineInfo, 0, len(machines))
	for _, machine := range machines {
		infos = append(infos, MachineInfo{Id: machine.Id, Name: machine.Name, Version: machine.Version})
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *MachineService) GetMachine(w http.ResponseWriter, r *http.Request) {
	machineId, err := utils.URLParamUUID(r, "machine_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	machine, err := schema.GetMachine(machineId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrMachineNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting machine: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, MachineInfo{Id: machine.Id, Name: machine.Name, Version: machine.Version})
}

func (s *MachineService) DeleteMachine(w http.ResponseWriter, r *http.Request) {
	machineId, err := utils.URLParamUUID(r, "machine_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkMachineExists(txn, machineId); err != nil {
			return err
		}

		result := txn.Delete(&schema.MachineModule{}, "machine_id = ?", machineId)
		if result.Error != nil {
			slog.Error("sql error deleting machine module links", "machine_id", machineId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.MachineClient{}, "machine_id = ?", machineId)
		if result.Error != nil {
			slog.Error("sql error deleting machine client links", "machine_id", machineId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Model(&schema.Module{}).Where("machine_id = ?", machineId).Update("machine_id", nil)
		if result.Error != nil {
			slog.Error("sql error clearing module machine refs", "machine_id", machineId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Machine{Id: machineId})
		if result.Error != nil {
			slog.Error("sql error deleting machine", "machine_id", machineId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting machine: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *MachineService) Tree(w http.ResponseWriter, r *http.Request) {
	machineId, err := utils.URLParamUUID(r, "machine_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tree, err := assembly.BuildMachineTree(s.db, machineId)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, schema.ErrMachineNotFound):
			responseCode = http.StatusNotFound
		case errors.Is(err, assembly.ErrCycleDetected):
			responseCode = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("error building machine tree: %v", err), responseCode)
		return
	}

	utils.WriteJsonResponse(w, tree)
}

func (s *MachineService) RenderTree(w http.ResponseWriter, r *http.Request) {
	machineId, err := utils.URLParamUUID(r, "machine_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tree, err := assembly.BuildMachineTree(s.db, machineId)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, schema.ErrMachineNotFound):
			responseCode = http.StatusNotFound
		case errors.Is(err, assembly.ErrCycleDetected):
			responseCode = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("error building machine tree: %v", err), responseCode)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(assembly.Render(tree))); err != nil {
		slog.Error("error writing rendered tree", "machine_id", machineId, "error", err)
	}
}

type attachModuleRequest struct {
	Quantity uint `json:"quantity"`
}

func (s *MachineService) AttachModule(w http.ResponseWriter, r *http.Request) {
	machineId, err := utils.URLParamUUID(r, "machine_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	params := attachModuleRequest{Quantity: 1}
	if r.ContentLength > 0 && !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkMachineExists(txn, machineId); err != nil {
			return err
		}
		if err := checkModuleExists(txn, moduleId); err != nil {
			return err
		}

		var existing schema.MachineModule
		result := txn.Limit(1).Find(&existing, "machine_id = ? AND module_id = ?", machineId, moduleId)
		if result.Error != nil {
			slog.Error("sql error checking for existing machine module link", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if result.RowsAffected != 0 {
			result = txn.Model(&existing).Update("quantity", params.Quantity)
		} else {
			result = txn.Create(&schema.MachineModule{Id: uuid.New(), MachineId: machineId, ModuleId: moduleId, Quantity: params.Quantity})
		}
		if result.Error != nil {
			slog.Error("sql error saving machine module link", "machine_id", machineId, "module_id", moduleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error attaching module to machine: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *MachineService) DetachModule(w http.ResponseWriter, r *http.Request) {
	machineId, err := utils.URLParamUUID(r, "machine_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	moduleId, err := utils.URLParamUUID(r, "module_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkMachineExists(txn, machineId); err != nil {
			return err
		}

		result := txn.Delete(&schema.MachineModule{}, "machine_id = ? AND module_id = ?", machineId, moduleId)
		if result.Error != nil {
			slog.Error("sql error deleting machine module link", "machine_id", machineId, "module_id", moduleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return CodedError(errors.New("module is not attached to machine"), http.StatusNotFound)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error detaching module from machine: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type attachClientRequest struct {
	Comment string `json:"comment"`
}

func (s *MachineService) AttachClient(w http.ResponseWriter, r *http.Request) {
	machineId, err := utils.URLParamUUID(r, "machine_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	clientId, err := utils.URLParamUUID(r, "client_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params attachClientRequest
	if r.ContentLength > 0 && !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkMachineExists(txn, machineId); err != nil {
			return err
		}
		if _, err := schema.GetClient(clientId, txn); err != nil {
			if errors.Is(err, schema.ErrClientNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		result := txn.Save(&schema.MachineClient{MachineId: machineId, ClientId: clientId, Comment: params.Comment})
		if result.Error != nil {
			slog.Error("sql error saving machine client link", "machine_id", machineId, "client_id", clientId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error attaching client to machine: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *MachineService) DetachClient(w http.ResponseWriter, r *http.Request) {
	machineId, err := utils.URLParamUUID(r, "machine_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	clientId, err := utils.URLParamUUID(r, "client_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkMachineExists(txn, machineId); err != nil {
			return err
		}

		result := txn.Delete(&schema.MachineClient{}, "machine_id = ? AND client_id = ?", machineId, clientId)
		if result.Error != nil {
			slog.Error("sql error deleting machine client link", "machine_id", machineId, "client_id", clientId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return CodedError(errors.New("client is not attached to machine"), http.StatusNotFound)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error detaching client from machine: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *MachineService) ImportComposition(w http.ResponseWriter, r *http.Request) {
	machineId, err := utils.URLParamUUID(r, "machine_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkMachineExists(s.db, machineId); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading file from request: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	summary, err := importer.ImportMachine(s.db, file, machineId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error importing machine composition: %v", err), http.StatusUnprocessableEntity)
		return
	}

	slog.Info("imported machine composition", "machine_id", machineId,
		"modules_created", summary.ModulesCreated, "links_updated", summary.LinksUpdated)

	utils.WriteJsonResponse(w, summary)
}
