package services

import (
	"errors"
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

type ManufacturerService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *ManufacturerService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/list", s.List)
	r.Post("/create", s.CreateManufacturer)

	r.With(auth.AdminOnly(s.db)).Delete("/{manufacturer_id}", s.DeleteManufacturer)

	return r
}

type createManufacturerRequest struct {
	Name string `json:"name"`
}

type createManufacturerResponse struct {
	ManufacturerId uuid.UUID `json:"manufacturer_id"`
}

func (s *ManufacturerService) CreateManufacturer(w http.ResponseWriter, r *http.Request) {
	var params createManufacturerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "manufacturer name must be specified", http.StatusBadRequest)
		return
	}

	newManufacturer := schema.Manufacturer{Id: uuid.New(), Name: params.Name}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.Manufacturer
		result := txn.Limit(1).Find(&existing, "name = ?", params.Name)
		if result.Error != nil {
			slog.Error("sql error checking for duplicate manufacturer", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(fmt.Errorf("manufacturer with name %v already exists", params.Name), http.StatusConflict)
		}

		result = txn.Create(&newManufacturer)
		if result.Error != nil {
			slog.Error("sql error creating new manufacturer", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating manufacturer: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createManufacturerResponse{ManufacturerId: newManufacturer.Id})
}

type ManufacturerInfo struct {
	Id   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func (s *ManufacturerService) List(w http.ResponseWriter, r *http.Request) {
	var manufacturers []schema.Manufacturer
	result := s.db.Order("name").Find(&manufacturers)
	if result.Error != nil {
		slog.Error("sql error listing manufacturers", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing manufacturers: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]ManufacturerInfo, 0, len(manufacturers))
	for _, manufacturer := range manufacturers {
		infos = append(infos, ManufacturerInfo{Id: manufacturer.Id, Name: manufacturer.Name})
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *ManufacturerService) DeleteManufacturer(w http.ResponseWriter, r *http.Request) {
	manufacturerId, err := utils.URLParamUUID(r, "manufacturer_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		var manufacturer schema.Manufacturer
		result := txn.First(&manufacturer, "id = ?", manufacturerId)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return CodedError(schema.ErrManufacturerNotFound, http.StatusNotFound)
			}
			slog.Error("sql error in get manufacturer", "manufacturer_id", manufacturerId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		// References from modules and parts are nulled, not blocked.
		if err := txn.Model(&schema.Module{}).Where("manufacturer_id = ?", manufacturerId).Update("manufacturer_id", nil).Error; err != nil {
			slog.Error("sql error clearing module manufacturer refs", "manufacturer_id", manufacturerId, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if err := txn.Model(&schema.Part{}).Where("manufacturer_id = ?", manufacturerId).Update("manufacturer_id", nil).Error; err != nil {
			slog.Error("sql error clearing part manufacturer refs", "manufacturer_id", manufacturerId, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Manufacturer{Id: manufacturerId})
		if result.Error != nil {
			slog.Error("sql error deleting manufacturer", "manufacturer_id", manufacturerId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting manufacturer: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
