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

type PartService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *PartService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/list", s.List)
	r.Post("/create", s.CreatePart)

	r.Route("/{part_id}", func(r chi.Router) {
		r.Get("/", s.GetPart)
		r.Post("/", s.UpdatePart)
		r.Delete("/", s.DeletePart)
	})

	return r
}

type partRequest struct {
	Name           string     `json:"name"`
	Decimal        string     `json:"decimal"`
	Material       string     `json:"material"`
	Description    string     `json:"description"`
	ManufacturerId *uuid.UUID `json:"manufacturer_id"`
}

type createPartResponse struct {
	PartId uuid.UUID `json:"part_id"`
}

func (s *PartService) CreatePart(w http.ResponseWriter, r *http.Request) {
	var params partRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "part name must be specified", http.StatusBadRequest)
		return
	}

	newPart := schema.Part{
		Id:             uuid.New(),
		Name:           params.Name,
		Decimal:        params.Decimal,
		Material:       params.Material,
		Description:    params.Description,
		ManufacturerId: params.ManufacturerId,
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		if params.ManufacturerId != nil {
			var manufacturer schema.Manufacturer
			result := txn.First(&manufacturer, "id = ?", *params.ManufacturerId)
			if result.Error != nil {
				if errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return CodedError(schema.ErrManufacturerNotFound, http.StatusNotFound)
				}
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		result := txn.Create(&newPart)
		if result.Error != nil {
			slog.Error("sql error creating new part", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating part: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createPartResponse{PartId: newPart.Id})
}

type PartInfo struct {
	Id             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Decimal        string     `json:"decimal"`
	Material       string     `json:"material"`
	Description    string     `json:"description"`
	ManufacturerId *uuid.UUID `json:"manufacturer_id"`
}

func convertToPartInfo(part *schema.Part) PartInfo {
	return PartInfo{
		Id:             part.Id,
		Name:           part.Name,
		Decimal:        part.Decimal,
		Material:       part.Material,
		Description:    part.Description,
		ManufacturerId: part.ManufacturerId,
	}
}

func (s *PartService) List(w http.ResponseWriter, r *http.Request) {
	query := s.db.Order("name")
	if name := r.URL.Query().Get("name"); name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}
	if decimal := r.URL.Query().Get("decimal"); decimal != "" {
		query = query.Where("decimal = ?", decimal)
	}

	var parts []schema.Part
	result := query.Find(&parts)
	if result.Error != nil {
		slog.Error("sql error listing parts", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing parts: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]PartInfo, 0, len(parts))
	for _, part := range parts {
		infos = append(infos, convertToPartInfo(&part))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *PartService) GetPart(w http.ResponseWriter, r *http.Request) {
	partId, err := utils.URLParamUUID(r, "part_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	part, err := schema.GetPart(partId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrPartNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting part: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, convertToPartInfo(&part))
}

func (s *PartService) UpdatePart(w http.ResponseWriter, r *http.Request) {
	partId, err := utils.URLParamUUID(r, "part_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params partRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		part, err := schema.GetPart(partId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrPartNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.Name != "" {
			part.Name = params.Name
		}
		if params.Decimal != "" {
			part.Decimal = params.Decimal
		}
		if params.Material != "" {
			part.Material = params.Material
		}
		if params.Description != "" {
			part.Description = params.Description
		}
		if params.ManufacturerId != nil {
			part.ManufacturerId = params.ManufacturerId
		}

		result := txn.Save(&part)
		if result.Error != nil {
			slog.Error("sql error updating part", "part_id", partId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating part: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *PartService) DeletePart(w http.ResponseWriter, r *http.Request) {
	partId, err := utils.URLParamUUID(r, "part_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkPartExists(txn, partId); err != nil {
			return err
		}

		result := txn.Delete(&schema.ModulePart{}, "part_id = ?", partId)
		if result.Error != nil {
			slog.Error("sql error deleting module part links", "part_id", partId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Part{Id: partId})
		if result.Error != nil {
			slog.Error("sql error deleting part", "part_id", partId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting part: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
