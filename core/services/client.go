package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"assembler/core/auth"
	"assembler/core/schema"
	"assembler/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ClientService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *ClientService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/list", s.List)
	r.Post("/create", s.CreateClient)

	r.Route("/{client_id}", func(r chi.Router) {
		r.Get("/", s.GetClient)
		r.Post("/", s.UpdateClient)
		r.With(auth.AdminOnly(s.db)).Delete("/", s.DeleteClient)

		r.Get("/machines", s.ClientMachines)
	})

	return r
}

type clientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type createClientResponse struct {
	ClientId uuid.UUID `json:"client_id"`
}

func (s *ClientService) CreateClient(w http.ResponseWriter, r *http.Request) {
	var params clientRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "client name must be specified", http.StatusBadRequest)
		return
	}

	newClient := schema.Client{Id: uuid.New(), Name: params.Name, Email: params.Email}

	result := s.db.Create(&newClient)
	if result.Error != nil {
		slog.Error("sql error creating new client", "error", result.Error)
		http.Error(w, fmt.Sprintf("error creating client: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, createClientResponse{ClientId: newClient.Id})
}

type ClientInfo struct {
	Id    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

func (s *ClientService) List(w http.ResponseWriter, r *http.Request) {
	var clients []schema.Client
	result := s.db.Order("name").Find(&clients)
	if result.Error != nil {
		slog.Error("sql error listing clients", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing clients: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]ClientInfo, 0, len(clients))
	for _, client := range clients {
		infos = append(infos, ClientInfo{Id: client.Id, Name: client.Name, Email: client.Email})
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *ClientService) GetClient(w http.ResponseWriter, r *http.Request) {
	clientId, err := utils.URLParamUUID(r, "client_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	client, err := schema.GetClient(clientId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrClientNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting client: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, ClientInfo{Id: client.Id, Name: client.Name, Email: client.Email})
}

func (s *ClientService) UpdateClient(w http.ResponseWriter, r *http.Request) {
	clientId, err := utils.URLParamUUID(r, "client_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params clientRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		client, err := schema.GetClient(clientId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrClientNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.Name != "" {
			client.Name = params.Name
		}
		if params.Email != "" {
			client.Email = params.Email
		}

		result := txn.Save(&client)
		if result.Error != nil {
			slog.Error("sql error updating client", "client_id", clientId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating client: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *ClientService) DeleteClient(w http.ResponseWriter, r *http.Request) {
	clientId, err := utils.URLParamUUID(r, "client_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if _, err := schema.GetClient(clientId, txn); err != nil {
			if errors.Is(err, schema.ErrClientNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		result := txn.Delete(&schema.MachineClient{}, "client_id = ?", clientId)
		if result.Error != nil {
			slog.Error("sql error deleting client machine links", "client_id", clientId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Client{Id: clientId})
		if result.Error != nil {
			slog.Error("sql error deleting client", "client_id", clientId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting client: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type ClientMachineInfo struct {
	MachineId uuid.UUID `json:"machine_id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Comment   string    `json:"comment"`
	Since     time.Time `json:"since"`
}

func (s *ClientService) ClientMachines(w http.ResponseWriter, r *http.Request) {
	clientId, err := utils.URLParamUUID(r, "client_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := schema.GetClient(clientId, s.db); err != nil {
		if errors.Is(err, schema.ErrClientNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var links []schema.MachineClient
	result := s.db.Preload("Machine").Where("client_id = ?", clientId).Order("created_at").Find(&links)
	if result.Error != nil {
		slog.Error("sql error listing client machines", "client_id", clientId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing client machines: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]ClientMachineInfo, 0, len(links))
	for _, link := range links {
		info := ClientMachineInfo{MachineId: link.MachineId, Comment: link.Comment, Since: link.CreatedAt}
		if link.Machine != nil {
			info.Name = link.Machine.Name
			info.Version = link.Machine.Version
		}
		infos = append(infos, info)
	}

	utils.WriteJsonResponse(w, infos)
}
