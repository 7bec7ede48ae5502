package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"assembler/core/auth"
	"assembler/core/notify"
	"assembler/core/schema"
	"assembler/core/storage"
	"assembler/core/taskflow"
	"assembler/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaskService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	storage  storage.Storage
	notifier notify.Notifier
}

func (s *TaskService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/list", s.List)
	r.Post("/create", s.CreateTask)

	r.Route("/{task_id}", func(r chi.Router) {
		r.Get("/", s.GetTask)
		r.Post("/", s.UpdateTask)
		r.Delete("/", s.DeleteTask)

		r.Post("/transition", s.Transition)

		r.Get("/events", s.Events)

		r.With(checkSufficientStorage(s.storage)).Post("/attachments", s.UploadAttachment)
		r.Get("/attachments/{attachment_id}", s.DownloadAttachment)
	})

	return r
}

type createTaskRequest struct {
	RecipientId uuid.UUID  `json:"recipient_id"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	Links       []string   `json:"links"`
}

type createTaskResponse struct {
	TaskId uuid.UUID `json:"task_id"`
}

func (s *TaskService) CreateTask(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createTaskRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Title == "" {
		http.Error(w, "task title must be specified", http.StatusBadRequest)
		return
	}

	if params.Priority == "" {
		params.Priority = schema.PriorityMedium
	}
	if err := schema.CheckValidTaskPriority(params.Priority); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	newTask := schema.Task{
		Id:          uuid.New(),
		SenderId:    user.Id,
		RecipientId: params.RecipientId,
		Title:       params.Title,
		Message:     params.Message,
		Priority:    params.Priority,
		Status:      schema.TaskInProgress,
		DueDate:     params.DueDate,
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkUserExists(txn, params.RecipientId); err != nil {
			return err
		}

		result := txn.Create(&newTask)
		if result.Error != nil {
			slog.Error("sql error creating new task", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		for _, link := range params.Links {
			result := txn.Create(&schema.TaskLink{Id: uuid.New(), TaskId: newTask.Id, ModelPath: link})
			if result.Error != nil {
				slog.Error("sql error creating task link", "task_id", newTask.Id, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating task: %v", err), GetResponseCode(err))
		return
	}

	s.notifyUser(r.Context(), params.RecipientId, notify.Message{
		Subject: fmt.Sprintf("New task: %v", newTask.Title),
		Body:    fmt.Sprintf("%v assigned you a task with priority %v.\n\n%v", user.FullName(), newTask.Priority, newTask.Message),
	})

	utils.WriteJsonResponse(w, createTaskResponse{TaskId: newTask.Id})
}

// notifyUser delivers after the transaction has committed. Failures are
// counted and logged, never surfaced to the API caller.
func (s *TaskService) notifyUser(ctx context.Context, userId uuid.UUID, msg notify.Message) {
	user, err := schema.GetUser(userId, s.db)
	if err != nil {
		slog.Error("error loading user for task notification", "user_id", userId, "error", err)
		notificationFailures.Inc()
		return
	}

	if err := s.notifier.Notify(ctx, user, msg); err != nil {
		slog.Error("error delivering task notification", "user_id", userId, "error", err)
		notificationFailures.Inc()
	}
}

type TaskInfo struct {
	Id          uuid.UUID  `json:"id"`
	SenderId    uuid.UUID  `json:"sender_id"`
	RecipientId uuid.UUID  `json:"recipient_id"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at"`
	DueDate     *time.Time `json:"due_date"`
	CompletedAt *time.Time `json:"completed_at"`
}

func convertToTaskInfo(task *schema.Task) TaskInfo {
	return TaskInfo{
		Id:          task.Id,
		SenderId:    task.SenderId,
		RecipientId: task.RecipientId,
		Title:       task.Title,
		Message:     task.Message,
		Priority:    task.Priority,
		Status:      task.Status,
		CreatedAt:   task.CreatedAt,
		SentAt:      task.SentAt,
		DueDate:     task.DueDate,
		CompletedAt: task.CompletedAt,
	}
}

// List returns tasks the user participates in. Admins may pass all=true to
// list every task. Optional status and role (sent/received) filters.
func (s *TaskService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	query := s.db.Order("created_at desc")

	if r.URL.Query().Get("all") == "true" && user.IsAdmin {
		// no participant filter
	} else {
		switch r.URL.Query().Get("role") {
		case "sent":
			query = query.Where("sender_id = ?", user.Id)
		case "received":
			query = query.Where("recipient_id = ?", user.Id)
		default:
			query = query.Where("sender_id = ? OR recipient_id = ?", user.Id, user.Id)
		}
	}

	if status := r.URL.Query().Get("status"); status != "" {
		if err := schema.CheckValidTaskStatus(status); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		query = query.Where("status = ?", status)
	}

	if search := r.URL.Query().Get("search"); search != "" {
		query = query.Where("title LIKE ?", "%"+search+"%")
	}

	var tasks []schema.Task
	result := query.Find(&tasks)
	if result.Error != nil {
		slog.Error("sql error listing tasks", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing tasks: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, convertToTaskInfo(&task))
	}

	utils.WriteJsonResponse(w, infos)
}

type taskAttachmentInfo struct {
	Id       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
}

type taskDetail struct {
	TaskInfo
	Sender         string               `json:"sender"`
	Recipient      string               `json:"recipient"`
	Links          []string             `json:"links"`
	Attachments    []taskAttachmentInfo `json:"attachments"`
	AllowedActions []taskflow.Action    `json:"allowed_actions"`
}

func (s *TaskService) GetTask(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var task schema.Task
	result := s.db.Preload("Sender").Preload("Recipient").Preload("Attachments").Preload("Links").First(&task, "id = ?", taskId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			http.Error(w, schema.ErrTaskNotFound.Error(), http.StatusNotFound)
			return
		}
		slog.Error("sql error loading task", "task_id", taskId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error getting task: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	detail := taskDetail{
		TaskInfo:       convertToTaskInfo(&task),
		Links:          make([]string, 0, len(task.Links)),
		Attachments:    make([]taskAttachmentInfo, 0, len(task.Attachments)),
		AllowedActions: taskflow.AllowedActions(&task, user.Id),
	}
	if task.Sender != nil {
		detail.Sender = task.Sender.FullName()
	}
	if task.Recipient != nil {
		detail.Recipient = task.Recipient.FullName()
	}
	for _, link := range task.Links {
		detail.Links = append(detail.Links, link.ModelPath)
	}
	for _, attachment := range task.Attachments {
		detail.Attachments = append(detail.Attachments, taskAttachmentInfo{Id: attachment.Id, Filename: filepath.Base(attachment.File)})
	}

	utils.WriteJsonResponse(w, detail)
}

type updateTaskRequest struct {
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	Priority string     `json:"priority"`
	DueDate  *time.Time `json:"due_date"`
}

// UpdateTask edits task content. Only the sender may edit, and only while the
// task has not entered review.
func (s *TaskService) UpdateTask(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateTaskRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Priority != "" {
		if err := schema.CheckValidTaskPriority(params.Priority); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		task, err := schema.GetTask(taskId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrTaskNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if task.SenderId != user.Id {
			return CodedError(errors.New("only the task sender may edit the task"), http.StatusForbidden)
		}
		if task.Status != schema.TaskInProgress && task.Status != schema.TaskRejected {
			return CodedError(fmt.Errorf("task with status %v cannot be edited", task.Status), http.StatusConflict)
		}

		if params.Title != "" {
			task.Title = params.Title
		}
		if params.Message != "" {
			task.Message = params.Message
		}
		if params.Priority != "" {
			task.Priority = params.Priority
		}
		if params.DueDate != nil {
			task.DueDate = params.DueDate
		}

		result := txn.Save(&task)
		if result.Error != nil {
			slog.Error("sql error updating task", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating task: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *TaskService) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var attachments []schema.TaskAttachment

	err = s.db.Transaction(func(txn *gorm.DB) error {
		task, err := schema.GetTask(taskId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrTaskNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if task.SenderId != user.Id && !user.IsAdmin {
			return CodedError(errors.New("only the task sender may delete the task"), http.StatusForbidden)
		}
		if !taskflow.Deletable(task.Status) {
			return CodedError(fmt.Errorf("task with status %v cannot be deleted", task.Status), http.StatusConflict)
		}

		result := txn.Find(&attachments, "task_id = ?", taskId)
		if result.Error != nil {
			slog.Error("sql error listing task attachments", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		for _, table := range []interface{}{&schema.TaskAttachment{}, &schema.TaskLink{}, &schema.TaskEvent{}} {
			result := txn.Delete(table, "task_id = ?", taskId)
			if result.Error != nil {
				slog.Error("sql error deleting task children", "task_id", taskId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		result = txn.Delete(&schema.Task{Id: taskId})
		if result.Error != nil {
			slog.Error("sql error deleting task", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting task: %v", err), GetResponseCode(err))
		return
	}

	for _, attachment := range attachments {
		if err := s.storage.Delete(attachment.File); err != nil {
			slog.Error("error deleting task attachment from storage", "task_id", taskId, "path", attachment.File, "error", err)
		}
	}

	utils.WriteSuccess(w)
}

type transitionRequest struct {
	Action taskflow.Action `json:"action"`
}

type transitionResponse struct {
	Status string `json:"status"`
}

// Transition applies a task action. The status update is compare-and-set on
// the status read inside the transaction, so two concurrent actions cannot
// both apply: the loser gets a conflict.
func (s *TaskService) Transition(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params transitionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var task schema.Task
	var newStatus string

	err = s.db.Transaction(func(txn *gorm.DB) error {
		task, err = schema.GetTask(taskId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrTaskNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		priorStatus := task.Status

		newStatus, err = taskflow.Transition(&task, params.Action, user.Id)
		if err != nil {
			switch {
			case errors.Is(err, taskflow.ErrUnknownAction):
				return CodedError(err, http.StatusUnprocessableEntity)
			case errors.Is(err, taskflow.ErrUnauthorizedActor):
				return CodedError(err, http.StatusForbidden)
			case errors.Is(err, taskflow.ErrInvalidTransition):
				return CodedError(fmt.Errorf("%w: cannot %v a task with status %v", err, params.Action, task.Status), http.StatusUnprocessableEntity)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{"status": newStatus}
		if newStatus == schema.TaskOnReview && task.SentAt == nil {
			updates["sent_at"] = now
		}
		if newStatus == schema.TaskAccepted {
			updates["completed_at"] = now
		}
		if newStatus == schema.TaskInProgress {
			updates["completed_at"] = nil
		}

		// Conditioning on the prior status makes the update a compare-and-set:
		// a concurrent transition that committed first leaves zero rows.
		result := txn.Model(&schema.Task{}).
			Where("id = ? AND status = ?", taskId, priorStatus).
			Updates(updates)
		if result.Error != nil {
			slog.Error("sql error updating task status", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			taskTransitionConflicts.Inc()
			return CodedError(taskflow.ErrStatusConflict, http.StatusConflict)
		}

		event := schema.TaskEvent{
			Id:         uuid.New(),
			TaskId:     taskId,
			Action:     string(params.Action),
			FromStatus: priorStatus,
			ToStatus:   newStatus,
			ActorId:    user.Id,
		}
		if err := txn.Create(&event).Error; err != nil {
			slog.Error("sql error creating task event", "task_id", taskId, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error applying task action: %v", err), GetResponseCode(err))
		return
	}

	taskTransitionsTotal.WithLabelValues(string(params.Action)).Inc()

	// The counterparty of whoever acted gets notified.
	counterparty := task.SenderId
	if user.Id == task.SenderId {
		counterparty = task.RecipientId
	}
	s.notifyUser(r.Context(), counterparty, notify.Message{
		Subject: fmt.Sprintf("Task %v: %v", newStatus, task.Title),
		Body:    fmt.Sprintf("%v performed action '%v'. The task is now %v.", user.FullName(), params.Action, newStatus),
	})

	utils.WriteJsonResponse(w, transitionResponse{Status: newStatus})
}

type TaskEventInfo struct {
	Action     string    `json:"action"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ActorId    uuid.UUID `json:"actor_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *TaskService) Events(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := schema.GetTask(taskId, s.db, false); err != nil {
		if errors.Is(err, schema.ErrTaskNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var events []schema.TaskEvent
	result := s.db.Where("task_id = ?", taskId).Order("created_at, id").Find(&events)
	if result.Error != nil {
		slog.Error("sql error listing task events", "task_id", taskId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing task events: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]TaskEventInfo, 0, len(events))
	for _, event := range events {
		infos = append(infos, TaskEventInfo{
			Action:     event.Action,
			FromStatus: event.FromStatus,
			ToStatus:   event.ToStatus,
			ActorId:    event.ActorId,
			CreatedAt:  event.CreatedAt,
		})
	}

	utils.WriteJsonResponse(w, infos)
}

type uploadAttachmentResponse struct {
	AttachmentId uuid.UUID `json:"attachment_id"`
}

func (s *TaskService) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := schema.GetTask(taskId, s.db, false); err != nil {
		if errors.Is(err, schema.ErrTaskNotFound) {
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

	path := storage.TaskAttachmentPath(taskId, header.Filename)
	if err := s.storage.Write(path, file); err != nil {
		slog.Error("error writing task attachment to storage", "task_id", taskId, "path", path, "error", err)
		http.Error(w, "error saving file", http.StatusInternalServerError)
		return
	}

	attachment := schema.TaskAttachment{Id: uuid.New(), TaskId: taskId, File: path}
	result := s.db.Create(&attachment)
	if result.Error != nil {
		slog.Error("sql error creating task attachment", "task_id", taskId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error saving attachment: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, uploadAttachmentResponse{AttachmentId: attachment.Id})
}

func (s *TaskService) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	attachmentId, err := utils.URLParamUUID(r, "attachment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var attachment schema.TaskAttachment
	result := s.db.First(&attachment, "id = ? AND task_id = ?", attachmentId, taskId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			http.Error(w, "attachment not found", http.StatusNotFound)
			return
		}
		slog.Error("sql error loading task attachment", "attachment_id", attachmentId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error getting attachment: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	data, err := s.storage.Read(attachment.File)
	if err != nil {
		slog.Error("error reading task attachment from storage", "path", attachment.File, "error", err)
		http.Error(w, "error reading file", http.StatusInternalServerError)
		return
	}
	defer data.Close()

	utils.WriteFileResponse(w, filepath.Base(attachment.File), "application/octet-stream", data)
}
