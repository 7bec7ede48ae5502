package services

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"assembler/core/auth"
	"assembler/core/notify"
	"assembler/core/schema"
	"assembler/core/storage"
	"assembler/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

type Assembler struct {
	user         UserService
	role         RoleService
	client       ClientService
	machine      MachineService
	module       ModuleService
	part         PartService
	manufacturer ManufacturerService
	blueprint    BlueprintService
	task         TaskService

	db       *gorm.DB
	notifier notify.Notifier
	stop     chan bool
}

func NewAssembler(db *gorm.DB, store storage.Storage, notifier notify.Notifier, userAuth auth.IdentityProvider) Assembler {
	return Assembler{
		user:         UserService{db: db, userAuth: userAuth, notifier: notifier},
		role:         RoleService{db: db, userAuth: userAuth},
		client:       ClientService{db: db, userAuth: userAuth},
		machine:      MachineService{db: db, userAuth: userAuth},
		module:       ModuleService{db: db, userAuth: userAuth, storage: store},
		part:         PartService{db: db, userAuth: userAuth},
		manufacturer: ManufacturerService{db: db, userAuth: userAuth},
		blueprint:    BlueprintService{db: db, userAuth: userAuth, storage: store},
		task:         TaskService{db: db, userAuth: userAuth, storage: store, notifier: notifier},
		db:           db,
		notifier:     notifier,
		stop:         make(chan bool, 1),
	}
}

func (a *Assembler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/user", a.user.Routes())
	r.Mount("/role", a.role.Routes())
	r.Mount("/client", a.client.Routes())
	r.Mount("/machine", a.machine.Routes())
	r.Mount("/module", a.module.Routes())
	r.Mount("/part", a.part.Routes())
	r.Mount("/manufacturer", a.manufacturer.Routes())
	r.Mount("/blueprint", a.blueprint.Routes())
	r.Mount("/task", a.task.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}

// dueDateSweep reminds recipients of tasks whose due date passed since the
// previous sweep. Bounding the window to one interval keeps reminders from
// repeating every tick.
func (a *Assembler) dueDateSweep(since, now time.Time) {
	var tasks []schema.Task
	result := a.db.Preload("Recipient").
		Where("status = ? AND due_date > ? AND due_date <= ?", schema.TaskInProgress, since, now).
		Find(&tasks)
	if result.Error != nil {
		slog.Error("due date sweep: sql error querying overdue tasks", "error", result.Error)
		return
	}

	for _, task := range tasks {
		if task.Recipient == nil {
			continue
		}
		msg := notify.Message{
			Subject: fmt.Sprintf("Task overdue: %v", task.Title),
			Body:    fmt.Sprintf("The task '%v' was due %v and is still in progress.", task.Title, task.DueDate.Format(time.RFC1123)),
		}
		if err := a.notifier.Notify(context.Background(), *task.Recipient, msg); err != nil {
			slog.Error("due date sweep: error delivering reminder", "task_id", task.Id, "error", err)
			notificationFailures.Inc()
		}
	}

	if len(tasks) > 0 {
		slog.Info("due date sweep: sent reminders", "count", len(tasks))
	}
}

func (a *Assembler) DueDateSweep(interval time.Duration) {
	slog.Info("due date sweep: starting")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now().UTC()
	for {
		select {
		case <-ticker.C:
			now := time.Now().UTC()
			a.dueDateSweep(last, now)
			last = now
		case <-a.stop:
			slog.Info("due date sweep: process stopped")
			return
		}
	}
}

func (a *Assembler) StopDueDateSweep() {
	close(a.stop)
}
