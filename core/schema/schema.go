package schema

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Email     string `gorm:"unique;size:254;not null"`
	FirstName string `gorm:"size:100;not null"`
	LastName  string `gorm:"size:100;not null"`
	Phone     string `gorm:"size:20"`
	Password  []byte

	IsAdmin         bool `gorm:"not null;default:false"`
	IsEmailVerified bool `gorm:"not null;default:false"`

	// ChatId is the chat-bot channel or member id used for chat notifications.
	// Empty means the user has not linked a chat account.
	ChatId string `gorm:"size:100"`

	Roles []UserRole `gorm:"constraint:OnDelete:CASCADE"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

type Role struct {
	Id          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"unique;size:50;not null"`
	Description string
}

type UserRole struct {
	UserId uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoleId uuid.UUID `gorm:"type:uuid;primaryKey"`

	RoleDescription string

	User *User `gorm:"constraint:OnDelete:CASCADE"`
	Role *Role `gorm:"constraint:OnDelete:CASCADE"`
}

type Client struct {
	Id    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name  string    `gorm:"size:255;not null"`
	Email string    `gorm:"size:254"`

	Machines []MachineClient `gorm:"constraint:OnDelete:CASCADE"`
}

type Machine struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name    string `gorm:"size:255;not null;uniqueIndex:idx_machine_name_version"`
	Version string `gorm:"size:50;not null;uniqueIndex:idx_machine_name_version"`

	Modules []MachineModule `gorm:"constraint:OnDelete:CASCADE"`
	Clients []MachineClient `gorm:"constraint:OnDelete:CASCADE"`
}

type MachineClient struct {
	MachineId uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClientId  uuid.UUID `gorm:"type:uuid;primaryKey"`

	CreatedAt time.Time
	Comment   string

	Machine *Machine `gorm:"constraint:OnDelete:CASCADE"`
	Client  *Client  `gorm:"constraint:OnDelete:CASCADE"`
}

type Manufacturer struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"unique;size:255;not null"`
}

type Module struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Decimal     string `gorm:"size:100;not null;index"`
	Name        string `gorm:"size:255;not null;index"`
	Version     string `gorm:"size:50"`
	Description string

	Status string `gorm:"size:20;not null;default:'in_progress'"`

	// ParentModuleId forms the module hierarchy. Edges are expected to form a
	// forest; nothing at the schema level prevents a cycle, so traversals must
	// check (see core/assembly).
	ParentModuleId *uuid.UUID `gorm:"type:uuid;index"`
	ParentModule   *Module    `gorm:"constraint:OnDelete:SET NULL"`

	MachineId *uuid.UUID `gorm:"type:uuid;index"`
	Machine   *Machine   `gorm:"constraint:OnDelete:SET NULL"`

	ManufacturerId *uuid.UUID    `gorm:"type:uuid"`
	Manufacturer   *Manufacturer `gorm:"constraint:OnDelete:SET NULL"`

	SchemeFile string `gorm:"size:500"`
	StepFile   string `gorm:"size:500"`

	Parts []ModulePart `gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type MachineModule struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	MachineId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_machine_module"`
	ModuleId  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_machine_module"`

	Quantity  uint `gorm:"not null;default:1"`
	CreatedAt time.Time

	Machine *Machine `gorm:"constraint:OnDelete:CASCADE"`
	Module  *Module  `gorm:"constraint:OnDelete:CASCADE"`
}

type ModulePart struct {
	ModuleId uuid.UUID `gorm:"type:uuid;primaryKey"`
	PartId   uuid.UUID `gorm:"type:uuid;primaryKey"`

	// Quantity zero is valid: the part is referenced by the module but not
	// currently installed.
	Quantity  uint `gorm:"not null;default:1"`
	CreatedAt time.Time

	Module *Module `gorm:"constraint:OnDelete:CASCADE"`
	Part   *Part   `gorm:"constraint:OnDelete:CASCADE"`
}

type Part struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name        string `gorm:"size:255;not null;index"`
	Decimal     string `gorm:"size:100"`
	Material    string `gorm:"size:100"`
	Description string

	ManufacturerId *uuid.UUID    `gorm:"type:uuid"`
	Manufacturer   *Manufacturer `gorm:"constraint:OnDelete:SET NULL"`

	CreatedAt time.Time
}

type Blueprint struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Weight       *float64
	Scale        string `gorm:"size:50"`
	Version      string `gorm:"size:50"`
	NamingScheme string `gorm:"size:100;not null"`

	DeveloperId uuid.UUID `gorm:"type:uuid;not null"`
	Developer   *User     `gorm:"foreignKey:DeveloperId"`

	ValidatorId *uuid.UUID `gorm:"type:uuid"`
	Validator   *User      `gorm:"foreignKey:ValidatorId"`

	ApproverId *uuid.UUID `gorm:"type:uuid"`
	Approver   *User      `gorm:"foreignKey:ApproverId"`

	SchemeFile string `gorm:"size:500"`
	StepFile   string `gorm:"size:500"`

	CreatedAt time.Time
}

type Task struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	SenderId    uuid.UUID `gorm:"type:uuid;not null"`
	Sender      *User     `gorm:"foreignKey:SenderId"`
	RecipientId uuid.UUID `gorm:"type:uuid;not null"`
	Recipient   *User     `gorm:"foreignKey:RecipientId"`

	Title   string `gorm:"size:100;not null"`
	Message string

	Priority string `gorm:"size:10;not null;default:'medium'"`
	Status   string `gorm:"size:20;not null;default:'in_progress'"`

	CreatedAt   time.Time `gorm:"index"`
	SentAt      *time.Time
	DueDate     *time.Time
	CompletedAt *time.Time

	Attachments []TaskAttachment `gorm:"constraint:OnDelete:CASCADE"`
	Links       []TaskLink       `gorm:"constraint:OnDelete:CASCADE"`
}

type TaskAttachment struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	TaskId uuid.UUID `gorm:"type:uuid;not null;index"`
	File   string    `gorm:"size:500;not null"`
}

// TaskLink stores a path reference 'core/<entity>/<id>' to an object related
// to the task.
type TaskLink struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TaskId    uuid.UUID `gorm:"type:uuid;not null;index"`
	ModelPath string    `gorm:"size:255;not null"`
}

// TaskEvent is an append-only record of a task status transition.
type TaskEvent struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	TaskId uuid.UUID `gorm:"type:uuid;not null;index"`

	Action     string `gorm:"size:20;not null"`
	FromStatus string `gorm:"size:20;not null"`
	ToStatus   string `gorm:"size:20;not null"`

	ActorId   uuid.UUID `gorm:"type:uuid;not null"`
	CreatedAt time.Time
}

// Tables returns every model in migration order. Shared by AutoMigrate in
// main and by the test setup.
func Tables() []interface{} {
	return []interface{}{
		&User{}, &Role{}, &UserRole{},
		&Client{}, &Machine{}, &MachineClient{},
		&Manufacturer{}, &Module{}, &MachineModule{},
		&Part{}, &ModulePart{},
		&Blueprint{},
		&Task{}, &TaskAttachment{}, &TaskLink{}, &TaskEvent{},
	}
}
