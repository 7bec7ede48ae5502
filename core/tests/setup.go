package tests

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"assembler/core/auth"
	"assembler/core/schema"
	"assembler/core/services"
	"assembler/core/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	assembler services.Assembler
	api       chi.Router
	db        *gorm.DB
	storage   storage.Storage
	notifier  *notifierStub
}

const (
	adminEmail    = "admin123@mail.com"
	adminPassword = "admin_password123"
)

func setupTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	err = db.AutoMigrate(schema.Tables()...)
	if err != nil {
		t.Fatal(err)
	}

	storagePath := filepath.Join(t.TempDir(), "storage")
	err = os.MkdirAll(storagePath, 0777)
	if err != nil {
		t.Fatalf("error creating storage directory: %v", err)
	}

	store := storage.NewSharedDisk(storagePath)

	userAuth, err := auth.NewBasicIdentityProvider(
		db,
		auth.NewAuditLogger(new(bytes.Buffer)),
		auth.BasicProviderArgs{
			Secret:        []byte("290zcv02ai249"),
			AdminEmail:    adminEmail,
			AdminPassword: adminPassword,
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	stub := &notifierStub{}

	assembler := services.NewAssembler(db, store, stub, userAuth)

	return &testEnv{assembler: assembler, api: assembler.Routes(), db: db, storage: store, notifier: stub}
}

func (t *testEnv) newClient() client {
	return client{api: t.api}
}

func (t *testEnv) newUser(name string) (client, error) {
	c := t.newClient()
	login, err := c.signup(name, name+"@mail.com", name+"_password")
	if err != nil {
		return client{}, err
	}

	err = c.login(login)
	if err != nil {
		return client{}, err
	}

	return c, nil
}

func (t *testEnv) adminClient() (client, error) {
	c := t.newClient()
	err := c.login(loginInfo{Email: adminEmail, Password: adminPassword})
	return c, err
}

func (t *testEnv) createRole(tt *testing.T, name string) uuid.UUID {
	role := schema.Role{Id: uuid.New(), Name: name}
	if err := t.db.Create(&role).Error; err != nil {
		tt.Fatal(err)
	}
	return role.Id
}
