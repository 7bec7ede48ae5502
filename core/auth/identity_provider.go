package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"assembler/core/schema"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFoundWithEmail = errors.New("no user found for given email")
	ErrInvalidCredentials    = errors.New("invalid login credentials")
	ErrGeneratingJwt         = errors.New("error generating jwt")
	ErrEmailAlreadyInUse     = errors.New("email is already in use")
)

type LoginResult struct {
	UserId      uuid.UUID
	AccessToken string
}

type NewUserArgs struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Password  string
}

type IdentityProvider interface {
	AuthMiddleware() chi.Middlewares

	LoginWithEmail(email, password string) (LoginResult, error)

	CreateUser(args NewUserArgs) (uuid.UUID, error)

	// CreateVerificationToken returns a signed token for the email
	// verification link sent to new users.
	CreateVerificationToken(userId uuid.UUID) (string, error)

	// VerifyEmail validates a verification token and marks the user verified.
	VerifyEmail(token string) (uuid.UUID, error)
}

func addInitialAdminToDb(db *gorm.DB, userId uuid.UUID, email string, password []byte) error {
	user := schema.User{
		Id:              userId,
		Email:           email,
		FirstName:       "Admin",
		LastName:        "Admin",
		Password:        password,
		IsAdmin:         true,
		IsEmailVerified: true,
	}

	err := db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "id = ? or email = ?", userId, email)
		if result.Error != nil {
			slog.Error("sql error checking if admin has already been added", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			result := txn.Create(&user)
			if result.Error != nil {
				slog.Error("sql error creating initial admin user", "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error adding initial admin to db: %w", err)
	}

	return nil
}

type requestContextKey string

const userRequestContextKey requestContextKey = "user"
