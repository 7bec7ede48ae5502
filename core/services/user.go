package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"assembler/core/auth"
	"assembler/core/notify"
	"assembler/core/schema"
	"assembler/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	notifier notify.Notifier
}

func (s *UserService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Post("/signup", s.Signup)
		r.Get("/login", s.LoginWithEmail)
		r.Post("/verify-email", s.VerifyEmail)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Get("/list", s.List)
		r.Get("/info", s.Info)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)
		r.Use(auth.AdminOnly(s.db))

		r.Post("/create", s.CreateUser)

		r.Delete("/{user_id}", s.DeleteUser)

		r.Post("/{user_id}/admin", s.PromoteAdmin)
		r.Delete("/{user_id}/admin", s.DemoteAdmin)
	})

	return r
}

type signupRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
}

type signupResponse struct {
	UserId uuid.UUID `json:"user_id"`
}

func (s *UserService) createUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	var params signupRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return uuid.Nil, false
	}

	if params.Email == "" || params.Password == "" {
		http.Error(w, "email and password must be specified", http.StatusBadRequest)
		return uuid.Nil, false
	}

	userId, err := s.userAuth.CreateUser(auth.NewUserArgs{
		Email:     params.Email,
		FirstName: params.FirstName,
		LastName:  params.LastName,
		Phone:     params.Phone,
		Password:  params.Password,
	})
	if err != nil {
		responseCode := http.StatusInternalServerError
		if errors.Is(err, auth.ErrEmailAlreadyInUse) {
			responseCode = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("error creating user: %v", err), responseCode)
		return uuid.Nil, false
	}

	s.sendVerificationEmail(r.Context(), userId)

	return userId, true
}

// sendVerificationEmail is best effort. A user who never receives the email
// can request verification again through an admin.
func (s *UserService) sendVerificationEmail(ctx context.Context, userId uuid.UUID) {
	token, err := s.userAuth.CreateVerificationToken(userId)
	if err != nil {
		slog.Error("error creating email verification token", "user_id", userId, "error", err)
		return
	}

	user, err := schema.GetUser(userId, s.db)
	if err != nil {
		slog.Error("error loading user for verification email", "user_id", userId, "error", err)
		return
	}

	msg := notify.Message{
		Subject: "Verify your email",
		Body:    fmt.Sprintf("Hello %v,\n\nUse the following token to verify your email address:\n\n%v\n", user.FullName(), token),
	}
	if err := s.notifier.Notify(ctx, user, msg); err != nil {
		slog.Error("error sending verification email", "user_id", userId, "error", err)
	}
}

func (s *UserService) Signup(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.createUser(w, r)
	if !ok {
		return
	}
	utils.WriteJsonResponse(w, signupResponse{UserId: userId})
}

func (s *UserService) CreateUser(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.createUser(w, r)
	if !ok {
		return
	}
	utils.WriteJsonResponse(w, signupResponse{UserId: userId})
}

type loginResponse struct {
	UserId      uuid.UUID `json:"user_id"`
	AccessToken string    `json:"access_token"`
}

func (s *UserService) LoginWithEmail(w http.ResponseWriter, r *http.Request) {
	email, password, ok := r.BasicAuth()
	if !ok {
		http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
		return
	}

	login, err := s.userAuth.LoginWithEmail(email, password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, auth.ErrUserNotFoundWithEmail):
			responseCode = http.StatusNotFound
		case errors.Is(err, auth.ErrInvalidCredentials):
			responseCode = http.StatusUnauthorized
		}
		http.Error(w, fmt.Sprintf("login failed: %v", err), responseCode)
		return
	}

	utils.WriteJsonResponse(w, loginResponse{UserId: login.UserId, AccessToken: login.AccessToken})
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (s *UserService) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var params verifyEmailRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	userId, err := s.userAuth.VerifyEmail(params.Token)
	if err != nil {
		responseCode := http.StatusUnauthorized
		if errors.Is(err, schema.ErrUserNotFound) {
			responseCode = http.StatusNotFound
		}
		http.Error(w, fmt.Sprintf("email verification failed: %v", err), responseCode)
		return
	}

	utils.WriteJsonResponse(w, signupResponse{UserId: userId})
}

func (s *UserService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkUserExists(txn, userId); err != nil {
			return err
		}

		var openTasks int64
		result := txn.Model(&schema.Task{}).
			Where("(sender_id = ? OR recipient_id = ?) AND status IN ?", userId, userId,
				[]string{schema.TaskInProgress, schema.TaskOnReview}).
			Count(&openTasks)
		if result.Error != nil {
			slog.Error("sql error counting open tasks for user", "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if openTasks > 0 {
			return CodedError(fmt.Errorf("user %v has %d open tasks, reassign or close them first", userId, openTasks), http.StatusConflict)
		}

		result = txn.Delete(&schema.User{Id: userId})
		if result.Error != nil {
			slog.Error("sql error deleting user", "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting user %v: %v", userId, err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *UserService) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		user, err := schema.GetUser(userId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrUserNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		user.IsAdmin = true

		result := txn.Save(&user)
		if result.Error != nil {
			slog.Error("sql error promoting user to admin", "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error promoting admin: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *UserService) DemoteAdmin(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		user, err := schema.GetUser(userId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrUserNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if !user.IsAdmin {
			return CodedError(errors.New("user is already not an admin"), http.StatusUnprocessableEntity)
		}

		var count int64
		result := txn.Model(&schema.User{}).Where("is_admin = ?", true).Count(&count)
		if result.Error != nil {
			slog.Error("sql error counting existing admins", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if count < 2 {
			return CodedError(fmt.Errorf("cannot demote admin %v since there would be no admins left", userId), http.StatusUnprocessableEntity)
		}

		user.IsAdmin = false

		result = txn.Save(&user)
		if result.Error != nil {
			slog.Error("sql error demoting admin", "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error demoting admin: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type UserInfo struct {
	Id            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Phone         string    `json:"phone"`
	Admin         bool      `json:"admin"`
	EmailVerified bool      `json:"email_verified"`
	Roles         []string  `json:"roles"`
}

func convertToUserInfo(user *schema.User) UserInfo {
	roles := make([]string, 0, len(user.Roles))
	for _, assignment := range user.Roles {
		if assignment.Role != nil {
			roles = append(roles, assignment.Role.Name)
		}
	}

	return UserInfo{
		Id:            user.Id,
		Email:         user.Email,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Phone:         user.Phone,
		Admin:         user.IsAdmin,
		EmailVerified: user.IsEmailVerified,
		Roles:         roles,
	}
}

func (s *UserService) List(w http.ResponseWriter, r *http.Request) {
	var users []schema.User
	result := s.db.Preload("Roles").Preload("Roles.Role").Order("email").Find(&users)
	if result.Error != nil {
		slog.Error("sql error listing users", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing users: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]UserInfo, 0, len(users))
	for _, u := range users {
		infos = append(infos, convertToUserInfo(&u))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *UserService) Info(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var userWithRoles schema.User
	result := s.db.Preload("Roles").Preload("Roles.Role").First(&userWithRoles, "id = ?", user.Id)
	if result.Error != nil {
		slog.Error("sql error loading user info", "user_id", user.Id, "error", result.Error)
		http.Error(w, fmt.Sprintf("error getting user info: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, convertToUserInfo(&userWithRoles))
}
