// Package user manages accounts: signup, login, profile changes and Telegram provisioning.
package user

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/coinwatch/internal/domain"
	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/repository"
	"github.com/Proton-105/coinwatch/internal/session"
	"github.com/Proton-105/coinwatch/internal/telegram"
	"github.com/Proton-105/coinwatch/internal/usercache"
	"github.com/Proton-105/coinwatch/pkg/config"
	"github.com/Proton-105/coinwatch/pkg/logger"
)

const (
	msgBadCredentials = "Incorrect username or password"
	msgNameReserved   = "This name is reserved."
	msgNameTaken      = "This name is already in use."
)

// Credentials is the signup and login form.
type Credentials struct {
	Name     string `json:"name" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// ProfileUpdate renames the caller and optionally changes the password.
type ProfileUpdate struct {
	Name            string `json:"name" validate:"required,min=3,max=64"`
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"omitempty,min=6,max=72"`
}

// Login is an authenticated user together with a freshly issued session.
type Login struct {
	User    *domain.User
	Session *session.Session
}

// Service provides business operations over users.
type Service struct {
	repo      repository.UserRepository
	sessions  *session.Store
	cache     *usercache.Cache
	adminName string
	cost      int
	validate  *validator.Validate
	log       *slog.Logger
}

// NewService constructs a new Service instance. cache may be nil.
func NewService(
	repo repository.UserRepository,
	sessions *session.Store,
	cache *usercache.Cache,
	cfg config.AuthConfig,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	return &Service{
		repo:      repo,
		sessions:  sessions,
		cache:     cache,
		adminName: cfg.AdminName,
		cost:      cost,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       log,
	}
}

// Signup creates an account with zero coins and logs it in.
func (s *Service) Signup(ctx context.Context, creds Credentials) (*Login, error) {
	creds.Name = strings.TrimSpace(creds.Name)
	if err := s.validate.Struct(creds); err != nil {
		return nil, validationError(err)
	}
	if s.isReserved(creds.Name) {
		return nil, apperrors.NewValidationError(msgNameReserved)
	}

	hash, err := s.hash(creds.Password)
	if err != nil {
		return nil, err
	}

	u := &domain.User{Name: creds.Name, PasswordHash: hash}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewValidationError(msgNameTaken)
		}
		return nil, err
	}

	logger.FromContext(ctx, s.log).Info("user signed up", slog.Int64("user_id", u.ID))

	return s.startSession(ctx, u)
}

// Login checks the password and issues a session. Unknown names and wrong
// passwords produce the same error.
func (s *Service) Login(ctx context.Context, creds Credentials) (*Login, error) {
	if creds.Name == "" || creds.Password == "" {
		return nil, apperrors.NewValidationError(msgBadCredentials)
	}

	u, err := s.repo.FindByName(ctx, strings.TrimSpace(creds.Name))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewValidationError(msgBadCredentials)
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(creds.Password)) != nil {
		logger.FromContext(ctx, s.log).Warn("login rejected", slog.Int64("user_id", u.ID))
		return nil, apperrors.NewValidationError(msgBadCredentials)
	}

	return s.startSession(ctx, u)
}

// Logout drops the session behind token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// Authenticate resolves a session token into the caller's identity. An
// unknown or expired token yields the anonymous identity.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, nil
	}

	sess, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return domain.Identity{}, nil
		}
		return domain.Identity{}, err
	}

	id, err := s.cache.GetOrLoad(ctx, sess.UserID, func(ctx context.Context, userID int64) (domain.Identity, error) {
		u, err := s.repo.FindByID(ctx, userID)
		if err != nil {
			return domain.Identity{}, err
		}
		return domain.IdentityOf(u), nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = s.sessions.Delete(ctx, token)
			return domain.Identity{}, nil
		}
		return domain.Identity{}, err
	}

	return id, nil
}

// Get returns the account of id.
func (s *Service) Get(ctx context.Context, id domain.Identity) (*domain.User, error) {
	if !id.Authenticated() {
		return nil, apperrors.NewUnauthorizedError("anonymous user lookup")
	}

	u, err := s.repo.FindByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("User")
		}
		return nil, err
	}
	return u, nil
}

// List returns every account ordered by id.
func (s *Service) List(ctx context.Context) ([]domain.User, error) {
	return s.repo.List(ctx)
}

// UpdateProfile applies a rename and optional password change after checking
// the current password. All existing sessions are revoked and a new one issued.
func (s *Service) UpdateProfile(ctx context.Context, id domain.Identity, upd ProfileUpdate) (*Login, error) {
	if !id.Authenticated() {
		return nil, apperrors.NewUnauthorizedError("profile update without session")
	}

	upd.Name = strings.TrimSpace(upd.Name)
	if err := s.validate.Struct(upd); err != nil {
		return nil, validationError(err)
	}

	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(upd.CurrentPassword)) != nil {
		return nil, apperrors.NewValidationError("The current password you entered is incorrect.")
	}

	if s.isReserved(u.Name) && !s.isReserved(upd.Name) {
		return nil, apperrors.NewForbiddenError("Admin username cannot be changed.")
	}
	if upd.Name != u.Name && s.isReserved(upd.Name) {
		return nil, apperrors.NewValidationError(msgNameReserved)
	}

	hash := u.PasswordHash
	if upd.NewPassword != "" {
		if hash, err = s.hash(upd.NewPassword); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateProfile(ctx, u.ID, upd.Name, hash); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewValidationError(msgNameTaken)
		}
		return nil, err
	}
	u.Name = upd.Name
	u.PasswordHash = hash

	revoked, err := s.sessions.DeleteAllForUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, u.ID); err != nil {
		s.log.Warn("identity cache invalidation failed", slog.Int64("user_id", u.ID), slog.Any("error", err))
	}

	logger.FromContext(ctx, s.log).Info("profile updated",
		slog.Int64("user_id", u.ID),
		slog.Bool("password_changed", upd.NewPassword != ""),
		slog.Int("sessions_revoked", revoked),
	)

	return s.startSession(ctx, u)
}

// LoginTelegram finds or provisions the account linked to tgUser and logs it in.
// New accounts take the Telegram username, or first and last name, plus a
// random suffix when that name is taken.
func (s *Service) LoginTelegram(ctx context.Context, tgUser telebot.User) (*Login, error) {
	if tgUser.ID == 0 {
		return nil, apperrors.NewValidationError("User data not found in initData.")
	}

	u, err := s.repo.FindByTelegramID(ctx, tgUser.ID)
	switch {
	case err == nil:
		return s.startSession(ctx, u)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	u, err = s.provisionTelegram(ctx, tgUser)
	if err != nil {
		return nil, err
	}

	return s.startSession(ctx, u)
}

func (s *Service) provisionTelegram(ctx context.Context, tgUser telebot.User) (*domain.User, error) {
	base := telegram.DisplayName(tgUser)
	if len(base) < 3 {
		base = fmt.Sprintf("tg_%d", tgUser.ID)
	}

	password, err := randomHex(8)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}

	telegramID := tgUser.ID
	name := base
	for attempt := 0; attempt < 3; attempt++ {
		if s.isReserved(name) || attempt > 0 {
			suffix, err := randomHex(2)
			if err != nil {
				return nil, apperrors.NewInternalError(err)
			}
			name = base + "_" + suffix
		}

		u := &domain.User{Name: name, PasswordHash: hash, TelegramID: &telegramID}
		err := s.repo.Create(ctx, u)
		if err == nil {
			logger.FromContext(ctx, s.log).Info("telegram user provisioned",
				slog.Int64("user_id", u.ID),
				slog.Int64("telegram_id", telegramID),
			)
			return u, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}

		// The telegram id may have been linked concurrently.
		if existing, findErr := s.repo.FindByTelegramID(ctx, telegramID); findErr == nil {
			return existing, nil
		}
	}

	return nil, apperrors.NewValidationError(msgNameTaken)
}

// GrantAdmin marks the account called name as administrator. When the account
// does not exist and password is set, it is created first; this is the only
// way to register the reserved admin name.
func (s *Service) GrantAdmin(ctx context.Context, name, password string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidationError("name is required")
	}

	u, err := s.repo.FindByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) && password != "" {
		if err := s.validate.Struct(Credentials{Name: name, Password: password}); err != nil {
			return nil, validationError(err)
		}
		hash, hashErr := s.hash(password)
		if hashErr != nil {
			return nil, hashErr
		}
		u = &domain.User{Name: name, PasswordHash: hash}
		err = s.repo.Create(ctx, u)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("User")
		}
		return nil, err
	}

	if err := s.repo.SetAdmin(ctx, u.ID, true); err != nil {
		return nil, err
	}
	u.IsAdmin = true
	_ = s.cache.Invalidate(ctx, u.ID)

	s.log.Info("admin granted", slog.Int64("user_id", u.ID), slog.String("name", u.Name))
	return u, nil
}

func (s *Service) startSession(ctx context.Context, u *domain.User) (*Login, error) {
	sess, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	_ = s.cache.Set(ctx, domain.IdentityOf(u))
	return &Login{User: u, Session: sess}, nil
}

func (s *Service) isReserved(name string) bool {
	return s.adminName != "" && strings.EqualFold(strings.TrimSpace(name), s.adminName)
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", apperrors.NewInternalError(fmt.Errorf("hash password: %w", err))
	}
	return string(hash), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// validationError turns the first failed field into a user-facing message.
func validationError(err error) *apperrors.AppError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperrors.NewValidationError("Invalid request")
	}

	fe := fieldErrs[0]
	field := fe.Field()
	switch field {
	case "CurrentPassword":
		return apperrors.NewValidationError("Current password is required.")
	case "NewPassword":
		return apperrors.NewValidationError("New password must be at least 6 characters.")
	}

	switch fe.Tag() {
	case "required", "min":
		return apperrors.NewValidationError(fmt.Sprintf("%s must be at least %s characters.", field, minParam(fe)))
	case "max":
		return apperrors.NewValidationError(fmt.Sprintf("%s must be at most %s characters.", field, fe.Param()))
	}
	return apperrors.NewValidationError("Invalid " + strings.ToLower(field))
}

func minParam(fe validator.FieldError) string {
	if fe.Tag() == "min" {
		return fe.Param()
	}
	switch fe.Field() {
	case "Name":
		return "3"
	default:
		return "6"
	}
}
