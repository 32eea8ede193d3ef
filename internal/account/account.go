// Package account implements registration, login, profile and password
// management, plus the admin user listing.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/nadmax/forecastd/internal/apperr"
	"github.com/nadmax/forecastd/internal/audit"
	"github.com/nadmax/forecastd/internal/auth"
	"github.com/nadmax/forecastd/internal/metrics"
	"github.com/nadmax/forecastd/internal/policy"
	"github.com/nadmax/forecastd/internal/ratelimit"
	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"
)

type Service struct {
	store   repository.Store
	tokens  *auth.TokenService
	hasher  *auth.Hasher
	limiter ratelimit.Limiter
	audit   audit.Recorder
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithAudit(r audit.Recorder) Option {
	return func(s *Service) { s.audit = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store repository.Store, tokens *auth.TokenService, hasher *auth.Hasher, opts ...Option) *Service {
	s := &Service{
		store:   store,
		tokens:  tokens,
		hasher:  hasher,
		limiter: ratelimit.Unlimited{},
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = audit.NewSink(store.Logs(), s.logger)
	}
	s.logger = s.logger.With(zap.String("component", "account"))
	return s
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

func (in RegisterInput) validate() error {
	if strings.TrimSpace(in.Username) == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return apperr.Validation("username, email and password are required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return apperr.Validation("invalid email address")
	}
	return nil
}

// Register creates a regular (non-admin) user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := in.validate(); err != nil {
		return nil, err
	}
	return s.create(ctx, in, false, "auth.register")
}

func (s *Service) create(ctx context.Context, in RegisterInput, isAdmin bool, source string) (*models.User, error) {
	users := s.store.Users()

	taken, err := users.ExistsByUsername(ctx, in.Username)
	if err != nil {
		return nil, apperr.StoreFailure("failed to check username", err)
	}
	if taken {
		return nil, apperr.Conflict("username already exists")
	}
	taken, err = users.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return nil, apperr.StoreFailure("failed to check email", err)
	}
	if taken {
		return nil, apperr.Conflict("email already registered")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		CreatedAt:    s.now().UTC(),
	}
	if err := users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("username or email already exists")
		}
		return nil, apperr.StoreFailure("failed to create user", err)
	}

	s.audit.Record(ctx, models.LevelInfo, fmt.Sprintf("user registered: %s", u.Username), source, null.IntFrom(u.ID))
	s.logger.Info("user registered", zap.Int64("user_id", u.ID), zap.Bool("admin", isAdmin))
	return u, nil
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *models.User
}

// Login checks credentials and issues a token. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, apperr.Validation("username and password are required")
	}

	if !s.limiter.Allow(ctx, username) {
		metrics.RecordLogin("throttled")
		s.logger.Warn("login throttled", zap.String("username", username))
		return nil, apperr.RateLimited("too many failed login attempts, try again later")
	}

	u, err := s.store.Users().GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.StoreFailure("failed to load user", err)
	}
	if u == nil || s.hasher.Compare(u.PasswordHash, password) != nil {
		s.limiter.Fail(ctx, username)
		metrics.RecordLogin("failure")
		return nil, apperr.Unauthenticated(apperr.ReasonBadCredentials, "invalid username or password")
	}

	token, expiresAt, err := s.tokens.Issue(u.ID, u.Username, u.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	now := null.TimeFrom(s.now().UTC())
	if err := s.store.Users().TouchLastLogin(ctx, u.ID, now); err != nil {
		return nil, apperr.StoreFailure("failed to record login", err)
	}
	u.LastLogin = now

	s.limiter.Reset(ctx, username)
	metrics.RecordLogin("success")
	s.audit.Record(ctx, models.LevelInfo, fmt.Sprintf("user logged in: %s", u.Username), "auth.login", null.IntFrom(u.ID))
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

// Profile returns the caller's own user record.
func (s *Service) Profile(ctx context.Context, subject policy.Subject) (*models.User, error) {
	if err := policy.Check(subject, policy.RequireAuth()); err != nil {
		return nil, err
	}
	return s.user(ctx, subject.Claims.UserID)
}

func (s *Service) user(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.store.Users().GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.StoreFailure("failed to load user", err)
	}
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, subject policy.Subject, oldPassword, newPassword string) error {
	if err := policy.Check(subject, policy.RequireAuth()); err != nil {
		return err
	}
	if oldPassword == "" || newPassword == "" {
		return apperr.Validation("old_password and new_password are required")
	}

	u, err := s.user(ctx, subject.Claims.UserID)
	if err != nil {
		return err
	}
	if s.hasher.Compare(u.PasswordHash, oldPassword) != nil {
		return apperr.Validation("old password is incorrect")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, u.ID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("user not found")
		}
		return apperr.StoreFailure("failed to update password", err)
	}

	s.audit.Record(ctx, models.LevelInfo, fmt.Sprintf("password changed: %s", u.Username), "auth.change_password", null.IntFrom(u.ID))
	return nil
}

type UserPage struct {
	Users   []models.User
	Total   int
	Page    int
	PerPage int
	Pages   int
}

func (s *Service) ListUsers(ctx context.Context, subject policy.Subject, page repository.Pagination) (*UserPage, error) {
	if err := policy.Check(subject, policy.RequireAdmin()); err != nil {
		return nil, err
	}
	page = page.Normalize()

	users, total, err := s.store.Users().List(ctx, page)
	if err != nil {
		return nil, apperr.StoreFailure("failed to list users", err)
	}
	return &UserPage{
		Users:   users,
		Total:   total,
		Page:    page.Page,
		PerPage: page.PerPage,
		Pages:   page.Pages(total),
	}, nil
}

// DeleteUser removes a user. Their tasks keep user_id as a dangling
// reference so they stay private to admins instead of turning anonymous.
// Admins cannot delete themselves.
func (s *Service) DeleteUser(ctx context.Context, subject policy.Subject, id int64) error {
	if err := policy.Check(subject, policy.RequireAdmin()); err != nil {
		return err
	}
	if subject.Claims.UserID == id {
		return apperr.Validation("cannot delete your own account")
	}

	u, err := s.user(ctx, id)
	if err != nil {
		return err
	}

	err = s.store.Users().Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("user not found")
	}
	if err != nil {
		return apperr.StoreFailure("failed to delete user", err)
	}

	s.audit.Record(ctx, models.LevelInfo, fmt.Sprintf("user deleted: %s", u.Username), "admin.delete_user", subject.UserID())
	return nil
}

// EnsureAdmin creates the bootstrap admin unless a user with that name
// already exists. It reports whether a user was created.
func (s *Service) EnsureAdmin(ctx context.Context, in RegisterInput) (bool, error) {
	if err := in.validate(); err != nil {
		return false, err
	}
	exists, err := s.store.Users().ExistsByUsername(ctx, in.Username)
	if err != nil {
		return false, apperr.StoreFailure("failed to check username", err)
	}
	if exists {
		return false, nil
	}
	if _, err := s.create(ctx, in, true, "admin.seed"); err != nil {
		return false, err
	}
	return true, nil
}
