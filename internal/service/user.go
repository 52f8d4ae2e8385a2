package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mri-screening-server/internal/access"
	"github.com/mri-screening-server/internal/auth"
	"github.com/mri-screening-server/internal/domain"
)

// LoginRequest is a credential check for one role.
type LoginRequest struct {
	Email    string
	Password string
	UserType string
}

// LoginResult carries the issued token.
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

// SignupRequest creates a patient account.
type SignupRequest struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	Phone       string
	DateOfBirth *time.Time
	Gender      string
}

// DoctorRequest provisions a doctor account.
type DoctorRequest struct {
	Email           string
	Password        string
	FirstName       string
	LastName        string
	Phone           string
	Specialization  string
	LicenseNumber   string
	ExperienceYears int
}

// UserService handles sign-in, sign-up and account administration.
type UserService struct {
	users      domain.UserStore
	tokens     *auth.TokenIssuer
	bcryptCost int
	logger     *logrus.Logger
}

// NewUserService creates a user service.
func NewUserService(users domain.UserStore, tokens *auth.TokenIssuer, bcryptCost int, logger *logrus.Logger) *UserService {
	return &UserService{
		users:      users,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

var errInvalidCredentials = fmt.Errorf("%w: invalid credentials", domain.ErrAuthentication)

// Login checks credentials for the requested role and issues a token.
// Deactivated accounts and doctors awaiting approval are refused.
func (s *UserService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" || req.UserType == "" {
		return nil, domain.NewValidationError("", "Email, password and user type are required", nil)
	}
	role, err := domain.ParseRole(req.UserType)
	if err != nil {
		return nil, domain.NewValidationError("user_type", "invalid user type", req.UserType)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}

	if user.Role != role {
		return nil, fmt.Errorf("%w: invalid user type", domain.ErrAuthentication)
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.logger.WithField("user_id", user.ID).Warn("Failed login attempt")
		return nil, errInvalidCredentials
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: account is deactivated", domain.ErrAuthentication)
	}
	if user.Role == domain.DOCTOR && !user.ApprovedByAdmin {
		return nil, fmt.Errorf("%w: doctor account not yet approved by admin", domain.ErrAuthentication)
	}

	token, expires, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":   user.ID,
		"user_type": user.Role,
	}).Info("User logged in")

	return &LoginResult{Token: token, ExpiresAt: expires, User: user}, nil
}

// Signup creates a patient account. Other roles are provisioned by an admin.
func (s *UserService) Signup(ctx context.Context, req SignupRequest) (*domain.User, error) {
	required := []struct{ field, value string }{
		{"email", req.Email},
		{"password", req.Password},
		{"first_name", req.FirstName},
		{"last_name", req.LastName},
		{"phone", req.Phone},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, domain.NewValidationError(r.field, r.field+" is required", nil)
		}
	}

	user := &domain.User{
		Email:       req.Email,
		Role:        domain.PATIENT,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Phone:       strings.TrimSpace(req.Phone),
		DateOfBirth: req.DateOfBirth,
		Gender:      strings.TrimSpace(req.Gender),
	}
	if err := s.create(ctx, user, req.Password); err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("Patient account created")
	return user, nil
}

// Authenticate resolves a bearer token to the current account. Tokens of
// deleted or deactivated accounts are refused.
func (s *UserService) Authenticate(ctx context.Context, token string) (*domain.User, access.Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: user not found", domain.ErrAuthentication)
		}
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, fmt.Errorf("%w: account is deactivated", domain.ErrAuthentication)
	}

	principal, err := access.FromUser(user)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	return user, principal, nil
}

// Me returns the caller's own account.
func (s *UserService) Me(ctx context.Context, p access.Principal) (*domain.User, error) {
	return s.users.FindByID(ctx, p.UserID())
}

// UpdateProfile applies self-service changes to the caller's account.
func (s *UserService) UpdateProfile(ctx context.Context, p access.Principal, update domain.ProfileUpdate) (*domain.User, error) {
	if update.FirstName != nil && strings.TrimSpace(*update.FirstName) == "" {
		return nil, domain.NewValidationError("first_name", "first_name cannot be empty", nil)
	}
	if update.LastName != nil && strings.TrimSpace(*update.LastName) == "" {
		return nil, domain.NewValidationError("last_name", "last_name cannot be empty", nil)
	}
	if err := s.users.UpdateProfile(ctx, p.UserID(), update); err != nil {
		return nil, err
	}
	return s.users.FindByID(ctx, p.UserID())
}

// ListUsers returns accounts, optionally filtered by role. Admin only.
func (s *UserService) ListUsers(ctx context.Context, p access.Principal, role string) ([]*domain.User, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	filter := domain.UserFilter{}
	if role != "" {
		r, err := domain.ParseRole(role)
		if err != nil {
			return nil, domain.NewValidationError("role", "invalid role", role)
		}
		filter.Role = &r
	}
	return s.users.ListUsers(ctx, filter)
}

// CreateDoctor provisions an approved doctor account. Admin only.
func (s *UserService) CreateDoctor(ctx context.Context, p access.Principal, req DoctorRequest) (*domain.User, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	required := []struct{ field, value string }{
		{"email", req.Email},
		{"password", req.Password},
		{"first_name", req.FirstName},
		{"last_name", req.LastName},
		{"license_number", req.LicenseNumber},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, domain.NewValidationError(r.field, r.field+" is required", nil)
		}
	}
	if req.ExperienceYears < 0 {
		return nil, domain.NewValidationError("experience_years", "must not be negative", req.ExperienceYears)
	}

	user := &domain.User{
		Email:           req.Email,
		Role:            domain.DOCTOR,
		FirstName:       strings.TrimSpace(req.FirstName),
		LastName:        strings.TrimSpace(req.LastName),
		Phone:           strings.TrimSpace(req.Phone),
		Specialization:  strings.TrimSpace(req.Specialization),
		LicenseNumber:   strings.TrimSpace(req.LicenseNumber),
		ExperienceYears: req.ExperienceYears,
		ApprovedByAdmin: true,
	}
	if err := s.create(ctx, user, req.Password); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"created_by": p.UserID(),
	}).Info("Doctor account created")
	return user, nil
}

// ApproveDoctor marks a doctor account as approved. Admin only.
func (s *UserService) ApproveDoctor(ctx context.Context, p access.Principal, id string) (*domain.User, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Role != domain.DOCTOR {
		return nil, domain.NewValidationError("id", "user is not a doctor", id)
	}
	if err := s.users.SetApproved(ctx, id, true); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"user_id": id, "approved_by": p.UserID()}).Info("Doctor approved")
	return s.users.FindByID(ctx, id)
}

// SetActive activates or deactivates an account. Admin only; admins cannot
// deactivate themselves.
func (s *UserService) SetActive(ctx context.Context, p access.Principal, id string, active bool) (*domain.User, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	if id == p.UserID() && !active {
		return nil, domain.NewValidationError("id", "cannot deactivate your own account", id)
	}
	if err := s.users.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"user_id": id, "active": active, "changed_by": p.UserID()}).Info("Account status changed")
	return s.users.FindByID(ctx, id)
}

// EnsureUser creates user with password unless an account with the same
// email exists. It reports whether an account was created.
func (s *UserService) EnsureUser(ctx context.Context, user *domain.User, password string) (bool, error) {
	_, err := s.users.FindByEmail(ctx, normalizeEmail(user.Email))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	if err := s.create(ctx, user, password); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// EnsureAdmin creates the bootstrap administrator if it does not exist yet.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return false, domain.NewValidationError("bootstrap", "admin email and password are required", nil)
	}
	created, err := s.EnsureUser(ctx, &domain.User{
		Email:     email,
		Role:      domain.ADMIN,
		FirstName: "System",
		LastName:  "Administrator",
	}, password)
	if err != nil {
		return false, fmt.Errorf("failed to bootstrap admin: %w", err)
	}
	if created {
		s.logger.WithField("email", normalizeEmail(email)).Info("Default admin user created")
	}
	return created, nil
}

func (s *UserService) create(ctx context.Context, user *domain.User, password string) error {
	user.Email = normalizeEmail(user.Email)
	if !strings.Contains(user.Email, "@") {
		return domain.NewValidationError("email", "invalid email address", user.Email)
	}
	if !user.Role.IsValid() {
		return domain.NewValidationError("user_type", "invalid user type", user.Role)
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}

	user.PasswordHash = hash
	user.IsActive = true

	return s.users.CreateUser(ctx, user)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
