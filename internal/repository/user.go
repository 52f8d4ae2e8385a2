package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/mri-screening-server/internal/domain"
)

// UserRepository handles identity persistence in PostgreSQL
type UserRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		db:  db,
		log: logger,
	}
}

const userColumns = `
	id, email, password_hash, user_type, first_name, last_name, phone, is_active,
	specialization, license_number, experience_years, approved_by_admin,
	date_of_birth, gender, created_at, updated_at`

// CreateUser inserts a user; a duplicate email fails with ErrConflict
func (r *UserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.FirstName,
		user.LastName,
		user.Phone,
		user.IsActive,
		user.Specialization,
		user.LicenseNumber,
		user.ExperienceYears,
		user.ApprovedByAdmin,
		user.DateOfBirth,
		user.Gender,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"email": user.Email,
			"role":  user.Role,
			"error": err,
		}).Error("Failed to create user")
		return storageError("creating user", err)
	}

	r.log.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("User created successfully")
	return nil
}

// FindByID retrieves a user by ID
func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail retrieves a user by email address
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UserRepository) findOne(ctx context.Context, query, key string) (*domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", key, domain.ErrNotFound)
		}
		return nil, storageError("getting user", err)
	}
	return user, nil
}

// ListUsers lists users, optionally restricted to one role
func (r *UserRepository) ListUsers(ctx context.Context, filter domain.UserFilter) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if filter.Role != nil {
		query += ` WHERE user_type = $1`
		args = append(args, *filter.Role)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("listing users", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, storageError("listing users", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("listing users", err)
	}
	return users, nil
}

// SetApproved records the admin approval flag of a doctor
func (r *UserRepository) SetApproved(ctx context.Context, id string, approved bool) error {
	return r.exec(ctx, "approving user", id,
		`UPDATE users SET approved_by_admin = $2, updated_at = NOW() WHERE id = $1`, id, approved)
}

// SetActive activates or deactivates an account
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.exec(ctx, "updating user status", id,
		`UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

// UpdateProfile applies the non-nil fields of update
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate) error {
	query := `
		UPDATE users SET
			first_name = COALESCE($2, first_name),
			last_name = COALESCE($3, last_name),
			phone = COALESCE($4, phone),
			date_of_birth = COALESCE($5, date_of_birth),
			gender = COALESCE($6, gender),
			updated_at = NOW()
		WHERE id = $1`
	return r.exec(ctx, "updating profile", id, query,
		id, update.FirstName, update.LastName, update.Phone, update.DateOfBirth, update.Gender)
}

func (r *UserRepository) exec(ctx context.Context, op, id, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"user_id": id,
			"error":   err,
		}).Errorf("Failed %s", op)
		return storageError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&user.IsActive,
		&user.Specialization,
		&user.LicenseNumber,
		&user.ExperienceYears,
		&user.ApprovedByAdmin,
		&user.DateOfBirth,
		&user.Gender,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
