package litestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mri-screening-server/internal/domain"
)

const userSelect = `
	SELECT id, email, password_hash, user_type, first_name, last_name, phone, is_active,
		specialization, license_number, experience_years, approved_by_admin,
		date_of_birth, gender, created_at, updated_at
	FROM users`

// CreateUser inserts a user; a duplicate email fails with ErrConflict.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			id, email, password_hash, user_type, first_name, last_name, phone, is_active,
			specialization, license_number, experience_years, approved_by_admin,
			date_of_birth, gender, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		user.ID, user.Email, user.PasswordHash, string(user.Role),
		user.FirstName, user.LastName, user.Phone, user.IsActive,
		user.Specialization, user.LicenseNumber, user.ExperienceYears, user.ApprovedByAdmin,
		formatDate(user.DateOfBirth), user.Gender, formatTime(now), formatTime(now),
	)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"email": user.Email,
			"error": err,
		}).Error("Failed to create user")
		return classify("creating user", err)
	}
	return nil
}

// FindByID retrieves a user by ID.
func (s *Store) FindByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE id = ?`, id))
	if err != nil {
		return nil, classify(fmt.Sprintf("user %s", id), err)
	}
	return user, nil
}

// FindByEmail retrieves a user by email address.
func (s *Store) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE email = ?`, email))
	if err != nil {
		return nil, classify(fmt.Sprintf("user %s", email), err)
	}
	return user, nil
}

// ListUsers lists users, optionally restricted to one role.
func (s *Store) ListUsers(ctx context.Context, filter domain.UserFilter) ([]*domain.User, error) {
	query := userSelect
	var args []interface{}
	if filter.Role != nil {
		query += ` WHERE user_type = ?`
		args = append(args, string(*filter.Role))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("listing users", err)
	}
	defer rows.Close()

	result := make([]*domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, classify("listing users", err)
		}
		result = append(result, user)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("listing users", err)
	}
	return result, nil
}

// SetApproved records the admin approval flag of a doctor.
func (s *Store) SetApproved(ctx context.Context, id string, approved bool) error {
	return s.updateUser(ctx, "approving user", id,
		`UPDATE users SET approved_by_admin = ?, updated_at = ? WHERE id = ?`,
		approved, formatTime(time.Now()), id)
}

// SetActive activates or deactivates an account.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.updateUser(ctx, "updating user status", id,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, formatTime(time.Now()), id)
}

// UpdateProfile applies the non-nil fields of update.
func (s *Store) UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate) error {
	return s.updateUser(ctx, "updating profile", id, `
		UPDATE users SET
			first_name = COALESCE(?, first_name),
			last_name = COALESCE(?, last_name),
			phone = COALESCE(?, phone),
			date_of_birth = COALESCE(?, date_of_birth),
			gender = COALESCE(?, gender),
			updated_at = ?
		WHERE id = ?`,
		nullString(update.FirstName),
		nullString(update.LastName),
		nullString(update.Phone),
		formatDate(update.DateOfBirth),
		nullString(update.Gender),
		formatTime(time.Now()),
		id,
	)
}

func (s *Store) updateUser(ctx context.Context, op, id, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanUser(s scanner) (*domain.User, error) {
	var (
		user                 domain.User
		role                 string
		dob                  sql.NullString
		createdAt, updatedAt string
	)
	err := s.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &role,
		&user.FirstName, &user.LastName, &user.Phone, &user.IsActive,
		&user.Specialization, &user.LicenseNumber, &user.ExperienceYears, &user.ApprovedByAdmin,
		&dob, &user.Gender, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Role = domain.Role(role)
	if dob.Valid && dob.String != "" {
		t, err := time.Parse(dateLayout, dob.String)
		if err != nil {
			return nil, fmt.Errorf("parsing date_of_birth: %w", err)
		}
		user.DateOfBirth = &t
	}
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &user, nil
}

func formatDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}
