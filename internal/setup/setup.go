// Package setup provides maintenance commands for the screening server:
// creating the first administrator, seeding sample accounts, reporting store
// status and exporting records.
package setup

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mri-screening-server/internal/domain"
	"github.com/mri-screening-server/internal/service"
)

// Store is the backend the maintenance commands operate on.
type Store interface {
	domain.UserStore
	domain.PredictionStore
	Ping(ctx context.Context) error
}

// Exporter is implemented by stores that can dump their records as JSON.
type Exporter interface {
	ExportJSON(ctx context.Context, w io.Writer) error
}

// Status represents the current state of a deployment.
type Status struct {
	Backend         string
	StoreReachable  bool
	Users           map[domain.Role]int
	Stats           *domain.PredictionStats
	UploadDir       string
	UploadDirExists bool
	Issues          []string
}

// SeedAccount is a sample account created by the seed command.
type SeedAccount struct {
	User     domain.User
	Password string
}

// SampleAccounts returns the demo doctor and patient.
func SampleAccounts() []SeedAccount {
	return []SeedAccount{
		{
			User: domain.User{
				Email:           "doctor@healthcare.com",
				Role:            domain.DOCTOR,
				FirstName:       "John",
				LastName:        "Smith",
				Phone:           "+1-555-0101",
				Specialization:  "Neurology",
				LicenseNumber:   "MD12345",
				ExperienceYears: 10,
				ApprovedByAdmin: true,
			},
			Password: "doctor123",
		},
		{
			User: domain.User{
				Email:     "patient@healthcare.com",
				Role:      domain.PATIENT,
				FirstName: "Jane",
				LastName:  "Doe",
				Phone:     "+1-555-0102",
				Gender:    "female",
			},
			Password: "patient123",
		},
	}
}

// Seed creates the sample accounts that do not exist yet and returns the
// emails it created.
func Seed(ctx context.Context, users *service.UserService) ([]string, error) {
	var created []string
	for _, account := range SampleAccounts() {
		user := account.User
		ok, err := users.EnsureUser(ctx, &user, account.Password)
		if err != nil {
			return created, fmt.Errorf("failed to seed %s: %w", account.User.Email, err)
		}
		if ok {
			created = append(created, user.Email)
		}
	}
	return created, nil
}

// GetStatus inspects the store and upload directory.
func GetStatus(ctx context.Context, backend string, store Store, uploadDir string) (*Status, error) {
	status := &Status{
		Backend:   backend,
		Users:     make(map[domain.Role]int),
		UploadDir: uploadDir,
	}

	if info, err := os.Stat(uploadDir); err == nil && info.IsDir() {
		status.UploadDirExists = true
	} else {
		status.Issues = append(status.Issues, "Upload directory does not exist yet")
	}

	if err := store.Ping(ctx); err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("Store unreachable: %v", err))
		return status, nil
	}
	status.StoreReachable = true

	users, err := store.ListUsers(ctx, domain.UserFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	for _, u := range users {
		status.Users[u.Role]++
	}
	if status.Users[domain.ADMIN] == 0 {
		status.Issues = append(status.Issues, "No administrator account; run bootstrap-admin")
	}

	stats, err := store.AggregateStats(ctx, domain.StatsScope{})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate predictions: %w", err)
	}
	status.Stats = stats

	return status, nil
}
