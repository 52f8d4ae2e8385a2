package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mri-screening-server/internal/access"
	"github.com/mri-screening-server/internal/auth"
	"github.com/mri-screening-server/internal/blob"
	"github.com/mri-screening-server/internal/config"
	"github.com/mri-screening-server/internal/domain"
	"github.com/mri-screening-server/internal/litestore"
)

// MockClassifier implements domain.Classifier for testing
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, data []byte, ext string) (*domain.InferenceResult, error) {
	args := m.Called(ctx, data, ext)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InferenceResult), args.Error(1)
}

func (m *MockClassifier) ModelInfo() domain.ModelInfo {
	return domain.ModelInfo{ModelVersion: "1.0", Classes: []string{"No Tumor", "Tumor Detected"}}
}

type fixture struct {
	store      *litestore.Store
	blobs      *blob.FileStore
	classifier *MockClassifier
	users      *UserService
	service    *PredictionService
	logger     *logrus.Logger

	admin   access.Principal
	doctor  access.Principal
	doctor2 access.Principal
	patient access.Principal
	other   access.Principal
}

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger, _ := test.NewNullLogger()
	dir := t.TempDir()

	store, err := litestore.Open(filepath.Join(dir, "screening.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.New(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	tokens, err := auth.NewTokenIssuer(domain.AuthConfig{JWTSecret: testJWTSecret, Issuer: "test", TokenTTL: time.Hour})
	require.NoError(t, err)

	classifier := new(MockClassifier)
	users := NewUserService(store, tokens, bcrypt.MinCost, logger)

	f := &fixture{
		store:      store,
		blobs:      blobs,
		classifier: classifier,
		users:      users,
		logger:     logger,
		service: NewPredictionService(store, store, classifier, blobs,
			domain.StorageConfig{
				MaxFileSize:       config.DefaultMaxFileSize,
				AllowedExtensions: config.DefaultAllowedExtensions,
				MaxBatchSize:      10,
			},
			domain.InferenceConfig{MaxConcurrency: 3},
			logger),
	}

	f.admin = f.principal(t, "admin@example.com", domain.ADMIN, true)
	f.doctor = f.principal(t, "doctor@example.com", domain.DOCTOR, true)
	f.doctor2 = f.principal(t, "doctor2@example.com", domain.DOCTOR, true)
	f.patient = f.principal(t, "patient@example.com", domain.PATIENT, false)
	f.other = f.principal(t, "other@example.com", domain.PATIENT, false)
	return f
}

func (f *fixture) principal(t *testing.T, email string, role domain.Role, approved bool) access.Principal {
	t.Helper()
	user := &domain.User{
		Email:           email,
		Role:            role,
		FirstName:       "Test",
		LastName:        string(role),
		ApprovedByAdmin: approved,
	}
	created, err := f.users.EnsureUser(context.Background(), user, "password123")
	require.NoError(t, err)
	require.True(t, created)
	p, err := access.FromUser(user)
	require.NoError(t, err)
	return p
}

// expectClassification sets up the classifier for any input.
func (f *fixture) expectClassification(label domain.PredictionLabel, confidence float64) {
	f.classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything).Return(&domain.InferenceResult{
		Label:              label,
		Confidence:         confidence,
		TumorProbability:   confidence,
		NoTumorProbability: 1 - confidence,
		ModelVersion:       "1.0",
		RegionAnalysis: domain.RegionAnalysis{
			"frontal_lobe": {MeanIntensity: 120, StdIntensity: 10},
		},
	}, nil)
}

func (f *fixture) blobCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.blobs.Dir())
	require.NoError(t, err)
	return len(entries)
}
