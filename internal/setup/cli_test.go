package setup

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mri-screening-server/internal/auth"
	"github.com/mri-screening-server/internal/domain"
	"github.com/mri-screening-server/internal/litestore"
	"github.com/mri-screening-server/internal/service"
)

func newTestCLI(t *testing.T) (*CLI, *litestore.Store, *bytes.Buffer) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()

	store, err := litestore.Open(filepath.Join(dir, "screening.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tokens, err := auth.NewTokenIssuer(domain.AuthConfig{JWTSecret: "0123456789abcdef0123456789abcdef", TokenTTL: time.Hour})
	require.NoError(t, err)
	users := service.NewUserService(store, tokens, bcrypt.MinCost, logger)

	cfg := &domain.Config{
		Storage:   domain.StorageConfig{UploadDir: filepath.Join(dir, "uploads")},
		Bootstrap: domain.BootstrapConfig{AdminEmail: "admin@healthcare.com", AdminPassword: "admin-pass-1"},
	}

	cli := NewCLI("lite", store, users, cfg)
	out := &bytes.Buffer{}
	cli.out = out
	return cli, store, out
}

func TestCLI_BootstrapAdmin(t *testing.T) {
	cli, store, out := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, cli.Run(ctx, []string{"bootstrap-admin"}))
	assert.Contains(t, out.String(), "✓ Administrator admin@healthcare.com created")

	out.Reset()
	require.NoError(t, cli.Run(ctx, []string{"bootstrap-admin"}))
	assert.Contains(t, out.String(), "already exists")

	require.NoError(t, cli.Run(ctx, []string{"bootstrap-admin", "--email", "ops@healthcare.com", "--password", "ops-pass-1"}))
	admin := domain.ADMIN
	admins, err := store.ListUsers(ctx, domain.UserFilter{Role: &admin})
	require.NoError(t, err)
	assert.Len(t, admins, 2)
}

func TestCLI_Seed(t *testing.T) {
	cli, store, out := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, cli.Run(ctx, []string{"seed"}))
	assert.Contains(t, out.String(), "doctor@healthcare.com")
	assert.Contains(t, out.String(), "patient@healthcare.com")

	doctor, err := store.FindByEmail(ctx, "doctor@healthcare.com")
	require.NoError(t, err)
	assert.True(t, doctor.ApprovedByAdmin)
	assert.Equal(t, "MD12345", doctor.LicenseNumber)
	assert.True(t, auth.CheckPassword(doctor.PasswordHash, "doctor123"))

	out.Reset()
	require.NoError(t, cli.Run(ctx, []string{"seed"}))
	assert.Contains(t, out.String(), "already exist")
}

func TestCLI_Status(t *testing.T) {
	cli, _, out := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, cli.Run(ctx, []string{"status"}))
	assert.Contains(t, out.String(), "✓ Reachable")
	assert.Contains(t, out.String(), "No administrator account")

	require.NoError(t, cli.Run(ctx, []string{"bootstrap-admin"}))
	require.NoError(t, cli.Run(ctx, []string{"seed"}))
	require.NoError(t, os.MkdirAll(cli.config.Storage.UploadDir, 0o750))

	out.Reset()
	require.NoError(t, cli.Run(ctx, []string{"status"}))
	assert.Contains(t, out.String(), "Admins: 1  Doctors: 1  Patients: 1")
	assert.Contains(t, out.String(), "Predictions: 0")
	assert.NotContains(t, out.String(), "Issues:")
}

func TestCLI_Export(t *testing.T) {
	cli, store, out := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, cli.Run(ctx, []string{"seed"}))
	patient, err := store.FindByEmail(ctx, "patient@healthcare.com")
	require.NoError(t, err)
	_, err = store.Create(ctx, &domain.PredictionRecord{
		PatientID:    patient.ID,
		ImagePath:    "20260101T000000_abcd1234_scan.png",
		ImageName:    "scan.png",
		Label:        domain.NO_TUMOR,
		Confidence:   0.8,
		ModelVersion: "1.0",
		Status:       domain.PENDING_REVIEW,
	})
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, cli.Run(ctx, []string{"export"}))
	var doc litestore.PredictionExport
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, 1, doc.Count)

	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, cli.Run(ctx, []string{"export", "--output", path}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "scan.png")
}

func TestCLI_Help(t *testing.T) {
	cli, _, out := newTestCLI(t)

	require.NoError(t, cli.Run(context.Background(), nil))
	assert.Contains(t, out.String(), "server-lite setup <command>")

	out.Reset()
	require.NoError(t, cli.Run(context.Background(), []string{"wizard"}))
	assert.Contains(t, out.String(), "Unknown command: wizard")
}
