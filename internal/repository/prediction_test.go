package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mri-screening-server/internal/domain"
)

func TestPredictionRepository(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := quietLogger()
	users := NewUserRepository(db.Pool, logger)
	repo := NewPredictionRepository(db.Pool, logger)
	ctx := context.Background()

	patient := mustCreateUser(t, users, "patient@example.com", domain.PATIENT)
	other := mustCreateUser(t, users, "other@example.com", domain.PATIENT)
	doctor := mustCreateUser(t, users, "doctor@example.com", domain.DOCTOR)

	t.Run("create starts pending and round-trips details", func(t *testing.T) {
		rec := newRecord(patient.ID, domain.TUMOR_DETECTED)
		rec.Status = domain.CONFIRMED
		rec.DoctorNotes = "ignored"

		id, err := repo.Create(ctx, rec)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		got, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.PENDING_REVIEW, got.Status)
		assert.False(t, got.ReviewedByDoctor)
		assert.Empty(t, got.DoctorNotes)
		assert.Nil(t, got.ReviewedAt)
		assert.Equal(t, domain.TUMOR_DETECTED, got.Label)
		assert.InDelta(t, 0.9, got.Confidence, 1e-9)
		assert.True(t, got.Details.RegionAnalysis["frontal_lobe"].Suspicious)
		require.NotNil(t, got.Patient)
		assert.Equal(t, "patient@example.com", got.Patient.Email)
		assert.Nil(t, got.Doctor)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("confidence outside unit interval rejected", func(t *testing.T) {
		rec := newRecord(patient.ID, domain.NO_TUMOR)
		rec.Confidence = 95
		_, err := repo.Create(ctx, rec)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})

	t.Run("listing is scoped and newest first", func(t *testing.T) {
		var ids []string
		for i := 0; i < 3; i++ {
			id, err := repo.Create(ctx, newRecord(other.ID, domain.NO_TUMOR))
			require.NoError(t, err)
			ids = append(ids, id)
		}

		list, err := repo.ListByPatient(ctx, other.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, ids[2], list[0].ID)
		assert.Equal(t, ids[0], list[2].ID)
		for _, rec := range list {
			assert.Equal(t, other.ID, rec.PatientID)
		}
	})

	t.Run("review assigns unassigned record and is monotonic", func(t *testing.T) {
		id, err := repo.Create(ctx, newRecord(patient.ID, domain.TUMOR_DETECTED))
		require.NoError(t, err)

		queue, err := repo.ListUnassigned(ctx)
		require.NoError(t, err)
		assert.Contains(t, recordIDs(queue), id)

		first := time.Now().UTC().Truncate(time.Microsecond)
		err = repo.UpdateReview(ctx, id, domain.ReviewUpdate{
			Notes: "n1", Diagnosis: "d1", Status: domain.REVIEWED, ReviewedAt: first, ReviewerID: &doctor.ID,
		})
		require.NoError(t, err)

		got, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.ReviewedByDoctor)
		assert.Equal(t, domain.REVIEWED, got.Status)
		require.NotNil(t, got.DoctorID)
		assert.Equal(t, doctor.ID, *got.DoctorID)
		require.NotNil(t, got.Doctor)
		assert.Equal(t, "doctor@example.com", got.Doctor.Email)

		// An earlier timestamp never moves reviewed_at backwards
		err = repo.UpdateReview(ctx, id, domain.ReviewUpdate{
			Notes: "n2", Diagnosis: "d2", Status: domain.REVIEWED, ReviewedAt: first.Add(-time.Hour),
		})
		require.NoError(t, err)
		got, err = repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "n2", got.DoctorNotes)
		assert.True(t, got.ReviewedAt.Equal(first))

		err = repo.UpdateReview(ctx, id, domain.ReviewUpdate{Status: domain.CONFIRMED, ReviewedAt: first.Add(time.Minute)})
		require.NoError(t, err)

		err = repo.UpdateReview(ctx, id, domain.ReviewUpdate{Status: domain.REVIEWED, ReviewedAt: time.Now()})
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

		err = repo.AssignDoctor(ctx, id, doctor.ID)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

		doctorList, err := repo.ListByDoctor(ctx, doctor.ID)
		require.NoError(t, err)
		assert.Contains(t, recordIDs(doctorList), id)
	})

	t.Run("confirmed records and other doctors' records refuse reviews", func(t *testing.T) {
		second := mustCreateUser(t, users, "second@example.com", domain.DOCTOR)

		id, err := repo.Create(ctx, newRecord(patient.ID, domain.TUMOR_DETECTED))
		require.NoError(t, err)
		require.NoError(t, repo.AssignDoctor(ctx, id, second.ID))

		err = repo.UpdateReview(ctx, id, domain.ReviewUpdate{
			Diagnosis: "mine", Status: domain.REVIEWED, ReviewedAt: time.Now(), ReviewerID: &doctor.ID,
		})
		assert.True(t, errors.Is(err, domain.ErrForbidden))

		signedOff, err := repo.Create(ctx, newRecord(patient.ID, domain.TUMOR_DETECTED))
		require.NoError(t, err)
		require.NoError(t, repo.UpdateReview(ctx, signedOff, domain.ReviewUpdate{
			Diagnosis: "glioma", Status: domain.CONFIRMED, ReviewedAt: time.Now(),
		}))

		err = repo.UpdateReview(ctx, signedOff, domain.ReviewUpdate{
			Diagnosis: "no tumor", Status: domain.CONFIRMED, ReviewedAt: time.Now(), ReviewerID: &second.ID,
		})
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

		got, err := repo.GetByID(ctx, signedOff)
		require.NoError(t, err)
		assert.Equal(t, "glioma", got.FinalDiagnosis)
		assert.Nil(t, got.DoctorID)
	})

	t.Run("review of missing record is not found", func(t *testing.T) {
		err := repo.UpdateReview(ctx, "missing", domain.ReviewUpdate{Status: domain.REVIEWED, ReviewedAt: time.Now()})
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		err = repo.AssignDoctor(ctx, "missing", doctor.ID)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("concurrent creates all persist", func(t *testing.T) {
		busy := mustCreateUser(t, users, "busy@example.com", domain.PATIENT)
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.Create(ctx, newRecord(busy.ID, domain.NO_TUMOR)); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent create failed: %v", err)
		}

		list, err := repo.ListByPatient(ctx, busy.ID)
		require.NoError(t, err)
		assert.Len(t, list, 20)
	})

	t.Run("stats per scope", func(t *testing.T) {
		all, err := repo.AggregateStats(ctx, domain.StatsScope{})
		require.NoError(t, err)
		listed, err := repo.ListAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(len(listed)), all.Total)
		assert.Equal(t, all.Total-all.Reviewed, all.PendingReview)

		mine, err := repo.AggregateStats(ctx, domain.StatsScope{PatientID: other.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(3), mine.Total)
		assert.Equal(t, int64(3), mine.NoTumor)
		assert.Equal(t, 0.0, mine.TumorDetectionRate)

		docs, err := repo.AggregateStats(ctx, domain.StatsScope{DoctorID: doctor.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), docs.Total)
		assert.Equal(t, int64(1), docs.Reviewed)
		assert.Equal(t, 100.0, docs.TumorDetectionRate)
	})
}

func recordIDs(records []*domain.PredictionRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
