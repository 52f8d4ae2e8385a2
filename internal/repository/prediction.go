package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/mri-screening-server/internal/domain"
)

// PredictionRepository handles prediction record persistence in PostgreSQL
type PredictionRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPredictionRepository creates a new prediction repository
func NewPredictionRepository(db *pgxpool.Pool, logger *logrus.Logger) *PredictionRepository {
	return &PredictionRepository{
		db:  db,
		log: logger,
	}
}

const predictionColumns = `
	p.id, p.seq, p.patient_id, p.doctor_id, p.appointment_id, p.image_path, p.image_name,
	p.prediction_result, p.confidence_score, p.prediction_details, p.model_version,
	p.reviewed_by_doctor, p.doctor_notes, p.final_diagnosis, p.status, p.created_at, p.reviewed_at,
	pu.first_name, pu.last_name, pu.email,
	du.first_name, du.last_name, du.email
	FROM predictions p
	JOIN users pu ON pu.id = p.patient_id
	LEFT JOIN users du ON du.id = p.doctor_id`

const newestFirst = ` ORDER BY p.created_at DESC, p.seq DESC`

// Create inserts a new record in pending_review and returns its ID
func (r *PredictionRepository) Create(ctx context.Context, record *domain.PredictionRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.Status = domain.PENDING_REVIEW
	record.ReviewedByDoctor = false
	record.DoctorNotes = ""
	record.FinalDiagnosis = ""
	record.ReviewedAt = nil
	record.CreatedAt = time.Now().UTC()

	detailsJSON, err := json.Marshal(record.Details)
	if err != nil {
		return "", fmt.Errorf("marshaling prediction details: %w", err)
	}

	query := `
		INSERT INTO predictions (
			id, patient_id, doctor_id, appointment_id, image_path, image_name,
			prediction_result, confidence_score, prediction_details, model_version,
			status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		) RETURNING seq`

	err = r.db.QueryRow(ctx, query,
		record.ID,
		record.PatientID,
		record.DoctorID,
		record.AppointmentID,
		record.ImagePath,
		record.ImageName,
		record.Label,
		record.Confidence,
		detailsJSON,
		record.ModelVersion,
		record.Status,
		record.CreatedAt,
	).Scan(&record.Seq)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"prediction_id": record.ID,
			"patient_id":    record.PatientID,
			"error":         err,
		}).Error("Failed to create prediction")
		return "", storageError("creating prediction", err)
	}

	r.log.WithFields(logrus.Fields{
		"prediction_id": record.ID,
		"patient_id":    record.PatientID,
		"label":         record.Label,
		"confidence":    record.Confidence,
	}).Info("Prediction created successfully")

	return record.ID, nil
}

// GetByID retrieves a record with both identity refs
func (r *PredictionRepository) GetByID(ctx context.Context, id string) (*domain.PredictionRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+predictionColumns+` WHERE p.id = $1`, id)
	record, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("prediction %s: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"prediction_id": id,
			"error":         err,
		}).Error("Failed to get prediction")
		return nil, storageError("getting prediction", err)
	}
	return record, nil
}

// ListByPatient returns the patient's records, newest first
func (r *PredictionRepository) ListByPatient(ctx context.Context, patientID string) ([]*domain.PredictionRecord, error) {
	return r.list(ctx, "listing patient predictions", ` WHERE p.patient_id = $1`, patientID)
}

// ListByDoctor returns records assigned to the doctor, newest first
func (r *PredictionRepository) ListByDoctor(ctx context.Context, doctorID string) ([]*domain.PredictionRecord, error) {
	return r.list(ctx, "listing doctor predictions", ` WHERE p.doctor_id = $1`, doctorID)
}

// ListUnassigned returns pending records that no doctor has picked up
func (r *PredictionRepository) ListUnassigned(ctx context.Context) ([]*domain.PredictionRecord, error) {
	return r.list(ctx, "listing unassigned predictions", ` WHERE p.doctor_id IS NULL AND p.status = 'pending_review'`)
}

// ListAll returns every record, newest first
func (r *PredictionRepository) ListAll(ctx context.Context) ([]*domain.PredictionRecord, error) {
	return r.list(ctx, "listing predictions", "")
}

func (r *PredictionRepository) list(ctx context.Context, op, where string, args ...any) ([]*domain.PredictionRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+predictionColumns+where+newestFirst, args...)
	if err != nil {
		r.log.WithError(err).Error("Failed to query predictions")
		return nil, storageError(op, err)
	}
	defer rows.Close()

	records := make([]*domain.PredictionRecord, 0)
	for rows.Next() {
		record, err := scanPrediction(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return records, nil
}

// UpdateReview applies a review transition. The transition rule and the
// reviewer's assignment are enforced in the WHERE clause so a concurrent review
// or reassignment cannot be overwritten.
func (r *PredictionRepository) UpdateReview(ctx context.Context, id string, update domain.ReviewUpdate) error {
	if !update.Status.IsReviewed() {
		return fmt.Errorf("review to %q: %w", update.Status, domain.ErrInvalidTransition)
	}

	query := `
		UPDATE predictions SET
			doctor_notes = $2,
			final_diagnosis = $3,
			status = $4,
			reviewed_by_doctor = TRUE,
			reviewed_at = GREATEST(COALESCE(reviewed_at, $5), $5),
			doctor_id = COALESCE(doctor_id, $6)
		WHERE id = $1
		  AND status <> 'confirmed'
		  AND (status = 'pending_review' OR status = $4 OR (status = 'reviewed' AND $4 = 'confirmed'))
		  AND (doctor_id IS NULL OR $6::text IS NULL OR doctor_id = $6)`

	tag, err := r.db.Exec(ctx, query,
		id,
		update.Notes,
		update.Diagnosis,
		update.Status,
		update.ReviewedAt.UTC(),
		update.ReviewerID,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"prediction_id": id,
			"status":        update.Status,
			"error":         err,
		}).Error("Failed to update review")
		return storageError("updating review", err)
	}

	if tag.RowsAffected() == 0 {
		return r.explainNoop(ctx, id, update.Status, update.ReviewerID)
	}

	r.log.WithFields(logrus.Fields{
		"prediction_id": id,
		"status":        update.Status,
	}).Info("Prediction reviewed")
	return nil
}

// AssignDoctor sets the reviewing doctor on a record that is not yet confirmed
func (r *PredictionRepository) AssignDoctor(ctx context.Context, id, doctorID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE predictions SET doctor_id = $2 WHERE id = $1 AND status <> 'confirmed'`,
		id, doctorID)
	if err != nil {
		return storageError("assigning doctor", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainNoop(ctx, id, domain.CONFIRMED, nil)
	}
	return nil
}

// explainNoop tells a missing record apart from a refused transition or a
// record that was assigned to another doctor.
func (r *PredictionRepository) explainNoop(ctx context.Context, id string, requested domain.ReviewStatus, reviewerID *string) error {
	var current domain.ReviewStatus
	var doctorID *string
	err := r.db.QueryRow(ctx, `SELECT status, doctor_id FROM predictions WHERE id = $1`, id).Scan(&current, &doctorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("prediction %s: %w", id, domain.ErrNotFound)
		}
		return storageError("reading prediction status", err)
	}
	return domain.RefusedReview(current, requested, doctorID, reviewerID)
}

// AggregateStats counts records by label and review state within the scope
func (r *PredictionRepository) AggregateStats(ctx context.Context, scope domain.StatsScope) (*domain.PredictionStats, error) {
	query := `
		SELECT prediction_result, COUNT(*), COUNT(*) FILTER (WHERE reviewed_by_doctor)
		FROM predictions
		WHERE ($1::text = '' OR patient_id = $1)
		  AND ($2::text = '' OR doctor_id = $2)
		GROUP BY prediction_result`

	rows, err := r.db.Query(ctx, query, scope.PatientID, scope.DoctorID)
	if err != nil {
		return nil, storageError("aggregating predictions", err)
	}
	defer rows.Close()

	stats := &domain.PredictionStats{ByLabel: make(map[domain.PredictionLabel]int64)}
	for rows.Next() {
		var label domain.PredictionLabel
		var total, reviewed int64
		if err := rows.Scan(&label, &total, &reviewed); err != nil {
			return nil, storageError("aggregating predictions", err)
		}
		stats.ByLabel[label] = total
		stats.Total += total
		stats.Reviewed += reviewed
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("aggregating predictions", err)
	}

	stats.Finalize()
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row rowScanner) (*domain.PredictionRecord, error) {
	var (
		record      domain.PredictionRecord
		detailsJSON []byte
		patient     domain.IdentityRef
		docFirst    *string
		docLast     *string
		docEmail    *string
	)

	err := row.Scan(
		&record.ID,
		&record.Seq,
		&record.PatientID,
		&record.DoctorID,
		&record.AppointmentID,
		&record.ImagePath,
		&record.ImageName,
		&record.Label,
		&record.Confidence,
		&detailsJSON,
		&record.ModelVersion,
		&record.ReviewedByDoctor,
		&record.DoctorNotes,
		&record.FinalDiagnosis,
		&record.Status,
		&record.CreatedAt,
		&record.ReviewedAt,
		&patient.FirstName,
		&patient.LastName,
		&patient.Email,
		&docFirst,
		&docLast,
		&docEmail,
	)
	if err != nil {
		return nil, err
	}

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &record.Details); err != nil {
			return nil, fmt.Errorf("unmarshaling prediction details: %w", err)
		}
	}

	patient.ID = record.PatientID
	record.Patient = &patient
	if record.DoctorID != nil && docEmail != nil {
		record.Doctor = &domain.IdentityRef{
			ID:        *record.DoctorID,
			FirstName: deref(docFirst),
			LastName:  deref(docLast),
			Email:     *docEmail,
		}
	}

	return &record, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
