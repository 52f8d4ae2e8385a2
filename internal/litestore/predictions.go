package litestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mri-screening-server/internal/domain"
)

const predictionSelect = `
	SELECT p.id, p.seq, p.patient_id, p.doctor_id, p.appointment_id, p.image_path, p.image_name,
		p.prediction_result, p.confidence_score, p.prediction_details, p.model_version,
		p.reviewed_by_doctor, p.doctor_notes, p.final_diagnosis, p.status, p.created_at, p.reviewed_at,
		pu.first_name, pu.last_name, pu.email,
		du.first_name, du.last_name, du.email
	FROM predictions p
	JOIN users pu ON pu.id = p.patient_id
	LEFT JOIN users du ON du.id = p.doctor_id`

const newestFirst = ` ORDER BY p.created_at DESC, p.seq DESC`

// Create inserts a new record in pending_review and returns its ID.
func (s *Store) Create(ctx context.Context, record *domain.PredictionRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.Status = domain.PENDING_REVIEW
	record.ReviewedByDoctor = false
	record.DoctorNotes = ""
	record.FinalDiagnosis = ""
	record.ReviewedAt = nil
	record.CreatedAt = time.Now().UTC()

	details, err := json.Marshal(record.Details)
	if err != nil {
		return "", fmt.Errorf("marshaling prediction details: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO predictions (
			id, patient_id, doctor_id, appointment_id, image_path, image_name,
			prediction_result, confidence_score, prediction_details, model_version,
			status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.PatientID,
		nullString(record.DoctorID),
		nullString(record.AppointmentID),
		record.ImagePath,
		record.ImageName,
		string(record.Label),
		record.Confidence,
		string(details),
		record.ModelVersion,
		string(record.Status),
		formatTime(record.CreatedAt),
	)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"prediction_id": record.ID,
			"patient_id":    record.PatientID,
			"error":         err,
		}).Error("Failed to create prediction")
		return "", classify("creating prediction", err)
	}

	if seq, err := result.LastInsertId(); err == nil {
		record.Seq = seq
	}

	s.log.WithFields(logrus.Fields{
		"prediction_id": record.ID,
		"patient_id":    record.PatientID,
		"label":         record.Label,
	}).Info("Prediction created successfully")

	return record.ID, nil
}

// GetByID retrieves a record with both identity refs.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.PredictionRecord, error) {
	record, err := scanPrediction(s.db.QueryRowContext(ctx, predictionSelect+` WHERE p.id = ?`, id))
	if err != nil {
		return nil, classify(fmt.Sprintf("prediction %s", id), err)
	}
	return record, nil
}

// ListByPatient returns the patient's records, newest first.
func (s *Store) ListByPatient(ctx context.Context, patientID string) ([]*domain.PredictionRecord, error) {
	return s.list(ctx, "listing patient predictions", ` WHERE p.patient_id = ?`, patientID)
}

// ListByDoctor returns records assigned to the doctor, newest first.
func (s *Store) ListByDoctor(ctx context.Context, doctorID string) ([]*domain.PredictionRecord, error) {
	return s.list(ctx, "listing doctor predictions", ` WHERE p.doctor_id = ?`, doctorID)
}

// ListUnassigned returns pending records no doctor has picked up.
func (s *Store) ListUnassigned(ctx context.Context) ([]*domain.PredictionRecord, error) {
	return s.list(ctx, "listing unassigned predictions", ` WHERE p.doctor_id IS NULL AND p.status = 'pending_review'`)
}

// ListAll returns every record, newest first.
func (s *Store) ListAll(ctx context.Context) ([]*domain.PredictionRecord, error) {
	return s.list(ctx, "listing predictions", "")
}

func (s *Store) list(ctx context.Context, op, where string, args ...interface{}) ([]*domain.PredictionRecord, error) {
	rows, err := s.db.QueryContext(ctx, predictionSelect+where+newestFirst, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	result := make([]*domain.PredictionRecord, 0)
	for rows.Next() {
		record, err := scanPrediction(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return result, nil
}

// UpdateReview applies a review transition; the WHERE clause refuses backward
// moves, reviews of confirmed records and reviewers the record is not assigned to.
func (s *Store) UpdateReview(ctx context.Context, id string, update domain.ReviewUpdate) error {
	if !update.Status.IsReviewed() {
		return fmt.Errorf("review to %q: %w", update.Status, domain.ErrInvalidTransition)
	}

	reviewedAt := formatTime(update.ReviewedAt)
	result, err := s.db.ExecContext(ctx, `
		UPDATE predictions SET
			doctor_notes = ?2,
			final_diagnosis = ?3,
			status = ?4,
			reviewed_by_doctor = 1,
			reviewed_at = MAX(COALESCE(reviewed_at, ?5), ?5),
			doctor_id = COALESCE(doctor_id, ?6)
		WHERE id = ?1
		  AND status <> 'confirmed'
		  AND (status = 'pending_review' OR status = ?4 OR (status = 'reviewed' AND ?4 = 'confirmed'))
		  AND (doctor_id IS NULL OR ?6 IS NULL OR doctor_id = ?6)
	`,
		id,
		update.Notes,
		update.Diagnosis,
		string(update.Status),
		reviewedAt,
		nullString(update.ReviewerID),
	)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"prediction_id": id,
			"error":         err,
		}).Error("Failed to update review")
		return classify("updating review", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return s.explainNoop(ctx, id, update.Status, update.ReviewerID)
	}
	return nil
}

// AssignDoctor sets the reviewing doctor on a record that is not yet confirmed.
func (s *Store) AssignDoctor(ctx context.Context, id, doctorID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE predictions SET doctor_id = ? WHERE id = ? AND status <> 'confirmed'`,
		doctorID, id)
	if err != nil {
		return classify("assigning doctor", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return s.explainNoop(ctx, id, domain.CONFIRMED, nil)
	}
	return nil
}

func (s *Store) explainNoop(ctx context.Context, id string, requested domain.ReviewStatus, reviewerID *string) error {
	var current string
	var doctorID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT status, doctor_id FROM predictions WHERE id = ?`, id).Scan(&current, &doctorID)
	if err != nil {
		return classify(fmt.Sprintf("prediction %s", id), err)
	}
	return domain.RefusedReview(domain.ReviewStatus(current), requested, stringPtr(doctorID), reviewerID)
}

// AggregateStats counts records by label and review state within the scope.
func (s *Store) AggregateStats(ctx context.Context, scope domain.StatsScope) (*domain.PredictionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT prediction_result, COUNT(*), COALESCE(SUM(reviewed_by_doctor), 0)
		FROM predictions
		WHERE (?1 = '' OR patient_id = ?1)
		  AND (?2 = '' OR doctor_id = ?2)
		GROUP BY prediction_result
	`, scope.PatientID, scope.DoctorID)
	if err != nil {
		return nil, classify("aggregating predictions", err)
	}
	defer rows.Close()

	stats := &domain.PredictionStats{ByLabel: make(map[domain.PredictionLabel]int64)}
	for rows.Next() {
		var label string
		var total, reviewed int64
		if err := rows.Scan(&label, &total, &reviewed); err != nil {
			return nil, classify("aggregating predictions", err)
		}
		stats.ByLabel[domain.PredictionLabel(label)] = total
		stats.Total += total
		stats.Reviewed += reviewed
	}
	if err := rows.Err(); err != nil {
		return nil, classify("aggregating predictions", err)
	}

	stats.Finalize()
	return stats, nil
}

func scanPrediction(s scanner) (*domain.PredictionRecord, error) {
	var (
		record                     domain.PredictionRecord
		doctorID, appointmentID    sql.NullString
		label, status              string
		details                    string
		createdAt                  string
		reviewedAt                 sql.NullString
		patient                    domain.IdentityRef
		docFirst, docLast, docMail sql.NullString
	)

	err := s.Scan(
		&record.ID, &record.Seq, &record.PatientID, &doctorID, &appointmentID,
		&record.ImagePath, &record.ImageName,
		&label, &record.Confidence, &details, &record.ModelVersion,
		&record.ReviewedByDoctor, &record.DoctorNotes, &record.FinalDiagnosis, &status,
		&createdAt, &reviewedAt,
		&patient.FirstName, &patient.LastName, &patient.Email,
		&docFirst, &docLast, &docMail,
	)
	if err != nil {
		return nil, err
	}

	record.Label = domain.PredictionLabel(label)
	record.Status = domain.ReviewStatus(status)
	record.DoctorID = stringPtr(doctorID)
	record.AppointmentID = stringPtr(appointmentID)

	if details != "" {
		if err := json.Unmarshal([]byte(details), &record.Details); err != nil {
			return nil, fmt.Errorf("unmarshaling prediction details: %w", err)
		}
	}

	if record.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if record.ReviewedAt, err = parseNullTime(reviewedAt); err != nil {
		return nil, fmt.Errorf("parsing reviewed_at: %w", err)
	}

	patient.ID = record.PatientID
	record.Patient = &patient
	if record.DoctorID != nil && docMail.Valid {
		record.Doctor = &domain.IdentityRef{
			ID:        *record.DoctorID,
			FirstName: docFirst.String,
			LastName:  docLast.String,
			Email:     docMail.String,
		}
	}

	return &record, nil
}
