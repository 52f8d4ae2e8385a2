package domain

import (
	"fmt"
	"strings"
	"time"
)

// User is an identity record. Role-specific attributes are only meaningful for the
// matching role and are left zero otherwise.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"user_type"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Phone        string    `json:"phone"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Doctor attributes
	Specialization  string `json:"specialization,omitempty"`
	LicenseNumber   string `json:"license_number,omitempty"`
	ExperienceYears int    `json:"experience_years,omitempty"`
	ApprovedByAdmin bool   `json:"approved_by_admin"`

	// Patient attributes
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      string     `json:"gender,omitempty"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Ref returns the public identity fields of the user.
func (u *User) Ref() *IdentityRef {
	return &IdentityRef{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
	}
}

// UserFilter narrows a user listing
type UserFilter struct {
	Role *Role
}

// ProfileUpdate carries self-service profile changes. Nil fields are left untouched.
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	Phone       *string
	DateOfBirth *time.Time
	Gender      *string
}

// IdentityRef is the public part of a user joined onto a prediction record at read time.
type IdentityRef struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// RegionStats summarizes pixel intensity within one horizontal band of the scan.
type RegionStats struct {
	MeanIntensity float64 `json:"mean_intensity"`
	StdIntensity  float64 `json:"std_intensity"`
	Suspicious    bool    `json:"suspicious"`
}

// RegionAnalysis maps band name (frontal_lobe, parietal_lobe, occipital_lobe) to its stats.
type RegionAnalysis map[string]RegionStats

// PredictionDetails is the opaque detail blob stored with a record.
type PredictionDetails struct {
	TumorProbability   float64        `json:"tumor_probability"`
	NoTumorProbability float64        `json:"no_tumor_probability"`
	RegionAnalysis     RegionAnalysis `json:"region_analysis"`
}

// InferenceResult is the output of one classification run.
// Confidence is the winning class probability in [0, 1].
type InferenceResult struct {
	Label              PredictionLabel `json:"prediction"`
	Confidence         float64         `json:"confidence"`
	TumorProbability   float64         `json:"tumor_probability"`
	NoTumorProbability float64         `json:"no_tumor_probability"`
	ModelVersion       string          `json:"model_version"`
	RegionAnalysis     RegionAnalysis  `json:"region_analysis,omitempty"`
}

// PredictionRecord is the persisted outcome of one classification run plus its
// review lifecycle.
type PredictionRecord struct {
	ID            string  `json:"id"`
	Seq           int64   `json:"-"`
	PatientID     string  `json:"patient_id"`
	DoctorID      *string `json:"doctor_id,omitempty"`
	AppointmentID *string `json:"appointment_id,omitempty"`

	ImagePath    string            `json:"-"`
	ImageName    string            `json:"image_name"`
	Label        PredictionLabel   `json:"prediction_result"`
	Confidence   float64           `json:"confidence_score"`
	Details      PredictionDetails `json:"prediction_details"`
	ModelVersion string            `json:"model_version"`

	ReviewedByDoctor bool         `json:"reviewed_by_doctor"`
	DoctorNotes      string       `json:"doctor_notes"`
	FinalDiagnosis   string       `json:"final_diagnosis"`
	Status           ReviewStatus `json:"status"`

	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`

	// Joined at read time; never persisted on the record itself.
	Patient *IdentityRef `json:"patient,omitempty"`
	Doctor  *IdentityRef `json:"doctor,omitempty"`
}

// IsAssigned reports whether a reviewing doctor is set.
func (p *PredictionRecord) IsAssigned() bool {
	return p.DoctorID != nil && *p.DoctorID != ""
}

// AssignedTo reports whether the record is assigned to the given doctor.
func (p *PredictionRecord) AssignedTo(doctorID string) bool {
	return p.IsAssigned() && *p.DoctorID == doctorID
}

// ReviewUpdate is the payload of a review transition.
type ReviewUpdate struct {
	Notes      string
	Diagnosis  string
	Status     ReviewStatus
	ReviewedAt time.Time
	// ReviewerID is recorded as the assigned doctor when the record has none.
	ReviewerID *string
}

// RefusedReview explains why a store left a record in state current, assigned
// to doctorID, untouched by a review to requested from reviewerID.
func RefusedReview(current, requested ReviewStatus, doctorID, reviewerID *string) error {
	if current.CanTransitionTo(requested) && doctorID != nil && reviewerID != nil && *doctorID != *reviewerID {
		return fmt.Errorf("prediction is assigned to another doctor: %w", ErrForbidden)
	}
	return fmt.Errorf("%s to %s: %w", current, requested, ErrInvalidTransition)
}

// StatsScope selects which records an aggregate covers.
// A zero scope covers every record.
type StatsScope struct {
	PatientID string
	DoctorID  string
}

// PredictionStats aggregates records by review state and label.
type PredictionStats struct {
	Total              int64                     `json:"total_predictions"`
	Reviewed           int64                     `json:"reviewed_predictions"`
	PendingReview      int64                     `json:"pending_review"`
	ByLabel            map[PredictionLabel]int64 `json:"by_label"`
	TumorDetected      int64                     `json:"tumor_detected"`
	NoTumor            int64                     `json:"no_tumor"`
	Inconclusive       int64                     `json:"inconclusive"`
	TumorDetectionRate float64                   `json:"tumor_detection_rate"`
}

// Finalize derives the convenience counters from ByLabel and the totals.
func (s *PredictionStats) Finalize() {
	if s.ByLabel == nil {
		s.ByLabel = make(map[PredictionLabel]int64)
	}
	s.TumorDetected = s.ByLabel[TUMOR_DETECTED]
	s.NoTumor = s.ByLabel[NO_TUMOR]
	s.Inconclusive = s.ByLabel[INCONCLUSIVE]
	s.PendingReview = s.Total - s.Reviewed
	if s.Total > 0 {
		s.TumorDetectionRate = float64(s.TumorDetected) / float64(s.Total) * 100
	} else {
		s.TumorDetectionRate = 0
	}
}

// ModelInfo describes the classifier to clients.
type ModelInfo struct {
	ModelVersion     string   `json:"model_version"`
	ModelType        string   `json:"model_type"`
	InputSize        string   `json:"input_size"`
	SupportedFormats []string `json:"supported_formats"`
	MaxFileSize      string   `json:"max_file_size"`
	Classes          []string `json:"classes"`
	Description      string   `json:"description"`
}
