package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mri-screening-server/internal/access"
	"github.com/mri-screening-server/internal/domain"
)

// Upload is one image file received from a client. Size is the length the
// client declared; the body is read at most once.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// PredictRequest is a single-image prediction.
type PredictRequest struct {
	Upload        Upload
	DoctorID      *string
	AppointmentID *string
}

// PredictionResult is what the caller sees after a successful prediction.
type PredictionResult struct {
	Label              domain.PredictionLabel `json:"prediction"`
	Confidence         float64                `json:"confidence"`
	TumorProbability   float64                `json:"tumor_probability"`
	NoTumorProbability float64                `json:"no_tumor_probability"`
	RegionAnalysis     domain.RegionAnalysis  `json:"region_analysis"`
	ModelVersion       string                 `json:"model_version"`
}

// PredictOutcome pairs the stored record ID with the classification.
type PredictOutcome struct {
	PredictionID string           `json:"prediction_id"`
	Result       PredictionResult `json:"result"`
}

// BatchItem is the outcome for one file of a batch. Exactly one of
// PredictionID and Error is set.
type BatchItem struct {
	Filename     string                 `json:"filename"`
	PredictionID string                 `json:"prediction_id,omitempty"`
	Label        domain.PredictionLabel `json:"result,omitempty"`
	Confidence   float64                `json:"confidence,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// BatchOutcome lists per-file outcomes in input order.
type BatchOutcome struct {
	Predictions    []BatchItem `json:"predictions"`
	TotalProcessed int         `json:"total_processed"`
	TotalFailed    int         `json:"total_failed"`
}

// ReviewRequest carries a doctor's review of a record.
type ReviewRequest struct {
	Notes     string
	Diagnosis string
	Status    string
}

// PredictionService runs the upload, classification and review flow over a
// prediction store.
type PredictionService struct {
	store          domain.PredictionStore
	users          domain.UserStore
	classifier     domain.Classifier
	blobs          domain.BlobStore
	maxFileSize    int64
	maxBatchSize   int
	allowed        map[string]bool
	extensions     []string
	maxConcurrency int
	now            func() time.Time
	logger         *logrus.Logger
}

// NewPredictionService creates a prediction service.
func NewPredictionService(
	store domain.PredictionStore,
	users domain.UserStore,
	classifier domain.Classifier,
	blobs domain.BlobStore,
	storage domain.StorageConfig,
	inference domain.InferenceConfig,
	logger *logrus.Logger,
) *PredictionService {
	allowed := make(map[string]bool, len(storage.AllowedExtensions))
	var extensions []string
	for _, ext := range storage.AllowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))
		if !allowed[ext] {
			allowed[ext] = true
			extensions = append(extensions, ext)
		}
	}
	concurrency := inference.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	batch := storage.MaxBatchSize
	if batch <= 0 {
		batch = 10
	}
	return &PredictionService{
		store:          store,
		users:          users,
		classifier:     classifier,
		blobs:          blobs,
		maxFileSize:    storage.MaxFileSize,
		maxBatchSize:   batch,
		allowed:        allowed,
		extensions:     extensions,
		maxConcurrency: concurrency,
		now:            time.Now,
		logger:         logger,
	}
}

// Predict classifies one uploaded image and stores the result as a new record
// in pending_review.
func (s *PredictionService) Predict(ctx context.Context, p access.Principal, req PredictRequest) (*PredictOutcome, error) {
	if err := access.AuthorizeCreate(p, p.UserID()); err != nil {
		return nil, err
	}

	data, ext, err := s.readUpload(req.Upload)
	if err != nil {
		return nil, err
	}

	doctorID, err := s.resolveDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}

	outcome, err := s.process(ctx, p.UserID(), req.Upload.Filename, data, ext, doctorID, nonEmpty(req.AppointmentID))
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"prediction_id": outcome.PredictionID,
		"patient_id":    p.UserID(),
		"label":         outcome.Result.Label,
		"confidence":    outcome.Result.Confidence,
	}).Info("Prediction stored")

	return outcome, nil
}

// PredictBatch classifies up to the configured number of images. A failing
// file never aborts the others.
func (s *PredictionService) PredictBatch(ctx context.Context, p access.Principal, uploads []Upload) (*BatchOutcome, error) {
	if err := access.AuthorizeCreate(p, p.UserID()); err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, domain.NewValidationError("images", "No image files provided", nil)
	}
	if len(uploads) > s.maxBatchSize {
		return nil, domain.NewValidationError("images", fmt.Sprintf("Maximum %d files allowed per batch", s.maxBatchSize), len(uploads))
	}

	// Bodies share one multipart stream, so they are read before fanning out.
	type prepared struct {
		data []byte
		ext  string
		err  error
	}
	inputs := make([]prepared, len(uploads))
	for i, u := range uploads {
		data, ext, err := s.readUpload(u)
		inputs[i] = prepared{data: data, ext: ext, err: err}
	}

	items := make([]BatchItem, len(uploads))
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for i := range uploads {
		items[i].Filename = uploads[i].Filename
		if inputs[i].err != nil {
			items[i].Error = itemError(inputs[i].err)
			continue
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome, err := s.process(ctx, p.UserID(), uploads[i].Filename, inputs[i].data, inputs[i].ext, nil, nil)
			if err != nil {
				s.logger.WithFields(logrus.Fields{
					"filename": uploads[i].Filename,
					"error":    err,
				}).Warn("Batch item failed")
				items[i].Error = itemError(err)
				return
			}
			items[i].PredictionID = outcome.PredictionID
			items[i].Label = outcome.Result.Label
			items[i].Confidence = outcome.Result.Confidence
		}(i)
	}
	wg.Wait()

	result := &BatchOutcome{Predictions: items}
	for _, item := range items {
		if item.Error != "" {
			result.TotalFailed++
		} else {
			result.TotalProcessed++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"patient_id": p.UserID(),
		"processed":  result.TotalProcessed,
		"failed":     result.TotalFailed,
	}).Info("Batch prediction completed")

	return result, nil
}

// process classifies, saves the image and persists the record. The blob is
// removed again when the record cannot be stored.
func (s *PredictionService) process(ctx context.Context, patientID, filename string, data []byte, ext string, doctorID, appointmentID *string) (*PredictOutcome, error) {
	result, err := s.classifier.Classify(ctx, data, ext)
	if err != nil {
		return nil, err
	}
	regions := result.RegionAnalysis

	key, err := s.blobs.Save(ctx, bytes.NewReader(data), filename)
	if err != nil {
		return nil, err
	}

	record := &domain.PredictionRecord{
		PatientID:     patientID,
		DoctorID:      doctorID,
		AppointmentID: appointmentID,
		ImagePath:     key,
		ImageName:     filename,
		Label:         result.Label,
		Confidence:    result.Confidence,
		ModelVersion:  result.ModelVersion,
		Details: domain.PredictionDetails{
			TumorProbability:   result.TumorProbability,
			NoTumorProbability: result.NoTumorProbability,
			RegionAnalysis:     regions,
		},
	}

	id, err := s.store.Create(ctx, record)
	if err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.WithError(delErr).WithField("key", key).Error("Failed to remove orphaned image")
		}
		return nil, err
	}

	return &PredictOutcome{
		PredictionID: id,
		Result: PredictionResult{
			Label:              result.Label,
			Confidence:         result.Confidence,
			TumorProbability:   result.TumorProbability,
			NoTumorProbability: result.NoTumorProbability,
			RegionAnalysis:     regions,
			ModelVersion:       result.ModelVersion,
		},
	}, nil
}

// readUpload checks name, extension and size, then reads the body.
func (s *PredictionService) readUpload(u Upload) ([]byte, string, error) {
	if strings.TrimSpace(u.Filename) == "" {
		return nil, "", domain.NewValidationError("image", "No file selected", nil)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(u.Filename), "."))
	if !s.allowed[ext] {
		return nil, "", domain.NewValidationError("image",
			"Invalid file type. Allowed types: "+strings.Join(s.extensions, ", "), u.Filename)
	}

	if u.Size > s.maxFileSize {
		return nil, "", s.tooLarge()
	}
	if u.Body == nil {
		return nil, "", domain.NewValidationError("image", "No image file provided", nil)
	}

	data, err := io.ReadAll(io.LimitReader(u.Body, s.maxFileSize+1))
	if err != nil {
		return nil, "", domain.NewValidationError("image", "Failed to read uploaded file", nil)
	}
	if int64(len(data)) > s.maxFileSize {
		return nil, "", s.tooLarge()
	}
	if len(data) == 0 {
		return nil, "", domain.NewValidationError("image", "Uploaded file is empty", nil)
	}
	return data, ext, nil
}

func (s *PredictionService) tooLarge() error {
	return domain.NewValidationError("image",
		fmt.Sprintf("File size too large. Maximum size: %dMB", s.maxFileSize/(1024*1024)), nil)
}

// resolveDoctor checks that an optional doctor_id names a doctor who can review.
func (s *PredictionService) resolveDoctor(ctx context.Context, doctorID *string) (*string, error) {
	id := nonEmpty(doctorID)
	if id == nil {
		return nil, nil
	}
	if _, err := s.requireDoctor(ctx, *id); err != nil {
		return nil, err
	}
	return id, nil
}

func (s *PredictionService) requireDoctor(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("doctor_id", "doctor not found", id)
		}
		return nil, err
	}
	if user.Role != domain.DOCTOR {
		return nil, domain.NewValidationError("doctor_id", "user is not a doctor", id)
	}
	if !user.ApprovedByAdmin || !user.IsActive {
		return nil, domain.NewValidationError("doctor_id", "doctor is not available for review", id)
	}
	return user, nil
}

// Get returns a single record. Existence is checked before ownership.
func (s *PredictionService) Get(ctx context.Context, p access.Principal, id string) (*domain.PredictionRecord, error) {
	record, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.AuthorizeView(p, record); err != nil {
		return nil, err
	}
	return record, nil
}

// List returns the caller's own records: a patient's uploads, a doctor's
// assignments, or everything for an admin.
func (s *PredictionService) List(ctx context.Context, p access.Principal) ([]*domain.PredictionRecord, error) {
	scope, err := access.ListScope(p)
	if err != nil {
		return nil, err
	}
	switch scope.Kind {
	case access.ListByPatient:
		return s.store.ListByPatient(ctx, scope.ID)
	case access.ListByDoctor:
		return s.store.ListByDoctor(ctx, scope.ID)
	default:
		return s.store.ListAll(ctx)
	}
}

// Queue returns unassigned records waiting for a doctor.
func (s *PredictionService) Queue(ctx context.Context, p access.Principal) ([]*domain.PredictionRecord, error) {
	if err := access.AuthorizeQueue(p); err != nil {
		return nil, err
	}
	return s.store.ListUnassigned(ctx)
}

// Review records a doctor's notes and diagnosis and moves the record forward
// in the review workflow. Repeating a review in the same state overwrites
// notes and diagnosis and refreshes reviewed_at.
func (s *PredictionService) Review(ctx context.Context, p access.Principal, id string, req ReviewRequest) (*domain.PredictionRecord, error) {
	status := domain.ReviewStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status == "" {
		status = domain.REVIEWED
	}
	if !status.IsReviewed() {
		return nil, domain.NewValidationError("status", "status must be reviewed or confirmed", req.Status)
	}

	record, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.AuthorizeReview(p, record); err != nil {
		return nil, err
	}
	if !record.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, record.Status, status)
	}

	update := domain.ReviewUpdate{
		Notes:      req.Notes,
		Diagnosis:  req.Diagnosis,
		Status:     status,
		ReviewedAt: s.now().UTC(),
	}
	if d, ok := p.(access.Doctor); ok {
		update.ReviewerID = &d.ID
	}

	if err := s.store.UpdateReview(ctx, id, update); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"prediction_id": id,
		"reviewer_id":   p.UserID(),
		"from":          record.Status,
		"to":            status,
	}).Info("Prediction reviewed")

	return s.store.GetByID(ctx, id)
}

// AssignDoctor sets the reviewing doctor of a record that is not yet confirmed.
func (s *PredictionService) AssignDoctor(ctx context.Context, p access.Principal, id, doctorID string) (*domain.PredictionRecord, error) {
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, domain.NewValidationError("doctor_id", "doctor_id is required", nil)
	}

	record, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.AuthorizeAssign(p, record, doctorID); err != nil {
		return nil, err
	}

	if _, err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	if err := s.store.AssignDoctor(ctx, id, doctorID); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"prediction_id": id,
		"doctor_id":     doctorID,
		"assigned_by":   p.UserID(),
	}).Info("Doctor assigned")

	return s.store.GetByID(ctx, id)
}

// Stats aggregates the records visible to the caller.
func (s *PredictionService) Stats(ctx context.Context, p access.Principal) (*domain.PredictionStats, error) {
	scope, err := access.StatsScope(p)
	if err != nil {
		return nil, err
	}
	return s.store.AggregateStats(ctx, scope)
}

// Image opens the stored scan of a record. The caller closes the reader.
func (s *PredictionService) Image(ctx context.Context, p access.Principal, id string) (io.ReadCloser, *domain.PredictionRecord, error) {
	record, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, record.ImagePath)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("image file: %w", domain.ErrNotFound)
		}
		return nil, nil, err
	}
	return rc, record, nil
}

// ModelInfo describes the classifier.
func (s *PredictionService) ModelInfo() domain.ModelInfo {
	return s.classifier.ModelInfo()
}

// itemError turns a per-file failure into a message safe to return.
func itemError(err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, domain.ErrImageDecode):
		return "Invalid image file"
	case errors.Is(err, domain.ErrInferenceUnavailable):
		return "Failed to process image"
	default:
		return "Processing failed"
	}
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
