package api

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mri-screening-server/internal/access"
	"github.com/mri-screening-server/internal/domain"
	"github.com/mri-screening-server/internal/middleware"
	"github.com/mri-screening-server/internal/service"
)

type reviewRequest struct {
	DoctorNotes    string `json:"doctor_notes"`
	FinalDiagnosis string `json:"final_diagnosis"`
	Status         string `json:"status"`
}

type assignRequest struct {
	DoctorID string `json:"doctor_id"`
}

// multipartOverhead covers boundaries and form fields around the files.
const multipartOverhead = 1 << 20

func (s *Server) handlePredict(c *gin.Context) {
	s.limitBody(c, 1)

	header, err := c.FormFile("image")
	if err != nil {
		s.fail(c, uploadError(err, "image", "No image file provided"))
		return
	}
	file, err := header.Open()
	if err != nil {
		s.fail(c, fmt.Errorf("open upload: %w", domain.ErrStorageUnavailable))
		return
	}
	defer file.Close()

	outcome, err := s.deps.Predictions.Predict(c.Request.Context(), principal(c), service.PredictRequest{
		Upload:        toUpload(header, file),
		DoctorID:      optionalForm(c, "doctor_id"),
		AppointmentID: optionalForm(c, "appointment_id"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Prediction completed successfully",
		"prediction_id": outcome.PredictionID,
		"result":        outcome.Result,
	})
}

func (s *Server) handleBatchPredict(c *gin.Context) {
	s.limitBody(c, s.config.Storage.MaxBatchSize)

	form, err := c.MultipartForm()
	if err != nil {
		s.fail(c, uploadError(err, "images", "No image files provided"))
		return
	}
	headers := form.File["images"]
	if len(headers) > s.config.Storage.MaxBatchSize {
		s.fail(c, domain.NewValidationError("images",
			fmt.Sprintf("Maximum %d files allowed per batch", s.config.Storage.MaxBatchSize), len(headers)))
		return
	}

	uploads := make([]service.Upload, 0, len(headers))
	for _, h := range headers {
		file, err := h.Open()
		if err != nil {
			s.fail(c, fmt.Errorf("open upload: %w", domain.ErrStorageUnavailable))
			return
		}
		defer file.Close()
		uploads = append(uploads, toUpload(h, file))
	}

	outcome, err := s.deps.Predictions.PredictBatch(c.Request.Context(), principal(c), uploads)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         "Batch prediction completed",
		"predictions":     outcome.Predictions,
		"total_processed": outcome.TotalProcessed,
		"total_failed":    outcome.TotalFailed,
	})
}

func (s *Server) handleListPredictions(c *gin.Context) {
	records, err := s.deps.Predictions.List(c.Request.Context(), principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": nonNil(records), "total": len(records)})
}

func (s *Server) handleQueue(c *gin.Context) {
	records, err := s.deps.Predictions.Queue(c.Request.Context(), principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": nonNil(records), "total": len(records)})
}

func (s *Server) handleGetPrediction(c *gin.Context) {
	record, err := s.deps.Predictions.Get(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prediction": record})
}

func (s *Server) handleReview(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalidBody(c, err)
		return
	}

	record, err := s.deps.Predictions.Review(c.Request.Context(), principal(c), c.Param("id"), service.ReviewRequest{
		Notes:     req.DoctorNotes,
		Diagnosis: req.FinalDiagnosis,
		Status:    req.Status,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Review saved successfully", "prediction": record})
}

func (s *Server) handleAssignDoctor(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalidBody(c, err)
		return
	}

	record, err := s.deps.Predictions.AssignDoctor(c.Request.Context(), principal(c), c.Param("id"), req.DoctorID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Doctor assigned successfully", "prediction": record})
}

func (s *Server) handleImage(c *gin.Context) {
	rc, record, err := s.deps.Predictions.Image(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(record.ImageName)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, rc, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": record.ImageName}),
	})
}

func (s *Server) handleStatistics(c *gin.Context) {
	stats, err := s.deps.Predictions.Stats(c.Request.Context(), principal(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statistics": stats})
}

func (s *Server) handleModelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"model_info": s.deps.Predictions.ModelInfo()})
}

// limitBody caps the request body at files uploads of the maximum size.
func (s *Server) limitBody(c *gin.Context, files int) {
	if files <= 0 {
		files = 1
	}
	limit := s.config.Storage.MaxFileSize*int64(files) + multipartOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
}

// uploadError turns a multipart failure into a client error.
func uploadError(err error, field, missing string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return domain.NewValidationError(field, "File size too large", tooLarge.Limit)
	}
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return domain.NewValidationError(field, missing, nil)
	}
	return domain.NewValidationError(field, "Malformed multipart form", nil)
}

func toUpload(h *multipart.FileHeader, f multipart.File) service.Upload {
	return service.Upload{Filename: h.Filename, Size: h.Size, Body: f}
}

func optionalForm(c *gin.Context, key string) *string {
	v, ok := c.GetPostForm(key)
	if !ok {
		return nil
	}
	return &v
}

func principal(c *gin.Context) access.Principal {
	p, _ := middleware.CurrentPrincipal(c)
	return p
}

func nonNil(records []*domain.PredictionRecord) []*domain.PredictionRecord {
	if records == nil {
		return []*domain.PredictionRecord{}
	}
	return records
}
