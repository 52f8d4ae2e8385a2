package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/mri-screening-server/internal/auth"
	"github.com/mri-screening-server/internal/blob"
	"github.com/mri-screening-server/internal/config"
	"github.com/mri-screening-server/internal/domain"
	"github.com/mri-screening-server/internal/health"
	"github.com/mri-screening-server/internal/litestore"
	"github.com/mri-screening-server/internal/service"
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
	return domain.ModelInfo{ModelVersion: "1.0", ModelType: "CNN", Classes: []string{"No Tumor", "Tumor Detected"}}
}

const password = "password123"

// ServerTestSuite drives the HTTP API over a SQLite store and a mocked model.
type ServerTestSuite struct {
	suite.Suite

	store      *litestore.Store
	blobs      *blob.FileStore
	classifier *MockClassifier
	users      *service.UserService
	handler    http.Handler
	logger     *logrus.Logger

	adminToken   string
	doctorToken  string
	patientToken string
	otherToken   string
	doctorID     string
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	t := s.T()
	s.logger, _ = test.NewNullLogger()
	dir := t.TempDir()

	store, err := litestore.Open(filepath.Join(dir, "screening.db"), s.logger)
	s.Require().NoError(err)
	s.store = store

	s.blobs, err = blob.New(filepath.Join(dir, "uploads"))
	s.Require().NoError(err)

	cfg := &domain.Config{
		Logging: domain.LoggingConfig{Level: "info"},
		Server:  domain.ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		Auth:    domain.AuthConfig{JWTSecret: "0123456789abcdef0123456789abcdef", Issuer: "test", TokenTTL: time.Hour},
		Storage: domain.StorageConfig{
			UploadDir:         s.blobs.Dir(),
			MaxFileSize:       config.DefaultMaxFileSize,
			AllowedExtensions: config.DefaultAllowedExtensions,
			MaxBatchSize:      10,
		},
		Inference: domain.InferenceConfig{MaxConcurrency: 2},
	}

	tokens, err := auth.NewTokenIssuer(cfg.Auth)
	s.Require().NoError(err)

	s.classifier = new(MockClassifier)
	s.users = service.NewUserService(store, tokens, bcrypt.MinCost, s.logger)
	predictions := service.NewPredictionService(store, store, s.classifier, s.blobs, cfg.Storage, cfg.Inference, s.logger)

	checker := health.NewHealthChecker(health.HealthConfig{Version: "test"}, s.logger)
	checker.RegisterCheck(health.NewDatabaseHealthCheck(store, "sqlite"))
	checker.RegisterCheck(health.NewStorageHealthCheck(s.blobs.Dir(), s.blobs.Writable))

	s.handler = NewServer(cfg, Dependencies{Users: s.users, Predictions: predictions, Health: checker}, s.logger).Router()

	ctx := context.Background()
	_, err = s.users.EnsureAdmin(ctx, "admin@example.com", password)
	s.Require().NoError(err)
	doctor := &domain.User{Email: "doctor@example.com", Role: domain.DOCTOR, FirstName: "Dana", LastName: "House", LicenseNumber: "MD1", ApprovedByAdmin: true}
	_, err = s.users.EnsureUser(ctx, doctor, password)
	s.Require().NoError(err)
	s.doctorID = doctor.ID
	for _, email := range []string{"patient@example.com", "other@example.com"} {
		_, err = s.users.EnsureUser(ctx, &domain.User{Email: email, Role: domain.PATIENT, FirstName: "Pat", LastName: "Ient"}, password)
		s.Require().NoError(err)
	}

	s.adminToken = s.login("admin@example.com", "admin")
	s.doctorToken = s.login("doctor@example.com", "doctor")
	s.patientToken = s.login("patient@example.com", "patient")
	s.otherToken = s.login("other@example.com", "patient")
}

func (s *ServerTestSuite) TearDownTest() {
	s.store.Close()
}

func (s *ServerTestSuite) expectClassification(label domain.PredictionLabel, confidence float64) {
	s.classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything).Return(&domain.InferenceResult{
		Label:              label,
		Confidence:         confidence,
		TumorProbability:   confidence,
		NoTumorProbability: 1 - confidence,
		ModelVersion:       "1.0",
	}, nil)
}

// do sends a JSON request and decodes the JSON response into a map.
func (s *ServerTestSuite) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return s.send(req, token)
}

func (s *ServerTestSuite) send(req *http.Request, token string) (int, map[string]interface{}) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func (s *ServerTestSuite) login(email, userType string) string {
	code, body := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": password, "user_type": userType,
	})
	s.Require().Equal(http.StatusOK, code, body)
	return body["token"].(string)
}

type filePart struct {
	name    string
	content string
}

func multipartRequest(t *testing.T, path, field string, files []filePart, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := writer.CreateFormFile(field, f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func (s *ServerTestSuite) predict(token string, file filePart) (int, map[string]interface{}) {
	return s.send(multipartRequest(s.T(), "/api/ml/predict", "image", []filePart{file}, nil), token)
}

func (s *ServerTestSuite) blobCount() int {
	entries, err := os.ReadDir(s.blobs.Dir())
	s.Require().NoError(err)
	return len(entries)
}

func (s *ServerTestSuite) TestHealth() {
	code, body := s.do(http.MethodGet, "/api/health", "", nil)
	s.Equal(http.StatusOK, code)
	s.Equal("healthy", body["status"])
	s.Contains(body["components"], "database")
}

func (s *ServerTestSuite) TestMetrics() {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "mri_http_requests_total")
}

func (s *ServerTestSuite) TestSignupLoginVerify() {
	code, body := s.do(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "New@Example.com", "password": "secret123", "first_name": "Nia",
		"last_name": "Ward", "phone": "555-0100", "date_of_birth": "1990-04-01", "gender": "female",
	})
	s.Require().Equal(http.StatusCreated, code, body)
	s.NotEmpty(body["user_id"])

	code, body = s.do(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "new@example.com", "password": "secret123", "first_name": "Nia", "last_name": "Ward", "phone": "1",
	})
	s.Equal(http.StatusConflict, code, body)

	code, body = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "new@example.com", "password": "secret123", "user_type": "patient",
	})
	s.Require().Equal(http.StatusOK, code, body)
	token := body["token"].(string)

	code, body = s.do(http.MethodPost, "/api/auth/verify-token", token, nil)
	s.Equal(http.StatusOK, code)
	s.Equal(true, body["valid"])
	user := body["user"].(map[string]interface{})
	s.Equal("new@example.com", user["email"])
	s.NotContains(user, "password_hash")
}

func (s *ServerTestSuite) TestLoginRejections() {
	ctx := context.Background()
	_, err := s.users.EnsureUser(ctx, &domain.User{Email: "pending@example.com", Role: domain.DOCTOR, FirstName: "P", LastName: "D"}, password)
	s.Require().NoError(err)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing fields", map[string]string{"email": "patient@example.com"}, http.StatusBadRequest},
		{"wrong password", map[string]string{"email": "patient@example.com", "password": "nope-nope", "user_type": "patient"}, http.StatusUnauthorized},
		{"wrong role", map[string]string{"email": "patient@example.com", "password": password, "user_type": "doctor"}, http.StatusUnauthorized},
		{"unknown email", map[string]string{"email": "ghost@example.com", "password": password, "user_type": "patient"}, http.StatusUnauthorized},
		{"unapproved doctor", map[string]string{"email": "pending@example.com", "password": password, "user_type": "doctor"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			code, body := s.do(http.MethodPost, "/api/auth/login", "", tt.body)
			s.Equal(tt.want, code)
			s.NotEmpty(body["error"])
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString("{not json"))
	code, _ := s.send(req, "")
	s.Equal(http.StatusBadRequest, code)
}

func (s *ServerTestSuite) TestRequiresToken() {
	code, body := s.do(http.MethodGet, "/api/ml/predictions", "", nil)
	s.Equal(http.StatusUnauthorized, code)
	s.Equal("Authorization token required", body["error"])

	code, _ = s.do(http.MethodGet, "/api/ml/predictions", "not-a-token", nil)
	s.Equal(http.StatusUnauthorized, code)
}

func (s *ServerTestSuite) TestPredictionLifecycle() {
	s.expectClassification(domain.TUMOR_DETECTED, 0.91)

	code, body := s.predict(s.patientToken, filePart{"brain.png", "png-bytes"})
	s.Require().Equal(http.StatusOK, code, body)
	id := body["prediction_id"].(string)
	result := body["result"].(map[string]interface{})
	s.Equal("tumor_detected", result["prediction"])
	s.InDelta(0.91, result["confidence"], 1e-9)

	code, body = s.do(http.MethodGet, "/api/ml/predictions", s.patientToken, nil)
	s.Equal(http.StatusOK, code)
	s.EqualValues(1, body["total"])

	code, body = s.do(http.MethodGet, "/api/ml/predictions/queue", s.doctorToken, nil)
	s.Equal(http.StatusOK, code)
	s.EqualValues(1, body["total"])

	code, _ = s.do(http.MethodGet, "/api/ml/predictions/queue", s.patientToken, nil)
	s.Equal(http.StatusForbidden, code)

	code, body = s.do(http.MethodGet, "/api/ml/predictions/"+id, s.doctorToken, nil)
	s.Require().Equal(http.StatusOK, code)
	prediction := body["prediction"].(map[string]interface{})
	s.Equal("pending_review", prediction["status"])
	s.Equal("patient@example.com", prediction["patient"].(map[string]interface{})["email"])

	code, _ = s.do(http.MethodGet, "/api/ml/predictions/"+id, s.otherToken, nil)
	s.Equal(http.StatusForbidden, code)
	code, _ = s.do(http.MethodGet, "/api/ml/predictions/does-not-exist", s.otherToken, nil)
	s.Equal(http.StatusNotFound, code)

	code, _ = s.do(http.MethodPut, "/api/ml/predictions/"+id+"/review", s.patientToken, map[string]string{"doctor_notes": "x"})
	s.Equal(http.StatusForbidden, code)

	code, body = s.do(http.MethodPut, "/api/ml/predictions/"+id+"/review", s.doctorToken, map[string]string{
		"doctor_notes": "Mass in left frontal lobe", "final_diagnosis": "Glioma", "status": "confirmed",
	})
	s.Require().Equal(http.StatusOK, code, body)
	prediction = body["prediction"].(map[string]interface{})
	s.Equal("confirmed", prediction["status"])
	s.Equal(true, prediction["reviewed_by_doctor"])
	s.Equal(s.doctorID, prediction["doctor_id"])

	code, body = s.do(http.MethodPut, "/api/ml/predictions/"+id+"/review", s.doctorToken, map[string]string{"status": "reviewed"})
	s.Equal(http.StatusBadRequest, code, body)

	code, body = s.do(http.MethodPut, "/api/ml/predictions/"+id+"/review", s.doctorToken, map[string]string{"status": "pending_review"})
	s.Equal(http.StatusBadRequest, code, body)

	code, body = s.do(http.MethodGet, "/api/ml/statistics", s.patientToken, nil)
	s.Require().Equal(http.StatusOK, code)
	stats := body["statistics"].(map[string]interface{})
	s.EqualValues(1, stats["total_predictions"])
	s.EqualValues(1, stats["reviewed_predictions"])
	s.EqualValues(100, stats["tumor_detection_rate"])
}

func (s *ServerTestSuite) TestPredictRejections() {
	s.expectClassification(domain.NO_TUMOR, 0.8)

	code, body := s.predict(s.patientToken, filePart{"malware.exe", "MZ"})
	s.Equal(http.StatusBadRequest, code)
	s.NotEmpty(body["error"])

	code, _ = s.predict(s.patientToken, filePart{"empty.png", ""})
	s.Equal(http.StatusBadRequest, code)

	req := multipartRequest(s.T(), "/api/ml/predict", "other", []filePart{{"scan.png", "x"}}, nil)
	code, body = s.send(req, s.patientToken)
	s.Equal(http.StatusBadRequest, code)
	s.Equal("No image file provided", body["error"])

	code, _ = s.predict(s.doctorToken, filePart{"scan.png", "x"})
	s.Equal(http.StatusForbidden, code)

	s.Equal(0, s.blobCount())
	s.classifier.AssertNotCalled(s.T(), "Classify", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServerTestSuite) TestPredictWithDoctor() {
	s.expectClassification(domain.NO_TUMOR, 0.8)

	req := multipartRequest(s.T(), "/api/ml/predict", "image", []filePart{{"scan.jpg", "jpg"}},
		map[string]string{"doctor_id": s.doctorID, "appointment_id": "apt-7"})
	code, body := s.send(req, s.patientToken)
	s.Require().Equal(http.StatusOK, code, body)

	code, body = s.do(http.MethodGet, "/api/ml/predictions", s.doctorToken, nil)
	s.Equal(http.StatusOK, code)
	s.EqualValues(1, body["total"])
	prediction := body["predictions"].([]interface{})[0].(map[string]interface{})
	s.Equal("apt-7", prediction["appointment_id"])
}

func (s *ServerTestSuite) TestBatchPredict() {
	s.expectClassification(domain.NO_TUMOR, 0.75)

	req := multipartRequest(s.T(), "/api/ml/batch-predict", "images", []filePart{
		{"a.png", "a"}, {"b.exe", "b"}, {"c.tiff", "c"},
	}, nil)
	code, body := s.send(req, s.patientToken)
	s.Require().Equal(http.StatusOK, code, body)
	s.EqualValues(2, body["total_processed"])
	s.EqualValues(1, body["total_failed"])

	items := body["predictions"].([]interface{})
	s.Require().Len(items, 3)
	s.Equal("a.png", items[0].(map[string]interface{})["filename"])
	s.NotEmpty(items[1].(map[string]interface{})["error"])
	s.Equal("no_tumor", items[2].(map[string]interface{})["result"])

	files := make([]filePart, 11)
	for i := range files {
		files[i] = filePart{"scan.png", "x"}
	}
	code, _ = s.send(multipartRequest(s.T(), "/api/ml/batch-predict", "images", files, nil), s.patientToken)
	s.Equal(http.StatusBadRequest, code)
}

func (s *ServerTestSuite) TestImageDownload() {
	s.expectClassification(domain.NO_TUMOR, 0.8)
	code, body := s.predict(s.patientToken, filePart{"scan.png", "png-bytes"})
	s.Require().Equal(http.StatusOK, code)
	id := body["prediction_id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/ml/predictions/"+id+"/image", nil)
	req.Header.Set("Authorization", "Bearer "+s.patientToken)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("png-bytes", w.Body.String())
	s.Equal("image/png", w.Header().Get("Content-Type"))
	s.Contains(w.Header().Get("Content-Disposition"), "attachment")

	code, _ = s.do(http.MethodGet, "/api/ml/predictions/"+id+"/image", s.otherToken, nil)
	s.Equal(http.StatusForbidden, code)

	entries, err := os.ReadDir(s.blobs.Dir())
	s.Require().NoError(err)
	s.Require().NoError(s.blobs.Delete(context.Background(), entries[0].Name()))
	code, _ = s.do(http.MethodGet, "/api/ml/predictions/"+id+"/image", s.patientToken, nil)
	s.Equal(http.StatusNotFound, code)
}

func (s *ServerTestSuite) TestAssignDoctor() {
	s.expectClassification(domain.NO_TUMOR, 0.8)
	_, body := s.predict(s.patientToken, filePart{"scan.png", "x"})
	id := body["prediction_id"].(string)

	code, _ := s.do(http.MethodPut, "/api/ml/predictions/"+id+"/doctor", s.patientToken, map[string]string{"doctor_id": s.doctorID})
	s.Equal(http.StatusForbidden, code)

	code, body = s.do(http.MethodPut, "/api/ml/predictions/"+id+"/doctor", s.adminToken, map[string]string{"doctor_id": s.doctorID})
	s.Require().Equal(http.StatusOK, code, body)
	s.Equal(s.doctorID, body["prediction"].(map[string]interface{})["doctor_id"])

	code, body = s.do(http.MethodGet, "/api/ml/predictions/queue", s.doctorToken, nil)
	s.Equal(http.StatusOK, code)
	s.EqualValues(0, body["total"])
}

func (s *ServerTestSuite) TestAdminEndpoints() {
	code, body := s.do(http.MethodPost, "/api/admin/doctors", s.adminToken, map[string]interface{}{
		"email": "neuro@example.com", "password": "doctor123", "first_name": "Neil",
		"last_name": "Rao", "specialization": "Neurology", "license_number": "MD777", "experience_years": 9,
	})
	s.Require().Equal(http.StatusCreated, code, body)
	newID := body["user"].(map[string]interface{})["id"].(string)
	s.Equal(true, body["user"].(map[string]interface{})["approved_by_admin"])

	code, _ = s.do(http.MethodPost, "/api/admin/doctors", s.patientToken, map[string]string{"email": "x@example.com"})
	s.Equal(http.StatusForbidden, code)

	code, body = s.do(http.MethodGet, "/api/admin/users?role=doctor", s.adminToken, nil)
	s.Equal(http.StatusOK, code)
	s.EqualValues(2, body["total"])

	code, _ = s.do(http.MethodGet, "/api/admin/users", s.doctorToken, nil)
	s.Equal(http.StatusForbidden, code)

	code, _ = s.do(http.MethodPost, "/api/admin/doctors/"+newID+"/approve", s.adminToken, nil)
	s.Equal(http.StatusOK, code)

	code, _ = s.do(http.MethodPut, "/api/admin/users/"+newID+"/active", s.adminToken, map[string]interface{}{})
	s.Equal(http.StatusBadRequest, code)

	code, body = s.do(http.MethodPut, "/api/admin/users/"+newID+"/active", s.adminToken, map[string]bool{"is_active": false})
	s.Require().Equal(http.StatusOK, code, body)
	s.Equal(false, body["user"].(map[string]interface{})["is_active"])

	code, _ = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "neuro@example.com", "password": "doctor123", "user_type": "doctor",
	})
	s.Equal(http.StatusUnauthorized, code)
}

func (s *ServerTestSuite) TestProfile() {
	code, body := s.do(http.MethodGet, "/api/users/me", s.patientToken, nil)
	s.Require().Equal(http.StatusOK, code)
	s.Equal("patient@example.com", body["user"].(map[string]interface{})["email"])

	code, body = s.do(http.MethodPut, "/api/users/me", s.patientToken, map[string]string{"phone": "555-0199", "date_of_birth": "1985-02-03"})
	s.Require().Equal(http.StatusOK, code, body)
	s.Equal("555-0199", body["user"].(map[string]interface{})["phone"])

	code, _ = s.do(http.MethodPut, "/api/users/me", s.patientToken, map[string]string{"date_of_birth": "03/02/1985"})
	s.Equal(http.StatusBadRequest, code)
}

func (s *ServerTestSuite) TestModelInfo() {
	code, body := s.do(http.MethodGet, "/api/ml/model-info", s.doctorToken, nil)
	s.Require().Equal(http.StatusOK, code)
	s.Equal("1.0", body["model_info"].(map[string]interface{})["model_version"])
}
