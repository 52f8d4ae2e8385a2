package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mri-screening-server/internal/access"
	"github.com/mri-screening-server/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type stubAuthenticator struct {
	user *domain.User
	err  error
}

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (*domain.User, access.Principal, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	if token != "good-token" {
		return nil, nil, fmt.Errorf("%w: invalid token", domain.ErrAuthentication)
	}
	p, err := access.FromUser(s.user)
	return s.user, p, err
}

func TestRequireAuth(t *testing.T) {
	user := &domain.User{ID: "u1", Role: domain.PATIENT, IsActive: true}

	tests := []struct {
		name       string
		header     string
		authErr    error
		wantStatus int
		wantBody   string
	}{
		{"missing header", "", nil, http.StatusUnauthorized, "Authorization token required"},
		{"wrong scheme", "Basic good-token", nil, http.StatusUnauthorized, "Authorization token required"},
		{"invalid token", "Bearer bad-token", nil, http.StatusUnauthorized, "invalid token"},
		{"valid token", "Bearer good-token", nil, http.StatusOK, "u1"},
		{"lowercase scheme", "bearer good-token", nil, http.StatusOK, "u1"},
		{"store down", "Bearer good-token", domain.ErrStorageUnavailable, http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(RequireAuth(stubAuthenticator{user: user, err: tt.authErr}, quietLogger()))
			router.GET("/me", func(c *gin.Context) {
				p, ok := CurrentPrincipal(c)
				require.True(t, ok)
				u, ok := CurrentUser(c)
				require.True(t, ok)
				assert.Equal(t, u.ID, p.UserID())
				c.String(http.StatusOK, p.UserID())
			})

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewValidationError("image", "No image file provided", nil), http.StatusBadRequest},
		{domain.ErrInvalidTransition, http.StatusBadRequest},
		{fmt.Errorf("%w: expired", domain.ErrAuthentication), http.StatusUnauthorized},
		{fmt.Errorf("%w: not yours", domain.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("prediction x: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrInferenceUnavailable, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), tt.err.Error())
	}
}

func TestRespondError_ValidationMessage(t *testing.T) {
	router := gin.New()
	router.GET("/", func(c *gin.Context) {
		RespondError(c, quietLogger(), domain.NewValidationError("image", "Invalid file type", "x.exe"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Invalid file type"}`, w.Body.String())
}

func TestCorrelationID(t *testing.T) {
	router := gin.New()
	router.Use(CorrelationID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CorrelationIDKey))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get("X-Correlation-ID")
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Correlation-ID"))
}

func TestSecurityHeaders(t *testing.T) {
	for _, hsts := range []bool{false, true} {
		router := gin.New()
		router.Use(SecurityHeaders(hsts))
		router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		assert.Equal(t, hsts, w.Header().Get("Strict-Transport-Security") != "", "hsts=%v", hsts)
	}
}

func TestRequestTimeout(t *testing.T) {
	router := gin.New()
	router.Use(RequestTimeout(20 * time.Millisecond))
	router.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})
	router.GET("/fast", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
	assert.Equal(t, http.StatusRequestTimeout, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fast", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS([]string{"http://localhost:3000"}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMetrics_UsesRouteTemplate(t *testing.T) {
	router := gin.New()
	router.Use(Metrics())
	router.GET("/api/ml/predictions/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ml/predictions/abc", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	counter, err := httpRequestsTotal.GetMetricWithLabelValues(http.MethodGet, "/api/ml/predictions/:id", "200")
	require.NoError(t, err)
	assert.NotNil(t, counter)
}
