// Package cache stores inference results keyed by image content so that a
// re-uploaded scan is not sent to the model server twice.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mri-screening-server/internal/domain"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mri_inference_cache_hits_total",
		Help: "Inference result cache hits.",
	}, []string{"backend"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mri_inference_cache_misses_total",
		Help: "Inference result cache misses.",
	}, []string{"backend"})
)

// Key derives the cache key for an image under a given model version.
func Key(data []byte, modelVersion string) string {
	sum := sha256.Sum256(data)
	return "mri:inference:" + modelVersion + ":" + hex.EncodeToString(sum[:])
}

// cachedResult wraps a result with its cache metadata
type cachedResult struct {
	Data      *domain.InferenceResult `json:"data"`
	CachedAt  time.Time               `json:"cached_at"`
	ExpiresAt time.Time               `json:"expires_at"`
}
