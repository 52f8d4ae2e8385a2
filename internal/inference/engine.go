package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mri-screening-server/internal/cache"
	"github.com/mri-screening-server/internal/domain"
	"github.com/mri-screening-server/internal/imaging"
)

// ResultCache stores classification outcomes by content key.
type ResultCache interface {
	Get(ctx context.Context, key string) (*domain.InferenceResult, bool, error)
	Set(ctx context.Context, key string, result *domain.InferenceResult) error
}

// Engine implements domain.Classifier on top of a Model.
type Engine struct {
	model             Model
	cache             ResultCache
	inputSize         int
	maxPixels         int
	inconclusiveBelow float64
	info              domain.ModelInfo
	log               *logrus.Logger
}

// NewEngine wires a model and an optional cache. cache may be nil.
func NewEngine(model Model, resultCache ResultCache, cfg domain.InferenceConfig, storage domain.StorageConfig, logger *logrus.Logger) *Engine {
	size := cfg.InputSize
	if size <= 0 {
		size = 224
	}
	maxPixels := cfg.MaxPixels
	if maxPixels <= 0 {
		maxPixels = imaging.DefaultMaxPixels
	}
	return &Engine{
		model:             model,
		cache:             resultCache,
		inputSize:         size,
		maxPixels:         maxPixels,
		inconclusiveBelow: cfg.InconclusiveBelow,
		info: domain.ModelInfo{
			ModelVersion:     model.Version(),
			ModelType:        "Convolutional Neural Network (CNN)",
			InputSize:        fmt.Sprintf("%dx%d pixels", size, size),
			SupportedFormats: storage.AllowedExtensions,
			MaxFileSize:      formatBytes(storage.MaxFileSize),
			Classes:          []string{"No Tumor", "Tumor Detected"},
			Description:      "Deep learning model trained for brain tumor detection in MRI images",
		},
		log: logger,
	}
}

// Decide picks the label for a [p_no_tumor, p_tumor] pair. Ties go to no_tumor.
// When the winning probability is below threshold the label is inconclusive,
// but the confidence stays the winning probability.
func Decide(noTumor, tumor, threshold float64) (domain.PredictionLabel, float64) {
	label, confidence := domain.NO_TUMOR, noTumor
	if tumor > noTumor {
		label, confidence = domain.TUMOR_DETECTED, tumor
	}
	if confidence < threshold {
		label = domain.INCONCLUSIVE
	}
	return label, confidence
}

// Classify decodes the image once, consults the cache and otherwise asks the
// model. The band intensity summary is computed from the same decoded image.
func (e *Engine) Classify(ctx context.Context, data []byte, ext string) (*domain.InferenceResult, error) {
	img, err := imaging.Decode(data, ext, e.maxPixels)
	if err != nil {
		return nil, err
	}

	key := cache.Key(data, e.model.Version())
	if e.cache != nil {
		cached, ok, err := e.cache.Get(ctx, key)
		if err != nil {
			e.log.WithError(err).Warn("Inference cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	tensor := imaging.NewTensor(img, e.inputSize)

	start := time.Now()
	probs, err := e.model.Predict(ctx, tensor)
	inferenceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		inferenceFailuresTotal.Inc()
		e.log.WithFields(logrus.Fields{
			"model_version": e.model.Version(),
			"error":         err,
		}).Error("Model prediction failed")
		if errors.Is(err, domain.ErrInferenceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInferenceUnavailable, err)
	}
	if len(probs) != 2 {
		inferenceFailuresTotal.Inc()
		return nil, fmt.Errorf("%w: model returned %d outputs", domain.ErrInferenceUnavailable, len(probs))
	}

	label, confidence := Decide(probs[0], probs[1], e.inconclusiveBelow)
	result := &domain.InferenceResult{
		Label:              label,
		Confidence:         confidence,
		TumorProbability:   probs[1],
		NoTumorProbability: probs[0],
		ModelVersion:       e.model.Version(),
		RegionAnalysis:     imaging.AnalyzeRegions(img),
	}
	predictionsTotal.WithLabelValues(string(label)).Inc()

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, result); err != nil {
			e.log.WithError(err).Warn("Inference cache write failed")
		}
	}

	return result, nil
}

// ModelInfo describes the classifier.
func (e *Engine) ModelInfo() domain.ModelInfo {
	info := e.info
	info.SupportedFormats = append([]string(nil), e.info.SupportedFormats...)
	info.Classes = append([]string(nil), e.info.Classes...)
	return info
}

func formatBytes(n int64) string {
	const mb = 1024 * 1024
	if n > 0 && n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
