package domain

import (
	"context"
	"io"
)

// PredictionStore defines durable keyed storage over prediction records.
// Unknown IDs fail with ErrNotFound; backend failures wrap ErrStorageUnavailable.
// Listings are ordered newest first, ties broken by insertion sequence.
type PredictionStore interface {
	Create(ctx context.Context, record *PredictionRecord) (string, error)
	GetByID(ctx context.Context, id string) (*PredictionRecord, error)
	ListByPatient(ctx context.Context, patientID string) ([]*PredictionRecord, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]*PredictionRecord, error)
	ListUnassigned(ctx context.Context) ([]*PredictionRecord, error)
	ListAll(ctx context.Context) ([]*PredictionRecord, error)
	UpdateReview(ctx context.Context, id string, update ReviewUpdate) error
	AssignDoctor(ctx context.Context, id, doctorID string) error
	AggregateStats(ctx context.Context, scope StatsScope) (*PredictionStats, error)
}

// UserStore defines persistence for identity records.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]*User, error)
	SetApproved(ctx context.Context, id string, approved bool) error
	SetActive(ctx context.Context, id string, active bool) error
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) error
}

// BlobStore keeps uploaded images.
type BlobStore interface {
	Save(ctx context.Context, r io.Reader, originalName string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Classifier is the inference capability: image bytes in, label, probabilities
// and band intensity summary out.
type Classifier interface {
	Classify(ctx context.Context, data []byte, ext string) (*InferenceResult, error)
	ModelInfo() ModelInfo
}
