package litestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mri-screening-server/internal/domain"
)

// PredictionExport is the JSON document written by ExportJSON.
type PredictionExport struct {
	Version     string                     `json:"version"`
	ExportedAt  time.Time                  `json:"exported_at"`
	Count       int                        `json:"count"`
	Predictions []*domain.PredictionRecord `json:"predictions"`
}

// ExportJSON writes every prediction record, newest first, as one JSON document.
func (s *Store) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list predictions: %w", err)
	}

	export := &PredictionExport{
		Version:     "1.0",
		ExportedAt:  time.Now().UTC(),
		Count:       len(all),
		Predictions: all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
