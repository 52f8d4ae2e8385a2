package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Store bundles the PostgreSQL repositories so one value serves as both the
// prediction store and the user store.
type Store struct {
	*PredictionRepository
	*UserRepository
	pool *pgxpool.Pool
}

// NewStore creates both repositories over one pool.
func NewStore(pool *pgxpool.Pool, logger *logrus.Logger) *Store {
	return &Store{
		PredictionRepository: NewPredictionRepository(pool, logger),
		UserRepository:       NewUserRepository(pool, logger),
		pool:                 pool,
	}
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
