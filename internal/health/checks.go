package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Pinger is anything that can answer a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// DatabaseHealthCheck probes the record store.
type DatabaseHealthCheck struct {
	db      Pinger
	backend string
}

// NewDatabaseHealthCheck checks db, labelled with its backend name.
func NewDatabaseHealthCheck(db Pinger, backend string) *DatabaseHealthCheck {
	return &DatabaseHealthCheck{db: db, backend: backend}
}

func (d *DatabaseHealthCheck) Name() string { return "database" }

func (d *DatabaseHealthCheck) Check(ctx context.Context) ComponentHealth {
	return probe(ctx, d.Name(), d.db, "Database connection healthy", "Database connection failed",
		map[string]interface{}{"backend": d.backend})
}

// RedisHealthCheck probes the inference result cache.
type RedisHealthCheck struct {
	client *redis.Client
}

// NewRedisHealthCheck checks client.
func NewRedisHealthCheck(client *redis.Client) *RedisHealthCheck {
	return &RedisHealthCheck{client: client}
}

func (r *RedisHealthCheck) Name() string { return "redis" }

func (r *RedisHealthCheck) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	if r.client == nil {
		return ComponentHealth{
			Name:        r.Name(),
			Status:      HealthStateUnhealthy,
			Message:     "Redis client not configured",
			LastChecked: time.Now(),
			Duration:    time.Since(start),
			Error:       "redis client is nil",
		}
	}

	pinger := PingFunc(func(ctx context.Context) error { return r.client.Ping(ctx).Err() })
	stats := r.client.PoolStats()
	return probe(ctx, r.Name(), pinger, "Redis connection healthy", "Redis connection failed",
		map[string]interface{}{
			"total_connections": stats.TotalConns,
			"idle_connections":  stats.IdleConns,
			"timeouts":          stats.Timeouts,
		})
}

// ModelServer is the view of the inference client the check needs.
type ModelServer interface {
	Ping(ctx context.Context) error
	State() gobreaker.State
	Version() string
}

// ModelServerHealthCheck probes the model server. An open circuit breaker is
// reported as a warning while the server itself answers.
type ModelServerHealthCheck struct {
	server ModelServer
}

// NewModelServerHealthCheck checks server.
func NewModelServerHealthCheck(server ModelServer) *ModelServerHealthCheck {
	return &ModelServerHealthCheck{server: server}
}

func (m *ModelServerHealthCheck) Name() string { return "model_server" }

func (m *ModelServerHealthCheck) Check(ctx context.Context) ComponentHealth {
	state := m.server.State()
	result := probe(ctx, m.Name(), m.server, "Model server healthy", "Model server unreachable",
		map[string]interface{}{
			"breaker_state": state.String(),
			"model_version": m.server.Version(),
		})
	if result.Status == HealthStateHealthy && state != gobreaker.StateClosed {
		result.Status = HealthStateWarning
		result.Message = "Model server circuit breaker is " + state.String()
	}
	return result
}

// StorageHealthCheck verifies the upload directory accepts writes.
type StorageHealthCheck struct {
	writable func() error
	dir      string
}

// NewStorageHealthCheck checks writable, reporting dir in the metadata.
func NewStorageHealthCheck(dir string, writable func() error) *StorageHealthCheck {
	return &StorageHealthCheck{writable: writable, dir: dir}
}

func (s *StorageHealthCheck) Name() string { return "image_storage" }

func (s *StorageHealthCheck) Check(ctx context.Context) ComponentHealth {
	pinger := PingFunc(func(context.Context) error { return s.writable() })
	return probe(ctx, s.Name(), pinger, "Image storage writable", "Image storage not writable",
		map[string]interface{}{"upload_dir": s.dir})
}

func probe(ctx context.Context, name string, p Pinger, okMsg, failMsg string, metadata map[string]interface{}) ComponentHealth {
	start := time.Now()
	err := p.Ping(ctx)
	result := ComponentHealth{
		Name:        name,
		Status:      HealthStateHealthy,
		Message:     okMsg,
		LastChecked: time.Now(),
		Duration:    time.Since(start),
		Metadata:    metadata,
	}
	if err != nil {
		result.Status = HealthStateUnhealthy
		result.Message = failMsg
		result.Error = err.Error()
	}
	return result
}
