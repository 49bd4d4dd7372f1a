package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/database"
)

type HealthService struct {
	critical    map[string]func(context.Context) error
	nonCritical map[string]func(context.Context) error
	timeout     time.Duration
	logger      *logrus.Logger

	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
}

// NewHealthService checks PostgreSQL and the job Redis as critical; the
// neighbor cache and the graph mirror only degrade the service.
func NewHealthService(db *database.Database, reg prometheus.Registerer, logger *logrus.Logger) *HealthService {
	critical := map[string]func(context.Context) error{
		"postgresql": db.PG.Ping,
		"redis_jobs": func(ctx context.Context) error { return db.Redis.Jobs.Ping(ctx).Err() },
	}
	nonCritical := map[string]func(context.Context) error{
		"redis_cache": func(ctx context.Context) error { return db.Redis.Cache.Ping(ctx).Err() },
	}
	if db.Neo4j != nil {
		nonCritical["neo4j"] = db.Neo4j.VerifyConnectivity
	}
	return newHealthService(critical, nonCritical, reg, logger)
}

func newHealthService(critical, nonCritical map[string]func(context.Context) error, reg prometheus.Registerer, logger *logrus.Logger) *HealthService {
	hs := &HealthService{
		critical:    critical,
		nonCritical: nonCritical,
		timeout:     5 * time.Second,
		logger:      logger,
		healthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_check_status",
			Help: "Health check status (1 = healthy, 0 = unhealthy)",
		}, []string{"service"}),
		lastHealthCheck: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_check_timestamp",
			Help: "Timestamp of last health check",
		}, []string{"service"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{hs.healthCheckStatus, hs.lastHealthCheck} {
			// ignore if already registered
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					logger.WithError(err).Warn("Failed to register health metric")
				}
			}
		}
	}
	return hs
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	// Check critical services
	allCriticalHealthy := true
	for name, check := range s.critical {
		if err := s.run(ctx, check); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	// Check non-critical services
	for name, check := range s.nonCritical {
		if err := s.run(ctx, check); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	// Overall status
	if allCriticalHealthy {
		if len(status.NonCritical) == 0 {
			status.Status = "healthy"
		} else {
			status.Status = "degraded"
		}
	} else {
		status.Status = "unhealthy"
	}

	return status
}

func (s *HealthService) run(ctx context.Context, check func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return check(ctx)
}

// UpdateHealthMetrics updates health check metrics
func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
