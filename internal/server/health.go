package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	dependencyHealthy     = "healthy"
	dependencyUnavailable = "unavailable"

	pingTimeout = 2 * time.Second
)

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// Health reports dependency state but stays 200: the API keeps serving in a
// degraded mode while the database or Redis is away.
func (s *Server) Health(c *gin.Context) {
	services := s.checkDependencies(c.Request.Context())
	c.JSON(http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Services:  services,
	})
}

// Ready fails while the database is unreachable so traffic is withheld.
func (s *Server) Ready(c *gin.Context) {
	services := s.checkDependencies(c.Request.Context())
	ready := services["database"] == dependencyHealthy
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ready":     ready,
		"timestamp": time.Now().UTC(),
		"services":  services,
	})
}

func (s *Server) checkDependencies(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	services := map[string]string{
		"database": dependencyHealthy,
		"redis":    dependencyHealthy,
	}

	if err := s.pingDB(ctx); err != nil {
		s.log.Warn("database health check failed", zap.Error(err))
		services["database"] = dependencyUnavailable
	}

	if s.redis == nil {
		services["redis"] = dependencyUnavailable
	} else if err := s.redis.Ping(ctx).Err(); err != nil {
		s.log.Warn("redis health check failed", zap.Error(err))
		services["redis"] = dependencyUnavailable
	}
	return services
}

func (s *Server) pingDB(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
