package handler

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/commercekit/paygate/infra/config"
	"github.com/commercekit/paygate/infra/response"
	"github.com/commercekit/paygate/provider"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db                *sql.DB
	paymentService    *provider.PaymentService
	providerConfig    *config.ProviderConfig
	openSearchEnabled bool
	startTime         time.Time
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status      string              `json:"status"`
	Version     string              `json:"version"`
	Timestamp   time.Time           `json:"timestamp"`
	Uptime      string              `json:"uptime"`
	Environment string              `json:"environment"`
	Database    *DatabaseHealth     `json:"database"`
	Providers   []string            `json:"providers"`
	Cache       provider.CacheStats `json:"cache"`
	System      *SystemHealth       `json:"system"`
	OpenSearch  bool                `json:"opensearch_enabled"`
}

// DatabaseHealth represents database health status
type DatabaseHealth struct {
	Status       string `json:"status"`
	Connected    bool   `json:"connected"`
	ResponseTime string `json:"response_time"`
	OpenConns    int    `json:"open_connections"`
	Error        string `json:"error,omitempty"`
}

// SystemHealth represents process resource usage
type SystemHealth struct {
	Alloc      uint64 `json:"alloc_bytes"`
	Sys        uint64 `json:"sys_bytes"`
	GCRuns     uint32 `json:"gc_runs"`
	GoRoutines int    `json:"goroutines"`
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *sql.DB, paymentService *provider.PaymentService, providerConfig *config.ProviderConfig, openSearchEnabled bool) *HealthHandler {
	return &HealthHandler{
		db:                db,
		paymentService:    paymentService,
		providerConfig:    providerConfig,
		openSearchEnabled: openSearchEnabled,
		startTime:         time.Now(),
	}
}

// CheckHealth reports service, database and provider registry health
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := &HealthStatus{
		Status:      "healthy",
		Version:     "1.0.0",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.startTime).String(),
		Environment: config.GetAppConfig().Environment,
		Database:    h.checkDatabase(ctx),
		Providers:   provider.DefaultRegistry.GetProviderNames(),
		Cache:       h.paymentService.CacheStats(),
		System:      collectSystemHealth(),
		OpenSearch:  h.openSearchEnabled,
	}

	statusCode := http.StatusOK
	if !health.Database.Connected {
		health.Status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response.WriteJSON(w, statusCode, response.Response{
		Code:    statusCode,
		Success: statusCode == http.StatusOK,
		Message: "Health check completed",
		Data:    health,
	})
}

// Liveness is the minimal probe endpoint for orchestrators.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "Service is alive", map[string]string{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) *DatabaseHealth {
	dbHealth := &DatabaseHealth{Status: "unavailable"}
	if h.db == nil {
		dbHealth.Error = "database not configured"
		return dbHealth
	}

	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		dbHealth.Error = err.Error()
		return dbHealth
	}

	dbHealth.Status = "healthy"
	dbHealth.Connected = true
	dbHealth.ResponseTime = time.Since(start).String()
	dbHealth.OpenConns = h.db.Stats().OpenConnections
	return dbHealth
}

func collectSystemHealth() *SystemHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return &SystemHealth{
		Alloc:      mem.Alloc,
		Sys:        mem.Sys,
		GCRuns:     mem.NumGC,
		GoRoutines: runtime.NumGoroutine(),
	}
}
