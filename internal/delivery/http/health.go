package http

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/pkg/httputil"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health status of a single component
type ComponentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the JSON response for health check
type HealthResponse struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// HealthHandler handles HTTP health check requests
type HealthHandler struct {
	store    domain.Store
	producer domain.EventProducer
	logger   zerolog.Logger
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(store domain.Store, producer domain.EventProducer, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		store:    store,
		producer: producer,
		logger:   logger.With().Str("handler", "health").Logger(),
	}
}

// Handle handles GET /health
func (h *HealthHandler) Handle(ctx *fasthttp.RequestCtx) {
	components := h.checkComponents(ctx)
	status := overallStatus(components)

	statusCode := fasthttp.StatusOK
	if status == HealthStatusUnhealthy {
		statusCode = fasthttp.StatusServiceUnavailable
	}

	logEvent := h.logger.Debug()
	if status != HealthStatusHealthy {
		logEvent = h.logger.Warn()
	}
	logEvent.
		Str("status", string(status)).
		Interface("components", components).
		Msg("health check completed")

	httputil.WriteRaw(ctx, HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: components,
	})
	// WriteRaw always writes 200; overwrite for unhealthy.
	ctx.SetStatusCode(statusCode)
}

func (h *HealthHandler) checkComponents(ctx *fasthttp.RequestCtx) []ComponentHealth {
	components := make([]ComponentHealth, 0, 3)

	accounts, err := h.store.ListAccounts(ctx)
	dbHealthy := err == nil
	dbMsg := ""
	if err != nil {
		dbMsg = "database unavailable"
	}
	components = append(components, ComponentHealth{
		Name:    "database",
		Healthy: dbHealthy,
		Message: dbMsg,
	})

	active := 0
	for _, a := range accounts {
		if a.IsActive && a.SessionCredential != "" {
			active++
		}
	}
	accountsHealthy := active > 0
	accountsMsg := ""
	if !accountsHealthy {
		accountsMsg = "no active Telegram accounts available"
	}
	components = append(components, ComponentHealth{
		Name:    "telegram_accounts",
		Healthy: accountsHealthy,
		Message: accountsMsg,
	})

	producerHealthy := h.producer != nil && h.producer.IsHealthy()
	producerMsg := ""
	if !producerHealthy {
		producerMsg = "event producer is not healthy"
	}
	components = append(components, ComponentHealth{
		Name:    "event_producer",
		Healthy: producerHealthy,
		Message: producerMsg,
	})

	return components
}

// overallStatus reduces component health to a single status. The event
// producer alone never makes the service unhealthy.
func overallStatus(components []ComponentHealth) HealthStatus {
	allHealthy := true
	coreHealthy := true
	for _, c := range components {
		if !c.Healthy {
			allHealthy = false
			if c.Name == "database" {
				coreHealthy = false
			}
		}
	}

	if allHealthy {
		return HealthStatusHealthy
	}
	if coreHealthy {
		return HealthStatusDegraded
	}
	return HealthStatusUnhealthy
}
