package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aman-churiwal/velero-api/internal/circuitbreaker"
	"github.com/aman-churiwal/velero-api/internal/hub"
	"github.com/aman-churiwal/velero-api/internal/ratelimit"
	"github.com/aman-churiwal/velero-api/internal/scheduler"
)

// Handles system-related endpoints
type SystemHandler struct {
	breakers map[string]*circuitbreaker.CircuitBreaker
	gate     *ratelimit.Gate
	jobs     *scheduler.Registry
	hub      *hub.ConnectionManager
}

func NewSystemHandler(breakers map[string]*circuitbreaker.CircuitBreaker, gate *ratelimit.Gate, jobs *scheduler.Registry, manager *hub.ConnectionManager) *SystemHandler {
	return &SystemHandler{
		breakers: breakers,
		gate:     gate,
		jobs:     jobs,
		hub:      manager,
	}
}

// Returns the status of all circuit breakers
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	statuses := make(map[string]circuitbreaker.Metrics, len(h.breakers))
	for name, breaker := range h.breakers {
		statuses[name] = breaker.Metrics()
	}

	c.JSON(http.StatusOK, statuses)
}

// Manually resets a circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	name := c.Param("name")

	breaker, exists := h.breakers[name]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Circuit breaker not found",
		})
		return
	}

	breaker.Reset()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"name":    name,
	})
}

// Returns the configured rate limit windows
func (h *SystemHandler) RateLimits(c *gin.Context) {
	registry := h.gate.Registry()
	c.JSON(http.StatusOK, gin.H{
		"default": ratelimit.DefaultWindow(),
		"tiers":   registry.Tiers(),
		"custom":  registry.CustomRules(),
	})
}

// Returns the registered cron jobs and their elapsed counters
func (h *SystemHandler) CronJobs(c *gin.Context) {
	jobs := h.jobs.Jobs()
	out := make([]gin.H, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, gin.H{
			"endpoint":            job.Endpoint,
			"credential_required": job.CredentialRequired,
			"interval_seconds":    job.IntervalSeconds,
			"elapsed_seconds":     job.ElapsedSeconds,
			"due":                 job.Due(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":        out,
		"connections": h.hub.Count(),
	})
}
