package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mobile-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

const checkTimeout = 5 * time.Second

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check represents a health check function
type Check func(ctx context.Context) (Status, string, error)

// Checker manages health checks for the system
type Checker struct {
	checks      map[string]Check
	components  map[string]*Component
	critical    map[string]bool
	checkPeriod time.Duration
	mutex       sync.RWMutex
	log         *logger.Logger
}

// NewChecker creates a new health checker. A critical component that is down
// makes the whole system unhealthy.
func NewChecker(log *logger.Logger, checkPeriod time.Duration, critical ...string) *Checker {
	if log == nil {
		log = logger.GetGlobal()
	}
	checker := &Checker{
		checks:      make(map[string]Check),
		components:  make(map[string]*Component),
		critical:    make(map[string]bool, len(critical)),
		checkPeriod: checkPeriod,
		log:         log.WithComponent("health"),
	}
	for _, name := range critical {
		checker.critical[name] = true
	}

	checker.RegisterCheck("self", func(context.Context) (Status, string, error) {
		return StatusUp, "Health checker is running", nil
	})

	return checker
}

// RegisterCheck registers a new health check
func (c *Checker) RegisterCheck(name string, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = check
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Description: "Not checked yet",
	}
}

// RunChecks executes all registered health checks. Checks run without the lock held.
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mutex.RUnlock()

	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		status, description, err := check(checkCtx)
		cancel()

		c.mutex.Lock()
		component := c.components[name]
		component.Status = status
		component.Description = description
		component.LastChecked = time.Now()
		if err != nil {
			component.Error = err.Error()
		} else {
			component.Error = ""
		}
		c.mutex.Unlock()

		if err != nil {
			c.log.Error("Health check failed",
				"component", name,
				"status", string(status),
				"error", err.Error(),
			)
		} else {
			c.log.Debug("Health check completed",
				"component", name,
				"status", string(status),
			)
		}
	}
}

// Start runs checks immediately and then periodically until ctx is cancelled
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		period := c.checkPeriod
		if period <= 0 {
			period = 30 * time.Second
		}
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunChecks(ctx)
			}
		}
	}()
}

// GetStatus returns a copy of the current component statuses
func (c *Checker) GetStatus() map[string]*Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]*Component, len(c.components))
	for k, v := range c.components {
		componentCopy := *v
		result[k] = &componentCopy
	}
	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, component := range c.components {
		if component.Status == StatusDown && c.critical[component.Name] {
			return false
		}
	}
	return true
}

// Handler serves the component statuses, with 503 when a critical component is down
func (c *Checker) Handler(version string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status := http.StatusOK
		overall := "ok"
		if !c.IsSystemHealthy() {
			status = http.StatusServiceUnavailable
			overall = "unavailable"
		}

		ctx.JSON(status, gin.H{
			"status":     overall,
			"version":    version,
			"timestamp":  time.Now().Format(time.RFC3339),
			"components": c.GetStatus(),
		})
	}
}

// RegisterPingCheck registers a check that is up when ping succeeds
func (c *Checker) RegisterPingCheck(name string, ping func(ctx context.Context) error) {
	c.RegisterCheck(name, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDown, fmt.Sprintf("%s is unreachable", name), err
		}
		return StatusUp, fmt.Sprintf("%s is reachable", name), nil
	})
}

// RegisterRelayCheck reports the number of connected relay clients
func (c *Checker) RegisterRelayCheck(activeConnections func() int) {
	c.RegisterCheck("relay", func(context.Context) (Status, string, error) {
		return StatusUp, fmt.Sprintf("%d active connections", activeConnections()), nil
	})
}
