// Package bootstrap wires the runtime, its monitoring endpoint and
// configuration reloading into an application with managed service
// lifecycles.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/najoast/actorrt/config"
	"github.com/najoast/actorrt/core"
)

// Service represents a service that can be managed by the lifecycle manager
type Service interface {
	// Start starts the service
	Start(ctx context.Context) error

	// Stop stops the service
	Stop(ctx context.Context) error

	// Health returns the health status of the service
	Health(ctx context.Context) (HealthStatus, error)

	// Name returns the service name
	Name() string
}

// HealthStatus represents the health status of a service
type HealthStatus struct {
	// State indicates whether the service is healthy
	State HealthState `json:"state"`

	// Message provides additional information about the health status
	Message string `json:"message,omitempty"`

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time `json:"last_check,omitempty"`

	// Data contains additional health information
	Data map[string]interface{} `json:"data,omitempty"`
}

// HealthState represents the health state of a service
type HealthState string

const (
	// HealthUnknown indicates the health status is unknown
	HealthUnknown HealthState = "unknown"

	// HealthStarting indicates the service is starting up
	HealthStarting HealthState = "starting"

	// HealthHealthy indicates the service is healthy and operational
	HealthHealthy HealthState = "healthy"

	// HealthUnhealthy indicates the service is unhealthy but may recover
	HealthUnhealthy HealthState = "unhealthy"

	// HealthStopped indicates the service has stopped
	HealthStopped HealthState = "stopped"
)

// LifecycleManager manages the lifecycle of services
type LifecycleManager interface {
	// Register registers a service with optional dependencies
	Register(name string, service Service, deps ...string) error

	// Start starts all services in dependency order
	Start(ctx context.Context) error

	// Stop stops all services in reverse dependency order
	Stop(ctx context.Context) error

	// Health returns the health status of all services
	Health(ctx context.Context) (map[string]HealthStatus, error)

	// Services returns all registered service names
	Services() []string

	// AddListener adds a lifecycle event listener
	AddListener(listener func(LifecycleEvent))
}

// Application is an actorrt process: a runtime plus the services around it.
type Application interface {
	// Run starts every service and blocks until ctx is done or the process
	// receives SIGINT or SIGTERM, then shuts down.
	Run(ctx context.Context) error

	// Shutdown stops every service in reverse dependency order
	Shutdown(ctx context.Context) error

	// Runtime returns the scheduler objects are spawned on
	Runtime() *core.Runtime

	// Config returns the configuration currently in effect
	Config() *config.Config

	// LifecycleManager returns the lifecycle manager
	LifecycleManager() LifecycleManager
}

// EventType identifies a lifecycle event.
type EventType string

const (
	EventServiceRegistered  EventType = "service.registered"
	EventServiceStarting    EventType = "service.starting"
	EventServiceStarted     EventType = "service.started"
	EventServiceStartFailed EventType = "service.start_failed"
	EventServiceStopping    EventType = "service.stopping"
	EventServiceStopped     EventType = "service.stopped"
	EventServiceStopFailed  EventType = "service.stop_failed"
	EventLifecycleStarted   EventType = "lifecycle.started"
	EventLifecycleStopped   EventType = "lifecycle.stopped"
)

// LifecycleEvent represents an event in the service lifecycle
type LifecycleEvent struct {
	Type      EventType              `json:"type"`
	Service   string                 `json:"service,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Error     error                  `json:"error,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ServiceError reports which service failed which lifecycle operation
type ServiceError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ServiceError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for service %s: %v", e.Operation, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
