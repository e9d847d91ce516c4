// Package controllers provides utilities for enhanced structured logging in controllers
package controllers

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/graitdm/ednajob-controller/pkg/events"
)

// LoggingContext contains structured logging fields for one handled event
type LoggingContext struct {
	Controller string `json:"controller"`
	Kind       string `json:"kind"`
	Namespace  string `json:"namespace"`
	Name       string `json:"name"`
	Event      string `json:"event"`
	EventID    string `json:"event_id"`
}

// ControllerLogger provides enhanced structured logging for controllers
type ControllerLogger struct {
	logr.Logger
	Context LoggingContext
}

// NewControllerLogger creates a logger with controller-specific structured fields
func NewControllerLogger(base logr.Logger, controllerName, kind string, eventType events.EventType, obj metav1.Object) *ControllerLogger {
	loggingContext := LoggingContext{
		Controller: controllerName,
		Kind:       kind,
		Namespace:  obj.GetNamespace(),
		Name:       obj.GetName(),
		Event:      string(eventType),
		EventID:    uuid.New().String()[:8], // Short UUID for readability
	}

	structuredLogger := base.WithValues(
		"controller", loggingContext.Controller,
		"kind", loggingContext.Kind,
		"namespace", loggingContext.Namespace,
		"name", loggingContext.Name,
		"event", loggingContext.Event,
		"event_id", loggingContext.EventID,
	)

	return &ControllerLogger{
		Logger:  structuredLogger,
		Context: loggingContext,
	}
}

// WithAction adds the job state machine action
func (cl *ControllerLogger) WithAction(state string, action jobAction) *ControllerLogger {
	return &ControllerLogger{
		Logger:  cl.Logger.WithValues("state", state, "action", string(action)),
		Context: cl.Context,
	}
}

// WithDuration adds timing information to log entries
func (cl *ControllerLogger) WithDuration(duration time.Duration) *ControllerLogger {
	return &ControllerLogger{
		Logger:  cl.Logger.WithValues("duration_ms", duration.Milliseconds()),
		Context: cl.Context,
	}
}

// WithError adds the error type
func (cl *ControllerLogger) WithError(err error) *ControllerLogger {
	return &ControllerLogger{
		Logger:  cl.Logger.WithValues("error_type", fmt.Sprintf("%T", err)),
		Context: cl.Context,
	}
}

// HandleStarted logs the start of event handling
func (cl *ControllerLogger) HandleStarted(msg string) {
	cl.Logger.V(1).Info(msg, "phase", "handle_started")
}

// HandleCompleted logs successful handling of an event
func (cl *ControllerLogger) HandleCompleted(msg string) {
	cl.Logger.Info(msg, "phase", "handle_completed")
}

// HandleFailed logs a failed event
func (cl *ControllerLogger) HandleFailed(err error, msg string) {
	cl.WithError(err).Logger.Error(err, msg, "phase", "handle_failed")
}

// StateTransition logs a job state change
func (cl *ControllerLogger) StateTransition(from, to string) {
	cl.Logger.Info("Job state changed",
		"phase", "state_transition",
		"from", from,
		"to", to,
	)
}

// NamespaceCheck logs the namespace cleanup decision
func (cl *ControllerLogger) NamespaceCheck(namespace string, deleted bool) {
	logger := cl.Logger.WithValues(
		"phase", "namespace_check",
		"application_namespace", namespace,
	)
	if deleted {
		logger.Info("Deleted empty application namespace")
	} else {
		logger.Info("Kept application namespace")
	}
}
