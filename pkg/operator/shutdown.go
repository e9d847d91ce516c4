/*
Copyright 2024 The EdnaJob Controller Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package operator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// ShutdownConfig contains configuration for graceful shutdown
type ShutdownConfig struct {
	// GracefulTimeout bounds the whole hook sequence
	GracefulTimeout time.Duration

	// PreShutdownDelay runs after readiness drops, before the first hook, so
	// endpoints stop routing to the pod
	PreShutdownDelay time.Duration
}

// DefaultShutdownConfig returns default shutdown configuration
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		GracefulTimeout:  30 * time.Second,
		PreShutdownDelay: 0,
	}
}

// ShutdownHook represents a function called during shutdown
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// ShutdownState represents the state of shutdown for a component
type ShutdownState int

const (
	ShutdownStateUnknown ShutdownState = iota
	ShutdownStateStarted
	ShutdownStateCompleted
	ShutdownStateFailed
)

func (s ShutdownState) String() string {
	switch s {
	case ShutdownStateStarted:
		return "started"
	case ShutdownStateCompleted:
		return "completed"
	case ShutdownStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ComponentShutdownState represents the shutdown state of a component
type ComponentShutdownState struct {
	Name      string
	State     ShutdownState
	StartTime time.Time
	EndTime   time.Time
	Error     error
}

// ShutdownManager runs registered hooks once, in registration order.
type ShutdownManager struct {
	config ShutdownConfig
	log    logr.Logger

	mu              sync.RWMutex
	preHooks        []namedHook
	hooks           []namedHook
	shutdownStarted bool
	shutdownReason  string
	shutdownTime    time.Time
	componentStates map[string]ComponentShutdownState
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(config ShutdownConfig, log logr.Logger) *ShutdownManager {
	return &ShutdownManager{
		config:          config,
		log:             log.WithName("shutdown-manager"),
		componentStates: make(map[string]ComponentShutdownState),
	}
}

// OnPreShutdown registers a hook that runs before the pre-shutdown delay.
func (sm *ShutdownManager) OnPreShutdown(name string, hook ShutdownHook) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.preHooks = append(sm.preHooks, namedHook{name: name, hook: hook})
}

// OnShutdown registers a hook that runs after the pre-shutdown delay.
func (sm *ShutdownManager) OnShutdown(name string, hook ShutdownHook) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, namedHook{name: name, hook: hook})
}

// Shutdown runs every hook. A failing hook does not stop the ones after it;
// the returned error joins all failures. Only the first call does any work.
func (sm *ShutdownManager) Shutdown(reason string) error {
	sm.mu.Lock()
	if sm.shutdownStarted {
		sm.mu.Unlock()
		return nil
	}
	sm.shutdownStarted = true
	sm.shutdownReason = reason
	sm.shutdownTime = time.Now()
	preHooks := append([]namedHook(nil), sm.preHooks...)
	hooks := append([]namedHook(nil), sm.hooks...)
	sm.mu.Unlock()

	sm.log.Info("Initiating graceful shutdown",
		"reason", reason,
		"graceful-timeout", sm.config.GracefulTimeout)

	ctx := context.Background()
	if sm.config.GracefulTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sm.config.GracefulTimeout)
		defer cancel()
	}

	errs := sm.runHooks(ctx, preHooks)

	if sm.config.PreShutdownDelay > 0 {
		sm.log.Info("Pre-shutdown delay", "delay", sm.config.PreShutdownDelay)
		select {
		case <-time.After(sm.config.PreShutdownDelay):
		case <-ctx.Done():
		}
	}

	errs = append(errs, sm.runHooks(ctx, hooks)...)

	if err := errors.Join(errs...); err != nil {
		sm.log.Error(err, "Graceful shutdown finished with errors", "duration", time.Since(sm.shutdownTime))
		return err
	}
	sm.log.Info("Graceful shutdown completed", "duration", time.Since(sm.shutdownTime))
	return nil
}

func (sm *ShutdownManager) runHooks(ctx context.Context, hooks []namedHook) []error {
	var errs []error
	for _, h := range hooks {
		sm.updateComponentState(h.name, ShutdownStateStarted, nil)
		if err := h.hook(ctx); err != nil {
			sm.updateComponentState(h.name, ShutdownStateFailed, err)
			errs = append(errs, fmt.Errorf("shutdown hook %s failed: %w", h.name, err))
			continue
		}
		sm.updateComponentState(h.name, ShutdownStateCompleted, nil)
	}
	return errs
}

func (sm *ShutdownManager) updateComponentState(componentName string, state ShutdownState, err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	existing, exists := sm.componentStates[componentName]
	if !exists {
		existing = ComponentShutdownState{
			Name:      componentName,
			StartTime: time.Now(),
		}
	}

	existing.State = state
	existing.Error = err
	if state == ShutdownStateCompleted || state == ShutdownStateFailed {
		existing.EndTime = time.Now()
	}

	sm.componentStates[componentName] = existing
}

// ShutdownStatus represents the current shutdown status
type ShutdownStatus struct {
	Started         bool
	Reason          string
	StartTime       time.Time
	ComponentStates map[string]ComponentShutdownState
}

// GetShutdownStatus returns the current shutdown status
func (sm *ShutdownManager) GetShutdownStatus() *ShutdownStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	components := make(map[string]ComponentShutdownState, len(sm.componentStates))
	for k, v := range sm.componentStates {
		components[k] = v
	}

	return &ShutdownStatus{
		Started:         sm.shutdownStarted,
		Reason:          sm.shutdownReason,
		StartTime:       sm.shutdownTime,
		ComponentStates: components,
	}
}

// IsCompleted returns true if shutdown is completed
func (ss *ShutdownStatus) IsCompleted() bool {
	if !ss.Started {
		return false
	}

	for _, state := range ss.ComponentStates {
		if state.State != ShutdownStateCompleted && state.State != ShutdownStateFailed {
			return false
		}
	}

	return true
}

// HasErrors returns true if any component failed during shutdown
func (ss *ShutdownStatus) HasErrors() bool {
	for _, state := range ss.ComponentStates {
		if state.State == ShutdownStateFailed || state.Error != nil {
			return true
		}
	}
	return false
}
