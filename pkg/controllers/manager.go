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

package controllers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// ControllerStatus represents the status of a controller
type ControllerStatus struct {
	Name          string    `json:"name"`
	Kind          string    `json:"kind"`
	Started       bool      `json:"started"`
	Synced        bool      `json:"synced"`
	EventsHandled int64     `json:"eventsHandled"`
	Errors        int64     `json:"errors"`
	LastError     string    `json:"lastError,omitempty"`
	LastErrorTime time.Time `json:"lastErrorTime,omitempty"`
}

// ControllerManager starts controllers in registration order and closes them
// in reverse order.
type ControllerManager struct {
	controllers []Controller
	log         logr.Logger

	mu      sync.Mutex
	started []Controller
}

// NewControllerManager creates a manager for controllers, which start in the
// order given: the job controller first, then deployments, then namespaces.
func NewControllerManager(log logr.Logger, controllers ...Controller) *ControllerManager {
	return &ControllerManager{
		controllers: controllers,
		log:         log.WithName("controller-manager"),
	}
}

// Start starts every controller. When one fails, the ones already started are
// closed again.
func (cm *ControllerManager) Start(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if len(cm.started) > 0 {
		return ErrAlreadyStarted
	}

	for _, c := range cm.controllers {
		if err := c.Start(ctx); err != nil {
			closeErr := cm.closeLocked()
			return errors.Join(fmt.Errorf("failed to start %s: %w", c.Name(), err), closeErr)
		}
		cm.started = append(cm.started, c)
	}
	cm.log.Info("Started controllers", "count", len(cm.started))
	return nil
}

// Close closes the started controllers in reverse start order.
func (cm *ControllerManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.closeLocked()
}

func (cm *ControllerManager) closeLocked() error {
	var errs []error
	for i := len(cm.started) - 1; i >= 0; i-- {
		c := cm.started[i]
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", c.Name(), err))
		}
	}
	cm.started = nil
	return errors.Join(errs...)
}

// Synced reports whether every controller has applied its first list.
func (cm *ControllerManager) Synced() bool {
	for _, c := range cm.controllers {
		if !c.Synced() {
			return false
		}
	}
	return true
}

// WaitForSync blocks until Synced or ctx is done.
func (cm *ControllerManager) WaitForSync(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for !cm.Synced() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("controllers did not sync: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// GetControllerStatus returns the status of all registered controllers
func (cm *ControllerManager) GetControllerStatus() map[string]ControllerStatus {
	status := make(map[string]ControllerStatus, len(cm.controllers))
	for _, c := range cm.controllers {
		status[c.Name()] = c.Status()
	}
	return status
}

// Controllers returns the managed controllers in start order.
func (cm *ControllerManager) Controllers() []Controller {
	return append([]Controller(nil), cm.controllers...)
}
