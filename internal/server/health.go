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

// Package server provides the HTTP endpoints of the EdnaJob controller:
// health and readiness probes, Prometheus metrics and controller status.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// SyncChecker reports whether the controllers have applied their first list.
type SyncChecker interface {
	Synced() bool
}

// HealthChecker provides health checking functionality for the controller
type HealthChecker struct {
	kubeClient kubernetes.Interface
	startTime  time.Time
	namespace  string

	mu              sync.RWMutex
	sync            SyncChecker
	leader          func() bool
	unhealthyReason string
	notReadyReason  string
	kubernetesDown  bool
}

// NewHealthChecker creates a health checker. namespace is where EdnaJobs are
// watched; readiness requires it to be readable.
func NewHealthChecker(kubeClient kubernetes.Interface, namespace string) *HealthChecker {
	return &HealthChecker{
		kubeClient: kubeClient,
		startTime:  time.Now(),
		namespace:  namespace,
	}
}

// SetSyncChecker sets the source of controller sync state.
func (h *HealthChecker) SetSyncChecker(s SyncChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sync = s
}

// SetLeaderCheck makes readiness depend on holding the leader lease.
func (h *HealthChecker) SetLeaderCheck(isLeader func() bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leader = isLeader
}

// HealthzHandler implements the /healthz endpoint. It reports healthy while
// the process serves requests unless marked otherwise.
func (h *HealthChecker) HealthzHandler(c *gin.Context) {
	h.mu.RLock()
	unhealthyReason := h.unhealthyReason
	h.mu.RUnlock()

	uptime := time.Since(h.startTime).String()
	if unhealthyReason != "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"reason": unhealthyReason,
			"uptime": uptime,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": uptime,
	})
}

// ReadyzHandler implements the /readyz endpoint
// Returns 200 OK only once the controllers have synced and the API is reachable
func (h *HealthChecker) ReadyzHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	checks, ready := h.runReadinessChecks(ctx)

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status": status,
		"checks": checks,
		"uptime": time.Since(h.startTime).String(),
	})
}

func (h *HealthChecker) runReadinessChecks(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	notReadyReason := h.notReadyReason
	kubernetesDown := h.kubernetesDown
	syncChecker := h.sync
	leader := h.leader
	h.mu.RUnlock()

	checks := make(map[string]string)
	ready := true

	if notReadyReason != "" {
		checks["manual-check"] = fmt.Sprintf("not ready: %s", notReadyReason)
		ready = false
	}

	if kubernetesDown {
		checks["kubernetes-api"] = "manually marked as unavailable"
		ready = false
	} else {
		if err := h.checkKubernetesAPI(ctx); err != nil {
			checks["kubernetes-api"] = fmt.Sprintf("failed: %v", err)
			ready = false
		} else {
			checks["kubernetes-api"] = "ok"
		}
		if err := h.checkNamespaceAccess(ctx); err != nil {
			checks["namespace-access"] = fmt.Sprintf("failed: %v", err)
			ready = false
		} else {
			checks["namespace-access"] = "ok"
		}
	}

	switch {
	case syncChecker == nil:
		checks["controllers"] = "not registered"
		ready = false
	case !syncChecker.Synced():
		checks["controllers"] = "waiting for initial sync"
		ready = false
	default:
		checks["controllers"] = "synced"
	}

	if leader != nil {
		if leader() {
			checks["leader-election"] = "leading"
		} else {
			checks["leader-election"] = "standby"
			ready = false
		}
	}

	return checks, ready
}

// SetUnhealthy sets the health handler to unhealthy state
func (h *HealthChecker) SetUnhealthy(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unhealthyReason = reason
}

// SetNotReady sets the health handler to not ready state
func (h *HealthChecker) SetNotReady(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notReadyReason = reason
}

// SetKubernetesUnavailable sets Kubernetes as unavailable
func (h *HealthChecker) SetKubernetesUnavailable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kubernetesDown = true
}

// ClearUnhealthy clears the unhealthy state
func (h *HealthChecker) ClearUnhealthy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unhealthyReason = ""
}

// ClearNotReady clears the not ready state
func (h *HealthChecker) ClearNotReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notReadyReason = ""
}

// ClearKubernetesUnavailable clears the Kubernetes unavailable state
func (h *HealthChecker) ClearKubernetesUnavailable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kubernetesDown = false
}

// checkKubernetesAPI verifies we can communicate with the Kubernetes API server
func (h *HealthChecker) checkKubernetesAPI(_ context.Context) error {
	if h.kubeClient == nil {
		return fmt.Errorf("kubernetes client not initialized")
	}

	// Try to get server version - lightweight API call
	_, err := h.kubeClient.Discovery().ServerVersion()
	if err != nil {
		return fmt.Errorf("failed to connect to kubernetes API: %w", err)
	}

	return nil
}

// checkNamespaceAccess verifies the job namespace is readable
func (h *HealthChecker) checkNamespaceAccess(ctx context.Context) error {
	if h.namespace == "" {
		return fmt.Errorf("namespace not configured")
	}

	_, err := h.kubeClient.CoreV1().Namespaces().Get(ctx, h.namespace, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to access namespace %s: %w", h.namespace, err)
	}

	return nil
}
