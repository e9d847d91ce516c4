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

package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/graitdm/ednajob-controller/pkg/controllers"
	"github.com/graitdm/ednajob-controller/pkg/metrics"
)

// StatusProvider exposes per-controller runtime state.
type StatusProvider interface {
	GetControllerStatus() map[string]controllers.ControllerStatus
}

// StatusHandler serves /status.
type StatusHandler struct {
	provider  StatusProvider
	collector *metrics.Collector
}

// NewStatusHandler creates a status handler. collector may be nil.
func NewStatusHandler(provider StatusProvider, collector *metrics.Collector) *StatusHandler {
	return &StatusHandler{provider: provider, collector: collector}
}

// Handle writes the controller status and a metrics snapshot as JSON.
func (s *StatusHandler) Handle(c *gin.Context) {
	if s.provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "controllers not started",
		})
		return
	}

	body := gin.H{
		"time":        time.Now().UTC().Format(time.RFC3339),
		"controllers": s.provider.GetControllerStatus(),
	}
	if s.collector != nil {
		body["metrics"] = s.collector.GetMetricsSnapshot()
	}
	c.JSON(http.StatusOK, body)
}
