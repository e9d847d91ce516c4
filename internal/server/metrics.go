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
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/graitdm/ednajob-controller/pkg/metrics"
)

// MetricsServer serves the controller metrics from its own registry and
// remembers how the last scrape went.
type MetricsServer struct {
	collector *metrics.Collector
	registry  *prometheus.Registry
	handler   http.Handler

	mu           sync.RWMutex
	lastGather   time.Time
	gatherTime   time.Duration
	gatherErr    error
	gatherFamily int
}

// NewMetricsServer creates a new metrics server instance
func NewMetricsServer(collector *metrics.Collector) *MetricsServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if collector != nil {
		collector.RegisterMetrics(registry)
	}

	m := &MetricsServer{
		collector: collector,
		registry:  registry,
	}
	m.handler = promhttp.HandlerFor(prometheus.GathererFunc(m.gather), promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      registry,
		Timeout:       30 * time.Second,
	})
	return m
}

func (m *MetricsServer) gather() ([]*dto.MetricFamily, error) {
	start := time.Now()
	families, err := m.registry.Gather()

	m.mu.Lock()
	m.lastGather = start
	m.gatherTime = time.Since(start)
	m.gatherErr = err
	m.gatherFamily = len(families)
	m.mu.Unlock()

	return families, err
}

// MetricsHandler implements the /metrics endpoint in Prometheus text format.
// Families that fail to collect are skipped.
func (m *MetricsServer) MetricsHandler(c *gin.Context) {
	gin.WrapH(m.handler)(c)
}

// HealthMetricsHandler reports the outcome of the last scrape
func (m *MetricsServer) HealthMetricsHandler(c *gin.Context) {
	m.mu.RLock()
	last, took, err, families := m.lastGather, m.gatherTime, m.gatherErr, m.gatherFamily
	m.mu.RUnlock()

	scrape := gin.H{
		"families":   families,
		"latency_ms": took.Milliseconds(),
	}
	if !last.IsZero() {
		scrape["last_scrape"] = last.Format(time.RFC3339)
	}

	health := gin.H{
		"status":      "healthy",
		"last_scrape": scrape,
	}
	if m.collector != nil {
		health["snapshot"] = m.collector.GetMetricsSnapshot()
	}

	statusCode := http.StatusOK
	if err != nil {
		scrape["error"] = err.Error()
		health["status"] = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, health)
}
