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

// Package metrics provides Prometheus metrics collection and recording
// for the EdnaJob controllers, dispatchers and factories.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/graitdm/ednajob-controller/pkg/events"
)

var (
	// Event stream metrics
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ednajob_events_total",
			Help: "Total number of events dispatched",
		},
		[]string{"kind", "type"},
	)

	handlerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ednajob_handler_errors_total",
			Help: "Total number of events whose listeners or handler failed",
		},
		[]string{"kind"},
	)

	storeObjects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ednajob_store_objects",
			Help: "Number of objects held in each store",
		},
		[]string{"kind"},
	)

	watchRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ednajob_watch_restarts_total",
			Help: "Total number of list/watch restarts",
		},
		[]string{"kind"},
	)

	// Job lifecycle metrics
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ednajob_state_transitions_total",
			Help: "Total number of EdnaJob state transitions handled",
		},
		[]string{"from", "to"},
	)

	deploymentsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ednajob_deployments_created_total",
			Help: "Total number of job deployments created",
		},
	)

	imageFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ednajob_image_failures_total",
			Help: "Total number of job images that could not be prepared",
		},
	)

	nameCollisions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ednajob_deployment_name_collisions_total",
			Help: "Total number of generated deployment names that were already taken",
		},
	)

	namespacesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ednajob_namespaces_created_total",
			Help: "Total number of application namespaces created",
		},
	)

	namespacesDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ednajob_namespaces_deleted_total",
			Help: "Total number of application namespaces deleted",
		},
	)

	leaderElectionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ednajob_leader_election_status",
			Help: "Current leader election status (1 for leader, 0 for follower)",
		},
		[]string{"identity"},
	)
)

func allCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		eventsTotal,
		handlerErrors,
		storeObjects,
		watchRestarts,
		stateTransitions,
		deploymentsCreated,
		imageFailures,
		nameCollisions,
		namespacesCreated,
		namespacesDeleted,
		leaderElectionStatus,
	}
}

// Collector records controller metrics. It implements events.Recorder.
type Collector struct {
	mutex      sync.RWMutex
	lastUpdate time.Time

	eventsHandled atomic.Int64
	errors        atomic.Int64
}

var _ events.Recorder = (*Collector)(nil)

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	// Unlabelled counters show up as zero before the first event.
	deploymentsCreated.Add(0)
	imageFailures.Add(0)
	nameCollisions.Add(0)
	namespacesCreated.Add(0)
	namespacesDeleted.Add(0)

	return &Collector{
		lastUpdate: time.Now(),
	}
}

// RegisterMetrics registers all metrics with the provided registry
func (c *Collector) RegisterMetrics(registry prometheus.Registerer) {
	if registry == nil {
		registry = metrics.Registry
	}

	// Duplicate registration happens across restarts and in tests.
	for _, collector := range allCollectors() {
		_ = registry.Register(collector)
	}
}

func (c *Collector) touch() {
	c.mutex.Lock()
	c.lastUpdate = time.Now()
	c.mutex.Unlock()
}

// RecordEvent counts one dispatched event.
func (c *Collector) RecordEvent(kind string, eventType events.EventType) {
	eventsTotal.WithLabelValues(kind, string(eventType)).Inc()
	c.eventsHandled.Add(1)
	c.touch()
}

// RecordHandlerError counts one event whose delivery failed.
func (c *Collector) RecordHandlerError(kind string) {
	handlerErrors.WithLabelValues(kind).Inc()
	c.errors.Add(1)
}

// RecordStoreSize sets the object count of a store.
func (c *Collector) RecordStoreSize(kind string, size int) {
	storeObjects.WithLabelValues(kind).Set(float64(size))
}

// RecordWatchRestart counts one list/watch restart.
func (c *Collector) RecordWatchRestart(kind string) {
	watchRestarts.WithLabelValues(kind).Inc()
}

// RecordStateTransition counts a job state transition.
func (c *Collector) RecordStateTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordDeploymentCreated counts a created job deployment.
func (c *Collector) RecordDeploymentCreated() {
	deploymentsCreated.Inc()
}

// RecordImageFailure counts a job image that could not be built or pushed.
func (c *Collector) RecordImageFailure() {
	imageFailures.Inc()
}

// RecordNameCollision counts a generated deployment name that was taken.
func (c *Collector) RecordNameCollision() {
	nameCollisions.Inc()
}

// RecordNamespaceCreated counts a created application namespace.
func (c *Collector) RecordNamespaceCreated() {
	namespacesCreated.Inc()
}

// RecordNamespaceDeleted counts a deleted application namespace.
func (c *Collector) RecordNamespaceDeleted() {
	namespacesDeleted.Inc()
}

// UpdateLeaderStatus updates the leader election gauge
func (c *Collector) UpdateLeaderStatus(identity string, isLeader bool) {
	if isLeader {
		leaderElectionStatus.WithLabelValues(identity).Set(1)
	} else {
		leaderElectionStatus.WithLabelValues(identity).Set(0)
	}
}

// GetMetricsSnapshot returns a snapshot of current metrics values
func (c *Collector) GetMetricsSnapshot() Snapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return Snapshot{
		LastUpdate:    c.lastUpdate,
		Timestamp:     time.Now(),
		EventsHandled: c.eventsHandled.Load(),
		HandlerErrors: c.errors.Load(),
	}
}

// Snapshot represents a point-in-time snapshot of metrics
type Snapshot struct {
	LastUpdate    time.Time `json:"lastUpdate"`
	Timestamp     time.Time `json:"timestamp"`
	EventsHandled int64     `json:"eventsHandled"`
	HandlerErrors int64     `json:"handlerErrors"`
}

// ResetMetrics resets all metrics (useful for testing)
func (c *Collector) ResetMetrics() {
	c.eventsHandled.Store(0)
	c.errors.Store(0)

	eventsTotal.Reset()
	handlerErrors.Reset()
	storeObjects.Reset()
	watchRestarts.Reset()
	stateTransitions.Reset()
	leaderElectionStatus.Reset()
}
