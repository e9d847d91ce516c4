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

package metrics

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/graitdm/ednajob-controller/pkg/events"
)

var _ = Describe("Collector", func() {
	var collector *Collector

	BeforeEach(func() {
		collector = NewCollector()
		collector.ResetMetrics()
	})

	Describe("NewCollector", func() {
		It("should create a new collector with initialized timestamp", func() {
			c := NewCollector()
			Expect(c).NotTo(BeNil())
			Expect(c.lastUpdate).To(BeTemporally("~", time.Now(), time.Second))
		})
	})

	Describe("RegisterMetrics", func() {
		It("should register every metric once and tolerate repeats", func() {
			registry := prometheus.NewRegistry()
			collector.RegisterMetrics(registry)
			collector.RegisterMetrics(registry)

			collector.RecordEvent("EdnaJob", events.Added)
			collector.RecordStoreSize("EdnaJob", 1)

			families, err := registry.Gather()
			Expect(err).NotTo(HaveOccurred())

			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			Expect(names).To(ContainElements(
				"ednajob_events_total",
				"ednajob_store_objects",
				"ednajob_deployments_created_total",
				"ednajob_image_failures_total",
				"ednajob_deployment_name_collisions_total",
				"ednajob_namespaces_created_total",
				"ednajob_namespaces_deleted_total",
			))
		})
	})

	Describe("dispatcher recording", func() {
		It("should count events per kind and type", func() {
			collector.RecordEvent("EdnaJob", events.Added)
			collector.RecordEvent("EdnaJob", events.Added)
			collector.RecordEvent("Deployment", events.Deleted)

			Expect(testutil.ToFloat64(eventsTotal.WithLabelValues("EdnaJob", "ADD"))).To(Equal(2.0))
			Expect(testutil.ToFloat64(eventsTotal.WithLabelValues("Deployment", "DEL"))).To(Equal(1.0))
			Expect(collector.GetMetricsSnapshot().EventsHandled).To(Equal(int64(3)))
		})

		It("should count handler errors", func() {
			collector.RecordHandlerError("Namespace")
			Expect(testutil.ToFloat64(handlerErrors.WithLabelValues("Namespace"))).To(Equal(1.0))
			Expect(collector.GetMetricsSnapshot().HandlerErrors).To(Equal(int64(1)))
		})

		It("should track store sizes", func() {
			collector.RecordStoreSize("Deployment", 4)
			collector.RecordStoreSize("Deployment", 3)
			Expect(testutil.ToFloat64(storeObjects.WithLabelValues("Deployment"))).To(Equal(3.0))
		})

		It("should count watch restarts", func() {
			collector.RecordWatchRestart("EdnaJob")
			Expect(testutil.ToFloat64(watchRestarts.WithLabelValues("EdnaJob"))).To(Equal(1.0))
		})
	})

	Describe("job lifecycle recording", func() {
		It("should count state transitions", func() {
			collector.RecordStateTransition("UNDEFINED", "DEPLOYMENT_CREATION")
			Expect(testutil.ToFloat64(stateTransitions.WithLabelValues("UNDEFINED", "DEPLOYMENT_CREATION"))).To(Equal(1.0))
		})

		It("should count image failures", func() {
			before := testutil.ToFloat64(imageFailures)
			collector.RecordImageFailure()
			Expect(testutil.ToFloat64(imageFailures)).To(Equal(before + 1))
		})

		It("should count factory outcomes", func() {
			created := testutil.ToFloat64(deploymentsCreated)
			collisions := testutil.ToFloat64(nameCollisions)
			nsCreated := testutil.ToFloat64(namespacesCreated)
			nsDeleted := testutil.ToFloat64(namespacesDeleted)

			collector.RecordDeploymentCreated()
			collector.RecordNameCollision()
			collector.RecordNamespaceCreated()
			collector.RecordNamespaceDeleted()

			Expect(testutil.ToFloat64(deploymentsCreated)).To(Equal(created + 1))
			Expect(testutil.ToFloat64(nameCollisions)).To(Equal(collisions + 1))
			Expect(testutil.ToFloat64(namespacesCreated)).To(Equal(nsCreated + 1))
			Expect(testutil.ToFloat64(namespacesDeleted)).To(Equal(nsDeleted + 1))
		})
	})

	Describe("UpdateLeaderStatus", func() {
		It("should flip the leader gauge", func() {
			collector.UpdateLeaderStatus("pod-a", true)
			Expect(testutil.ToFloat64(leaderElectionStatus.WithLabelValues("pod-a"))).To(Equal(1.0))

			collector.UpdateLeaderStatus("pod-a", false)
			Expect(testutil.ToFloat64(leaderElectionStatus.WithLabelValues("pod-a"))).To(Equal(0.0))
		})
	})

	Describe("concurrency", func() {
		It("should handle concurrent recording safely", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					collector.RecordEvent("EdnaJob", events.Modified)
					_ = collector.GetMetricsSnapshot()
				}()
			}
			wg.Wait()
			Expect(collector.GetMetricsSnapshot().EventsHandled).To(Equal(int64(20)))
		})
	})
})
