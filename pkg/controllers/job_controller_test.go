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
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
	"github.com/graitdm/ednajob-controller/pkg/events"
)

var _ = Describe("JobController", func() {
	var fx *jobFixture

	BeforeEach(func() {
		fx = newJobFixture()
	})

	Describe("new jobs", func() {
		It("should patch an UNDEFINED job to DEPLOYMENT_CREATION exactly once", func() {
			job := newJob("job1", "app1", "")
			Expect(fx.apply(events.Added, job)).To(Succeed())
			Expect(fx.patches()).To(Equal(1))
			Expect(fx.observed(job).State()).To(Equal(ednav1.StateDeploymentCreation))

			// the same instance replayed
			Expect(fx.controller.Dispatch(fx.ctx, events.Added, job)).To(Succeed())
			Expect(fx.patches()).To(Equal(1))
			Expect(fx.transitions.transitions).To(Equal([]string{"UNDEFINED->DEPLOYMENT_CREATION"}))
		})

		It("should not provision on the Added event", func() {
			Expect(fx.apply(events.Added, newJob("job1", "app1", ""))).To(Succeed())
			Expect(fx.kubeCalls("create")).To(BeEmpty())
			Expect(fx.builder.calls).To(BeEmpty())
		})

		It("should provision a job listed in DEPLOYMENT_CREATION after a restart", func() {
			Expect(fx.apply(events.Added, newJob("job1", "app1", ednav1.StateDeploymentCreation))).To(Succeed())
			Expect(fx.patches()).To(BeZero())
			Expect(fx.kubeCalls("create")).To(Equal([]string{"create namespaces", "create deployments"}))
			Expect(fx.builder.calls).To(Equal([]string{"job1"}))
		})

		It("should not provision a listed job that already has a deployment", func() {
			fx = newJobFixture(namespaceObject("app1"), labeledDeployment("app1", "job1-aaaaa", "job1"))
			fx.namespaces.Writer().Upsert(namespaceObject("app1"))
			fx.observeDeployments("app1")

			Expect(fx.apply(events.Added, newJob("job1", "app1", ednav1.StateDeploymentCreation))).To(Succeed())
			Expect(fx.kubeCalls("create")).To(BeEmpty())
			Expect(fx.builder.calls).To(BeEmpty())
		})

		It("should wait for the stores to sync before provisioning a listed job", func() {
			checks := 0
			fx.controller.deps.CachesSynced = func() bool {
				checks++
				return checks > 2
			}

			Expect(fx.apply(events.Added, newJob("job1", "app1", ednav1.StateDeploymentCreation))).To(Succeed())
			Expect(checks).To(Equal(3))
			Expect(fx.kubeCalls("create")).To(Equal([]string{"create namespaces", "create deployments"}))
		})

		It("should give up provisioning when the stores never sync", func() {
			fx.controller.deps.CachesSynced = func() bool { return false }
			ctx, cancel := context.WithTimeout(fx.ctx, 50*time.Millisecond)
			defer cancel()
			fx.ctx = ctx

			err := fx.apply(events.Added, newJob("job1", "app1", ednav1.StateDeploymentCreation))
			Expect(err).To(MatchError(ContainSubstring("stores did not sync")))
			Expect(fx.kubeCalls("create")).To(BeEmpty())
		})
	})

	Describe("modified jobs", func() {
		It("should reject a transition back to UNDEFINED", func() {
			Expect(fx.apply(events.Modified, newJob("job1", "app1", ednav1.StateUndefined))).To(Succeed())
			Expect(fx.patches()).To(BeZero())
			Expect(fx.kubeCalls("create")).To(BeEmpty())
			Expect(fx.controller.Status().Errors).To(BeZero())
		})

		DescribeTable("should ignore reserved states",
			func(state ednav1.JobState) {
				Expect(fx.apply(events.Modified, newJob("job1", "app1", state))).To(Succeed())
				Expect(fx.patches()).To(BeZero())
				Expect(fx.kubeCalls("create")).To(BeEmpty())
				Expect(fx.builder.calls).To(BeEmpty())
			},
			Entry("READY", ednav1.StateReady),
			Entry("DEPLOYMENT_DELETION", ednav1.StateDeploymentDeletion),
		)

		It("should observe its own patch on the next Modified event", func() {
			job := newJob("job1", "app1", "")
			Expect(fx.apply(events.Added, job)).To(Succeed())

			next := fx.observed(job)
			Expect(next.State()).To(Equal(ednav1.StateDeploymentCreation))
			Expect(fx.controller.Dispatch(fx.ctx, events.Modified, next)).To(Succeed())
			Expect(fx.observeDeployments("app1")).To(HaveLen(1))
		})

		It("should create the namespace before the deployment", func() {
			Expect(fx.apply(events.Modified, newJob("job1", "app1", ednav1.StateDeploymentCreation))).To(Succeed())
			Expect(fx.kubeCalls("create")).To(Equal([]string{"create namespaces", "create deployments"}))
		})

		It("should not create a namespace the store already holds", func() {
			fx.namespaces.Writer().Upsert(namespaceObject("app1"))
			Expect(fx.apply(events.Modified, newJob("job1", "app1", ednav1.StateDeploymentCreation))).To(Succeed())
			Expect(fx.kubeCalls("create")).To(Equal([]string{"create deployments"}))
		})

		It("should create one deployment across repeated events", func() {
			job := newJob("job1", "app1", ednav1.StateDeploymentCreation)
			Expect(fx.apply(events.Modified, job)).To(Succeed())
			// not yet observed by the deployment store
			Expect(fx.controller.Dispatch(fx.ctx, events.Modified, job)).To(Succeed())
			Expect(fx.observeDeployments("app1")).To(HaveLen(1))

			Expect(fx.controller.Dispatch(fx.ctx, events.Modified, job)).To(Succeed())
			Expect(fx.observeDeployments("app1")).To(HaveLen(1))
			Expect(fx.builder.calls).To(HaveLen(1))
		})

		It("should report invalid jobs as handler errors", func() {
			job := newJob("job1", "app1", ednav1.StateDeploymentCreation)
			job.Spec.RegistryPort = ""

			Expect(fx.apply(events.Modified, job)).To(HaveOccurred())
			Expect(fx.kubeCalls("create")).To(BeEmpty())

			status := fx.controller.Status()
			Expect(status.Errors).To(Equal(int64(1)))
			Expect(status.LastError).To(ContainSubstring("invalid EdnaJob jobs/job1"))
		})

		It("should deploy the registry reference when the image cannot be prepared", func() {
			fx.builder.err = errors.New("daemon unreachable")

			Expect(fx.apply(events.Modified, newJob("job1", "app1", ednav1.StateDeploymentCreation))).To(Succeed())
			Expect(fx.kubeCalls("create")).To(Equal([]string{"create namespaces", "create deployments"}))
			Expect(fx.transitions.imageFailures).To(Equal(1))

			deployments := fx.observeDeployments("app1")
			Expect(deployments).To(HaveLen(1))
			Expect(deployments[0].Spec.Template.Spec.Containers[0].Image).To(Equal("registry.local:5000/app1-job1:v1"))
			Expect(fx.controller.Status().Errors).To(BeZero())
		})
	})

	Describe("deleted jobs", func() {
		It("should delete only the job's deployments and keep a shared namespace", func() {
			fx = newJobFixture(
				namespaceObject("app1"),
				labeledDeployment("app1", "job1-aaaaa", "job1"),
				labeledDeployment("app1", "job2-bbbbb", "job2"),
				labeledDeployment("other", "job1-ccccc", "job1"),
			)
			fx.namespaces.Writer().Upsert(namespaceObject("app1"))
			fx.observeDeployments("app1")
			fx.observeDeployments("other")

			job := newJob("job1", "app1", ednav1.StateDeploymentCreation)
			Expect(fx.apply(events.Added, job)).To(Succeed())
			Expect(fx.remove(job)).To(Succeed())

			Expect(deploymentNames(fx, "app1")).To(ConsistOf("job2-bbbbb"))
			Expect(deploymentNames(fx, "other")).To(ConsistOf("job1-ccccc"))
			Expect(fx.namespaceExists("app1")).To(BeTrue())
			Expect(fx.transitions.transitions).To(ContainElement("DEPLOYMENT_CREATION->DEPLOYMENT_DELETION"))
		})

		It("should delete the namespace when only the job's deployment remained", func() {
			fx = newJobFixture(namespaceObject("app1"), labeledDeployment("app1", "job1-aaaaa", "job1"))
			fx.namespaces.Writer().Upsert(namespaceObject("app1"))
			fx.observeDeployments("app1")

			job := newJob("job1", "app1", ednav1.StateDeploymentCreation)
			Expect(fx.apply(events.Added, job)).To(Succeed())
			Expect(fx.remove(job)).To(Succeed())

			Expect(deploymentNames(fx, "app1")).To(BeEmpty())
			Expect(fx.namespaceExists("app1")).To(BeFalse())
		})

		It("should delete the namespace when several of the job's deployments remained", func() {
			fx = newJobFixture(
				namespaceObject("app1"),
				labeledDeployment("app1", "job1-aaaaa", "job1"),
				labeledDeployment("app1", "job1-bbbbb", "job1"),
			)
			fx.namespaces.Writer().Upsert(namespaceObject("app1"))
			fx.observeDeployments("app1")

			job := newJob("job1", "app1", ednav1.StateDeploymentCreation)
			Expect(fx.apply(events.Added, job)).To(Succeed())
			Expect(fx.remove(job)).To(Succeed())

			Expect(deploymentNames(fx, "app1")).To(BeEmpty())
			Expect(fx.namespaceExists("app1")).To(BeFalse())
			Expect(fx.kubeCalls("delete")).To(Equal([]string{"delete deployments", "delete deployments", "delete namespaces"}))
		})

		It("should delete a deployment the store has not observed yet", func() {
			job := newJob("job1", "app1", ednav1.StateDeploymentCreation)
			Expect(fx.apply(events.Modified, job)).To(Succeed())
			Expect(deploymentNames(fx, "app1")).To(HaveLen(1))
			fx.namespaces.Writer().Upsert(namespaceObject("app1"))

			Expect(fx.remove(job)).To(Succeed())
			Expect(deploymentNames(fx, "app1")).To(BeEmpty())
			Expect(fx.namespaceExists("app1")).To(BeFalse())
		})

		It("should keep a namespace missing from the store", func() {
			fx = newJobFixture(namespaceObject("app1"))
			job := newJob("job1", "app1", ednav1.StateDeploymentCreation)
			Expect(fx.apply(events.Added, job)).To(Succeed())

			Expect(fx.remove(job)).To(Succeed())
			Expect(fx.namespaceExists("app1")).To(BeTrue())
		})
	})

	It("should run the whole lifecycle of a job", func() {
		job := newJob("job1", "app1", "")
		Expect(fx.apply(events.Added, job)).To(Succeed())
		Expect(fx.controller.Dispatch(fx.ctx, events.Modified, fx.observed(job))).To(Succeed())

		Expect(fx.namespaceExists("app1")).To(BeTrue())
		deployments := fx.observeDeployments("app1")
		Expect(deployments).To(HaveLen(1))
		d := deployments[0]

		Expect(d.Name).To(HavePrefix("job1-"))
		Expect(strings.TrimPrefix(d.Name, "job1-")).To(MatchRegexp(`^[a-z0-9]{5}$`))
		wantLabels := map[string]string{"app": "ednajob", "edna.graitdm.edu/ednajob": "job1"}
		Expect(d.Labels).To(Equal(wantLabels))
		Expect(d.Spec.Template.Labels).To(Equal(wantLabels))
		Expect(d.Spec.Selector.MatchLabels).To(Equal(wantLabels))
		Expect(*d.Spec.Replicas).To(Equal(int32(2)))
		Expect(d.Spec.Template.Spec.Containers).To(HaveLen(1))
		Expect(d.Spec.Template.Spec.Containers[0].Name).To(Equal(d.Name))
		Expect(d.Spec.Template.Spec.Containers[0].Image).To(Equal("registry.local:5000/app1-job1:v1"))
		Expect(d.OwnerReferences).To(ConsistOf(HaveField("UID", job.UID)))

		ns, err := fx.kube.CoreV1().Namespaces().Get(fx.ctx, "app1", metav1.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		fx.namespaces.Writer().Upsert(ns)

		Expect(fx.remove(fx.observed(job))).To(Succeed())
		Expect(fx.kubeCalls("delete")).To(Equal([]string{"delete deployments", "delete namespaces"}))
		Expect(fx.namespaceExists("app1")).To(BeFalse())

		status := fx.controller.Status()
		Expect(status.Name).To(Equal(JobControllerName))
		Expect(status.EventsHandled).To(Equal(int64(3)))
		Expect(status.Errors).To(BeZero())
		Expect(fx.jobs.Len()).To(BeZero())
	})
})

func deploymentNames(fx *jobFixture, namespace string) []string {
	list, err := fx.kube.AppsV1().Deployments(namespace).List(fx.ctx, metav1.ListOptions{})
	Expect(err).NotTo(HaveOccurred())
	names := make([]string, 0, len(list.Items))
	for _, d := range list.Items {
		names = append(names, d.Name)
	}
	return names
}

var _ = Describe("jobTransitions", func() {
	DescribeTable("nextAction",
		func(t events.EventType, state ednav1.JobState, want jobAction) {
			Expect(nextAction(t, state)).To(Equal(want))
		},
		Entry("added undefined", events.Added, ednav1.StateUndefined, actionAdvance),
		Entry("added empty state", events.Added, ednav1.JobState(""), actionAdvance),
		Entry("added in creation", events.Added, ednav1.StateDeploymentCreation, actionProvision),
		Entry("added ready", events.Added, ednav1.StateReady, actionIgnore),
		Entry("modified creation", events.Modified, ednav1.StateDeploymentCreation, actionProvision),
		Entry("modified undefined", events.Modified, ednav1.StateUndefined, actionReject),
		Entry("modified deletion", events.Modified, ednav1.StateDeploymentDeletion, actionIgnore),
		Entry("modified ready", events.Modified, ednav1.StateReady, actionIgnore),
		Entry("modified unknown", events.Modified, ednav1.JobState("PAUSED"), actionIgnore),
		Entry("deleted undefined", events.Deleted, ednav1.StateUndefined, actionCleanup),
		Entry("deleted in creation", events.Deleted, ednav1.StateDeploymentCreation, actionCleanup),
	)
})
