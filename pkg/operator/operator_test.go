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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
	"github.com/graitdm/ednajob-controller/pkg/config"
	"github.com/graitdm/ednajob-controller/pkg/controllers"
	"github.com/graitdm/ednajob-controller/pkg/logging"
)

func testConfig() *config.EdnaConfig {
	cfg := config.DefaultConfig()
	cfg.Edna.Namespace = "jobs"
	cfg.Edna.JobPath = GinkgoT().TempDir()
	cfg.Controllers.RetryMaxElapsed = 200 * time.Millisecond
	cfg.Controllers.ResyncBackoffMax = 100 * time.Millisecond
	cfg.Controllers.APIQPS = 1000
	cfg.Controllers.APIBurst = 1000
	cfg.Observability.Metrics.Enabled = false
	cfg.Observability.Health.BindAddress = "127.0.0.1:0"
	return cfg
}

func testJob(name, app string) *ednav1.EdnaJob {
	return &ednav1.EdnaJob{
		TypeMeta: metav1.TypeMeta{APIVersion: ednav1.APIVersion(), Kind: ednav1.Kind},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "jobs",
			UID:       types.UID("uid-" + name),
		},
		Spec: ednav1.EdnaJobSpec{
			JobName:         name,
			ApplicationName: app,
			JobImageTag:     "v1",
			RegistryHost:    "registry.local",
			RegistryPort:    "5000",
		},
	}
}

var _ = Describe("Operator", func() {
	var (
		fc  *fakeClients
		cfg *config.EdnaConfig
		ctx context.Context
	)

	BeforeEach(func() {
		fc = newFakeClients(true, &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "jobs"}})
		cfg = testConfig()
		ctx = context.Background()
	})

	newOperator := func(opts ...Option) *Operator {
		logger, err := logging.NewLogger(&logging.Config{Level: "info", Format: "json", Output: "stderr"})
		Expect(err).NotTo(HaveOccurred())
		opts = append([]Option{WithLogger(logger), WithBuilder(stubBuilder{}), WithIdentity("test-replica")}, opts...)
		op, err := NewOperator(cfg, fc.manager, opts...)
		Expect(err).NotTo(HaveOccurred())
		return op
	}

	Describe("NewOperator", func() {
		It("should require clients", func() {
			_, err := NewOperator(cfg, nil)
			Expect(err).To(MatchError(ContainSubstring("kubernetes clients are required")))
		})

		It("should register the three controllers", func() {
			op := newOperator()
			Expect(op.GetControllerManager().GetControllerStatus()).To(SatisfyAll(
				HaveKey(controllers.JobControllerName),
				HaveKey(controllers.DeploymentControllerName),
				HaveKey(controllers.NamespaceControllerName),
			))
			Expect(op.IsReady()).To(BeFalse())
			Expect(op.GetID()).To(Equal("test-replica"))
			Expect(op.GetConfig()).To(BeIdenticalTo(cfg))
		})

		It("should serve health and metrics separately by default", func() {
			cfg.Observability.Metrics.Enabled = true
			cfg.Observability.Metrics.BindAddress = "127.0.0.1:9090"
			cfg.Observability.Health.BindAddress = "127.0.0.1:8081"

			op := newOperator()
			var addrs []string
			for _, srv := range op.GetServers() {
				addrs = append(addrs, srv.Addr())
			}
			Expect(addrs).To(ConsistOf("127.0.0.1:8081", "127.0.0.1:9090"))
		})

		It("should share one server when the addresses match", func() {
			cfg.Observability.Metrics.Enabled = true
			cfg.Observability.Metrics.BindAddress = "127.0.0.1:8081"
			cfg.Observability.Health.BindAddress = "127.0.0.1:8081"

			Expect(newOperator().GetServers()).To(HaveLen(1))
		})

		It("should start no server when both are disabled", func() {
			cfg.Observability.Health.Enabled = false
			Expect(newOperator().GetServers()).To(BeEmpty())
		})
	})

	Describe("Run", func() {
		It("should fail when the EdnaJob definition is missing", func() {
			fc = newFakeClients(false)
			op := newOperator()
			err := op.Run(ctx)
			Expect(err).To(MatchError(ContainSubstring("failed to load EdnaJob definition")))
		})

		It("should refuse a second run", func() {
			fc = newFakeClients(false)
			op := newOperator()
			_ = op.Run(ctx)
			Expect(op.Run(ctx)).To(MatchError(ErrAlreadyRunning))
		})

		It("should provision and clean up a job end to end", func() {
			op := newOperator()

			job := testJob("train", "vision")
			u, err := ednav1.ToUnstructured(job)
			Expect(err).NotTo(HaveOccurred())
			jobs := fc.dynamic.Resource(ednav1.GroupVersionResource).Namespace("jobs")
			_, err = jobs.Create(ctx, u, metav1.CreateOptions{})
			Expect(err).NotTo(HaveOccurred())

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- op.Run(runCtx) }()

			Eventually(op.IsReady, 5*time.Second).Should(BeTrue())
			Expect(op.IsLeader()).To(BeTrue())

			By("advancing the job and creating its deployment")
			Eventually(func() (ednav1.JobState, error) {
				got, err := jobs.Get(ctx, "train", metav1.GetOptions{})
				if err != nil {
					return "", err
				}
				observed, err := ednav1.FromUnstructured(got)
				if err != nil {
					return "", err
				}
				return observed.State(), nil
			}, 5*time.Second).Should(Equal(ednav1.StateDeploymentCreation))

			Eventually(func() (int, error) {
				list, err := fc.kube.AppsV1().Deployments("vision").List(ctx, metav1.ListOptions{})
				if err != nil {
					return 0, err
				}
				return len(list.Items), nil
			}, 5*time.Second).Should(Equal(1))

			list, err := fc.kube.AppsV1().Deployments("vision").List(ctx, metav1.ListOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Items[0].Labels).To(HaveKeyWithValue(ednav1.JobLabelKey, "train"))
			Expect(list.Items[0].Name).To(HavePrefix("train-"))

			Eventually(func() bool {
				return op.namespaces.Exists("vision") && len(op.deployments.DeploymentsForJob(job)) == 1
			}, 5*time.Second).Should(BeTrue())

			By("deleting the deployment and namespace with the job")
			Expect(jobs.Delete(ctx, "train", metav1.DeleteOptions{})).To(Succeed())
			Eventually(func() bool {
				_, err := fc.kube.CoreV1().Namespaces().Get(ctx, "vision", metav1.GetOptions{})
				return err != nil
			}, 5*time.Second).Should(BeTrue())

			status := op.GetControllerManager().GetControllerStatus()
			Expect(status[controllers.JobControllerName].EventsHandled).To(BeNumerically(">=", 3))

			By("shutting down on cancel")
			cancel()
			Eventually(done, 10*time.Second).Should(Receive(BeNil()))
			shutdown := op.GetShutdownStatus()
			Expect(shutdown.Started).To(BeTrue())
			Expect(shutdown.IsCompleted()).To(BeTrue())
			Expect(shutdown.ComponentStates).To(HaveKey("controllers"))
		})
	})

	Describe("configuration reload", func() {
		It("should apply a changed log level and API rate limit", func() {
			logger, err := logging.NewLogger(&logging.Config{Level: "info", Format: "json", Output: "stderr"})
			Expect(err).NotTo(HaveOccurred())
			op, err := NewOperator(cfg, fc.manager, WithLogger(logger), WithBuilder(stubBuilder{}),
				WithConfigWatcher(config.NewLoader()))
			Expect(err).NotTo(HaveOccurred())
			Expect(op.watcher).NotTo(BeNil())

			reloaded := testConfig()
			reloaded.Observability.Logging.Level = "debug"
			reloaded.Controllers.APIQPS = 1
			reloaded.Controllers.APIBurst = 1
			op.applyReload(reloaded)
			Expect(logger.Level()).To(Equal("debug"))

			Expect(op.limiter.Allow("deployments")).To(BeTrue())
			Expect(op.limiter.Allow("deployments")).To(BeFalse())
		})
	})
})
