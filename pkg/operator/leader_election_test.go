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
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var _ = Describe("LeaderElectionManager", func() {
	var (
		fc       *fakeClients
		recorder *leaderLog
		cfg      LeaderElectionConfig
	)

	BeforeEach(func() {
		fc = newFakeClients(false)
		recorder = newLeaderLog()
		cfg = LeaderElectionConfig{
			Enabled:       true,
			Namespace:     "jobs",
			LeaseName:     "ednajob-controller-leader",
			LeaseDuration: time.Second,
			RenewDeadline: 500 * time.Millisecond,
			RetryPeriod:   100 * time.Millisecond,
			Identity:      "replica-a",
		}
	})

	Describe("NewLeaderElectionManager", func() {
		It("should generate an identity when none is given", func() {
			cfg.Identity = ""
			le, err := NewLeaderElectionManager(cfg, fc.kube, nil, GinkgoLogr)
			Expect(err).NotTo(HaveOccurred())
			Expect(le.GetIdentity()).To(MatchRegexp(`^.+_[0-9a-f-]{36}$`))
		})

		It("should require a lease when enabled", func() {
			cfg.LeaseName = ""
			_, err := NewLeaderElectionManager(cfg, fc.kube, nil, GinkgoLogr)
			Expect(err).To(MatchError(ContainSubstring("lease name")))
		})

		It("should accept a missing client when disabled", func() {
			cfg.Enabled = false
			_, err := NewLeaderElectionManager(cfg, nil, nil, GinkgoLogr)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Context("when disabled", func() {
		It("should lead immediately and step down when lead returns", func() {
			cfg.Enabled = false
			le, err := NewLeaderElectionManager(cfg, nil, recorder, GinkgoLogr)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- le.Run(ctx, func(leadCtx context.Context) error {
					<-leadCtx.Done()
					return nil
				})
			}()

			Expect(le.WaitForLeadership(context.Background())).To(Succeed())
			Expect(le.IsLeader()).To(BeTrue())
			Expect(le.GetCurrentLeader()).To(Equal("replica-a"))
			Eventually(recorder.changes).Should(Receive(BeTrue()))

			cancel()
			Eventually(done, 2*time.Second).Should(Receive(BeNil()))
			Expect(le.IsLeader()).To(BeFalse())
			Eventually(recorder.changes).Should(Receive(BeFalse()))
		})

		It("should return the lead error", func() {
			cfg.Enabled = false
			le, err := NewLeaderElectionManager(cfg, nil, nil, GinkgoLogr)
			Expect(err).NotTo(HaveOccurred())

			boom := errors.New("boom")
			Expect(le.Run(context.Background(), func(context.Context) error { return boom })).To(MatchError(boom))
		})
	})

	Context("when enabled", func() {
		It("should acquire the lease and release it on cancel", func() {
			le, err := NewLeaderElectionManager(cfg, fc.kube, recorder, GinkgoLogr)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			leading := make(chan struct{})
			done := make(chan error, 1)
			go func() {
				done <- le.Run(ctx, func(leadCtx context.Context) error {
					close(leading)
					<-leadCtx.Done()
					return nil
				})
			}()

			Eventually(leading, 5*time.Second).Should(BeClosed())
			Expect(le.IsLeader()).To(BeTrue())

			lease, err := fc.kube.CoordinationV1().Leases("jobs").Get(ctx, "ednajob-controller-leader", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(*lease.Spec.HolderIdentity).To(Equal("replica-a"))

			info := le.GetLeadershipInfo(ctx)
			Expect(info.Enabled).To(BeTrue())
			Expect(info.IsLeader).To(BeTrue())
			Expect(info.LeaseInfo).NotTo(BeNil())
			Expect(info.LeaseInfo.HolderIdentity).To(Equal("replica-a"))

			cancel()
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
			Expect(le.IsLeader()).To(BeFalse())
		})

		It("should stop renewing when lead fails", func() {
			le, err := NewLeaderElectionManager(cfg, fc.kube, nil, GinkgoLogr)
			Expect(err).NotTo(HaveOccurred())

			boom := errors.New("controllers failed")
			done := make(chan error, 1)
			go func() {
				done <- le.Run(context.Background(), func(context.Context) error { return boom })
			}()

			Eventually(done, 5*time.Second).Should(Receive(MatchError(boom)))
		})

		It("should stay a follower while another replica holds the lease", func() {
			holder, err := NewLeaderElectionManager(cfg, fc.kube, nil, GinkgoLogr)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			holderLeading := make(chan struct{})
			go func() {
				_ = holder.Run(ctx, func(leadCtx context.Context) error {
					close(holderLeading)
					<-leadCtx.Done()
					return nil
				})
			}()
			Eventually(holderLeading, 5*time.Second).Should(BeClosed())

			followerCfg := cfg
			followerCfg.Identity = "replica-b"
			follower, err := NewLeaderElectionManager(followerCfg, fc.kube, nil, GinkgoLogr)
			Expect(err).NotTo(HaveOccurred())

			var followerLed atomic.Bool
			followerCtx, followerCancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() {
				done <- follower.Run(followerCtx, func(context.Context) error {
					followerLed.Store(true)
					return nil
				})
			}()

			Eventually(follower.GetCurrentLeader, 5*time.Second).Should(Equal("replica-a"))
			Consistently(follower.IsLeader, 500*time.Millisecond).Should(BeFalse())

			followerCancel()
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
			Expect(followerLed.Load()).To(BeFalse())
		})
	})
})
