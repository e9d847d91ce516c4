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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ShutdownManager", func() {
	var (
		sm    *ShutdownManager
		order []string
	)

	hook := func(name string, err error) ShutdownHook {
		return func(context.Context) error {
			order = append(order, name)
			return err
		}
	}

	BeforeEach(func() {
		order = nil
		sm = NewShutdownManager(ShutdownConfig{GracefulTimeout: time.Second}, GinkgoLogr)
	})

	It("should return sensible defaults", func() {
		defaults := DefaultShutdownConfig()
		Expect(defaults.GracefulTimeout).To(Equal(30 * time.Second))
		Expect(defaults.PreShutdownDelay).To(BeZero())
	})

	It("should run pre-shutdown hooks first, then hooks in registration order", func() {
		sm.OnShutdown("controllers", hook("controllers", nil))
		sm.OnPreShutdown("readiness", hook("readiness", nil))
		sm.OnShutdown("flush", hook("flush", nil))

		Expect(sm.Shutdown("test")).To(Succeed())
		Expect(order).To(Equal([]string{"readiness", "controllers", "flush"}))

		status := sm.GetShutdownStatus()
		Expect(status.Started).To(BeTrue())
		Expect(status.Reason).To(Equal("test"))
		Expect(status.IsCompleted()).To(BeTrue())
		Expect(status.HasErrors()).To(BeFalse())
		Expect(status.ComponentStates).To(HaveKey("controllers"))
		Expect(status.ComponentStates["controllers"].State.String()).To(Equal("completed"))
	})

	It("should keep going after a failing hook and join the errors", func() {
		boom := errors.New("boom")
		sm.OnShutdown("first", hook("first", boom))
		sm.OnShutdown("second", hook("second", nil))

		err := sm.Shutdown("test")
		Expect(err).To(MatchError(boom))
		Expect(err.Error()).To(ContainSubstring("shutdown hook first failed"))
		Expect(order).To(Equal([]string{"first", "second"}))

		status := sm.GetShutdownStatus()
		Expect(status.HasErrors()).To(BeTrue())
		Expect(status.ComponentStates["first"].State).To(Equal(ShutdownStateFailed))
		Expect(status.ComponentStates["second"].State).To(Equal(ShutdownStateCompleted))
	})

	It("should run only once", func() {
		sm.OnShutdown("controllers", hook("controllers", nil))
		Expect(sm.Shutdown("first")).To(Succeed())
		Expect(sm.Shutdown("second")).To(Succeed())
		Expect(order).To(HaveLen(1))
		Expect(sm.GetShutdownStatus().Reason).To(Equal("first"))
	})

	It("should bound hooks by the graceful timeout", func() {
		sm = NewShutdownManager(ShutdownConfig{GracefulTimeout: 50 * time.Millisecond}, GinkgoLogr)
		sm.OnShutdown("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		start := time.Now()
		err := sm.Shutdown("test")
		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})

	It("should wait the pre-shutdown delay between phases", func() {
		sm = NewShutdownManager(ShutdownConfig{GracefulTimeout: time.Second, PreShutdownDelay: 50 * time.Millisecond}, GinkgoLogr)
		var preAt, hookAt time.Time
		sm.OnPreShutdown("readiness", func(context.Context) error { preAt = time.Now(); return nil })
		sm.OnShutdown("controllers", func(context.Context) error { hookAt = time.Now(); return nil })

		Expect(sm.Shutdown("test")).To(Succeed())
		Expect(hookAt.Sub(preAt)).To(BeNumerically(">=", 50*time.Millisecond))
	})

	It("should report not started before shutdown", func() {
		status := sm.GetShutdownStatus()
		Expect(status.Started).To(BeFalse())
		Expect(status.IsCompleted()).To(BeFalse())
	})
})
