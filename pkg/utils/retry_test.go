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

package utils

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var _ = Describe("Retry", func() {
	var (
		fast *RetryConfig
		gr   schema.GroupResource
	)

	BeforeEach(func() {
		fast = &RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			MaxElapsedTime:  time.Second,
		}
		gr = schema.GroupResource{Group: "apps", Resource: "deployments"}
	})

	It("should classify API errors", func() {
		Expect(IsTransient(apierrors.NewTooManyRequests("slow down", 1))).To(BeTrue())
		Expect(IsTransient(apierrors.NewServerTimeout(gr, "create", 1))).To(BeTrue())
		Expect(IsTransient(apierrors.NewConflict(gr, "d", errors.New("stale")))).To(BeTrue())
		Expect(IsTransient(apierrors.NewInternalError(errors.New("etcd")))).To(BeTrue())
		Expect(IsTransient(apierrors.NewNotFound(gr, "d"))).To(BeFalse())
		Expect(IsTransient(apierrors.NewAlreadyExists(gr, "d"))).To(BeFalse())
		Expect(IsTransient(apierrors.NewForbidden(gr, "d", errors.New("rbac")))).To(BeFalse())
		Expect(IsTransient(errors.New("plain"))).To(BeFalse())
	})

	It("should retry transient errors until success", func() {
		calls := 0
		err := Retry(context.Background(), fast, func() error {
			calls++
			if calls < 3 {
				return apierrors.NewServiceUnavailable("starting")
			}
			return nil
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(calls).To(Equal(3))
	})

	It("should stop on the first permanent error", func() {
		calls := 0
		err := Retry(context.Background(), fast, func() error {
			calls++
			return apierrors.NewNotFound(gr, "d")
		})
		Expect(apierrors.IsNotFound(err)).To(BeTrue())
		Expect(calls).To(Equal(1))
	})

	It("should give up when the time budget is spent", func() {
		fast.MaxElapsedTime = 20 * time.Millisecond
		err := Retry(context.Background(), fast, func() error {
			return apierrors.NewTooManyRequests("slow down", 1)
		})
		Expect(apierrors.IsTooManyRequests(err)).To(BeTrue())
	})

	It("should stop when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, fast, func() error {
			return apierrors.NewTooManyRequests("slow down", 1)
		})
		Expect(err).To(HaveOccurred())
	})
})
