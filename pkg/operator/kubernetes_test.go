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
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	authorizationv1 "k8s.io/api/authorization/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/version"
	fakediscovery "k8s.io/client-go/discovery/fake"
	k8stesting "k8s.io/client-go/testing"

	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
	"github.com/graitdm/ednajob-controller/pkg/config"
)

const testKubeconfig = `apiVersion: v1
kind: Config
clusters:
- name: test
  cluster:
    server: https://10.0.0.1:6443
contexts:
- name: test
  context:
    cluster: test
    user: test
current-context: test
users:
- name: test
  user:
    token: abc
`

var _ = Describe("KubernetesClientManager", func() {
	var kubeConfig config.KubernetesConfig

	BeforeEach(func() {
		kubeConfig = config.DefaultConfig().Kubernetes
	})

	Describe("restConfigFor", func() {
		It("should target the kubectl proxy by default", func() {
			restConfig, err := restConfigFor(kubeConfig)
			Expect(err).NotTo(HaveOccurred())
			Expect(restConfig.Host).To(Equal("http://127.0.0.1:8080"))
			Expect(restConfig.BearerToken).To(BeEmpty())
			Expect(restConfig.QPS).To(Equal(float32(20)))
			Expect(restConfig.Burst).To(Equal(30))
			Expect(restConfig.UserAgent).To(Equal("ednajob-controller"))
		})

		It("should honor protocol, host and port overrides", func() {
			kubeConfig.Protocol = "https"
			kubeConfig.Host = "proxy.local"
			kubeConfig.Port = 8443
			kubeConfig.Timeout = 15 * time.Second

			restConfig, err := restConfigFor(kubeConfig)
			Expect(err).NotTo(HaveOccurred())
			Expect(restConfig.Host).To(Equal("https://proxy.local:8443"))
			Expect(restConfig.Timeout).To(Equal(15 * time.Second))
		})

		It("should prefer a kubeconfig file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "kubeconfig")
			Expect(os.WriteFile(path, []byte(testKubeconfig), 0o600)).To(Succeed())
			kubeConfig.Kubeconfig = path

			restConfig, err := restConfigFor(kubeConfig)
			Expect(err).NotTo(HaveOccurred())
			Expect(restConfig.Host).To(Equal("https://10.0.0.1:6443"))
			Expect(restConfig.BearerToken).To(Equal("abc"))
			Expect(restConfig.QPS).To(Equal(float32(20)))
		})

		It("should fail on a missing kubeconfig file", func() {
			kubeConfig.Kubeconfig = filepath.Join(GinkgoT().TempDir(), "missing")
			_, err := restConfigFor(kubeConfig)
			Expect(err).To(MatchError(ContainSubstring("failed to load kubeconfig")))
		})
	})

	Describe("NewKubernetesClientManager", func() {
		It("should build every client for the proxy", func() {
			k, err := NewKubernetesClientManager(kubeConfig)
			Expect(err).NotTo(HaveOccurred())
			Expect(k.GetKubernetesClient()).NotTo(BeNil())
			Expect(k.GetDynamicClient()).NotTo(BeNil())
			Expect(k.GetCRDClient()).NotTo(BeNil())
			Expect(k.GetRESTConfig().Host).To(Equal(kubeConfig.ProxyURL()))
		})
	})

	Describe("GetClusterInfo", func() {
		It("should report version and namespace count", func() {
			fc := newFakeClients(false,
				&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "default"}},
				&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "jobs"}},
			)
			fc.kube.Discovery().(*fakediscovery.FakeDiscovery).FakedServerVersion = &version.Info{GitVersion: "v1.32.1"}

			info, err := fc.manager.GetClusterInfo(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Version).To(Equal("v1.32.1"))
			Expect(info.NamespaceCount).To(Equal(2))
		})
	})

	Describe("Permissions", func() {
		It("should cover the resources the controllers touch", func() {
			perms := RequiredPermissions("jobs")
			Expect(perms).To(ContainElement(Permission{Group: ednav1.GroupName, Resource: ednav1.Plural, Verb: "patch", Namespace: "jobs"}))
			Expect(perms).To(ContainElement(Permission{Group: "apps", Resource: "deployments", Verb: "create"}))
			Expect(perms).To(ContainElement(Permission{Resource: "namespaces", Verb: "delete"}))
			Expect(perms).To(ContainElement(Permission{Group: "apiextensions.k8s.io", Resource: "customresourcedefinitions", Verb: "get"}))
		})

		It("should report what the access review denies", func() {
			fc := newFakeClients(false)
			fc.kube.PrependReactor("create", "selfsubjectaccessreviews", func(action k8stesting.Action) (bool, runtime.Object, error) {
				review := action.(k8stesting.CreateAction).GetObject().(*authorizationv1.SelfSubjectAccessReview)
				review.Status.Allowed = review.Spec.ResourceAttributes.Resource != "namespaces"
				return true, review, nil
			})

			missing, err := fc.manager.MissingPermissions(context.Background(), RequiredPermissions("jobs"))
			Expect(err).NotTo(HaveOccurred())
			Expect(missing).To(HaveLen(4))
			for _, perm := range missing {
				Expect(perm.Resource).To(Equal("namespaces"))
			}
		})
	})
})
