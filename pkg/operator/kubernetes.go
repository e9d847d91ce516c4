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
	"fmt"

	authorizationv1 "k8s.io/api/authorization/v1"
	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"

	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
	"github.com/graitdm/ednajob-controller/pkg/config"
)

// KubernetesClientManager owns the REST configuration and the typed, dynamic
// and apiextensions clients the controllers share.
type KubernetesClientManager struct {
	config     config.KubernetesConfig
	restConfig *rest.Config

	kubeClient kubernetes.Interface
	dynClient  dynamic.Interface
	crdClient  apiextensionsclient.Interface
}

// NewKubernetesClientManager resolves the API server connection and builds
// the clients. A kubeconfig path wins over in-cluster mode; with neither set
// the kubectl proxy address is used.
func NewKubernetesClientManager(cfg config.KubernetesConfig) (*KubernetesClientManager, error) {
	restConfig, err := restConfigFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize REST config: %w", err)
	}

	k := &KubernetesClientManager{config: cfg, restConfig: restConfig}
	if err := k.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	return k, nil
}

// NewKubernetesClientManagerFromClients wraps existing clients.
func NewKubernetesClientManagerFromClients(kubeClient kubernetes.Interface, dynClient dynamic.Interface, crdClient apiextensionsclient.Interface) *KubernetesClientManager {
	return &KubernetesClientManager{
		restConfig: &rest.Config{},
		kubeClient: kubeClient,
		dynClient:  dynClient,
		crdClient:  crdClient,
	}
}

func restConfigFor(cfg config.KubernetesConfig) (*rest.Config, error) {
	var (
		restConfig *rest.Config
		err        error
	)

	switch {
	case cfg.Kubeconfig != "":
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig from %s: %w", cfg.Kubeconfig, err)
		}
	case cfg.InCluster:
		restConfig, err = ctrl.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
		}
	default:
		// kubectl proxy handles authentication
		restConfig = &rest.Config{Host: cfg.ProxyURL()}
	}

	if cfg.QPS > 0 {
		restConfig.QPS = cfg.QPS
	}
	if cfg.Burst > 0 {
		restConfig.Burst = cfg.Burst
	}
	if cfg.Timeout > 0 {
		restConfig.Timeout = cfg.Timeout
	}
	if cfg.UserAgent != "" {
		restConfig.UserAgent = cfg.UserAgent
	}
	return restConfig, nil
}

func (k *KubernetesClientManager) initializeClients() error {
	kubeClient, err := kubernetes.NewForConfig(k.restConfig)
	if err != nil {
		return fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	k.kubeClient = kubeClient

	dynClient, err := dynamic.NewForConfig(k.restConfig)
	if err != nil {
		return fmt.Errorf("failed to create dynamic client: %w", err)
	}
	k.dynClient = dynClient

	crdClient, err := apiextensionsclient.NewForConfig(k.restConfig)
	if err != nil {
		return fmt.Errorf("failed to create apiextensions client: %w", err)
	}
	k.crdClient = crdClient

	return nil
}

// GetRESTConfig returns the REST configuration
func (k *KubernetesClientManager) GetRESTConfig() *rest.Config {
	return k.restConfig
}

// GetKubernetesClient returns the typed client
func (k *KubernetesClientManager) GetKubernetesClient() kubernetes.Interface {
	return k.kubeClient
}

// GetDynamicClient returns the dynamic client used for EdnaJob objects
func (k *KubernetesClientManager) GetDynamicClient() dynamic.Interface {
	return k.dynClient
}

// GetCRDClient returns the apiextensions client
func (k *KubernetesClientManager) GetCRDClient() apiextensionsclient.Interface {
	return k.crdClient
}

// ClusterInfo contains information about the Kubernetes cluster
type ClusterInfo struct {
	Version        string
	NamespaceCount int
	APIServerURL   string
}

// GetClusterInfo returns information about the Kubernetes cluster
func (k *KubernetesClientManager) GetClusterInfo(ctx context.Context) (*ClusterInfo, error) {
	version, err := k.kubeClient.Discovery().ServerVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to get server version: %w", err)
	}

	namespaces, err := k.kubeClient.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}

	return &ClusterInfo{
		Version:        version.String(),
		NamespaceCount: len(namespaces.Items),
		APIServerURL:   k.restConfig.Host,
	}, nil
}

// Permission is one API access the controller needs.
type Permission struct {
	Group     string
	Resource  string
	Verb      string
	Namespace string
}

func (p Permission) String() string {
	return fmt.Sprintf("%s:%s:%s", p.Group, p.Resource, p.Verb)
}

// RequiredPermissions lists the access the controllers use. jobNamespace
// scopes the EdnaJob checks.
func RequiredPermissions(jobNamespace string) []Permission {
	perms := []Permission{
		{Group: ednav1.GroupName, Resource: ednav1.Plural, Verb: "list", Namespace: jobNamespace},
		{Group: ednav1.GroupName, Resource: ednav1.Plural, Verb: "watch", Namespace: jobNamespace},
		{Group: ednav1.GroupName, Resource: ednav1.Plural, Verb: "patch", Namespace: jobNamespace},
		{Group: "apiextensions.k8s.io", Resource: "customresourcedefinitions", Verb: "get"},
	}
	for _, verb := range []string{"list", "watch", "create", "delete"} {
		perms = append(perms,
			Permission{Group: "apps", Resource: "deployments", Verb: verb},
			Permission{Resource: "namespaces", Verb: verb},
		)
	}
	return perms
}

// MissingPermissions asks the API server which of perms the controller lacks.
func (k *KubernetesClientManager) MissingPermissions(ctx context.Context, perms []Permission) ([]Permission, error) {
	var missing []Permission
	for _, perm := range perms {
		review := &authorizationv1.SelfSubjectAccessReview{
			Spec: authorizationv1.SelfSubjectAccessReviewSpec{
				ResourceAttributes: &authorizationv1.ResourceAttributes{
					Group:     perm.Group,
					Resource:  perm.Resource,
					Verb:      perm.Verb,
					Namespace: perm.Namespace,
				},
			},
		}
		result, err := k.kubeClient.AuthorizationV1().SelfSubjectAccessReviews().Create(ctx, review, metav1.CreateOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to review permission %s: %w", perm, err)
		}
		if !result.Status.Allowed {
			missing = append(missing, perm)
		}
	}
	return missing, nil
}
