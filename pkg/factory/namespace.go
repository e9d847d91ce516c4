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

package factory

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/graitdm/ednajob-controller/internal/annotations"
	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
	"github.com/graitdm/ednajob-controller/pkg/store"
)

// NamespaceFactory creates and removes application namespaces.
type NamespaceFactory struct {
	client      kubernetes.Interface
	namespaces  *store.NamespaceStore
	deployments *store.DeploymentStore
	parser      *annotations.AnnotationParser
	opts        Options
}

// NewNamespaceFactory creates a NamespaceFactory.
func NewNamespaceFactory(client kubernetes.Interface, namespaces *store.NamespaceStore, deployments *store.DeploymentStore, opts Options) *NamespaceFactory {
	opts = opts.withDefaults()
	opts.Logger = opts.Logger.WithName("namespace-factory")
	return &NamespaceFactory{
		client:      client,
		namespaces:  namespaces,
		deployments: deployments,
		parser:      annotations.NewAnnotationParser(),
		opts:        opts,
	}
}

// IsUnique reports whether no cached namespace is named name.
func (f *NamespaceFactory) IsUnique(name string) bool {
	return f.namespaces.IsUnique(name)
}

// Add creates the application namespace of job. Callers check the store
// first; a namespace created concurrently by someone else is accepted.
func (f *NamespaceFactory) Add(ctx context.Context, job *ednav1.EdnaJob) (*corev1.Namespace, error) {
	nsName := job.Spec.ApplicationName
	f.opts.Logger.Info("Adding namespace", "job", job.Name, "namespace", nsName)

	namespace := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   nsName,
			Labels: f.parser.ManagedLabels(),
		},
	}
	var created *corev1.Namespace
	err := f.opts.call(ctx, "namespaces", func() error {
		var err error
		created, err = f.client.CoreV1().Namespaces().Create(ctx, namespace, metav1.CreateOptions{})
		return err
	})
	if apierrors.IsAlreadyExists(err) {
		f.opts.Logger.V(1).Info("Namespace already exists", "namespace", nsName)
		return namespace, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create namespace %s: %w", nsName, err)
	}
	f.opts.Recorder.RecordNamespaceCreated()
	return created, nil
}

// Delete removes namespace. A namespace that is already gone counts as deleted.
func (f *NamespaceFactory) Delete(ctx context.Context, namespace *corev1.Namespace) error {
	err := f.opts.call(ctx, "namespaces", func() error {
		return f.client.CoreV1().Namespaces().Delete(ctx, namespace.Name, metav1.DeleteOptions{})
	})
	if apierrors.IsNotFound(err) {
		f.opts.Logger.V(1).Info("Namespace already deleted", "namespace", namespace.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", namespace.Name, err)
	}
	f.opts.Recorder.RecordNamespaceDeleted()
	f.opts.Logger.Info("Deleted namespace", "namespace", namespace.Name)
	return nil
}

// DeleteIfEmpty removes the application namespace of job once no other
// deployment lives in it. The deployment store may still hold the job's own
// deployments when their deletion events have not arrived yet, so deployments
// labeled with job do not keep the namespace alive.
// It reports whether the namespace was deleted.
func (f *NamespaceFactory) DeleteIfEmpty(ctx context.Context, job *ednav1.EdnaJob) (bool, error) {
	nsName := job.Spec.ApplicationName
	others := 0
	for _, d := range f.deployments.DeploymentsInNamespace(job) {
		if !f.parser.BelongsTo(d, job) {
			others++
		}
	}
	if others > 0 {
		f.opts.Logger.Info("Namespace still in use, keeping it", "namespace", nsName, "deployments", others)
		return false, nil
	}
	if isProtected(nsName, job) {
		f.opts.Logger.Info("Not deleting protected namespace", "namespace", nsName)
		return false, nil
	}
	if !f.namespaces.Exists(nsName) {
		f.opts.Logger.V(1).Info("Namespace not cached, nothing to delete", "namespace", nsName)
		return false, nil
	}

	namespace, err := f.namespaces.Get(nsName)
	if err != nil {
		return false, err
	}
	if !f.parser.IsManaged(namespace) {
		f.opts.Logger.V(1).Info("Deleting namespace not created by the controller", "namespace", nsName)
	}
	if err := f.Delete(ctx, namespace); err != nil {
		return false, err
	}
	return true, nil
}

// isProtected reports namespaces that are never deleted: the cluster's own and
// the one holding the job object.
func isProtected(namespace string, job *ednav1.EdnaJob) bool {
	return namespace == job.Namespace ||
		namespace == metav1.NamespaceDefault ||
		strings.HasPrefix(namespace, "kube-")
}
