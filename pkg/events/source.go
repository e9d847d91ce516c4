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

package events

import (
	"context"
	"fmt"
	"net/http"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
	"github.com/graitdm/ednajob-controller/pkg/store"
)

// Source lists and watches one kind.
type Source[T store.Object] interface {
	// List returns the current objects and the resource version to watch from.
	List(ctx context.Context) ([]T, string, error)

	// Watch opens a watch starting after resourceVersion.
	Watch(ctx context.Context, resourceVersion string) (watch.Interface, error)
}

// SourceFuncs adapts plain functions to Source.
type SourceFuncs[T store.Object] struct {
	ListFunc  func(ctx context.Context) ([]T, string, error)
	WatchFunc func(ctx context.Context, resourceVersion string) (watch.Interface, error)
}

// List implements Source.
func (s SourceFuncs[T]) List(ctx context.Context) ([]T, string, error) {
	return s.ListFunc(ctx)
}

// Watch implements Source.
func (s SourceFuncs[T]) Watch(ctx context.Context, resourceVersion string) (watch.Interface, error) {
	return s.WatchFunc(ctx, resourceVersion)
}

func watchOptions(resourceVersion, labelSelector string) metav1.ListOptions {
	return metav1.ListOptions{
		ResourceVersion:     resourceVersion,
		LabelSelector:       labelSelector,
		AllowWatchBookmarks: true,
	}
}

// DeploymentSource watches Deployments in namespace (all namespaces when empty)
// matching labelSelector.
func DeploymentSource(client kubernetes.Interface, namespace, labelSelector string) Source[*appsv1.Deployment] {
	return SourceFuncs[*appsv1.Deployment]{
		ListFunc: func(ctx context.Context) ([]*appsv1.Deployment, string, error) {
			list, err := client.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
			if err != nil {
				return nil, "", fmt.Errorf("failed to list deployments: %w", err)
			}
			out := make([]*appsv1.Deployment, 0, len(list.Items))
			for i := range list.Items {
				out = append(out, &list.Items[i])
			}
			return out, list.ResourceVersion, nil
		},
		WatchFunc: func(ctx context.Context, resourceVersion string) (watch.Interface, error) {
			return client.AppsV1().Deployments(namespace).Watch(ctx, watchOptions(resourceVersion, labelSelector))
		},
	}
}

// NamespaceSource watches all Namespaces.
func NamespaceSource(client kubernetes.Interface) Source[*corev1.Namespace] {
	return SourceFuncs[*corev1.Namespace]{
		ListFunc: func(ctx context.Context) ([]*corev1.Namespace, string, error) {
			list, err := client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
			if err != nil {
				return nil, "", fmt.Errorf("failed to list namespaces: %w", err)
			}
			out := make([]*corev1.Namespace, 0, len(list.Items))
			for i := range list.Items {
				out = append(out, &list.Items[i])
			}
			return out, list.ResourceVersion, nil
		},
		WatchFunc: func(ctx context.Context, resourceVersion string) (watch.Interface, error) {
			return client.CoreV1().Namespaces().Watch(ctx, watchOptions(resourceVersion, ""))
		},
	}
}

// JobSource watches EdnaJobs in namespace through the dynamic client and
// decodes them into typed objects.
func JobSource(client dynamic.Interface, namespace string) Source[*ednav1.EdnaJob] {
	resource := client.Resource(ednav1.GroupVersionResource).Namespace(namespace)
	return SourceFuncs[*ednav1.EdnaJob]{
		ListFunc: func(ctx context.Context) ([]*ednav1.EdnaJob, string, error) {
			list, err := resource.List(ctx, metav1.ListOptions{})
			if err != nil {
				return nil, "", fmt.Errorf("failed to list ednajobs: %w", err)
			}
			out := make([]*ednav1.EdnaJob, 0, len(list.Items))
			for i := range list.Items {
				job, err := ednav1.FromUnstructured(&list.Items[i])
				if err != nil {
					return nil, "", err
				}
				out = append(out, job)
			}
			return out, list.GetResourceVersion(), nil
		},
		WatchFunc: func(ctx context.Context, resourceVersion string) (watch.Interface, error) {
			w, err := resource.Watch(ctx, watchOptions(resourceVersion, ""))
			if err != nil {
				return nil, err
			}
			return watch.Filter(w, decodeJobEvent), nil
		},
	}
}

// decodeJobEvent converts unstructured watch objects. Objects that fail to
// decode surface as error events so the dispatcher logs them.
func decodeJobEvent(in watch.Event) (watch.Event, bool) {
	u, ok := in.Object.(*unstructured.Unstructured)
	if !ok {
		return in, true
	}
	if in.Type == watch.Error {
		status := &metav1.Status{}
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, status); err != nil {
			return in, true
		}
		return watch.Event{Type: watch.Error, Object: status}, true
	}
	job, err := ednav1.FromUnstructured(u)
	if err != nil {
		return watch.Event{
			Type: watch.Error,
			Object: &metav1.Status{
				Status:  metav1.StatusFailure,
				Code:    http.StatusUnprocessableEntity,
				Reason:  metav1.StatusReasonInvalid,
				Message: err.Error(),
			},
		}, true
	}
	return watch.Event{Type: in.Type, Object: job}, true
}
