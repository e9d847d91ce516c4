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

	"github.com/google/go-containerregistry/pkg/name"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/rand"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"github.com/graitdm/ednajob-controller/internal/annotations"
	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
	"github.com/graitdm/ednajob-controller/pkg/store"
)

const (
	// nameSuffixLength is the length of the random deployment name suffix
	nameSuffixLength = 5

	// maxNameAttempts bounds the search for a free deployment name
	maxNameAttempts = 8
)

// DeploymentFactory creates and deletes the deployments that run jobs.
type DeploymentFactory struct {
	client kubernetes.Interface
	store  *store.DeploymentStore
	jobs   *JobFactory
	parser *annotations.AnnotationParser
	opts   Options

	suffix func() string
}

// NewDeploymentFactory creates a DeploymentFactory. jobs supplies the replica count.
func NewDeploymentFactory(client kubernetes.Interface, deployments *store.DeploymentStore, jobs *JobFactory, opts Options) *DeploymentFactory {
	opts = opts.withDefaults()
	opts.Logger = opts.Logger.WithName("deployment-factory")
	return &DeploymentFactory{
		client: client,
		store:  deployments,
		jobs:   jobs,
		parser: annotations.NewAnnotationParser(),
		opts:   opts,
		suffix: func() string { return rand.String(nameSuffixLength) },
	}
}

// IsUnique reports whether no cached deployment in namespace is named name.
func (f *DeploymentFactory) IsUnique(namespace, name string) bool {
	return f.store.IsUnique(namespace, name)
}

// Add creates a deployment for job running image. When image is nil the
// reference is derived from the job spec. A generated name that turns out to
// be taken, in the store or at the API server, is replaced by a new one.
func (f *DeploymentFactory) Add(ctx context.Context, job *ednav1.EdnaJob, image name.Reference) (*appsv1.Deployment, error) {
	f.opts.Logger.Info("Adding deployment", "job", job.Name, "namespace", job.Spec.ApplicationName)

	if image == nil {
		ref, err := name.ParseReference(job.ImageReference())
		if err != nil {
			return nil, fmt.Errorf("invalid image reference for job %s: %w", job.Name, err)
		}
		image = ref
	}
	replicas, err := f.jobs.Replicas(ctx)
	if err != nil {
		return nil, err
	}

	namespace := job.Spec.ApplicationName
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		deploymentName := job.Name + "-" + strings.ToLower(f.suffix())
		if !f.IsUnique(namespace, deploymentName) {
			f.opts.Recorder.RecordNameCollision()
			continue
		}

		deployment, err := f.Build(job, deploymentName, image, replicas)
		if err != nil {
			return nil, err
		}

		var created *appsv1.Deployment
		err = f.opts.call(ctx, "deployments", func() error {
			var err error
			created, err = f.client.AppsV1().Deployments(namespace).Create(ctx, deployment, metav1.CreateOptions{})
			return err
		})
		if apierrors.IsAlreadyExists(err) {
			f.opts.Recorder.RecordNameCollision()
			f.opts.Logger.V(1).Info("Deployment name taken, retrying", "name", deploymentName)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create deployment %s/%s: %w", namespace, deploymentName, err)
		}

		f.opts.Recorder.RecordDeploymentCreated()
		f.opts.Logger.Info("Applied deployment", "job", job.Name, "name", created.Name, "namespace", namespace, "image", image.Name())
		return created, nil
	}
	return nil, fmt.Errorf("%w for job %s after %d attempts", ErrNameExhausted, job.Name, maxNameAttempts)
}

// Build returns the deployment object for job without creating it.
func (f *DeploymentFactory) Build(job *ednav1.EdnaJob, deploymentName string, image name.Reference, replicas int32) (*appsv1.Deployment, error) {
	vars, err := job.Variables()
	if err != nil {
		return nil, err
	}
	env := make([]corev1.EnvVar, 0, len(vars))
	for _, v := range vars {
		env = append(env, corev1.EnvVar{Name: v.Name, Value: v.Value})
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      deploymentName,
			Namespace: job.Spec.ApplicationName,
			Labels:    f.parser.JobLabels(job),
			OwnerReferences: []metav1.OwnerReference{{
				APIVersion:         ednav1.APIVersion(),
				Kind:               ednav1.Kind,
				Name:               job.Name,
				UID:                job.UID,
				Controller:         ptr.To(true),
				BlockOwnerDeletion: ptr.To(true),
			}},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Selector: &metav1.LabelSelector{
				MatchLabels: f.parser.JobLabels(job),
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: f.parser.JobLabels(job),
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  deploymentName,
						Image: image.Name(),
						Env:   env,
					}},
				},
			},
		},
	}, nil
}

// Delete removes deployment. A deployment that is already gone counts as deleted.
func (f *DeploymentFactory) Delete(ctx context.Context, deployment *appsv1.Deployment) error {
	err := f.opts.call(ctx, "deployments", func() error {
		return f.client.AppsV1().Deployments(deployment.Namespace).Delete(ctx, deployment.Name, metav1.DeleteOptions{})
	})
	if apierrors.IsNotFound(err) {
		f.opts.Logger.V(1).Info("Deployment already deleted", "name", deployment.Name, "namespace", deployment.Namespace)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete deployment %s/%s: %w", deployment.Namespace, deployment.Name, err)
	}
	f.opts.Logger.Info("Deleted deployment", "name", deployment.Name, "namespace", deployment.Namespace)
	return nil
}
