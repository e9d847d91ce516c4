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

package store

import (
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/client-go/tools/cache"

	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
)

const jobIndex = "ednajob"

// DeploymentStore caches Deployments and correlates them with EdnaJobs.
type DeploymentStore struct {
	s *Store[*appsv1.Deployment]
}

// NewDeploymentStore creates an empty DeploymentStore.
func NewDeploymentStore() *DeploymentStore {
	return &DeploymentStore{
		s: New[*appsv1.Deployment]("Deployment", cache.Indexers{jobIndex: jobLabelIndexFunc}),
	}
}

// jobLabelIndexFunc indexes deployments by namespace and the value of the job label.
func jobLabelIndexFunc(obj interface{}) ([]string, error) {
	meta, err := metaOf(obj)
	if err != nil {
		return nil, err
	}
	job, ok := meta.GetLabels()[ednav1.JobLabelKey]
	if !ok {
		return nil, nil
	}
	return []string{key(meta.GetNamespace(), job)}, nil
}

// Writer returns the mutation side of the store for the deployment dispatcher.
func (d *DeploymentStore) Writer() Writer[*appsv1.Deployment] { return d.s }

// Reader returns the generic query side of the store.
func (d *DeploymentStore) Reader() Reader[*appsv1.Deployment] { return d.s }

// Get returns the cached deployment namespace/name.
func (d *DeploymentStore) Get(namespace, name string) (*appsv1.Deployment, bool) {
	return d.s.Get(namespace, name)
}

// DeploymentsForJob returns the deployments in the job's application namespace
// labeled with the job's name.
func (d *DeploymentStore) DeploymentsForJob(job *ednav1.EdnaJob) []*appsv1.Deployment {
	return d.s.byIndex(jobIndex, key(job.Spec.ApplicationName, job.Name))
}

// DeploymentsInNamespace returns every deployment in the job's application
// namespace regardless of labels.
func (d *DeploymentStore) DeploymentsInNamespace(job *ednav1.EdnaJob) []*appsv1.Deployment {
	return d.s.ByNamespace(job.Spec.ApplicationName)
}

// IsUnique reports whether no cached deployment in namespace is named name.
func (d *DeploymentStore) IsUnique(namespace, name string) bool {
	_, exists := d.s.Get(namespace, name)
	return !exists
}

// List returns all cached deployments.
func (d *DeploymentStore) List() []*appsv1.Deployment { return d.s.List() }

// Len returns the number of cached deployments.
func (d *DeploymentStore) Len() int { return d.s.Len() }
