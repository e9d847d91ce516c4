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
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"

	"github.com/graitdm/ednajob-controller/internal/annotations"
	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
)

// JobFactory patches EdnaJob state and exposes the EdnaJob CRD metadata.
type JobFactory struct {
	client          dynamic.Interface
	crds            apiextensionsclient.Interface
	parser          *annotations.AnnotationParser
	defaultReplicas int32
	opts            Options

	mu  sync.RWMutex
	crd *apiextensionsv1.CustomResourceDefinition
}

// NewJobFactory creates a JobFactory. defaultReplicas applies when the CRD has
// no replicas annotation.
func NewJobFactory(client dynamic.Interface, crds apiextensionsclient.Interface, defaultReplicas int32, opts Options) *JobFactory {
	opts = opts.withDefaults()
	opts.Logger = opts.Logger.WithName("job-factory")
	return &JobFactory{
		client:          client,
		crds:            crds,
		parser:          annotations.NewAnnotationParser(),
		defaultReplicas: defaultReplicas,
		opts:            opts,
	}
}

// LoadDefinition fetches the ednajobs CRD. The controller cannot run without it.
func (f *JobFactory) LoadDefinition(ctx context.Context) (*apiextensionsv1.CustomResourceDefinition, error) {
	var crd *apiextensionsv1.CustomResourceDefinition
	err := f.opts.call(ctx, "", func() error {
		var err error
		crd, err = f.crds.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, ednav1.CRDName, metav1.GetOptions{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load custom resource definition %s (is it applied?): %w", ednav1.CRDName, err)
	}

	f.mu.Lock()
	f.crd = crd
	f.mu.Unlock()
	f.opts.Logger.V(1).Info("Loaded custom resource definition", "name", crd.Name, "resourceVersion", crd.ResourceVersion)
	return crd, nil
}

// Definition returns the CRD loaded last, loading it on first use.
func (f *JobFactory) Definition(ctx context.Context) (*apiextensionsv1.CustomResourceDefinition, error) {
	f.mu.RLock()
	crd := f.crd
	f.mu.RUnlock()
	if crd != nil {
		return crd, nil
	}
	return f.LoadDefinition(ctx)
}

// Replicas returns the replica count job deployments are created with.
func (f *JobFactory) Replicas(ctx context.Context) (int32, error) {
	crd, err := f.Definition(ctx)
	if err != nil {
		return 0, err
	}
	return f.parser.ParseReplicas(crd, f.defaultReplicas)
}

// Update sets the state of job in the cluster. The cached job is left
// untouched; the resulting Modified event carries the new state.
func (f *JobFactory) Update(ctx context.Context, job *ednav1.EdnaJob, state ednav1.JobState) error {
	target, err := deepCopy(job)
	if err != nil {
		return err
	}
	target.Spec.State = state

	original, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeepCopy, err)
	}
	modified, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeepCopy, err)
	}
	patch, err := jsonpatch.CreateMergePatch(original, modified)
	if err != nil {
		return fmt.Errorf("failed to compute patch for ednajob %s: %w", job.Name, err)
	}
	if string(patch) == "{}" {
		f.opts.Logger.V(1).Info("EdnaJob already in requested state", "name", job.Name, "state", state.String())
		return nil
	}

	f.opts.Logger.Info("UPD - patching EdnaJob with updated state",
		"name", job.Name, "namespace", job.Namespace, "from", job.State().String(), "to", state.String())

	resource := f.client.Resource(ednav1.GroupVersionResource).Namespace(job.Namespace)
	err = f.opts.call(ctx, ednav1.Plural, func() error {
		_, err := resource.Patch(ctx, job.Name, types.MergePatchType, patch, metav1.PatchOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to patch ednajob %s/%s: %w", job.Namespace, job.Name, err)
	}
	return nil
}

// deepCopy copies job through its JSON form, the shape the API server sees.
func deepCopy(job *ednav1.EdnaJob) (*ednav1.EdnaJob, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeepCopy, err)
	}
	out := &ednav1.EdnaJob{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeepCopy, err)
	}
	return out, nil
}
