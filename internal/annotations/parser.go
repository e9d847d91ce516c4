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

// Package annotations reads and writes the labels and annotations the
// controller uses to mark and configure the objects it manages.
package annotations

import (
	"fmt"
	"strconv"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
)

const (
	// ManagedByLabel is the well-known label recording which tool created an object
	ManagedByLabel = "app.kubernetes.io/managed-by"

	// maxReplicas bounds the replicas annotation
	maxReplicas = 1 << 16
)

// AnnotationParser provides methods for reading controller labels and annotations
type AnnotationParser struct{}

// NewAnnotationParser creates a new annotation parser
func NewAnnotationParser() *AnnotationParser {
	return &AnnotationParser{}
}

// ParseReplicas reads the replicas annotation of obj, normally the EdnaJob
// CustomResourceDefinition. A missing annotation yields fallback; a malformed
// one is an error.
func (p *AnnotationParser) ParseReplicas(obj metav1.Object, fallback int32) (int32, error) {
	value, exists := p.GetAnnotationValue(obj, ednav1.ReplicasAnnotation)
	if !exists {
		return fallback, nil
	}
	count, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s annotation %q: %w", ednav1.ReplicasAnnotation, value, err)
	}
	if count < 0 || count > maxReplicas {
		return 0, fmt.Errorf("%s annotation out of valid range: %d", ednav1.ReplicasAnnotation, count)
	}
	return int32(count), nil // #nosec G115 - bounds checked above
}

// JobLabels returns the labels put on a job's deployment, its pod template
// and its selector.
func (p *AnnotationParser) JobLabels(job *ednav1.EdnaJob) map[string]string {
	return map[string]string{
		ednav1.AppLabelKey: ednav1.AppLabelValue,
		ednav1.JobLabelKey: job.Name,
	}
}

// ManagedLabels returns the labels put on namespaces the controller creates.
func (p *AnnotationParser) ManagedLabels() map[string]string {
	return map[string]string{ManagedByLabel: ednav1.ManagedByLabelValue}
}

// JobName returns the EdnaJob an object was created for.
func (p *AnnotationParser) JobName(obj metav1.Object) (string, bool) {
	labels := obj.GetLabels()
	if labels == nil {
		return "", false
	}
	name, exists := labels[ednav1.JobLabelKey]
	return name, exists && name != ""
}

// BelongsTo reports whether obj carries the job label of job.
func (p *AnnotationParser) BelongsTo(obj metav1.Object, job *ednav1.EdnaJob) bool {
	name, ok := p.JobName(obj)
	return ok && name == job.Name
}

// IsManaged reports whether obj was created by the controller.
func (p *AnnotationParser) IsManaged(obj metav1.Object) bool {
	labels := obj.GetLabels()
	if labels == nil {
		return false
	}
	return strings.EqualFold(labels[ManagedByLabel], ednav1.ManagedByLabelValue)
}

// GetAnnotationValue safely retrieves an annotation value
func (p *AnnotationParser) GetAnnotationValue(obj metav1.Object, key string) (string, bool) {
	annotations := obj.GetAnnotations()
	if annotations == nil {
		return "", false
	}

	value, exists := annotations[key]
	return value, exists
}
