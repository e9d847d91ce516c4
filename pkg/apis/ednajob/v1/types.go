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

// Package v1 contains the EdnaJob custom resource types of the
// edna.graitdm.edu API group.
package v1

import (
	"encoding/json"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// JobState is the lifecycle state of an EdnaJob.
type JobState string

const (
	// StateUndefined is the implicit state of a newly applied job
	StateUndefined JobState = "UNDEFINED"

	// StateDeploymentCreation means the namespace, image and deployment are being provisioned
	StateDeploymentCreation JobState = "DEPLOYMENT_CREATION"

	// StateDeploymentDeletion is set on the in-memory copy of a deleted job
	StateDeploymentDeletion JobState = "DEPLOYMENT_DELETION"

	// StateReady is reserved; no code path sets it
	StateReady JobState = "READY"
)

// JobStates lists every known state in declaration order.
var JobStates = []JobState{StateUndefined, StateDeploymentCreation, StateDeploymentDeletion, StateReady}

// Normalize maps the empty state to StateUndefined.
func (s JobState) Normalize() JobState {
	if s == "" {
		return StateUndefined
	}
	return s
}

// IsValid reports whether s is one of the known states (the empty state counts as UNDEFINED).
func (s JobState) IsValid() bool {
	n := s.Normalize()
	for _, known := range JobStates {
		if n == known {
			return true
		}
	}
	return false
}

func (s JobState) String() string {
	return string(s.Normalize())
}

// UnmarshalJSON decodes a state, treating an empty string as UNDEFINED.
func (s *JobState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("job state must be a string: %w", err)
	}
	*s = JobState(raw).Normalize()
	return nil
}

// EdnaJobSpec describes one edna job and the image it runs in.
type EdnaJobSpec struct {
	State JobState `json:"state,omitempty"`

	ImportKey string `json:"import_key,omitempty"`
	ExportKey string `json:"export_key,omitempty"`

	// JobName is combined with ApplicationName to name the job image
	JobName string `json:"jobname" validate:"required"`

	// ApplicationName is also the namespace the job's deployment runs in
	ApplicationName string `json:"applicationname" validate:"required,dns1123label"`

	FileName   string `json:"filename,omitempty"`
	JobContext string `json:"jobcontext,omitempty"`
	JobType    string `json:"jobtype,omitempty"`

	JobImageTag  string `json:"jobimagetag" validate:"required"`
	JobImage     string `json:"jobimage,omitempty"`
	RegistryHost string `json:"registryhost" validate:"required,hostname_rfc1123|ip"`
	RegistryPort string `json:"registryport" validate:"required,numeric"`

	// JobDependencies and FileDependencies are space separated lists
	JobDependencies  string `json:"jobdependencies,omitempty"`
	FileDependencies string `json:"filedependencies,omitempty"`

	JobVariableNames  []string `json:"jobvariablenames,omitempty" validate:"dive,required"`
	JobVariableValues []string `json:"jobvariablevalues,omitempty"`
}

// JobVariable is one name/value pair from the spec's variable lists.
type JobVariable struct {
	Name  string
	Value string
}

// EdnaJob is the Schema for the ednajobs API
type EdnaJob struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec EdnaJobSpec `json:"spec,omitempty"`
}

// EdnaJobList contains a list of EdnaJob
type EdnaJobList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`

	Items []EdnaJob `json:"items"`
}

// State returns the normalized state of the job.
func (j *EdnaJob) State() JobState {
	return j.Spec.State.Normalize()
}

// Variables pairs JobVariableNames with JobVariableValues. It fails when the
// lists differ in length.
func (j *EdnaJob) Variables() ([]JobVariable, error) {
	names, values := j.Spec.JobVariableNames, j.Spec.JobVariableValues
	if len(names) != len(values) {
		return nil, fmt.Errorf("%w: %d names, %d values", ErrVariableMismatch, len(names), len(values))
	}
	vars := make([]JobVariable, 0, len(names))
	for i := range names {
		vars = append(vars, JobVariable{Name: names[i], Value: values[i]})
	}
	return vars, nil
}

// ImageRepository returns registryhost:registryport/applicationname-jobname.
func (j *EdnaJob) ImageRepository() string {
	return fmt.Sprintf("%s:%s/%s-%s",
		j.Spec.RegistryHost, j.Spec.RegistryPort,
		j.Spec.ApplicationName, j.Spec.JobName)
}

// ImageReference returns the full image reference the job's deployment pulls.
func (j *EdnaJob) ImageReference() string {
	return j.ImageRepository() + ":" + j.Spec.JobImageTag
}

// LocalImageName returns applicationname-jobname:jobimagetag.
func (j *EdnaJob) LocalImageName() string {
	return fmt.Sprintf("%s-%s:%s", j.Spec.ApplicationName, j.Spec.JobName, j.Spec.JobImageTag)
}
