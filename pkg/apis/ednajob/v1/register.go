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

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	// GroupName is the API group of the EdnaJob custom resource
	GroupName = "edna.graitdm.edu"

	// Version is the served version of the EdnaJob custom resource
	Version = "v1"

	// Kind is the EdnaJob kind name
	Kind = "EdnaJob"

	// ListKind is the EdnaJobList kind name
	ListKind = "EdnaJobList"

	// Plural is the resource name used in API paths
	Plural = "ednajobs"

	// CRDName is the name of the CustomResourceDefinition object
	CRDName = Plural + "." + GroupName
)

const (
	// AppLabelKey and AppLabelValue mark every workload the controller creates
	AppLabelKey   = "app"
	AppLabelValue = "ednajob"

	// JobLabelKey carries the owning EdnaJob's name
	JobLabelKey = GroupName + "/ednajob"

	// ReplicasAnnotation on the CRD object sets the replica count of job deployments
	ReplicasAnnotation = "replicas"

	// ManagedByLabelValue is written to app.kubernetes.io/managed-by on created namespaces
	ManagedByLabelValue = "ednajob-controller"
)

var (
	// SchemeGroupVersion is the group version used to register these objects
	SchemeGroupVersion = schema.GroupVersion{Group: GroupName, Version: Version}

	// GroupVersionResource addresses ednajobs through the dynamic client
	GroupVersionResource = SchemeGroupVersion.WithResource(Plural)

	// GroupVersionKind identifies the EdnaJob kind
	GroupVersionKind = SchemeGroupVersion.WithKind(Kind)

	// SchemeBuilder registers the EdnaJob types with a scheme
	SchemeBuilder = runtime.NewSchemeBuilder(addKnownTypes)

	// AddToScheme adds the EdnaJob types to a scheme
	AddToScheme = SchemeBuilder.AddToScheme
)

// APIVersion returns "edna.graitdm.edu/v1".
func APIVersion() string {
	return SchemeGroupVersion.String()
}

func addKnownTypes(scheme *runtime.Scheme) error {
	scheme.AddKnownTypes(SchemeGroupVersion,
		&EdnaJob{},
		&EdnaJobList{},
	)
	metav1.AddToGroupVersion(scheme, SchemeGroupVersion)
	return nil
}
