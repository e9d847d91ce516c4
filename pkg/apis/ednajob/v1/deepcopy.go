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
	"k8s.io/apimachinery/pkg/runtime"
)

// DeepCopyInto copies the receiver into out.
func (in *EdnaJobSpec) DeepCopyInto(out *EdnaJobSpec) {
	*out = *in
	if in.JobVariableNames != nil {
		out.JobVariableNames = make([]string, len(in.JobVariableNames))
		copy(out.JobVariableNames, in.JobVariableNames)
	}
	if in.JobVariableValues != nil {
		out.JobVariableValues = make([]string, len(in.JobVariableValues))
		copy(out.JobVariableValues, in.JobVariableValues)
	}
}

// DeepCopy returns a deep copy of the spec.
func (in *EdnaJobSpec) DeepCopy() *EdnaJobSpec {
	if in == nil {
		return nil
	}
	out := new(EdnaJobSpec)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the receiver into out.
func (in *EdnaJob) DeepCopyInto(out *EdnaJob) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
}

// DeepCopy returns a deep copy of the job.
func (in *EdnaJob) DeepCopy() *EdnaJob {
	if in == nil {
		return nil
	}
	out := new(EdnaJob)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject implements runtime.Object.
func (in *EdnaJob) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver into out.
func (in *EdnaJobList) DeepCopyInto(out *EdnaJobList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]EdnaJob, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

// DeepCopy returns a deep copy of the list.
func (in *EdnaJobList) DeepCopy() *EdnaJobList {
	if in == nil {
		return nil
	}
	out := new(EdnaJobList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject implements runtime.Object.
func (in *EdnaJobList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}
