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
	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
)

// JobStore caches EdnaJobs.
type JobStore struct {
	s *Store[*ednav1.EdnaJob]
}

// NewJobStore creates an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{s: New[*ednav1.EdnaJob](ednav1.Kind, nil)}
}

// Writer returns the mutation side of the store for the job dispatcher.
func (j *JobStore) Writer() Writer[*ednav1.EdnaJob] { return j.s }

// Reader returns the generic query side of the store.
func (j *JobStore) Reader() Reader[*ednav1.EdnaJob] { return j.s }

// Get returns the cached job namespace/name.
func (j *JobStore) Get(namespace, name string) (*ednav1.EdnaJob, bool) {
	return j.s.Get(namespace, name)
}

// JobWithName returns the first cached job named name in any namespace.
func (j *JobStore) JobWithName(name string) (*ednav1.EdnaJob, bool) {
	jobs := j.s.ByName(name)
	if len(jobs) == 0 {
		return nil, false
	}
	return jobs[0], true
}

// List returns all cached jobs.
func (j *JobStore) List() []*ednav1.EdnaJob { return j.s.List() }

// Len returns the number of cached jobs.
func (j *JobStore) Len() int { return j.s.Len() }
