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

// Package factory issues the create, patch and delete calls the controllers
// make against the cluster API. Factories keep no state of their own beyond
// the CRD metadata they read at startup; correlation queries go through the
// stores.
package factory

import (
	"context"
	"errors"

	"github.com/go-logr/logr"

	"github.com/graitdm/ednajob-controller/pkg/utils"
)

var (
	// ErrDeepCopy is returned when a job cannot be copied before patching
	ErrDeepCopy = errors.New("failed to deep copy ednajob")

	// ErrNameExhausted is returned when every generated deployment name was taken
	ErrNameExhausted = errors.New("no free deployment name")
)

// Recorder receives factory outcomes.
type Recorder interface {
	RecordDeploymentCreated()
	RecordNameCollision()
	RecordNamespaceCreated()
	RecordNamespaceDeleted()
}

type nopRecorder struct{}

func (nopRecorder) RecordDeploymentCreated() {}
func (nopRecorder) RecordNameCollision()     {}
func (nopRecorder) RecordNamespaceCreated()  {}
func (nopRecorder) RecordNamespaceDeleted()  {}

// Options carries the collaborators shared by every factory. Zero values are
// replaced with defaults.
type Options struct {
	Retry    *utils.RetryConfig
	Limiter  *utils.RateLimiter
	Recorder Recorder
	Logger   logr.Logger
}

func (o Options) withDefaults() Options {
	if o.Retry == nil {
		o.Retry = utils.DefaultRetryConfig()
	}
	if o.Limiter == nil {
		o.Limiter = utils.NewRateLimiter(nil)
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}
	return o
}

// call waits for a token for resource, then runs op with transient errors retried.
func (o Options) call(ctx context.Context, resource string, op func() error) error {
	if err := o.Limiter.Wait(ctx, resource); err != nil {
		return err
	}
	return utils.Retry(ctx, o.Retry, op)
}
