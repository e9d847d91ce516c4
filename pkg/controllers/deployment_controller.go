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

package controllers

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/utils/ptr"

	"github.com/graitdm/ednajob-controller/internal/annotations"
	"github.com/graitdm/ednajob-controller/pkg/events"
	"github.com/graitdm/ednajob-controller/pkg/store"
)

// DeploymentControllerName is the name the deployment controller logs and reports under.
const DeploymentControllerName = "deployment-controller"

// DeploymentController keeps the deployment store current and logs changes to
// deployments that belong to jobs.
type DeploymentController struct {
	*runner[*appsv1.Deployment]

	jobs   *store.JobStore
	parser *annotations.AnnotationParser
}

var _ Controller = (*DeploymentController)(nil)

// NewDeploymentController creates the deployment controller. The dispatcher
// writes to deployments; jobs is only read.
func NewDeploymentController(source events.Source[*appsv1.Deployment], deployments *store.DeploymentStore, jobs *store.JobStore, opts Options) *DeploymentController {
	c := &DeploymentController{
		jobs:   jobs,
		parser: annotations.NewAnnotationParser(),
	}
	c.runner = newRunner[*appsv1.Deployment](DeploymentControllerName, "Deployment", source, deployments.Writer(), c, opts)
	return c
}

// OnAdd implements events.Listener.
func (c *DeploymentController) OnAdd(_ context.Context, event events.Event[*appsv1.Deployment]) error {
	logger := c.logger(event)
	logger.Info("Deployment added", "replicas", ptr.Deref(event.Object.Spec.Replicas, 1))
	return nil
}

// OnModify implements events.Listener.
func (c *DeploymentController) OnModify(_ context.Context, event events.Event[*appsv1.Deployment]) error {
	logger := c.logger(event)
	d := event.Object
	if event.HasPrior && event.Prior.Status.AvailableReplicas != d.Status.AvailableReplicas {
		logger.Info("Deployment availability changed",
			"available", d.Status.AvailableReplicas,
			"prior_available", event.Prior.Status.AvailableReplicas)
		return nil
	}
	logger.V(1).Info("Deployment modified", "generation", d.Generation)
	return nil
}

// OnDelete implements events.Listener.
func (c *DeploymentController) OnDelete(_ context.Context, event events.Event[*appsv1.Deployment]) error {
	logger := c.logger(event)
	jobName, ok := c.parser.JobName(event.Object)
	if !ok {
		logger.V(1).Info("Deployment deleted")
		return nil
	}
	if job, live := c.jobs.JobWithName(jobName); live && c.parser.BelongsTo(event.Object, job) {
		logger.Info("Deployment of a live job deleted", "job", jobName, "state", job.State().String())
		return nil
	}
	logger.Info("Deployment deleted", "job", jobName)
	return nil
}

func (c *DeploymentController) logger(event events.Event[*appsv1.Deployment]) *ControllerLogger {
	return NewControllerLogger(c.log, c.name, "Deployment", event.Type, event.Object)
}
