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
	"errors"
	"fmt"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
	"github.com/graitdm/ednajob-controller/pkg/events"
	"github.com/graitdm/ednajob-controller/pkg/factory"
	"github.com/graitdm/ednajob-controller/pkg/imagebuild"
	"github.com/graitdm/ednajob-controller/pkg/store"
)

// JobControllerName is the name the job controller logs and reports under.
const JobControllerName = "ednajob-controller"

// JobRecorder counts job state changes and image preparation failures.
type JobRecorder interface {
	RecordStateTransition(from, to string)
	RecordImageFailure()
}

type nopJobRecorder struct{}

func (nopJobRecorder) RecordStateTransition(string, string) {}
func (nopJobRecorder) RecordImageFailure() {}

// syncPollInterval is how often provision checks CachesSynced.
const syncPollInterval = 100 * time.Millisecond

// JobDependencies are the collaborators of the job controller.
type JobDependencies struct {
	Source      events.Source[*ednav1.EdnaJob]
	Jobs        *store.JobStore
	Deployments *store.DeploymentStore
	Namespaces  *store.NamespaceStore

	JobFactory        *factory.JobFactory
	DeploymentFactory *factory.DeploymentFactory
	NamespaceFactory  *factory.NamespaceFactory
	Builder           imagebuild.Builder

	// CachesSynced reports whether the deployment and namespace stores hold
	// their first list. Nil means always synced.
	CachesSynced func() bool

	Metrics JobRecorder
}

// JobController drives EdnaJobs through their lifecycle. A new job is patched
// to DEPLOYMENT_CREATION; the Modified event caused by that patch provisions
// the namespace, image and deployment. A job listed in DEPLOYMENT_CREATION
// after a restart is provisioned from its Added event. A deleted job loses its deployments
// and, once empty, its application namespace.
type JobController struct {
	*runner[*ednav1.EdnaJob]

	deps JobDependencies

	mu sync.Mutex
	// advanced holds the resource version of the job instance last patched to
	// DEPLOYMENT_CREATION
	advanced map[types.UID]string
	// provisioned holds deployments created for a job that the deployment
	// store may not have seen yet
	provisioned map[types.UID]*appsv1.Deployment
}

var _ Controller = (*JobController)(nil)

// NewJobController creates the job controller. The dispatcher writes to deps.Jobs.
func NewJobController(deps JobDependencies, opts Options) *JobController {
	if deps.Metrics == nil {
		deps.Metrics = nopJobRecorder{}
	}
	c := &JobController{
		deps:        deps,
		advanced:    make(map[types.UID]string),
		provisioned: make(map[types.UID]*appsv1.Deployment),
	}
	c.runner = newRunner[*ednav1.EdnaJob](JobControllerName, ednav1.Kind, deps.Source, deps.Jobs.Writer(), c, opts)
	return c
}

// OnAdd implements events.Listener.
func (c *JobController) OnAdd(ctx context.Context, event events.Event[*ednav1.EdnaJob]) error {
	return c.handle(ctx, event)
}

// OnModify implements events.Listener.
func (c *JobController) OnModify(ctx context.Context, event events.Event[*ednav1.EdnaJob]) error {
	return c.handle(ctx, event)
}

// OnDelete implements events.Listener.
func (c *JobController) OnDelete(ctx context.Context, event events.Event[*ednav1.EdnaJob]) error {
	return c.handle(ctx, event)
}

func (c *JobController) handle(ctx context.Context, event events.Event[*ednav1.EdnaJob]) error {
	job := event.Object
	state := job.State()
	action := nextAction(event.Type, state)

	logger := NewControllerLogger(c.log, c.name, ednav1.Kind, event.Type, job).WithAction(state.String(), action)
	if event.HasPrior && event.Type == events.Modified {
		logger = &ControllerLogger{
			Logger:  logger.WithValues("prior_state", event.Prior.State().String()),
			Context: logger.Context,
		}
	}
	start := time.Now()
	logger.HandleStarted("Handling job event")

	var err error
	switch action {
	case actionAdvance:
		err = c.advance(ctx, job, logger)
	case actionProvision:
		err = c.provision(ctx, job, logger)
	case actionCleanup:
		err = c.cleanup(ctx, job, logger)
	case actionReject:
		logger.Info(fmt.Sprintf("invalid transition to %s", state))
		return nil
	default:
		logger.V(1).Info("No action for job state")
		return nil
	}

	if err != nil {
		logger.WithDuration(time.Since(start)).HandleFailed(err, "Failed to handle job event")
		return err
	}
	logger.WithDuration(time.Since(start)).HandleCompleted("Handled job event")
	return nil
}

// advance patches a new job to DEPLOYMENT_CREATION once per observed instance.
func (c *JobController) advance(ctx context.Context, job *ednav1.EdnaJob, logger *ControllerLogger) error {
	c.mu.Lock()
	rv, seen := c.advanced[job.UID]
	c.mu.Unlock()
	if seen && rv == job.ResourceVersion {
		logger.V(1).Info("Job instance already advanced")
		return nil
	}

	from := job.State()
	if err := c.deps.JobFactory.Update(ctx, job, ednav1.StateDeploymentCreation); err != nil {
		return err
	}

	c.mu.Lock()
	c.advanced[job.UID] = job.ResourceVersion
	c.mu.Unlock()

	c.deps.Metrics.RecordStateTransition(from.String(), ednav1.StateDeploymentCreation.String())
	logger.StateTransition(from.String(), ednav1.StateDeploymentCreation.String())
	return nil
}

// provision creates what a job in DEPLOYMENT_CREATION needs. The namespace is
// created before the deployment. A job that already has a deployment, in the
// store or created by an earlier event, gets no second one. When the image
// cannot be prepared the deployment runs the job's registry reference.
func (c *JobController) provision(ctx context.Context, job *ednav1.EdnaJob, logger *ControllerLogger) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := c.waitForCaches(ctx); err != nil {
		return err
	}

	namespace := job.Spec.ApplicationName
	if !c.deps.Namespaces.Exists(namespace) {
		if _, err := c.deps.NamespaceFactory.Add(ctx, job); err != nil {
			return err
		}
	}

	if existing := c.deps.Deployments.DeploymentsForJob(job); len(existing) > 0 {
		logger.Info("Job already has a deployment", "deployment", existing[0].Name)
		return nil
	}
	c.mu.Lock()
	pending, ok := c.provisioned[job.UID]
	c.mu.Unlock()
	if ok {
		logger.Info("Job deployment created, waiting for it to be observed", "deployment", pending.Name)
		return nil
	}

	image, err := c.deps.Builder.BuildAndPushImage(ctx, job)
	if err != nil {
		c.deps.Metrics.RecordImageFailure()
		logger.Error(err, "Failed to prepare image, deploying the registry reference", "image", job.ImageReference())
		image = nil
	}
	deployment, err := c.deps.DeploymentFactory.Add(ctx, job, image)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.provisioned[job.UID] = deployment
	c.mu.Unlock()
	logger.Info("Provisioned job", "deployment", deployment.Name, "image", deploymentImage(deployment))
	return nil
}

// waitForCaches blocks until CachesSynced holds, so a job replayed at startup
// is checked against a complete deployment store.
func (c *JobController) waitForCaches(ctx context.Context) error {
	if c.deps.CachesSynced == nil {
		return nil
	}
	ticker := time.NewTicker(syncPollInterval)
	defer ticker.Stop()
	for !c.deps.CachesSynced() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("stores did not sync: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func deploymentImage(d *appsv1.Deployment) string {
	if containers := d.Spec.Template.Spec.Containers; len(containers) > 0 {
		return containers[0].Image
	}
	return ""
}

// cleanup removes the deployments of a deleted job, then its application
// namespace when nothing else runs there. The job object is already gone, so
// DEPLOYMENT_DELETION is only set on a local copy.
func (c *JobController) cleanup(ctx context.Context, job *ednav1.EdnaJob, logger *ControllerLogger) error {
	deleting := job.DeepCopy()
	from := deleting.State()
	deleting.Spec.State = ednav1.StateDeploymentDeletion
	c.deps.Metrics.RecordStateTransition(from.String(), ednav1.StateDeploymentDeletion.String())
	logger.StateTransition(from.String(), ednav1.StateDeploymentDeletion.String())

	c.mu.Lock()
	pending := c.provisioned[job.UID]
	delete(c.provisioned, job.UID)
	delete(c.advanced, job.UID)
	c.mu.Unlock()

	deployments := c.deps.Deployments.DeploymentsForJob(deleting)
	if pending != nil && !containsDeployment(deployments, pending) {
		deployments = append(deployments, &appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Namespace: pending.Namespace, Name: pending.Name},
		})
	}

	var errs []error
	for _, deployment := range deployments {
		errs = append(errs, c.deps.DeploymentFactory.Delete(ctx, deployment))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	deleted, err := c.deps.NamespaceFactory.DeleteIfEmpty(ctx, deleting)
	if err != nil {
		return err
	}
	logger.NamespaceCheck(deleting.Spec.ApplicationName, deleted)
	return nil
}

func containsDeployment(list []*appsv1.Deployment, d *appsv1.Deployment) bool {
	for _, existing := range list {
		if existing.Namespace == d.Namespace && existing.Name == d.Name {
			return true
		}
	}
	return false
}
