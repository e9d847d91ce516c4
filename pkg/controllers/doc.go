/*
Package controllers implements the EdnaJob reconciliation loop.

Three controllers each own one resource kind. Every controller pairs a store
from pkg/store with an events.Dispatcher that keeps the store current and
then calls the controller's handler.

# Core Components

JobController reacts to EdnaJob events through an explicit transition table:

	Added     UNDEFINED            advance   (patch spec.state to DEPLOYMENT_CREATION)
	Added     any other state      ignore
	Modified  DEPLOYMENT_CREATION  provision (namespace, image, deployment)
	Modified  UNDEFINED            reject    (logged)
	Modified  READY, DEPLOYMENT_DELETION  ignore
	Deleted   any state            cleanup   (deployments, then the namespace if empty)

The patch issued by advance comes back as a Modified event on the same watch
as external changes, so provisioning happens on the second event.

DeploymentController and NamespaceController maintain their stores and log
changes. The job controller reads those stores to decide whether a namespace
must be created, whether a job already has a deployment and whether its
namespace is empty.

ControllerManager starts the job, deployment and namespace controllers in that
order and closes them in reverse order.

# Staleness

Stores of other kinds may lag behind the cluster. The job controller tolerates
this as follows:
  - a namespace missing from the store is created and AlreadyExists is accepted
  - a deployment it created but has not observed yet is remembered per job UID,
    so a second Modified event does not create another one and cleanup deletes it
  - a namespace whose only cached deployment belongs to the deleted job is
    considered empty
*/
package controllers
