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
	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
	"github.com/graitdm/ednajob-controller/pkg/events"
)

// jobAction is what the job controller does in reaction to one event.
type jobAction string

const (
	// actionAdvance patches a fresh job to DEPLOYMENT_CREATION
	actionAdvance jobAction = "advance"

	// actionProvision creates the namespace, image and deployment of a job
	actionProvision jobAction = "provision"

	// actionCleanup removes the deployments of a deleted job and its namespace once empty
	actionCleanup jobAction = "cleanup"

	// actionReject logs an illegal transition
	actionReject jobAction = "reject"

	actionIgnore jobAction = "ignore"
)

type transitionKey struct {
	event events.EventType
	state ednav1.JobState
}

// jobTransitions maps an observed event and the state it carries to an action.
// Deleted events map to cleanup whatever the state; pairs missing from the
// table are ignored. An Added job already in DEPLOYMENT_CREATION was listed
// after a restart and is provisioned like a Modified one. READY and
// DEPLOYMENT_DELETION are never entered through the cluster, so events
// carrying them are ignored.
var jobTransitions = map[transitionKey]jobAction{
	{events.Added, ednav1.StateUndefined}:             actionAdvance,
	{events.Added, ednav1.StateDeploymentCreation}:    actionProvision,
	{events.Added, ednav1.StateDeploymentDeletion}:    actionIgnore,
	{events.Added, ednav1.StateReady}:                 actionIgnore,
	{events.Modified, ednav1.StateUndefined}:          actionReject,
	{events.Modified, ednav1.StateDeploymentCreation}: actionProvision,
	{events.Modified, ednav1.StateDeploymentDeletion}: actionIgnore,
	{events.Modified, ednav1.StateReady}:              actionIgnore,
}

// nextAction looks up the action for event type t on a job in state s.
func nextAction(t events.EventType, s ednav1.JobState) jobAction {
	if t == events.Deleted {
		return actionCleanup
	}
	if action, ok := jobTransitions[transitionKey{t, s.Normalize()}]; ok {
		return action
	}
	return actionIgnore
}
