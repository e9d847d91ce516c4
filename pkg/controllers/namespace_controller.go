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

	corev1 "k8s.io/api/core/v1"

	"github.com/graitdm/ednajob-controller/internal/annotations"
	"github.com/graitdm/ednajob-controller/pkg/events"
	"github.com/graitdm/ednajob-controller/pkg/store"
)

// NamespaceControllerName is the name the namespace controller logs and reports under.
const NamespaceControllerName = "namespace-controller"

// NamespaceController keeps the namespace store current.
type NamespaceController struct {
	*runner[*corev1.Namespace]

	parser *annotations.AnnotationParser
}

var _ Controller = (*NamespaceController)(nil)

// NewNamespaceController creates the namespace controller.
func NewNamespaceController(source events.Source[*corev1.Namespace], namespaces *store.NamespaceStore, opts Options) *NamespaceController {
	c := &NamespaceController{parser: annotations.NewAnnotationParser()}
	c.runner = newRunner[*corev1.Namespace](NamespaceControllerName, "Namespace", source, namespaces.Writer(), c, opts)
	return c
}

// OnAdd implements events.Listener.
func (c *NamespaceController) OnAdd(_ context.Context, event events.Event[*corev1.Namespace]) error {
	c.logger(event).V(1).Info("Namespace added", "managed", c.parser.IsManaged(event.Object))
	return nil
}

// OnModify implements events.Listener.
func (c *NamespaceController) OnModify(_ context.Context, event events.Event[*corev1.Namespace]) error {
	ns := event.Object
	if event.HasPrior && event.Prior.Status.Phase != ns.Status.Phase {
		c.logger(event).Info("Namespace phase changed", "phase", ns.Status.Phase, "prior_phase", event.Prior.Status.Phase)
		return nil
	}
	c.logger(event).V(1).Info("Namespace modified")
	return nil
}

// OnDelete implements events.Listener.
func (c *NamespaceController) OnDelete(_ context.Context, event events.Event[*corev1.Namespace]) error {
	c.logger(event).Info("Namespace deleted", "managed", c.parser.IsManaged(event.Object))
	return nil
}

func (c *NamespaceController) logger(event events.Event[*corev1.Namespace]) *ControllerLogger {
	return NewControllerLogger(c.log, c.name, "Namespace", event.Type, event.Object)
}
