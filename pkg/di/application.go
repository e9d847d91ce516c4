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

package di

import (
	"context"
	"fmt"
	"sync"

	"github.com/graitdm/ednajob-controller/pkg/config"
	"github.com/graitdm/ednajob-controller/pkg/logging"
	"github.com/graitdm/ednajob-controller/pkg/operator"
)

// ApplicationBuilder builds the controller application from the DI container
type ApplicationBuilder struct {
	container *Container
	registry  *ServiceRegistry
}

// NewApplicationBuilder creates a new application builder
func NewApplicationBuilder() *ApplicationBuilder {
	container := NewContainer()
	return &ApplicationBuilder{
		container: container,
		registry:  NewServiceRegistry(container),
	}
}

// WithConfigFile sets the configuration file path
func (b *ApplicationBuilder) WithConfigFile(path string) *ApplicationBuilder {
	b.registry.WithConfigFile(path)
	return b
}

// WithOverrides applies command line values on top of the loaded configuration
func (b *ApplicationBuilder) WithOverrides(overrides config.Overrides) *ApplicationBuilder {
	b.registry.WithOverrides(overrides)
	return b
}

// WithClients uses prebuilt Kubernetes clients
func (b *ApplicationBuilder) WithClients(clients *operator.KubernetesClientManager) *ApplicationBuilder {
	b.registry.WithClients(clients)
	return b
}

// WithOperatorOptions passes extra options to the operator
func (b *ApplicationBuilder) WithOperatorOptions(opts ...operator.Option) *ApplicationBuilder {
	b.registry.WithOperatorOptions(opts...)
	return b
}

// Build resolves the configuration, logger and operator.
func (b *ApplicationBuilder) Build(_ context.Context) (*Application, error) {
	if err := b.registry.RegisterAll(); err != nil {
		return nil, fmt.Errorf("failed to register services: %w", err)
	}

	if err := b.container.Provide(func(cfg *config.EdnaConfig, logger *logging.Logger, op *operator.Operator) *Application {
		return &Application{
			Config:    cfg,
			Logger:    logger,
			Operator:  op,
			Container: b.container,
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to register application: %w", err)
	}

	app, err := Resolve[*Application](b.container)
	if err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}
	return app, nil
}

// Application is the assembled controller
type Application struct {
	Config    *config.EdnaConfig
	Logger    *logging.Logger
	Operator  *operator.Operator
	Container *Container

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Start runs the operator until ctx is cancelled or Stop is called.
func (a *Application) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.Logger.Info("Starting EdnaJob controller application",
		"namespace", a.Config.Edna.Namespace,
		"api-server", a.Config.Kubernetes.ProxyURL(),
		"leader-election", a.Config.Controllers.LeaderElection.Enabled,
		"metrics", a.Config.Observability.Metrics.Enabled)

	if err := a.Operator.Run(ctx); err != nil {
		return fmt.Errorf("failed to run operator: %w", err)
	}
	return nil
}

// Stop cancels a running Start. It is a no-op before Start.
func (a *Application) Stop(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.Logger.Info("Stopping EdnaJob controller application")
		a.cancel()
	}
	return nil
}

// GetConfig returns the application configuration
func (a *Application) GetConfig() *config.EdnaConfig {
	return a.Config
}

// NewApplication creates a new application with default configuration
func NewApplication(ctx context.Context) (*Application, error) {
	return NewApplicationBuilder().Build(ctx)
}

// NewApplicationWithConfig creates a new application with configuration from file
func NewApplicationWithConfig(ctx context.Context, configFile string) (*Application, error) {
	return NewApplicationBuilder().WithConfigFile(configFile).Build(ctx)
}
