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
	"fmt"

	"github.com/graitdm/ednajob-controller/pkg/config"
	"github.com/graitdm/ednajob-controller/pkg/logging"
	"github.com/graitdm/ednajob-controller/pkg/metrics"
	"github.com/graitdm/ednajob-controller/pkg/operator"
)

// ServiceRegistry registers the controller's services with the DI container
type ServiceRegistry struct {
	container    *Container
	configFile   string
	overrides    config.Overrides
	clients      *operator.KubernetesClientManager
	operatorOpts []operator.Option
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(container *Container) *ServiceRegistry {
	return &ServiceRegistry{
		container: container,
	}
}

// WithConfigFile sets the configuration file path
func (r *ServiceRegistry) WithConfigFile(configFile string) *ServiceRegistry {
	r.configFile = configFile
	return r
}

// WithOverrides applies command line values on top of the loaded configuration
func (r *ServiceRegistry) WithOverrides(overrides config.Overrides) *ServiceRegistry {
	r.overrides = overrides
	return r
}

// WithClients uses clients instead of building them from the configuration
func (r *ServiceRegistry) WithClients(clients *operator.KubernetesClientManager) *ServiceRegistry {
	r.clients = clients
	return r
}

// WithOperatorOptions appends options passed to operator.NewOperator
func (r *ServiceRegistry) WithOperatorOptions(opts ...operator.Option) *ServiceRegistry {
	r.operatorOpts = append(r.operatorOpts, opts...)
	return r
}

// RegisterAll registers every service the operator needs
func (r *ServiceRegistry) RegisterAll() error {
	steps := []struct {
		name     string
		register func() error
	}{
		{"configuration", r.RegisterConfiguration},
		{"logger", r.RegisterLogger},
		{"core services", r.RegisterCoreServices},
		{"kubernetes clients", r.RegisterClients},
		{"operator", r.RegisterOperator},
	}
	for _, step := range steps {
		if err := step.register(); err != nil {
			return fmt.Errorf("failed to register %s: %w", step.name, err)
		}
	}
	return nil
}

// RegisterConfiguration registers the loader and the validated configuration
func (r *ServiceRegistry) RegisterConfiguration() error {
	if err := r.container.Provide(func() *config.Loader {
		loader := config.NewLoader()
		if r.configFile != "" {
			loader = loader.WithConfigFile(r.configFile)
		}
		return loader
	}); err != nil {
		return err
	}

	return r.container.Provide(func(loader *config.Loader) (*config.EdnaConfig, error) {
		cfg, err := loader.Load()
		if err != nil {
			return nil, err
		}
		if err := r.overrides.Apply(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	})
}

// RegisterLogger registers the structured logger built from the configuration
func (r *ServiceRegistry) RegisterLogger() error {
	return r.container.Provide(func(cfg *config.EdnaConfig) (*logging.Logger, error) {
		l := cfg.Observability.Logging
		return logging.NewLogger(&logging.Config{
			Level:       l.Level,
			Format:      l.Format,
			Output:      l.Output,
			AddCaller:   l.AddCaller,
			Development: l.Development,
		})
	})
}

// RegisterCoreServices registers the metrics collector
func (r *ServiceRegistry) RegisterCoreServices() error {
	return r.container.Provide(metrics.NewCollector)
}

// RegisterClients registers the Kubernetes client manager
func (r *ServiceRegistry) RegisterClients() error {
	if r.clients != nil {
		clients := r.clients
		return r.container.Provide(func() *operator.KubernetesClientManager { return clients })
	}
	return r.container.Provide(func(cfg *config.EdnaConfig) (*operator.KubernetesClientManager, error) {
		return operator.NewKubernetesClientManager(cfg.Kubernetes)
	})
}

// RegisterOperator registers the operator
func (r *ServiceRegistry) RegisterOperator() error {
	return r.container.Provide(func(
		cfg *config.EdnaConfig,
		loader *config.Loader,
		logger *logging.Logger,
		collector *metrics.Collector,
		clients *operator.KubernetesClientManager,
	) (*operator.Operator, error) {
		opts := []operator.Option{
			operator.WithLogger(logger),
			operator.WithMetricsCollector(collector),
			operator.WithConfigWatcher(loader),
		}
		op, err := operator.NewOperator(cfg, clients, append(opts, r.operatorOpts...)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create operator: %w", err)
		}
		return op, nil
	})
}
