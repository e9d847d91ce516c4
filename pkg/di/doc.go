/*
Package di assembles the EdnaJob controller with Uber Dig.

# Core Components

Container wraps dig.Container:
  - MustProvide and MustInvoke panic on wiring errors
  - Resolve[T] builds a single value and its dependencies

ServiceRegistry registers the controller's services:
  - *config.Loader and the validated *config.EdnaConfig, with command line
    overrides applied after the file and environment
  - *logging.Logger built from observability.logging
  - *metrics.Collector
  - *operator.KubernetesClientManager, built from the kubernetes section or
    supplied with WithClients
  - *operator.Operator, wired with the logger, the collector and a config
    watcher on the loader

ApplicationBuilder and Application run the result:

	app, err := di.NewApplicationBuilder().
		WithConfigFile("/etc/ednajob/config.yaml").
		WithOverrides(config.Overrides{Namespace: "jobs"}).
		Build(ctx)
	if err != nil {
		return err
	}
	return app.Start(ctx)

Start blocks until ctx is cancelled or Stop is called.

# Testing

Tests replace the cluster with fake clientsets:

	clients := operator.NewKubernetesClientManagerFromClients(kube, dyn, crds)
	app, err := di.NewApplicationBuilder().WithClients(clients).Build(ctx)

Configuration errors surface from Build, before anything connects to the
API server.
*/
package di
