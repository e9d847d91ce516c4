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

package operator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/graitdm/ednajob-controller/internal/server"
	"github.com/graitdm/ednajob-controller/pkg/config"
	"github.com/graitdm/ednajob-controller/pkg/controllers"
	"github.com/graitdm/ednajob-controller/pkg/events"
	"github.com/graitdm/ednajob-controller/pkg/factory"
	"github.com/graitdm/ednajob-controller/pkg/imagebuild"
	"github.com/graitdm/ednajob-controller/pkg/logging"
	"github.com/graitdm/ednajob-controller/pkg/metrics"
	"github.com/graitdm/ednajob-controller/pkg/store"
	"github.com/graitdm/ednajob-controller/pkg/utils"
)

// ErrAlreadyRunning is returned by Run on a second call.
var ErrAlreadyRunning = errors.New("operator already running")

const syncPollInterval = 100 * time.Millisecond

// Operator wires the stores, factories and controllers of the EdnaJob
// controller and runs them with the HTTP endpoints and optional leader
// election.
type Operator struct {
	config  *config.EdnaConfig
	log     logr.Logger
	logger  *logging.Logger
	clients *KubernetesClientManager

	// Core services
	metricsCollector *metrics.Collector
	builder          imagebuild.Builder

	jobs        *store.JobStore
	deployments *store.DeploymentStore
	namespaces  *store.NamespaceStore
	limiter     *utils.RateLimiter

	jobFactory        *factory.JobFactory
	deploymentFactory *factory.DeploymentFactory
	namespaceFactory  *factory.NamespaceFactory

	controllerManager *controllers.ControllerManager

	// HTTP Server components
	healthChecker *server.HealthChecker
	metricsServer *server.MetricsServer
	statusHandler *server.StatusHandler
	servers       []*server.Server

	leaderElection *LeaderElectionManager
	shutdown       *ShutdownManager
	watcher        *config.Watcher
	configLoader   *config.Loader

	identity       string
	shutdownConfig ShutdownConfig
	running        atomic.Bool
}

// Option customizes an Operator.
type Option func(*Operator)

// WithLogger sets the logger. Level changes from a reloaded configuration are
// applied to it.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Operator) {
		o.logger = logger
		o.log = logger.Logger
	}
}

// WithMetricsCollector sets the collector instead of a new one.
func WithMetricsCollector(c *metrics.Collector) Option {
	return func(o *Operator) { o.metricsCollector = c }
}

// WithBuilder replaces the build-context image builder.
func WithBuilder(b imagebuild.Builder) Option {
	return func(o *Operator) { o.builder = b }
}

// WithConfigWatcher reloads the log level when the configuration file changes.
func WithConfigWatcher(loader *config.Loader) Option {
	return func(o *Operator) { o.configLoader = loader }
}

// WithIdentity sets the leader election identity.
func WithIdentity(identity string) Option {
	return func(o *Operator) { o.identity = identity }
}

// WithShutdownConfig overrides the graceful shutdown settings.
func WithShutdownConfig(c ShutdownConfig) Option {
	return func(o *Operator) { o.shutdownConfig = c }
}

// NewOperator creates an operator for cfg using the given clients.
func NewOperator(cfg *config.EdnaConfig, clients *KubernetesClientManager, opts ...Option) (*Operator, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if clients == nil {
		return nil, fmt.Errorf("kubernetes clients are required")
	}

	o := &Operator{
		config:         cfg,
		log:            logr.Discard(),
		clients:        clients,
		shutdownConfig: DefaultShutdownConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.WithName("operator")
	if o.configLoader != nil {
		o.watcher = config.NewWatcher(o.configLoader, o.applyReload, o.log)
	}

	if err := o.initializeCoreServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize core services: %w", err)
	}
	o.setupStoresAndFactories()
	o.setupControllers()
	if err := o.setupLeaderElection(); err != nil {
		return nil, fmt.Errorf("failed to set up leader election: %w", err)
	}
	o.initializeHTTPServer()
	o.setupShutdown()

	return o, nil
}

func (o *Operator) initializeCoreServices() error {
	if o.metricsCollector == nil {
		o.metricsCollector = metrics.NewCollector()
	}
	if o.builder == nil {
		b, err := imagebuild.NewContextBuilder(imagebuild.Config{
			JobPath:    o.config.Edna.JobPath,
			SourceDir:  o.config.Edna.SourceDir,
			DockerHost: o.config.Docker.Host,
			VerifyPush: o.config.Docker.VerifyPush,
		}, o.log)
		if err != nil {
			return err
		}
		o.builder = b
	}
	return nil
}

func (o *Operator) setupStoresAndFactories() {
	o.jobs = store.NewJobStore()
	o.deployments = store.NewDeploymentStore()
	o.namespaces = store.NewNamespaceStore()

	retry := utils.DefaultRetryConfig()
	retry.MaxElapsedTime = o.config.Controllers.RetryMaxElapsed

	limiterConfig := utils.DefaultRateLimiterConfig()
	limiterConfig.QPS = o.config.Controllers.APIQPS
	limiterConfig.Burst = o.config.Controllers.APIBurst

	o.limiter = utils.NewRateLimiter(limiterConfig)
	opts := factory.Options{
		Retry:    retry,
		Limiter:  o.limiter,
		Recorder: o.metricsCollector,
		Logger:   o.log.WithName("factory"),
	}

	o.jobFactory = factory.NewJobFactory(
		o.clients.GetDynamicClient(),
		o.clients.GetCRDClient(),
		o.config.Edna.DefaultReplicas,
		opts,
	)
	o.deploymentFactory = factory.NewDeploymentFactory(o.clients.GetKubernetesClient(), o.deployments, o.jobFactory, opts)
	o.namespaceFactory = factory.NewNamespaceFactory(o.clients.GetKubernetesClient(), o.namespaces, o.deployments, opts)
}

func (o *Operator) setupControllers() {
	dispatcherConfig := events.DefaultDispatcherConfig()
	dispatcherConfig.ReconnectMax = o.config.Controllers.ResyncBackoffMax

	opts := controllers.Options{
		Dispatcher: dispatcherConfig,
		Recorder:   o.metricsCollector,
		Logger:     o.log.WithName("controllers"),
	}
	kubeClient := o.clients.GetKubernetesClient()

	deploymentController := controllers.NewDeploymentController(
		events.DeploymentSource(kubeClient, "", o.config.Controllers.DeploymentLabelSelector),
		o.deployments,
		o.jobs,
		opts,
	)

	namespaceController := controllers.NewNamespaceController(
		events.NamespaceSource(kubeClient),
		o.namespaces,
		opts,
	)

	cachesSynced := func() bool {
		return deploymentController.Synced() && namespaceController.Synced()
	}
	jobController := controllers.NewJobController(controllers.JobDependencies{
		Source:            events.JobSource(o.clients.GetDynamicClient(), o.config.Edna.Namespace),
		Jobs:              o.jobs,
		Deployments:       o.deployments,
		Namespaces:        o.namespaces,
		JobFactory:        o.jobFactory,
		DeploymentFactory: o.deploymentFactory,
		NamespaceFactory:  o.namespaceFactory,
		Builder:           o.builder,
		CachesSynced:      cachesSynced,
		Metrics:           o.metricsCollector,
	}, opts)

	o.controllerManager = controllers.NewControllerManager(o.log,
		jobController,
		deploymentController,
		namespaceController,
	)
}

func (o *Operator) setupLeaderElection() error {
	le := o.config.Controllers.LeaderElection
	manager, err := NewLeaderElectionManager(LeaderElectionConfig{
		Enabled:       le.Enabled,
		Namespace:     o.config.LeaseNamespace(),
		LeaseName:     le.ID,
		LeaseDuration: le.LeaseDuration,
		RenewDeadline: le.RenewDeadline,
		RetryPeriod:   le.RetryPeriod,
		Identity:      o.identity,
	}, o.clients.GetKubernetesClient(), o.metricsCollector, o.log)
	if err != nil {
		return err
	}
	o.leaderElection = manager
	return nil
}

func (o *Operator) initializeHTTPServer() {
	gin.SetMode(gin.ReleaseMode)

	o.healthChecker = server.NewHealthChecker(o.clients.GetKubernetesClient(), o.config.Edna.Namespace)
	o.healthChecker.SetSyncChecker(o.controllerManager)
	if o.config.Controllers.LeaderElection.Enabled {
		o.healthChecker.SetLeaderCheck(o.leaderElection.IsLeader)
	}
	o.metricsServer = server.NewMetricsServer(o.metricsCollector)
	o.statusHandler = server.NewStatusHandler(o.controllerManager, o.metricsCollector)

	health := o.config.Observability.Health
	metricsCfg := o.config.Observability.Metrics
	httpLog := o.log.WithName("http")

	switch {
	case health.Enabled && metricsCfg.Enabled && health.BindAddress == metricsCfg.BindAddress:
		engine := server.NewRouter(server.Routes{
			Health:  o.healthChecker,
			Metrics: o.metricsServer,
			Status:  o.statusHandler,
		}, httpLog)
		o.servers = append(o.servers, server.NewServer("http", health.BindAddress, engine, httpLog))
	default:
		if health.Enabled {
			engine := server.NewRouter(server.Routes{
				Health: o.healthChecker,
				Status: o.statusHandler,
			}, httpLog)
			o.servers = append(o.servers, server.NewServer("health", health.BindAddress, engine, httpLog))
		}
		if metricsCfg.Enabled {
			engine := server.NewRouter(server.Routes{Metrics: o.metricsServer}, httpLog)
			o.servers = append(o.servers, server.NewServer("metrics", metricsCfg.BindAddress, engine, httpLog))
		}
	}
}

func (o *Operator) setupShutdown() {
	o.shutdown = NewShutdownManager(o.shutdownConfig, o.log)
	o.shutdown.OnPreShutdown("readiness", func(context.Context) error {
		o.healthChecker.SetNotReady("shutting down")
		return nil
	})
	o.shutdown.OnShutdown("controllers", func(context.Context) error {
		return o.controllerManager.Close()
	})
}

// Run loads the EdnaJob definition, then serves HTTP and runs the controllers
// until ctx is cancelled or a component fails. Controllers run only while
// this process leads.
func (o *Operator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	o.log.Info("Starting EdnaJob controller",
		"namespace", o.config.Edna.Namespace,
		"job-path", o.config.Edna.JobPath,
		"leader-election", o.config.Controllers.LeaderElection.Enabled,
		"identity", o.leaderElection.GetIdentity())

	if _, err := o.jobFactory.LoadDefinition(ctx); err != nil {
		return fmt.Errorf("failed to load EdnaJob definition: %w", err)
	}
	o.checkPermissions(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range o.servers {
		srv := srv
		g.Go(func() error { return srv.Run(gctx) })
	}
	if o.watcher != nil {
		g.Go(func() error { return o.watcher.Start(gctx) })
	}
	g.Go(func() error { return o.leaderElection.Run(gctx, o.lead) })
	g.Go(func() error {
		<-gctx.Done()
		reason := "context cancelled"
		if ctx.Err() == nil {
			reason = "component failed"
		}
		return o.shutdown.Shutdown(reason)
	})

	err := g.Wait()
	o.log.Info("EdnaJob controller stopped")
	return err
}

// lead runs the controllers until ctx ends.
func (o *Operator) lead(ctx context.Context) error {
	if err := o.controllerManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start controllers: %w", err)
	}

	go func() {
		if err := o.controllerManager.WaitForSync(ctx, syncPollInterval); err != nil {
			return
		}
		o.log.Info("Controllers synced",
			"jobs", o.jobs.Len(),
			"deployments", o.deployments.Len(),
			"namespaces", o.namespaces.Len())
	}()

	<-ctx.Done()
	return o.controllerManager.Close()
}

func (o *Operator) checkPermissions(ctx context.Context) {
	missing, err := o.clients.MissingPermissions(ctx, RequiredPermissions(o.config.Edna.Namespace))
	if err != nil {
		o.log.V(1).Info("Could not review permissions", "error", err.Error())
		return
	}
	for _, perm := range missing {
		o.log.Info("Missing permission", "permission", perm.String(), "namespace", perm.Namespace)
	}
}

func (o *Operator) applyReload(cfg *config.EdnaConfig) {
	level := cfg.Observability.Logging.Level
	if o.logger != nil && o.logger.Level() != level {
		o.logger.SetLevel(level)
		o.log.Info("Log level changed", "level", level)
	}

	limits := utils.DefaultRateLimiterConfig()
	limits.QPS = cfg.Controllers.APIQPS
	limits.Burst = cfg.Controllers.APIBurst
	o.limiter.UpdateConfig(limits)
	o.log.V(1).Info("Applied API rate limits", "qps", limits.QPS, "burst", limits.Burst)
}

// IsReady reports whether the controllers have synced.
func (o *Operator) IsReady() bool {
	return o.running.Load() && o.controllerManager.Synced()
}

// IsLeader returns true if this instance currently runs the controllers
func (o *Operator) IsLeader() bool {
	return o.leaderElection.IsLeader()
}

// GetID returns the leader election identity
func (o *Operator) GetID() string {
	return o.leaderElection.GetIdentity()
}

// GetConfig returns the operator configuration
func (o *Operator) GetConfig() *config.EdnaConfig {
	return o.config
}

// GetControllerManager returns the controller manager
func (o *Operator) GetControllerManager() *controllers.ControllerManager {
	return o.controllerManager
}

// GetHealthChecker returns the health checker
func (o *Operator) GetHealthChecker() *server.HealthChecker {
	return o.healthChecker
}

// GetMetricsServer returns the metrics server
func (o *Operator) GetMetricsServer() *server.MetricsServer {
	return o.metricsServer
}

// GetServers returns the HTTP servers Run starts
func (o *Operator) GetServers() []*server.Server {
	return o.servers
}

// GetShutdownStatus returns the graceful shutdown progress
func (o *Operator) GetShutdownStatus() *ShutdownStatus {
	return o.shutdown.GetShutdownStatus()
}
