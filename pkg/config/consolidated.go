// Package config provides consolidated configuration structures and defaults for the EdnaJob controller.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// EdnaConfig is the root configuration structure for the controller
type EdnaConfig struct {
	// Kubernetes describes how to reach the API server
	Kubernetes KubernetesConfig `yaml:"kubernetes" json:"kubernetes"`

	// Edna contains job and namespace settings
	Edna EdnaSettings `yaml:"edna" json:"edna"`

	// Docker contains image builder settings
	Docker DockerConfig `yaml:"docker" json:"docker"`

	// Controllers contains controller-specific configuration
	Controllers ControllerConfig `yaml:"controllers" json:"controllers"`

	// Observability contains metrics, logging, and health check configuration
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// KubernetesConfig selects the API server connection. With an empty
// Kubeconfig and InCluster unset the controller talks to a kubectl proxy at
// Protocol://Host:Port.
type KubernetesConfig struct {
	Kubeconfig string `yaml:"kubeconfig" json:"kubeconfig"`
	InCluster  bool   `yaml:"inCluster" json:"inCluster"`

	Protocol string `yaml:"protocol" json:"protocol" validate:"oneof=http https"`
	Host     string `yaml:"host" json:"host" validate:"required_without_all=Kubeconfig InCluster"`
	Port     int    `yaml:"port" json:"port" validate:"min=1,max=65535"`

	QPS       float32       `yaml:"qps" json:"qps" validate:"gt=0"`
	Burst     int           `yaml:"burst" json:"burst" validate:"gt=0"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	UserAgent string        `yaml:"userAgent" json:"userAgent"`
}

// ProxyURL returns the kubectl proxy address.
func (k KubernetesConfig) ProxyURL() string {
	return fmt.Sprintf("%s://%s:%d", k.Protocol, k.Host, k.Port)
}

// EdnaSettings contains job related configuration
type EdnaSettings struct {
	// Namespace is where EdnaJob objects are watched
	Namespace string `yaml:"namespace" json:"namespace" validate:"required"`

	// JobPath is the root of the per-job build contexts
	JobPath string `yaml:"jobPath" json:"jobPath" validate:"required"`

	// SourceDir holds shared sources copied into build contexts
	SourceDir string `yaml:"sourceDir" json:"sourceDir"`

	// DefaultReplicas is used when the CRD has no replicas annotation
	DefaultReplicas int32 `yaml:"defaultReplicas" json:"defaultReplicas" validate:"gte=0"`
}

// DockerConfig contains image builder configuration
type DockerConfig struct {
	Host string `yaml:"host" json:"host" validate:"required"`

	// VerifyPush checks the registry for the job image before deploying
	VerifyPush bool `yaml:"verifyPush" json:"verifyPush"`
}

// ControllerConfig contains controller-specific configuration
type ControllerConfig struct {
	// DeploymentLabelSelector narrows the deployment watch
	DeploymentLabelSelector string `yaml:"deploymentLabelSelector" json:"deploymentLabelSelector"`

	// RetryMaxElapsed bounds retries of a single API mutation
	RetryMaxElapsed time.Duration `yaml:"retryMaxElapsed" json:"retryMaxElapsed" validate:"gt=0"`

	// ResyncBackoffMax caps the delay between list/watch reconnects
	ResyncBackoffMax time.Duration `yaml:"resyncBackoffMax" json:"resyncBackoffMax" validate:"gt=0"`

	// APIQPS and APIBurst limit mutating calls made by the factories
	APIQPS   float64 `yaml:"apiQPS" json:"apiQPS" validate:"gt=0"`
	APIBurst int     `yaml:"apiBurst" json:"apiBurst" validate:"gt=0"`

	LeaderElection LeaderElectionConfig `yaml:"leaderElection" json:"leaderElection"`
}

// LeaderElectionConfig contains leader election settings
type LeaderElectionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ID is the name of the lease object
	ID string `yaml:"id" json:"id" validate:"required_if=Enabled true"`

	// Namespace holds the lease; empty means Edna.Namespace
	Namespace string `yaml:"namespace" json:"namespace"`

	LeaseDuration time.Duration `yaml:"leaseDuration" json:"leaseDuration"`
	RenewDeadline time.Duration `yaml:"renewDeadline" json:"renewDeadline"`
	RetryPeriod   time.Duration `yaml:"retryPeriod" json:"retryPeriod"`
}

// ObservabilityConfig contains metrics, logging, and health check configuration
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Health  HealthConfig  `yaml:"health" json:"health"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	BindAddress string `yaml:"bindAddress" json:"bindAddress" validate:"required_if=Enabled true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=trace debug info warn error"`

	// Format is the log format (json, console)
	Format string `yaml:"format" json:"format" validate:"oneof=json console"`

	// Output is the output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	AddCaller   bool `yaml:"addCaller" json:"addCaller"`
	Development bool `yaml:"development" json:"development"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	BindAddress string `yaml:"bindAddress" json:"bindAddress" validate:"required_if=Enabled true"`
}

// DefaultConfig returns the default controller configuration
func DefaultConfig() *EdnaConfig {
	jobPath, err := os.Getwd()
	if err != nil {
		jobPath = "."
	}
	return &EdnaConfig{
		Kubernetes: KubernetesConfig{
			Protocol:  "http",
			Host:      "127.0.0.1",
			Port:      8080,
			QPS:       20,
			Burst:     30,
			UserAgent: "ednajob-controller",
		},
		Edna: EdnaSettings{
			Namespace:       "default",
			JobPath:         jobPath,
			DefaultReplicas: 1,
		},
		Docker: DockerConfig{
			Host: "unix:///var/run/docker.sock",
		},
		Controllers: ControllerConfig{
			RetryMaxElapsed:  30 * time.Second,
			ResyncBackoffMax: 30 * time.Second,
			APIQPS:           10,
			APIBurst:         20,
			LeaderElection: LeaderElectionConfig{
				Enabled:       false,
				ID:            "ednajob-controller-leader",
				LeaseDuration: 15 * time.Second,
				RenewDeadline: 10 * time.Second,
				RetryPeriod:   2 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled:     true,
				BindAddress: ":9090",
			},
			Logging: LoggingConfig{
				Level:     "info",
				Format:    "json",
				Output:    "stdout",
				AddCaller: true,
			},
			Health: HealthConfig{
				Enabled:     true,
				BindAddress: ":8081",
			},
		},
	}
}

var (
	configValidator     *validator.Validate
	configValidatorOnce sync.Once
)

func getValidator() *validator.Validate {
	configValidatorOnce.Do(func() {
		configValidator = validator.New(validator.WithRequiredStructEnabled())
		configValidator.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return configValidator
}

// Validate validates the configuration
func (c *EdnaConfig) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return c.validateLeaderElection()
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fieldPath(fe.Namespace()), fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func (c *EdnaConfig) validateLeaderElection() error {
	le := c.Controllers.LeaderElection
	if !le.Enabled {
		return nil
	}
	if le.LeaseDuration <= le.RenewDeadline {
		return fmt.Errorf("controllers.leaderElection.leaseDuration must be greater than renewDeadline")
	}
	if le.RenewDeadline <= le.RetryPeriod {
		return fmt.Errorf("controllers.leaderElection.renewDeadline must be greater than retryPeriod")
	}
	return nil
}

// fieldPath drops the root type from "EdnaConfig.edna.jobPath".
func fieldPath(ns string) string {
	_, rest, found := strings.Cut(ns, ".")
	if !found {
		return ns
	}
	return rest
}

// LeaseNamespace returns the namespace holding the leader election lease.
func (c *EdnaConfig) LeaseNamespace() string {
	if c.Controllers.LeaderElection.Namespace != "" {
		return c.Controllers.LeaderElection.Namespace
	}
	return c.Edna.Namespace
}
