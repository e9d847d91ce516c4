package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles loading configuration from various sources
type Loader struct {
	// ConfigFile is the path to the YAML configuration file
	ConfigFile string
	// EnvPrefix is the prefix for environment variables (defaults to "EDNA")
	EnvPrefix string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		EnvPrefix: "EDNA",
	}
}

// WithConfigFile sets the configuration file path
func (l *Loader) WithConfigFile(path string) *Loader {
	l.ConfigFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.EnvPrefix = prefix
	return l
}

// Load loads configuration from all sources in priority order:
// 1. Default configuration
// 2. Configuration file (if specified)
// 3. Environment variables
func (l *Loader) Load() (*EdnaConfig, error) {
	config := DefaultConfig()

	if l.ConfigFile != "" {
		if err := l.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	l.loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (l *Loader) loadFromFile(config *EdnaConfig) error {
	data, err := os.ReadFile(l.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", l.ConfigFile, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config file: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (l *Loader) loadFromEnv(config *EdnaConfig) {
	// Kubernetes connection
	if val := l.getEnv("KUBECONFIG"); val != "" {
		config.Kubernetes.Kubeconfig = val
	}
	if val := l.getEnv("IN_CLUSTER"); val != "" {
		config.Kubernetes.InCluster = l.parseBool(val, config.Kubernetes.InCluster)
	}
	if val := l.getEnv("KUBECTL_PROTOCOL"); val != "" {
		config.Kubernetes.Protocol = val
	}
	if val := l.getEnv("KUBECTL_HOST"); val != "" {
		config.Kubernetes.Host = val
	}
	if val := l.getEnv("KUBECTL_PORT"); val != "" {
		config.Kubernetes.Port = l.parseInt(val, config.Kubernetes.Port)
	}
	if val := l.getEnv("KUBE_QPS"); val != "" {
		if f, err := strconv.ParseFloat(val, 32); err == nil {
			config.Kubernetes.QPS = float32(f)
		}
	}
	if val := l.getEnv("KUBE_BURST"); val != "" {
		config.Kubernetes.Burst = l.parseInt(val, config.Kubernetes.Burst)
	}
	l.parseDuration("KUBE_TIMEOUT", &config.Kubernetes.Timeout)

	// Jobs
	if val := l.getEnv("NAMESPACE"); val != "" {
		config.Edna.Namespace = val
	}
	if val := l.getEnv("JOB_PATH"); val != "" {
		config.Edna.JobPath = val
	}
	if val := l.getEnv("SOURCE_DIR"); val != "" {
		config.Edna.SourceDir = val
	}
	if val := l.getEnv("DEFAULT_REPLICAS"); val != "" {
		config.Edna.DefaultReplicas = int32(l.parseInt(val, int(config.Edna.DefaultReplicas)))
	}

	// Docker
	if val := l.getEnv("DOCKER_HOST"); val != "" {
		config.Docker.Host = val
	}
	if val := l.getEnv("DOCKER_VERIFY_PUSH"); val != "" {
		config.Docker.VerifyPush = l.parseBool(val, config.Docker.VerifyPush)
	}

	// Controllers
	if val := l.getEnv("CONTROLLERS_DEPLOYMENT_LABEL_SELECTOR"); val != "" {
		config.Controllers.DeploymentLabelSelector = val
	}
	l.parseDuration("CONTROLLERS_RETRY_MAX_ELAPSED", &config.Controllers.RetryMaxElapsed)
	l.parseDuration("CONTROLLERS_RESYNC_BACKOFF_MAX", &config.Controllers.ResyncBackoffMax)
	if val := l.getEnv("CONTROLLERS_API_QPS"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			config.Controllers.APIQPS = f
		}
	}
	if val := l.getEnv("CONTROLLERS_API_BURST"); val != "" {
		config.Controllers.APIBurst = l.parseInt(val, config.Controllers.APIBurst)
	}

	// Leader election
	if val := l.getEnv("LEADER_ELECTION_ENABLED"); val != "" {
		config.Controllers.LeaderElection.Enabled = l.parseBool(val, config.Controllers.LeaderElection.Enabled)
	}
	if val := l.getEnv("LEADER_ELECTION_ID"); val != "" {
		config.Controllers.LeaderElection.ID = val
	}
	if val := l.getEnv("LEADER_ELECTION_NAMESPACE"); val != "" {
		config.Controllers.LeaderElection.Namespace = val
	}
	l.parseDuration("LEADER_ELECTION_LEASE_DURATION", &config.Controllers.LeaderElection.LeaseDuration)

	// Metrics configuration
	if val := l.getEnv("METRICS_ENABLED"); val != "" {
		config.Observability.Metrics.Enabled = l.parseBool(val, config.Observability.Metrics.Enabled)
	}
	if val := l.getEnv("METRICS_BIND_ADDRESS"); val != "" {
		config.Observability.Metrics.BindAddress = val
	}

	// Logging configuration. The bare LOG_LEVEL variable is honored for
	// compatibility and loses to the prefixed one.
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Observability.Logging.Level = strings.ToLower(val)
	}
	if val := l.getEnv("LOGGING_LEVEL"); val != "" {
		config.Observability.Logging.Level = strings.ToLower(val)
	}
	if val := l.getEnv("LOGGING_FORMAT"); val != "" {
		config.Observability.Logging.Format = val
	}
	if val := l.getEnv("LOGGING_OUTPUT"); val != "" {
		config.Observability.Logging.Output = val
	}
	if val := l.getEnv("LOGGING_ADDCALLER"); val != "" {
		config.Observability.Logging.AddCaller = l.parseBool(val, config.Observability.Logging.AddCaller)
	}
	if val := l.getEnv("LOGGING_DEVELOPMENT"); val != "" {
		config.Observability.Logging.Development = l.parseBool(val, config.Observability.Logging.Development)
	}

	// Health configuration
	if val := l.getEnv("HEALTH_ENABLED"); val != "" {
		config.Observability.Health.Enabled = l.parseBool(val, config.Observability.Health.Enabled)
	}
	if val := l.getEnv("HEALTH_BIND_ADDRESS"); val != "" {
		config.Observability.Health.BindAddress = val
	}
}

// getEnv gets an environment variable with the configured prefix
func (l *Loader) getEnv(key string) string {
	return os.Getenv(l.EnvPrefix + "_" + key)
}

// parseBool parses a boolean string, returning fallback on error
func (l *Loader) parseBool(val string, fallback bool) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

// parseInt parses an integer string, returning fallback on error
func (l *Loader) parseInt(val string, fallback int) int {
	if i, err := strconv.Atoi(val); err == nil {
		return i
	}
	return fallback
}

func (l *Loader) parseDuration(key string, target *time.Duration) {
	val := l.getEnv(key)
	if val == "" {
		return
	}
	if d, err := time.ParseDuration(val); err == nil {
		*target = d
	}
}

// Overrides carries command line values. Empty fields leave the loaded
// configuration untouched.
type Overrides struct {
	KubectlProtocol string
	KubectlHost     string
	KubectlPort     int
	JobPath         string
	Namespace       string
	LogLevel        string
}

// Apply writes the non-empty overrides into config and validates the result.
func (o Overrides) Apply(config *EdnaConfig) error {
	if o.KubectlProtocol != "" {
		config.Kubernetes.Protocol = o.KubectlProtocol
	}
	if o.KubectlHost != "" {
		config.Kubernetes.Host = o.KubectlHost
	}
	if o.KubectlPort != 0 {
		config.Kubernetes.Port = o.KubectlPort
	}
	if o.JobPath != "" {
		config.Edna.JobPath = o.JobPath
	}
	if o.Namespace != "" {
		config.Edna.Namespace = o.Namespace
	}
	if o.LogLevel != "" {
		config.Observability.Logging.Level = strings.ToLower(o.LogLevel)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Save saves the configuration to a YAML file
func (c *EdnaConfig) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadFromFile is a convenience function to load configuration from a file
func LoadFromFile(filename string) (*EdnaConfig, error) {
	return NewLoader().WithConfigFile(filename).Load()
}

// LoadFromEnv is a convenience function to load configuration from environment variables only
func LoadFromEnv() (*EdnaConfig, error) {
	return NewLoader().Load()
}
