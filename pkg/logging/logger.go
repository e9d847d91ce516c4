// Package logging provides structured JSON logging for the EdnaJob controller.
// It integrates with the controller-runtime logging framework so client-go,
// klog and controller output share one sink and one level.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Config defines the logging configuration
type Config struct {
	// Level is the log level (trace, debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"omitempty,oneof=trace debug info warn warning error panic fatal"`

	// Format is the log format (json, console)
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=json console"`

	// Output is stdout, stderr or a file path
	Output string `yaml:"output" json:"output"`

	// AddCaller annotates entries with the calling file and line
	AddCaller bool `yaml:"addCaller" json:"addCaller"`

	// Development enables stack traces on warnings
	Development bool `yaml:"development" json:"development"`
}

// Logger wraps the controller-runtime logger with additional functionality
type Logger struct {
	logr.Logger
	config *Config
	level  zap.AtomicLevel
}

// DefaultConfig returns default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		Output:      "stdout",
		AddCaller:   true,
		Development: false,
	}
}

// NewLogger creates a new structured logger based on the provided configuration
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	out, err := openOutput(config.Output)
	if err != nil {
		return nil, err
	}

	level := zap.NewAtomicLevelAt(parseLogLevel(config.Level))
	opts := ctrlzap.Options{
		Development: config.Development,
		DestWriter:  out,
		Level:       level,
	}
	if config.Format == "console" {
		opts.Encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		opts.Encoder = zapcore.NewJSONEncoder(jsonEncoderConfig())
	}
	if config.AddCaller {
		opts.ZapOpts = append(opts.ZapOpts, zap.AddCaller())
	}

	return &Logger{
		Logger: ctrlzap.New(ctrlzap.UseFlagOptions(&opts)),
		config: config,
		level:  level,
	}, nil
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.LevelKey = "level"
	encoderConfig.MessageKey = "msg"
	encoderConfig.CallerKey = "caller"
	encoderConfig.StacktraceKey = "stacktrace"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	return encoderConfig
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %q: %w", output, err)
		}
		return f, nil
	}
}

// buildZapConfig creates a plain zap configuration equivalent to config
func buildZapConfig(config *Config) zap.Config {
	var zapConfig zap.Config

	if config.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig = jsonEncoderConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(parseLogLevel(config.Level))
	zapConfig.Development = config.Development
	zapConfig.DisableCaller = !config.AddCaller
	switch config.Output {
	case "", "stdout":
		zapConfig.OutputPaths = []string{"stdout"}
	default:
		zapConfig.OutputPaths = []string{config.Output}
	}

	return zapConfig
}

// parseLogLevel converts string log level to zapcore.Level. logr verbosity N
// maps to zap level -N, so trace enables V(2) messages.
func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zapcore.Level(-2)
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel changes the level of this logger and every logger derived from it
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(parseLogLevel(level))
	l.config.Level = level
}

// Level returns the current level name
func (l *Logger) Level() string {
	return l.level.Level().String()
}

// WithName returns a logger with the specified name
func (l *Logger) WithName(name string) *Logger {
	return &Logger{Logger: l.Logger.WithName(name), config: l.config, level: l.level}
}

// WithValues returns a logger with the specified key-value pairs
func (l *Logger) WithValues(keysAndValues ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.WithValues(keysAndValues...), config: l.config, level: l.level}
}

// WithController returns a logger configured for controller operations
func (l *Logger) WithController(controllerName string) *Logger {
	return &Logger{
		Logger: l.Logger.WithName(controllerName).WithValues("controller", controllerName),
		config: l.config,
		level:  l.level,
	}
}

// WithObject returns a logger carrying the identity of a watched object
func (l *Logger) WithObject(kind, namespace, name string) *Logger {
	return &Logger{
		Logger: l.Logger.WithValues("kind", kind, "namespace", namespace, "name", name),
		config: l.config,
		level:  l.level,
	}
}

// GetConfig returns the logging configuration
func (l *Logger) GetConfig() *Config {
	return l.config
}

// SetGlobalLogger installs logger as the controller-runtime and klog logger
// and replaces the global zap logger
func SetGlobalLogger(logger *Logger) error {
	ctrl.SetLogger(logger.Logger)
	klog.SetLogger(logger.Logger.WithName("klog"))

	zapLogger, err := buildZapConfig(logger.config).Build()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(zapLogger)
	return nil
}

// GetLoggerFromEnv creates a logger from LOG_LEVEL and LOG_FORMAT
func GetLoggerFromEnv() (*Logger, error) {
	config := DefaultConfig()
	config.Level = getEnvOrDefault("LOG_LEVEL", config.Level)
	config.Format = getEnvOrDefault("LOG_FORMAT", config.Format)
	return NewLogger(config)
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
