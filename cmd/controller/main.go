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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/graitdm/ednajob-controller/pkg/config"
	"github.com/graitdm/ednajob-controller/pkg/di"
	"github.com/graitdm/ednajob-controller/pkg/logging"
	"github.com/graitdm/ednajob-controller/pkg/operator"
)

var (
	// Build-time variables
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configFile      = flag.String("config", "", "Path to the YAML configuration file.")
		kubectlProtocol = flag.String("kubectl-protocol", "", "Protocol of the kubectl proxy (http or https).")
		kubectlHost     = flag.String("kubectl-host", "", "Host of the kubectl proxy.")
		kubectlPort     = flag.Int("kubectl-port", 0, "Port of the kubectl proxy.")
		jobPath         = flag.String("edna-job-path", "", "Root directory of the job build contexts.")
		namespace       = flag.String("edna-namespace", "", "Namespace watched for EdnaJob objects.")
		logLevel        = flag.String("log-level", "", "Log level (trace, debug, info, warn, error).")
		showVersion     = flag.Bool("version", false, "Show version information and exit.")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("EdnaJob Controller\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := di.NewApplicationBuilder().
		WithConfigFile(*configFile).
		WithOverrides(config.Overrides{
			KubectlProtocol: *kubectlProtocol,
			KubectlHost:     *kubectlHost,
			KubectlPort:     *kubectlPort,
			JobPath:         *jobPath,
			Namespace:       *namespace,
			LogLevel:        *logLevel,
		}).
		Build(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize controller: %v\n", err)
		os.Exit(1)
	}

	if err := logging.SetGlobalLogger(app.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "failed to install logger: %v\n", err)
	}

	setupLog := app.Logger.WithName("setup")
	setupLog.Info("Starting EdnaJob controller",
		"version", version,
		"commit", commit,
		"buildDate", buildDate,
		"namespace", app.Config.Edna.Namespace,
		"job-path", app.Config.Edna.JobPath,
		"log-level", app.Config.Observability.Logging.Level,
	)

	if err := app.Start(ctx); err != nil {
		setupLog.Error(err, "controller stopped with error")
		if errors.Is(err, operator.ErrLeadershipLost) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	setupLog.Info("Controller stopped")
}
