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

// Package imagebuild prepares the container image an EdnaJob runs in.
package imagebuild

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
)

// DockerfileName is the file written into each job's build context
const DockerfileName = "Dockerfile"

// defaultFileName is run when the job names no entry point
const defaultFileName = "job.py"

// ErrImageNotFound is returned when push verification finds no image in the registry
var ErrImageNotFound = errors.New("job image not found in registry")

//go:embed Dockerfile.tmpl
var dockerfileTemplate string

// Builder produces the image for a job and returns its remote reference.
type Builder interface {
	BuildAndPushImage(ctx context.Context, job *ednav1.EdnaJob) (name.Reference, error)
}

// Config contains image builder configuration
type Config struct {
	// JobPath is the root of the per-job build contexts
	JobPath string

	// SourceDir holds edna sources copied into each context; empty installs edna from the package index
	SourceDir string

	// DockerHost is the daemon that builds and pushes images
	DockerHost string

	// VerifyPush checks the registry for the image before returning
	VerifyPush bool
}

// ContextBuilder renders a Dockerfile into the job's build context and
// resolves the image reference. Building and pushing are left to the docker
// daemon at Config.DockerHost; with VerifyPush set the registry is checked for
// the pushed image.
type ContextBuilder struct {
	config        Config
	tmpl          *template.Template
	remoteOptions []remote.Option
	log           logr.Logger
}

var _ Builder = (*ContextBuilder)(nil)

// NewContextBuilder creates a builder. remoteOptions are passed to registry calls.
func NewContextBuilder(config Config, log logr.Logger, remoteOptions ...remote.Option) (*ContextBuilder, error) {
	if config.JobPath == "" {
		return nil, fmt.Errorf("image builder requires a job path")
	}
	tmpl, err := template.New(DockerfileName).
		Funcs(template.FuncMap{"quote": strconv.Quote}).
		Parse(dockerfileTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Dockerfile template: %w", err)
	}
	return &ContextBuilder{
		config:        config,
		tmpl:          tmpl,
		remoteOptions: remoteOptions,
		log:           log.WithName("imagebuild"),
	}, nil
}

// ContextDir returns <jobPath>/<applicationname>/<jobname>.
func (b *ContextBuilder) ContextDir(job *ednav1.EdnaJob) string {
	return filepath.Join(b.config.JobPath, job.Spec.ApplicationName, job.Spec.JobName)
}

type dockerfileData struct {
	Application      string
	Job              string
	FileName         string
	JobContext       string
	HasSource        bool
	JobDependencies  []string
	FileDependencies []string
	Variables        []ednav1.JobVariable
}

// RenderDockerfile renders the Dockerfile for job.
func (b *ContextBuilder) RenderDockerfile(job *ednav1.EdnaJob) ([]byte, error) {
	vars, err := job.Variables()
	if err != nil {
		return nil, err
	}
	data := dockerfileData{
		Application:      job.Spec.ApplicationName,
		Job:              job.Spec.JobName,
		FileName:         job.Spec.FileName,
		JobContext:       job.Spec.JobContext,
		HasSource:        b.config.SourceDir != "",
		JobDependencies:  strings.Fields(job.Spec.JobDependencies),
		FileDependencies: strings.Fields(job.Spec.FileDependencies),
		Variables:        vars,
	}
	if data.FileName == "" {
		data.FileName = defaultFileName
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render Dockerfile: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildAndPushImage prepares the build context of job and returns the
// reference its deployment pulls.
func (b *ContextBuilder) BuildAndPushImage(ctx context.Context, job *ednav1.EdnaJob) (name.Reference, error) {
	ref, err := name.NewTag(job.ImageReference())
	if err != nil {
		return nil, fmt.Errorf("invalid image reference for job %s: %w", job.Name, err)
	}

	dockerfile, err := b.RenderDockerfile(job)
	if err != nil {
		return nil, err
	}
	dir := b.ContextDir(job)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create build context %s: %w", dir, err)
	}
	path := filepath.Join(dir, DockerfileName)
	if err := os.WriteFile(path, dockerfile, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	b.log.Info("Prepared build context",
		"job", job.Name,
		"context", dir,
		"localImage", job.LocalImageName(),
		"image", ref.Name(),
		"dockerHost", b.config.DockerHost)

	if b.config.VerifyPush {
		opts := append([]remote.Option{remote.WithContext(ctx)}, b.remoteOptions...)
		if _, err := remote.Head(ref, opts...); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrImageNotFound, ref.Name(), err)
		}
		b.log.V(1).Info("Verified image in registry", "image", ref.Name())
	}
	return ref, nil
}
