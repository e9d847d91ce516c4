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

package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// RetryConfig bounds the retries of one API call
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// MaxElapsedTime stops retrying; zero retries until ctx ends
	MaxElapsedTime time.Duration
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

// IsTransient reports whether err is worth retrying: throttling, timeouts,
// server errors and optimistic-lock conflicts.
func IsTransient(err error) bool {
	return apierrors.IsTooManyRequests(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) ||
		apierrors.IsConflict(err) ||
		apierrors.IsUnexpectedServerError(err)
}

// Retry runs op until it succeeds, fails with a non-transient error, the
// elapsed time budget is spent or ctx ends. The last error is returned.
func Retry(ctx context.Context, config *RetryConfig, op func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(config.InitialInterval),
		backoff.WithMaxInterval(config.MaxInterval),
		backoff.WithMaxElapsedTime(config.MaxElapsedTime),
	)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}
