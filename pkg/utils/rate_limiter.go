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

// Package utils provides rate limiting and retry helpers shared by the
// factories that mutate cluster state.
package utils

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterConfig contains configuration for client-side rate limiting of
// mutating API calls
type RateLimiterConfig struct {
	// QPS and Burst apply to resources without an override
	QPS   float64
	Burst int

	// Per-resource overrides keyed by resource name, e.g. "deployments"
	PerResourceQPS   map[string]float64
	PerResourceBurst map[string]int
}

// DefaultRateLimiterConfig returns default rate limiter configuration
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		QPS:              10.0,
		Burst:            20,
		PerResourceQPS:   make(map[string]float64),
		PerResourceBurst: make(map[string]int),
	}
}

// RateLimiter hands out one token bucket per resource
type RateLimiter struct {
	config *RateLimiterConfig

	globalLimiter *rate.Limiter

	resourceLimiters map[string]*rate.Limiter
	limiterMutex     sync.RWMutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimiterConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	return &RateLimiter{
		config:           config,
		globalLimiter:    rate.NewLimiter(rate.Limit(config.QPS), config.Burst),
		resourceLimiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request for resource is allowed or ctx ends
func (rl *RateLimiter) Wait(ctx context.Context, resource string) error {
	if err := rl.limiterFor(resource).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", resource, err)
	}
	return nil
}

// Allow reports whether a request for resource may happen now
func (rl *RateLimiter) Allow(resource string) bool {
	return rl.limiterFor(resource).Allow()
}

// UpdateConfig applies new limits to the existing buckets
func (rl *RateLimiter) UpdateConfig(config *RateLimiterConfig) {
	rl.limiterMutex.Lock()
	defer rl.limiterMutex.Unlock()

	rl.config = config
	rl.globalLimiter.SetLimit(rate.Limit(config.QPS))
	rl.globalLimiter.SetBurst(config.Burst)

	for resource, limiter := range rl.resourceLimiters {
		qps, burst := rl.limitsFor(resource)
		limiter.SetLimit(rate.Limit(qps))
		limiter.SetBurst(burst)
	}
}

func (rl *RateLimiter) limitsFor(resource string) (float64, int) {
	qps, burst := rl.config.QPS, rl.config.Burst
	if v, ok := rl.config.PerResourceQPS[resource]; ok {
		qps = v
	}
	if v, ok := rl.config.PerResourceBurst[resource]; ok {
		burst = v
	}
	return qps, burst
}

func (rl *RateLimiter) limiterFor(resource string) *rate.Limiter {
	if resource == "" {
		return rl.globalLimiter
	}

	rl.limiterMutex.RLock()
	if limiter, exists := rl.resourceLimiters[resource]; exists {
		rl.limiterMutex.RUnlock()
		return limiter
	}
	rl.limiterMutex.RUnlock()

	rl.limiterMutex.Lock()
	defer rl.limiterMutex.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := rl.resourceLimiters[resource]; exists {
		return limiter
	}

	qps, burst := rl.limitsFor(resource)
	limiter := rate.NewLimiter(rate.Limit(qps), burst)
	rl.resourceLimiters[resource] = limiter
	return limiter
}
