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
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// ErrLeadershipLost is returned by Run when the lease is lost while the
// context is still live.
var ErrLeadershipLost = errors.New("leader election lost")

// LeaderStatusRecorder receives leadership changes.
type LeaderStatusRecorder interface {
	UpdateLeaderStatus(identity string, isLeader bool)
}

// LeaderElectionConfig contains leader election configuration
type LeaderElectionConfig struct {
	Enabled   bool
	Namespace string
	LeaseName string

	// Timing configuration
	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration

	// Identity defaults to <hostname>_<uuid>
	Identity string
}

// DefaultIdentity returns a lease holder identity unique to this process.
func DefaultIdentity() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	return hostname + "_" + uuid.New().String()
}

// LeaderElectionManager runs the controllers only while this process holds
// the lease. With election disabled the process always leads.
type LeaderElectionManager struct {
	config     LeaderElectionConfig
	kubeClient kubernetes.Interface
	recorder   LeaderStatusRecorder
	log        logr.Logger

	mu            sync.RWMutex
	isLeader      bool
	currentLeader string
	startTime     time.Time
	elected       chan struct{}
	electedOnce   sync.Once
}

// NewLeaderElectionManager creates a new leader election manager. recorder
// may be nil.
func NewLeaderElectionManager(cfg LeaderElectionConfig, kubeClient kubernetes.Interface, recorder LeaderStatusRecorder, log logr.Logger) (*LeaderElectionManager, error) {
	if cfg.Identity == "" {
		cfg.Identity = DefaultIdentity()
	}
	if cfg.Enabled {
		if kubeClient == nil {
			return nil, fmt.Errorf("leader election requires a kubernetes client")
		}
		if cfg.LeaseName == "" || cfg.Namespace == "" {
			return nil, fmt.Errorf("leader election requires a lease name and namespace")
		}
	}

	return &LeaderElectionManager{
		config:     cfg,
		kubeClient: kubeClient,
		recorder:   recorder,
		log:        log.WithName("leader-election"),
		elected:    make(chan struct{}),
	}, nil
}

// Run blocks until ctx ends, calling lead with a context that is cancelled
// when leadership ends. A lease lost before ctx ends yields ErrLeadershipLost.
func (l *LeaderElectionManager) Run(ctx context.Context, lead func(context.Context) error) error {
	l.mu.Lock()
	l.startTime = time.Now()
	l.mu.Unlock()

	if !l.config.Enabled {
		l.setLeader(true, l.config.Identity)
		defer l.setLeader(false, l.config.Identity)
		return lead(ctx)
	}

	lock, err := resourcelock.New(
		resourcelock.LeasesResourceLock,
		l.config.Namespace,
		l.config.LeaseName,
		l.kubeClient.CoreV1(),
		l.kubeClient.CoordinationV1(),
		resourcelock.ResourceLockConfig{Identity: l.config.Identity},
	)
	if err != nil {
		return fmt.Errorf("failed to create resource lock: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		leadErr  error
		leading  atomic.Bool
		leadDone = make(chan struct{})
	)
	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   l.config.LeaseDuration,
		RenewDeadline:   l.config.RenewDeadline,
		RetryPeriod:     l.config.RetryPeriod,
		ReleaseOnCancel: true,
		Name:            l.config.LeaseName,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(leadCtx context.Context) {
				leading.Store(true)
				defer close(leadDone)
				l.log.Info("Started leading", "identity", l.config.Identity)
				l.setLeader(true, l.config.Identity)
				leadErr = lead(leadCtx)
				// stop renewing once the controllers are gone
				cancel()
			},
			OnStoppedLeading: func() {
				l.log.Info("Stopped leading", "identity", l.config.Identity)
				l.setLeader(false, "")
			},
			OnNewLeader: func(identity string) {
				l.log.Info("New leader elected",
					"new-leader", identity,
					"is-self", identity == l.config.Identity)
				l.mu.Lock()
				l.currentLeader = identity
				l.mu.Unlock()
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create leader elector: %w", err)
	}

	l.log.Info("Starting leader election",
		"identity", l.config.Identity,
		"lease-name", l.config.LeaseName,
		"namespace", l.config.Namespace,
		"lease-duration", l.config.LeaseDuration)

	elector.Run(runCtx)

	if leading.Load() {
		<-leadDone
		if leadErr != nil {
			return leadErr
		}
	}
	if ctx.Err() == nil {
		return ErrLeadershipLost
	}
	return nil
}

func (l *LeaderElectionManager) setLeader(isLeader bool, holder string) {
	l.mu.Lock()
	l.isLeader = isLeader
	if holder != "" {
		l.currentLeader = holder
	}
	l.mu.Unlock()

	if isLeader {
		l.electedOnce.Do(func() { close(l.elected) })
	}
	if l.recorder != nil {
		l.recorder.UpdateLeaderStatus(l.config.Identity, isLeader)
	}
}

// IsLeader returns true if this instance is the current leader
func (l *LeaderElectionManager) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

// GetCurrentLeader returns the identity of the current leader
func (l *LeaderElectionManager) GetCurrentLeader() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentLeader
}

// GetIdentity returns the identity of this instance
func (l *LeaderElectionManager) GetIdentity() string {
	return l.config.Identity
}

// WaitForLeadership waits until this instance first becomes the leader or ctx ends
func (l *LeaderElectionManager) WaitForLeadership(ctx context.Context) error {
	select {
	case <-l.elected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LeadershipInfo contains information about the leadership state
type LeadershipInfo struct {
	Enabled       bool
	IsLeader      bool
	CurrentLeader string
	Identity      string
	StartTime     time.Time
	LeaseInfo     *LeaseInfo
}

// LeaseInfo contains information about the lease object
type LeaseInfo struct {
	Name              string
	Namespace         string
	HolderIdentity    string
	AcquireTime       time.Time
	RenewTime         time.Time
	LeaderTransitions int32
}

// GetLeadershipInfo returns information about the current leadership state
func (l *LeaderElectionManager) GetLeadershipInfo(ctx context.Context) *LeadershipInfo {
	l.mu.RLock()
	info := &LeadershipInfo{
		Enabled:       l.config.Enabled,
		IsLeader:      l.isLeader,
		CurrentLeader: l.currentLeader,
		Identity:      l.config.Identity,
		StartTime:     l.startTime,
	}
	l.mu.RUnlock()

	if l.config.Enabled {
		info.LeaseInfo = l.getLeaseInfo(ctx)
	}
	return info
}

func (l *LeaderElectionManager) getLeaseInfo(ctx context.Context) *LeaseInfo {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	lease, err := l.kubeClient.CoordinationV1().Leases(l.config.Namespace).Get(ctx, l.config.LeaseName, metav1.GetOptions{})
	if err != nil {
		return nil
	}

	info := &LeaseInfo{
		Name:      lease.Name,
		Namespace: lease.Namespace,
	}
	if lease.Spec.LeaseTransitions != nil {
		info.LeaderTransitions = *lease.Spec.LeaseTransitions
	}
	if lease.Spec.HolderIdentity != nil {
		info.HolderIdentity = *lease.Spec.HolderIdentity
	}
	if lease.Spec.AcquireTime != nil {
		info.AcquireTime = lease.Spec.AcquireTime.Time
	}
	if lease.Spec.RenewTime != nil {
		info.RenewTime = lease.Spec.RenewTime.Time
	}
	return info
}
