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

package controllers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/graitdm/ednajob-controller/pkg/events"
	"github.com/graitdm/ednajob-controller/pkg/store"
)

// ErrAlreadyStarted is returned by Start on a controller that was started before.
var ErrAlreadyStarted = errors.New("controller already started")

// Controller pairs a store, a dispatcher and the reaction logic for one kind.
type Controller interface {
	Name() string
	Start(ctx context.Context) error
	Close() error
	Synced() bool
	Status() ControllerStatus
}

// ControllerError records the last error a controller's handler returned.
type ControllerError struct {
	Error     error
	Timestamp time.Time
}

// Options carries what every controller shares.
type Options struct {
	Dispatcher *events.DispatcherConfig
	Recorder   events.Recorder
	Logger     logr.Logger
}

// runner owns the dispatcher goroutine of a controller and tracks its status.
type runner[T store.Object] struct {
	name       string
	dispatcher *events.Dispatcher[T]
	log        logr.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	eventCount atomic.Int64
	errorCount atomic.Int64

	lastError     *ControllerError
	lastErrorLock sync.RWMutex
}

func newRunner[T store.Object](name, kind string, source events.Source[T], w store.Writer[T], handler events.Listener[T], opts Options) *runner[T] {
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	r := &runner[T]{
		name: name,
		log:  opts.Logger.WithName(name),
	}

	d := events.NewDispatcher(kind, source, w, handler, opts.Dispatcher)
	d.SetLogger(r.log)
	d.SetRecorder(opts.Recorder)
	d.SetErrorHandler(r.setLastError)
	d.AddGenericListener(&events.ListenerFuncs[store.Object]{
		AddFunc:    r.count,
		ModifyFunc: r.count,
		DeleteFunc: r.count,
	})
	r.dispatcher = d
	return r
}

func (r *runner[T]) count(context.Context, events.Event[store.Object]) error {
	r.eventCount.Add(1)
	return nil
}

func (r *runner[T]) setLastError(err error) {
	r.errorCount.Add(1)
	r.lastErrorLock.Lock()
	defer r.lastErrorLock.Unlock()
	r.lastError = &ControllerError{Error: err, Timestamp: time.Now()}
}

// GetLastError returns the last handler error, or nil.
func (r *runner[T]) GetLastError() *ControllerError {
	r.lastErrorLock.RLock()
	defer r.lastErrorLock.RUnlock()
	return r.lastError
}

// Name returns the controller name.
func (r *runner[T]) Name() string {
	return r.name
}

// Start runs the dispatcher on its own goroutine until ctx is cancelled or
// Close is called. A controller can be started once.
func (r *runner[T]) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		if err := r.dispatcher.Run(runCtx); err != nil {
			r.log.Error(err, "Dispatcher stopped")
		}
	}()
	r.log.Info("Started controller")
	return nil
}

// Close stops the watch and waits for the dispatcher goroutine.
func (r *runner[T]) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	r.log.Info("Closed controller")
	return nil
}

// Synced reports whether the first list has been applied.
func (r *runner[T]) Synced() bool {
	return r.dispatcher.Synced()
}

// Status returns a snapshot of the controller state.
func (r *runner[T]) Status() ControllerStatus {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	status := ControllerStatus{
		Name:          r.name,
		Kind:          r.dispatcher.Kind(),
		Started:       started,
		Synced:        r.dispatcher.Synced(),
		EventsHandled: r.eventCount.Load(),
		Errors:        r.errorCount.Load(),
	}
	if last := r.GetLastError(); last != nil {
		status.LastError = last.Error.Error()
		status.LastErrorTime = last.Timestamp
	}
	return status
}

// Dispatch feeds one event through the dispatcher as if it came from the watch.
func (r *runner[T]) Dispatch(ctx context.Context, t events.EventType, obj T) error {
	return r.dispatcher.Dispatch(ctx, t, obj)
}
