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

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/graitdm/ednajob-controller/pkg/store"
)

// errRelist asks the run loop to list again because the watch position expired.
var errRelist = errors.New("watch resource version expired")

// Recorder receives dispatcher measurements.
type Recorder interface {
	RecordEvent(kind string, eventType EventType)
	RecordHandlerError(kind string)
	RecordStoreSize(kind string, size int)
	RecordWatchRestart(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(string, EventType) {}
func (nopRecorder) RecordHandlerError(string)     {}
func (nopRecorder) RecordStoreSize(string, int)   {}
func (nopRecorder) RecordWatchRestart(string)     {}

// DispatcherConfig holds the reconnect policy of a dispatcher.
type DispatcherConfig struct {
	// ReconnectInitial is the first delay after a failed list or watch
	ReconnectInitial time.Duration

	// ReconnectMax caps the delay between reconnect attempts
	ReconnectMax time.Duration
}

// DefaultDispatcherConfig returns the default reconnect policy.
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
	}
}

// Dispatcher consumes the event stream of one kind. For every event it updates
// the store, then calls generic listeners, kind listeners and finally the
// handler, all on the calling goroutine.
type Dispatcher[T store.Object] struct {
	kind    string
	source  Source[T]
	store   store.Writer[T]
	handler Listener[T]
	config  *DispatcherConfig

	mu        sync.RWMutex
	generic   []GenericListener
	listeners []Listener[T]

	log      logr.Logger
	recorder Recorder
	onError  func(error)

	synced          atomic.Bool
	resourceVersion string
}

// NewDispatcher creates a dispatcher for kind.
func NewDispatcher[T store.Object](kind string, source Source[T], w store.Writer[T], handler Listener[T], config *DispatcherConfig) *Dispatcher[T] {
	if config == nil {
		config = DefaultDispatcherConfig()
	}
	return &Dispatcher[T]{
		kind:     kind,
		source:   source,
		store:    w,
		handler:  handler,
		config:   config,
		log:      logr.Discard(),
		recorder: nopRecorder{},
	}
}

// SetLogger sets the dispatcher logger.
func (d *Dispatcher[T]) SetLogger(log logr.Logger) {
	d.log = log.WithValues("kind", d.kind)
}

// SetRecorder sets the metrics recorder.
func (d *Dispatcher[T]) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	d.recorder = r
}

// SetErrorHandler registers a callback for errors returned or panics raised by listeners.
func (d *Dispatcher[T]) SetErrorHandler(fn func(error)) {
	d.onError = fn
}

// AddGenericListener registers l. Registering the same listener twice is a no-op.
func (d *Dispatcher[T]) AddGenericListener(l GenericListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if contains(d.generic, l) {
		return
	}
	d.generic = append(d.generic, l)
}

// AddListener registers l. Registering the same listener twice is a no-op.
func (d *Dispatcher[T]) AddListener(l Listener[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if contains(d.listeners, l) {
		return
	}
	d.listeners = append(d.listeners, l)
}

// Kind returns the kind name the dispatcher serves.
func (d *Dispatcher[T]) Kind() string {
	return d.kind
}

// Synced reports whether the first list has been applied to the store.
func (d *Dispatcher[T]) Synced() bool {
	return d.synced.Load()
}

// Run lists, then watches until ctx is cancelled. Failed lists and watches are
// retried with exponential backoff.
func (d *Dispatcher[T]) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(d.config.ReconnectInitial),
		backoff.WithMaxInterval(d.config.ReconnectMax),
		backoff.WithMaxElapsedTime(0),
	)

	for {
		err := d.listAndWatch(ctx, b)
		if ctx.Err() != nil {
			return nil
		}
		d.recorder.RecordWatchRestart(d.kind)
		if errors.Is(err, errRelist) {
			d.log.V(1).Info("Watch expired, relisting")
			continue
		}

		delay := b.NextBackOff()
		d.log.Error(err, "List/watch failed, retrying", "delay", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (d *Dispatcher[T]) listAndWatch(ctx context.Context, b backoff.BackOff) error {
	objs, rv, err := d.source.List(ctx)
	if err != nil {
		return err
	}
	d.resync(ctx, objs)
	d.resourceVersion = rv
	d.synced.Store(true)
	b.Reset()

	for {
		w, err := d.source.Watch(ctx, d.resourceVersion)
		if err != nil {
			if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
				return errRelist
			}
			return fmt.Errorf("failed to watch %s: %w", d.kind, err)
		}
		if err := d.consume(ctx, w); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.log.V(1).Info("Watch closed, reopening", "resourceVersion", d.resourceVersion)
		d.recorder.RecordWatchRestart(d.kind)
	}
}

// resync applies a full list. New objects replay as Added, changed ones as
// Modified and cached objects missing from the list as Deleted.
func (d *Dispatcher[T]) resync(ctx context.Context, objs []T) {
	listed := make(map[string]struct{}, len(objs))
	for _, obj := range objs {
		listed[store.Key(obj)] = struct{}{}
	}
	cached := make(map[string]T)
	for _, c := range d.store.List() {
		k := store.Key(c)
		if _, ok := listed[k]; !ok {
			_ = d.Dispatch(ctx, Deleted, c)
			continue
		}
		cached[k] = c
	}
	for _, obj := range objs {
		c, ok := cached[store.Key(obj)]
		switch {
		case !ok:
			_ = d.Dispatch(ctx, Added, obj)
		case c.GetResourceVersion() != obj.GetResourceVersion():
			_ = d.Dispatch(ctx, Modified, obj)
		}
	}
}

// consume drains w until it closes, ctx ends or the server reports an error.
func (d *Dispatcher[T]) consume(ctx context.Context, w watch.Interface) error {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.ResultChan():
			if !ok {
				return nil
			}
			if ev.Type == watch.Error {
				err := apierrors.FromObject(ev.Object)
				if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
					return errRelist
				}
				d.log.Error(err, "Watch reported an error")
				continue
			}
			obj, ok := ev.Object.(T)
			if !ok {
				d.log.Info("Ignoring watch object of unexpected type", "type", fmt.Sprintf("%T", ev.Object))
				continue
			}
			if rv := obj.GetResourceVersion(); rv != "" {
				d.resourceVersion = rv
			}
			t, ok := fromWatch(ev.Type)
			if !ok {
				// bookmark
				continue
			}
			_ = d.Dispatch(ctx, t, obj)
		}
	}
}

// Dispatch applies one event: the store is updated first, then listeners and
// the handler run in order. Listener errors and panics are logged, reported to
// the error handler and returned; they never stop the dispatcher.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, t EventType, obj T) error {
	event := Event[T]{Type: t, Object: obj}
	switch t {
	case Added, Modified:
		event.Prior, event.HasPrior = d.store.Upsert(obj)
	case Deleted:
		event.Prior, event.HasPrior = d.store.Remove(obj)
	default:
		return fmt.Errorf("unknown event type %q", t)
	}

	d.log.V(1).Info(fmt.Sprintf("%s %s %s", t, d.kind, obj.GetName()))
	d.recorder.RecordEvent(d.kind, t)
	d.recorder.RecordStoreSize(d.kind, d.store.Len())

	err := d.deliver(ctx, event)
	if err != nil {
		d.log.Error(err, "Event handling failed", "event", string(t), "name", obj.GetName(), "namespace", obj.GetNamespace())
		d.recorder.RecordHandlerError(d.kind)
		if d.onError != nil {
			d.onError(err)
		}
	}
	return err
}

func (d *Dispatcher[T]) deliver(ctx context.Context, event Event[T]) error {
	d.mu.RLock()
	generic := append([]GenericListener(nil), d.generic...)
	listeners := append([]Listener[T](nil), d.listeners...)
	d.mu.RUnlock()

	var errs []error
	for _, l := range generic {
		errs = append(errs, safeNotify(ctx, l, event.Generic()))
	}
	for _, l := range listeners {
		errs = append(errs, safeNotify(ctx, l, event))
	}
	if d.handler != nil {
		errs = append(errs, safeNotify(ctx, d.handler, event))
	}
	return errors.Join(errs...)
}

func safeNotify[T store.Object](ctx context.Context, l Listener[T], event Event[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked on %s %s: %v", event.Type, event.Object.GetName(), r)
		}
	}()
	return notify(ctx, l, event)
}
