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

// Package events turns one kind's watch stream into ordered store updates
// and listener callbacks.
package events

import (
	"context"
	"reflect"

	"k8s.io/apimachinery/pkg/watch"

	"github.com/graitdm/ednajob-controller/pkg/store"
)

// EventType is the kind of change an Event reports.
type EventType string

const (
	Added    EventType = "ADD"
	Modified EventType = "MOD"
	Deleted  EventType = "DEL"
)

// fromWatch maps a watch event type; ok is false for bookmarks and errors.
func fromWatch(t watch.EventType) (EventType, bool) {
	switch t {
	case watch.Added:
		return Added, true
	case watch.Modified:
		return Modified, true
	case watch.Deleted:
		return Deleted, true
	default:
		return "", false
	}
}

// Event is one change to an object of kind T. Prior holds the object the store
// cached before the change when HasPrior is set.
type Event[T store.Object] struct {
	Type     EventType
	Object   T
	Prior    T
	HasPrior bool
}

// Generic converts the event for listeners that accept any kind.
func (e Event[T]) Generic() Event[store.Object] {
	g := Event[store.Object]{Type: e.Type, Object: e.Object, HasPrior: e.HasPrior}
	if e.HasPrior {
		g.Prior = e.Prior
	}
	return g
}

// Listener reacts to events of kind T.
type Listener[T store.Object] interface {
	OnAdd(ctx context.Context, event Event[T]) error
	OnModify(ctx context.Context, event Event[T]) error
	OnDelete(ctx context.Context, event Event[T]) error
}

// GenericListener reacts to events of every kind it is registered for.
type GenericListener = Listener[store.Object]

// ListenerFuncs adapts plain functions to Listener. Nil functions are skipped.
// Register it by pointer so duplicate registrations can be detected.
type ListenerFuncs[T store.Object] struct {
	AddFunc    func(ctx context.Context, event Event[T]) error
	ModifyFunc func(ctx context.Context, event Event[T]) error
	DeleteFunc func(ctx context.Context, event Event[T]) error
}

// OnAdd implements Listener.
func (f *ListenerFuncs[T]) OnAdd(ctx context.Context, event Event[T]) error {
	if f.AddFunc == nil {
		return nil
	}
	return f.AddFunc(ctx, event)
}

// OnModify implements Listener.
func (f *ListenerFuncs[T]) OnModify(ctx context.Context, event Event[T]) error {
	if f.ModifyFunc == nil {
		return nil
	}
	return f.ModifyFunc(ctx, event)
}

// OnDelete implements Listener.
func (f *ListenerFuncs[T]) OnDelete(ctx context.Context, event Event[T]) error {
	if f.DeleteFunc == nil {
		return nil
	}
	return f.DeleteFunc(ctx, event)
}

func notify[T store.Object](ctx context.Context, l Listener[T], event Event[T]) error {
	switch event.Type {
	case Added:
		return l.OnAdd(ctx, event)
	case Modified:
		return l.OnModify(ctx, event)
	case Deleted:
		return l.OnDelete(ctx, event)
	}
	return nil
}

// contains reports whether l is already in list. Listeners of non-comparable
// dynamic types are never considered duplicates.
func contains[L any](list []L, l L) bool {
	t := reflect.TypeOf(l)
	if t == nil || !t.Comparable() {
		return false
	}
	for _, existing := range list {
		if reflect.TypeOf(existing) == t && any(existing) == any(l) {
			return true
		}
	}
	return false
}
