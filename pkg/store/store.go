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

// Package store provides the per-kind in-memory caches the controllers
// correlate against. Each store is written by exactly one dispatcher and read
// by any number of handlers.
package store

import (
	"errors"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/cache"
)

// ErrNotFound is returned by lookups for objects that are not cached.
var ErrNotFound = errors.New("object not found in store")

const nameIndex = "name"

// Object is a cached Kubernetes object.
type Object interface {
	metav1.Object
	runtime.Object
}

// Writer is the mutation side of a store. Only the event dispatcher of the
// store's kind holds one.
type Writer[T Object] interface {
	// Upsert inserts or replaces obj and returns the previously cached object.
	Upsert(obj T) (prior T, existed bool)

	// Remove drops obj and returns the previously cached object.
	Remove(obj T) (prior T, existed bool)

	// List returns the cached objects so a relist can be diffed against them.
	List() []T

	// Len returns the number of cached objects.
	Len() int
}

// Reader is the query side shared by every store.
type Reader[T Object] interface {
	Get(namespace, name string) (T, bool)
	List() []T
	Keys() []string
	Len() int
	Kind() string
}

// Store is a thread-safe cache of one kind keyed by namespace/name.
type Store[T Object] struct {
	kind  string
	items cache.ThreadSafeStore
}

// New creates a store for kind with the given extra indexers. A namespace and
// a name index are always present.
func New[T Object](kind string, indexers cache.Indexers) *Store[T] {
	all := cache.Indexers{
		cache.NamespaceIndex: cache.MetaNamespaceIndexFunc,
		nameIndex:            metaNameIndexFunc,
	}
	for name, fn := range indexers {
		all[name] = fn
	}
	return &Store[T]{
		kind:  kind,
		items: cache.NewThreadSafeStore(all, cache.Indices{}),
	}
}

func metaNameIndexFunc(obj interface{}) ([]string, error) {
	meta, err := metaOf(obj)
	if err != nil {
		return nil, err
	}
	return []string{meta.GetName()}, nil
}

func metaOf(obj interface{}) (metav1.Object, error) {
	meta, ok := obj.(metav1.Object)
	if !ok {
		return nil, fmt.Errorf("object of type %T has no metadata", obj)
	}
	return meta, nil
}

// Key returns the cache key of obj.
func Key(obj metav1.Object) string {
	if obj.GetNamespace() == "" {
		return obj.GetName()
	}
	return obj.GetNamespace() + "/" + obj.GetName()
}

func key(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "/" + name
}

// Kind returns the kind name the store was created for.
func (s *Store[T]) Kind() string {
	return s.kind
}

// Upsert implements Writer.
func (s *Store[T]) Upsert(obj T) (T, bool) {
	k := Key(obj)
	prior, existed := s.get(k)
	if existed {
		s.items.Update(k, obj)
	} else {
		s.items.Add(k, obj)
	}
	return prior, existed
}

// Remove implements Writer.
func (s *Store[T]) Remove(obj T) (T, bool) {
	k := Key(obj)
	prior, existed := s.get(k)
	if existed {
		s.items.Delete(k)
	}
	return prior, existed
}

// Get returns the cached object. Returned objects are shared and must not be
// modified; DeepCopy them first.
func (s *Store[T]) Get(namespace, name string) (T, bool) {
	return s.get(key(namespace, name))
}

func (s *Store[T]) get(k string) (T, bool) {
	var zero T
	item, ok := s.items.Get(k)
	if !ok {
		return zero, false
	}
	obj, ok := item.(T)
	if !ok {
		return zero, false
	}
	return obj, true
}

// List returns every cached object in no particular order.
func (s *Store[T]) List() []T {
	return s.typed(s.items.List())
}

// Keys returns the cache keys of every cached object.
func (s *Store[T]) Keys() []string {
	return s.items.ListKeys()
}

// Len returns the number of cached objects.
func (s *Store[T]) Len() int {
	return len(s.items.ListKeys())
}

// ByNamespace returns the cached objects in namespace.
func (s *Store[T]) ByNamespace(namespace string) []T {
	return s.byIndex(cache.NamespaceIndex, namespace)
}

// ByName returns the cached objects named name across all namespaces.
func (s *Store[T]) ByName(name string) []T {
	return s.byIndex(nameIndex, name)
}

func (s *Store[T]) byIndex(index, value string) []T {
	items, err := s.items.ByIndex(index, value)
	if err != nil {
		// Only an unknown index name fails here.
		panic(fmt.Sprintf("store %s: %v", s.kind, err))
	}
	return s.typed(items)
}

func (s *Store[T]) typed(items []interface{}) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(T); ok {
			out = append(out, obj)
		}
	}
	return out
}
