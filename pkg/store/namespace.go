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

package store

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// NamespaceStore caches Namespaces.
type NamespaceStore struct {
	s *Store[*corev1.Namespace]
}

// NewNamespaceStore creates an empty NamespaceStore.
func NewNamespaceStore() *NamespaceStore {
	return &NamespaceStore{s: New[*corev1.Namespace]("Namespace", nil)}
}

// Writer returns the mutation side of the store for the namespace dispatcher.
func (n *NamespaceStore) Writer() Writer[*corev1.Namespace] { return n.s }

// Reader returns the generic query side of the store.
func (n *NamespaceStore) Reader() Reader[*corev1.Namespace] { return n.s }

// Exists reports whether the namespace named applicationName is cached.
func (n *NamespaceStore) Exists(applicationName string) bool {
	_, ok := n.s.Get("", applicationName)
	return ok
}

// Get returns the cached namespace or ErrNotFound. Callers check Exists first.
func (n *NamespaceStore) Get(applicationName string) (*corev1.Namespace, error) {
	ns, ok := n.s.Get("", applicationName)
	if !ok {
		return nil, fmt.Errorf("namespace %q: %w", applicationName, ErrNotFound)
	}
	return ns, nil
}

// IsUnique reports whether no cached namespace is named name.
func (n *NamespaceStore) IsUnique(name string) bool {
	return !n.Exists(name)
}

// List returns all cached namespaces.
func (n *NamespaceStore) List() []*corev1.Namespace { return n.s.List() }

// Len returns the number of cached namespaces.
func (n *NamespaceStore) Len() int { return n.s.Len() }
