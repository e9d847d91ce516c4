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

package di

import (
	"fmt"

	"go.uber.org/dig"
)

// Container wraps dig.Container with panicking helpers for wiring code
type Container struct {
	*dig.Container
}

// NewContainer creates a new dependency injection container using dig
func NewContainer() *Container {
	return &Container{
		Container: dig.New(),
	}
}

// MustProvide registers a constructor and panics on error
func (c *Container) MustProvide(constructor interface{}, opts ...dig.ProvideOption) {
	if err := c.Provide(constructor, opts...); err != nil {
		panic(fmt.Sprintf("failed to provide dependency: %v", err))
	}
}

// MustInvoke invokes a function and panics on error
func (c *Container) MustInvoke(function interface{}) {
	if err := c.Invoke(function); err != nil {
		panic(fmt.Sprintf("failed to invoke function: %v", err))
	}
}

// Resolve builds the value of type T and everything it depends on.
func Resolve[T any](c *Container) (T, error) {
	var out T
	err := c.Invoke(func(v T) { out = v })
	return out, err
}

// String returns a string representation of the container
func (c *Container) String() string {
	return fmt.Sprintf("EdnaContainer{digContainer: %s}", c.Container.String())
}
