// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runner

import (
	"sync"

	"github.com/getnvoi/conveyor/pkg/engine"
)

// Listener handles one engine event. Listeners are invoked synchronously
// from the interpreter loop and must be fast.
type Listener func(event engine.Event)

// Emitter fans engine events out to per-type listeners. Plug it into an
// engine with engine.WithEventSink(emitter.Sink()).
type Emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[string]map[int]Listener
}

// listener key for subscriptions to every event type.
const anyEvent = "*"

// NewEmitter creates an emitter with no listeners.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string]map[int]Listener)}
}

// On registers a listener for one event type (e.g.
// engine.EventWorkflowHalted). The returned function removes it.
func (e *Emitter) On(eventType string, fn Listener) (cancel func()) {
	return e.register(eventType, fn)
}

// OnAny registers a listener for every event type.
func (e *Emitter) OnAny(fn Listener) (cancel func()) {
	return e.register(anyEvent, fn)
}

func (e *Emitter) register(eventType string, fn Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	if e.listeners[eventType] == nil {
		e.listeners[eventType] = make(map[int]Listener)
	}
	e.listeners[eventType][id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners[eventType], id)
	}
}

// Sink adapts the emitter to the engine's event sink contract.
func (e *Emitter) Sink() engine.EventSink {
	return e.Emit
}

// Emit dispatches an event to its type's listeners, then to the any
// listeners.
func (e *Emitter) Emit(event engine.Event) {
	e.mu.RLock()
	targets := make([]Listener, 0, len(e.listeners[event.Type])+len(e.listeners[anyEvent]))
	for _, fn := range e.listeners[event.Type] {
		targets = append(targets, fn)
	}
	for _, fn := range e.listeners[anyEvent] {
		targets = append(targets, fn)
	}
	e.mu.RUnlock()

	for _, fn := range targets {
		fn(event)
	}
}
