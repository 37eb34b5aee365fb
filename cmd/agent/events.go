/*
DESCRIPTION
  events.go provides the events and event bus through which the trigger
  controller is driven. Triggers, the schedule and broadcast attempt
  outcomes are all expressed as events.

AUTHORS
  Danyela June Brown <danyela.j.brown@gmail.com>

LICENSE
  Copyright (C) 2025 Danyela June Brown

  This is free software: you can redistribute it and/or modify it
  under the terms of the GNU General Public License as published by
  the Free Software Foundation, either version 3 of the License, or
  (at your option) any later version.

  It is distributed in the hope that it will be useful,
  but WITHOUT ANY WARRANTY; without even the implied warranty of
  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
  GNU General Public License for more details.

  You should have received a copy of the GNU General Public License
  in gpl.txt. If not, see http://www.gnu.org/licenses/.
*/

package main

import (
	"context"
	"fmt"
)

type event interface{ fmt.Stringer }

// startEvent requests the start of a broadcast. Published by the motion
// trigger endpoint.
type startEvent struct{}

func (e startEvent) String() string { return "startEvent" }

// stopEvent requests the end of the current broadcast, or the abort of an
// attempt in flight. Published by the motion trigger endpoint and by the
// schedule at window close.
type stopEvent struct{}

func (e stopEvent) String() string { return "stopEvent" }

// startedEvent reports that a broadcast attempt reached confirmed live.
type startedEvent struct{}

func (e startedEvent) String() string { return "startedEvent" }

// startFailedEvent reports that a broadcast attempt failed before reaching
// confirmed live.
type startFailedEvent struct{ error }

func (e startFailedEvent) String() string { return "startFailedEvent" }
func (e startFailedEvent) Error() string {
	if e.error == nil {
		return "(" + e.String() + ") <nil>"
	}
	return "(" + e.String() + ") " + e.error.Error()
}

type handler func(event) error

type eventBus interface {
	subscribe(handler handler)
	publish(event event)
}

// basicEventBus is a simple synchronous event bus. Events published after
// the bus context is cancelled are dropped with a log line.
type basicEventBus struct {
	ctx      context.Context
	handlers []handler
	log      func(string, ...interface{})
}

// newBasicEventBus creates a new basicEventBus. The context must be
// cancellable.
func newBasicEventBus(ctx context.Context, log func(string, ...interface{})) *basicEventBus {
	return &basicEventBus{ctx: ctx, log: log}
}

func (bus *basicEventBus) subscribe(handler handler) { bus.handlers = append(bus.handlers, handler) }

func (bus *basicEventBus) publish(event event) {
	bus.log("publishing event: %s", event.String())
	doneChan := bus.ctx.Done()
	if doneChan == nil {
		panic("context must be cancellable")
	}

	select {
	case <-doneChan:
		bus.log("bus context cancelled, dropping event: %s", event.String())
		return
	default:
	}

	for _, handler := range bus.handlers {
		err := handler(event)
		if err != nil {
			bus.log("error handling event: %s: %v", event.String(), err)
		}
	}
}
