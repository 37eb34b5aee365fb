/*
DESCRIPTION
  trigger.go provides the trigger controller, the state machine that turns
  the motion classifier's start/stop booleans into broadcast attempts. The
  controller is idle or broadcasting; in between, an attempt runs in its
  own goroutine that owns every external resource it acquires.

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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/google/uuid"

	"github.com/danyelajunebrown/stagecast/broadcast"
	"github.com/danyelajunebrown/stagecast/notify"
)

// notifySoftware is the notification kind for broadcast attempt failures.
const notifySoftware notify.Kind = "broadcast-software"

// cleanupTimeout bounds teardown calls made after the attempt context has
// been cancelled.
const cleanupTimeout = 10 * time.Second

type controllerState int

const (
	stateIdle controllerState = iota
	stateStarting
	stateBroadcasting
)

func (s controllerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateStarting:
		return "starting"
	case stateBroadcasting:
		return "broadcasting"
	}
	return "unknown"
}

// triggerController reacts to events on the bus. Externally it is idle or
// broadcasting; starting is the internal state of an attempt in flight,
// during which the indicator remains dark.
type triggerController struct {
	mu        sync.Mutex
	state     controllerState
	armed     bool
	cancel    context.CancelFunc
	bus       eventBus
	monitor   *lifecycleMonitor
	relay     relayControl
	capture   startCaptureFunc
	indicator Indicator
	details   broadcast.Details
	log       logging.Logger
	notify    func(kind notify.Kind, msg string)
}

func newTriggerController(bus eventBus, monitor *lifecycleMonitor, relay relayControl,
	capture startCaptureFunc, indicator Indicator, details broadcast.Details,
	l logging.Logger, notifyFn func(kind notify.Kind, msg string)) *triggerController {
	if notifyFn == nil {
		notifyFn = func(notify.Kind, string) {}
	}
	return &triggerController{
		state:     stateIdle,
		armed:     true,
		bus:       bus,
		monitor:   monitor,
		relay:     relay,
		capture:   capture,
		indicator: indicator,
		details:   details,
		log:       l,
		notify:    notifyFn,
	}
}

func (c *triggerController) handleEvent(e event) error {
	switch e := e.(type) {
	case startEvent:
		c.handleStartEvent()
	case stopEvent:
		c.handleStopEvent()
	case startedEvent:
		c.handleStartedEvent()
	case startFailedEvent:
		c.handleStartFailedEvent(e)
	}
	return nil
}

func (c *triggerController) handleStartEvent() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed {
		c.log.Info("outside broadcast window, ignoring start trigger")
		return
	}
	if c.state != stateIdle {
		c.log.Info("start trigger while not idle, ignoring", "state", c.state.String())
		return
	}

	c.state = stateStarting
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.runAttempt(ctx)
}

func (c *triggerController) handleStopEvent() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	was := c.state
	c.state = stateIdle
	c.mu.Unlock()

	// The indicator goes dark immediately, before any teardown completes.
	err := c.indicator.Set(false)
	if err != nil {
		c.log.Error("could not clear indicator", "error", err)
	}

	if cancel != nil {
		// Aborts any in-flight poll the instant the stop arrives; the
		// attempt goroutine observes the cancellation and tears down.
		cancel()
	}
	if was == stateIdle {
		c.log.Debug("stop trigger while idle, nothing to do")
		return
	}
	c.log.Info("stop handled", "was", was.String())
}

func (c *triggerController) handleStartedEvent() {
	c.mu.Lock()
	if c.state != stateStarting {
		c.mu.Unlock()
		c.log.Warning("stale started event, ignoring", "state", c.state.String())
		return
	}
	c.state = stateBroadcasting
	c.mu.Unlock()

	// Confirmed live is the only path that lights the indicator.
	err := c.indicator.Set(true)
	if err != nil {
		c.log.Error("could not set indicator live", "error", err)
	}
	c.log.Info("broadcasting")
}

func (c *triggerController) handleStartFailedEvent(e startFailedEvent) {
	c.mu.Lock()
	if c.state != stateStarting {
		c.mu.Unlock()
		c.log.Warning("stale start failed event, ignoring", "state", c.state.String())
		return
	}
	c.state = stateIdle
	c.cancel = nil
	c.mu.Unlock()

	err := c.indicator.Set(false)
	if err != nil {
		c.log.Error("could not clear indicator", "error", err)
	}
	c.log.Error("broadcast attempt failed", "error", e.Error())
	c.notify(notifySoftware, fmt.Sprintf("broadcast attempt failed: %v", e.Error()))
}

// arm allows start triggers. Called by the schedule at window open.
func (c *triggerController) arm() {
	c.mu.Lock()
	c.armed = true
	c.mu.Unlock()
	c.log.Info("trigger controller armed")
}

// disarm ignores start triggers and ends any current broadcast. Called by
// the schedule at window close.
func (c *triggerController) disarm() {
	c.mu.Lock()
	c.armed = false
	c.mu.Unlock()
	c.log.Info("trigger controller disarmed")
	c.bus.publish(stopEvent{})
}

// runAttempt carries one broadcast attempt from resource creation to
// confirmed live, publishing the outcome on the bus. It owns every
// resource it acquires until the attempt context is cancelled, and cleans
// them up under a fresh bounded context since its own has been cancelled
// by then.
func (c *triggerController) runAttempt(ctx context.Context) {
	id := uuid.NewString()
	c.log.Info("starting broadcast attempt", "session", id)

	ids, egress, err := c.monitor.startBroadcast(ctx, c.details)
	if err != nil {
		c.bus.publish(startFailedEvent{err})
		return
	}
	stopBroadcast := func() {
		sctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		c.monitor.stopBroadcast(sctx, ids)
	}

	err = c.relay.register(ctx, id, egress)
	if err != nil {
		stopBroadcast()
		c.bus.publish(startFailedEvent{fmt.Errorf("could not register with relay: %w", err)})
		return
	}
	deregister := func() {
		sctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		derr := c.relay.deregister(sctx, id)
		if derr != nil {
			c.log.Warning("could not deregister session", "session", id, "error", derr)
		}
	}

	sink, err := c.relay.dialIngest(ctx, id)
	if err != nil {
		deregister()
		stopBroadcast()
		c.bus.publish(startFailedEvent{fmt.Errorf("could not open data plane: %w", err)})
		return
	}

	cf, err := c.capture(sink)
	if err != nil {
		sink.close()
		deregister()
		stopBroadcast()
		c.bus.publish(startFailedEvent{fmt.Errorf("could not start capture: %w", err)})
		return
	}
	cleanup := func() {
		cf.stop()
		sink.close()
		deregister()
		stopBroadcast()
	}

	err = c.monitor.waitUntilIngestActive(ctx, ids.SID)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		cleanup()
		return
	case errors.Is(err, errIngestNotActive):
		// Soft timeout. The platform can be slow to notice an active
		// ingest, so press on to ensureLive regardless.
		c.log.Warning("ingest not active in time, continuing", "session", id)
	default:
		c.log.Warning("could not wait for ingest, continuing", "session", id, "error", err)
	}

	err = c.monitor.ensureLive(ctx, ids)
	if err != nil {
		cleanup()
		if ctx.Err() != nil {
			// A stop arrived mid attempt; the stop handler has already
			// reset the state.
			return
		}
		c.bus.publish(startFailedEvent{err})
		return
	}

	c.bus.publish(startedEvent{})

	select {
	case <-ctx.Done():
	case ferr := <-cf.err():
		c.log.Warning("capture feed ended, stopping broadcast", "session", id, "error", ferr)
		c.bus.publish(stopEvent{})
	}
	cleanup()
}
