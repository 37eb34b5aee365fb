/*
DESCRIPTION
  notifier.go provides a tool for notifying a systemd watchdog under
  healthy operation of the relay service. Health is judged from handler
  activity; a handler stuck for too long withholds the notification and
  lets the watchdog restart the process.

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
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/coreos/go-systemd/daemon"
)

// By default we assume we should be notifying a systemd watchdog. This can
// be toggled off by using the nowatchdog build tag (see nowatchdog.go).
var notifyWatchdog = true

// watchdogNotifier keeps track of the watchdog interval from the external
// systemd service settings, the currently active request handlers and a
// curID field that is incremented to generate new handler ids for storage.
type watchdogNotifier struct {
	watchdogInterval time.Duration
	activeHandlers   map[int]handlerInfo
	curID            int
	termCallback     func()
	log              logging.Logger
	mu               sync.Mutex
	haveRun          bool
}

// handlerInfo keeps track of a handler's name and the time at which it was
// invoked, from which time active and therefore health is calculated.
type handlerInfo struct {
	name string
	time time.Time
}

// newWatchdogNotifier creates a new watchdogNotifier with the provided
// logger and termination callback that is called if a SIGINT or SIGTERM
// signal is received. Recommended use of this is an attempted state save.
func newWatchdogNotifier(l logging.Logger, termCallback func()) (*watchdogNotifier, error) {
	interval := 1 * time.Minute

	return &watchdogNotifier{
		activeHandlers:   make(map[int]handlerInfo),
		watchdogInterval: interval,
		log:              l,
		termCallback:     termCallback,
	}, nil
}

// notify is to be called as a routine. It checks that the handlers are
// healthy before notifying the watchdog, otherwise it waits and checks
// again; if the handlers take too long to become healthy the watchdog
// interval is exceeded and the process gets restarted. notify also starts
// a routine to monitor for SIGINT and SIGTERM, upon which the termination
// callback is called.
func (n *watchdogNotifier) notify() {
	notifyTicker := time.NewTicker(n.watchdogInterval / 2.0)

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigs
		n.log.Warning("received termination signal, calling termination callback", "signal", sig.String())
		n.termCallback()
	}()

	var consecutiveUnhealthyStates int
	for {
		const nUnhealthyStatesForTrace = 10
		if n.handlersUnhealthy() {
			consecutiveUnhealthyStates++
			if consecutiveUnhealthyStates >= nUnhealthyStatesForTrace {
				logTrace(n.log.Debug, n.log.Warning)
				consecutiveUnhealthyStates = 0
			}
			const unhealthyHandlerWait = 1 * time.Second
			time.Sleep(unhealthyHandlerWait)
			continue
		}
		consecutiveUnhealthyStates = 0

		<-notifyTicker.C

		if !notifyWatchdog {
			continue
		}

		if !n.haveRun {
			n.haveRun = true

			const clearEnvVars = false
			ok, err := daemon.SdNotify(clearEnvVars, daemon.SdNotifyReady)
			if err != nil {
				n.log.Fatal("unexpected watchdog notify ready error", "error", err)
			}
			if !ok {
				n.log.Fatal("watchdog notification not supported")
			}

			n.watchdogInterval, err = daemon.SdWatchdogEnabled(clearEnvVars)
			if err != nil {
				n.log.Fatal("unexpected watchdog error", "error", err)
			}
			if n.watchdogInterval == 0 {
				n.log.Fatal("watchdog not enabled or this is the wrong PID")
			}
		}

		// If this fails for any reason it indicates a systemd service
		// configuration issue, and therefore programmer error, so do fatal
		// log to cause crash.
		n.log.Debug("notifying watchdog")
		supported, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		if err != nil {
			n.log.Fatal("error from systemd watchdog notify", "error", err)
		}
		if !supported {
			n.log.Fatal("watchdog notification not supported")
		}
	}
}

// handlersUnhealthy returns true if any handler has been handling for
// longer than the unhealthyHandleDuration.
func (n *watchdogNotifier) handlersUnhealthy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, info := range n.activeHandlers {
		const unhealthyHandleDuration = 30 * time.Second
		if time.Since(info.time) > unhealthyHandleDuration {
			n.log.Warning("handler unhealthy", "name", info.name)
			return true
		}
	}
	return false
}

// handlerInvoked is to be called at the start of a request handler to
// indicate that handling has begun. A function is returned that must be
// called at exit of the handler, recommended by way of a defer statement
// immediately after receiving it.
func (n *watchdogNotifier) handlerInvoked(name string) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.curID
	n.curID++
	n.activeHandlers[id] = handlerInfo{time: time.Now(), name: name}

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		if _, ok := n.activeHandlers[id]; !ok {
			n.log.Fatal("handler id not in map", "name", name)
		}
		delete(n.activeHandlers, id)
	}
}
