/*
DESCRIPTION
  registry.go provides the session registry at the heart of the relay. A
  registered session maps an opaque session id to an egress target and, once
  data arrives, to a transcode worker subprocess. The registry is
  communicated with through the HTTP handlers in control.go and ingest.go.

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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/danyelajunebrown/stagecast/notify"
)

// workerStopGrace is how long a worker is given to flush and exit after its
// stdin is closed, before it is killed.
const workerStopGrace = 5 * time.Second

// dropLogInterval bounds how often dropped chunks are logged per session.
const dropLogInterval = 1 * time.Minute

// notifyForwarder is the notification kind for relay forwarding faults.
const notifyForwarder notify.Kind = "relay-forwarder"

var errSessionNotRegistered = errors.New("session not registered")

// The lifecycle states of a session's transcode worker. A session starts
// unspawned, moves to spawned when the first chunk arrives, and to exited
// when the subprocess terminates. There is no transition out of exited; a
// crashed worker is never respawned implicitly.
type workerState int

const (
	workerUnspawned workerState = iota
	workerSpawned
	workerExited
)

// session is a registry entry. The mutex serialises chunk delivery and
// state changes for this session only, so sessions never block each other.
type session struct {
	mu       sync.Mutex
	id       string
	egress   string
	state    workerState
	fwd      forwarder
	dropped  int
	lastDrop time.Time
}

// registry maps session ids to their entries. Handlers in control.go and
// ingest.go call register, feed and teardown; main saves and restores the
// id to egress mapping across restarts via file.go.
type registry struct {
	mu          sync.Mutex
	sessions    map[string]*session
	log         logging.Logger
	dogNotifier *watchdogNotifier
	newWorker   newForwarderFunc
	notify      func(kind notify.Kind, msg string)
}

// newRegistry returns a registry using the provided logger. notify may be
// nil, in which case forwarding faults are logged only.
func newRegistry(l logging.Logger, notifyFn func(kind notify.Kind, msg string)) (*registry, error) {
	if notifyFn == nil {
		notifyFn = func(notify.Kind, string) {}
	}
	r := &registry{
		sessions:  make(map[string]*session),
		log:       l,
		newWorker: startWorker,
		notify:    notifyFn,
	}
	dn, err := newWatchdogNotifier(l, terminationCallback(r))
	if err != nil {
		return nil, err
	}
	r.dogNotifier = dn
	return r, nil
}

// terminationCallback provides a callback that saves the registry state, so
// that a watchdog restart does not lose the session mappings.
func terminationCallback(r *registry) func() {
	return func() {
		err := r.save()
		if err != nil {
			r.log.Error("could not save registry on termination signal", "error", err)
			return
		}
		r.log.Info("saved registry state on termination signal")
		logTrace(r.log.Debug, r.log.Warning)
	}
}

// register maps a session id to an egress target. Registering an id that is
// already present replaces the mapping; any running worker for the old
// registration is stopped first, so at most one subprocess ever exists per
// session. No worker is spawned here; spawning waits for the first chunk.
func (r *registry) register(id, egress string) error {
	if id == "" {
		return errors.New("empty session id")
	}
	if egress == "" {
		return errors.New("missing egress target")
	}

	r.mu.Lock()
	old, ok := r.sessions[id]
	r.sessions[id] = &session{id: id, egress: egress}
	r.mu.Unlock()

	if ok {
		r.log.Info("replacing existing registration", "session", id)
		stopSession(old)
	}
	r.log.Info("registered session", "session", id, "egress", egress)
	return nil
}

// feed delivers one chunk to the session's worker. The first chunk spawns
// the worker. Chunks arriving after the worker has exited are dropped and
// counted, with at most one log line per dropLogInterval per session.
func (r *registry) feed(id string, chunk []byte) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return errSessionNotRegistered
	}

	s.mu.Lock()
	if s.state == workerUnspawned {
		fwd, err := r.newWorker(id, s.egress, r.log, r.workerExit(s))
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("could not spawn transcode worker: %w", err)
		}
		s.fwd = fwd
		s.state = workerSpawned
	}
	if s.state == workerExited {
		r.dropChunk(s, "worker has exited, dropping chunk", nil)
		s.mu.Unlock()
		return nil
	}
	fwd := s.fwd
	s.mu.Unlock()

	// The write happens outside the session mutex so that teardown and
	// replacement can stop a wedged worker rather than queueing behind it.
	// A stop racing the write closes the worker's stdin, which surfaces
	// here as a write error and a dropped chunk.
	err := fwd.write(chunk)
	if err != nil {
		s.mu.Lock()
		r.dropChunk(s, "could not write chunk to worker", err)
		s.mu.Unlock()
	}
	return nil
}

// dropChunk records a dropped chunk for s, logging at most once per
// dropLogInterval. The caller must hold s.mu.
func (r *registry) dropChunk(s *session, reason string, err error) {
	s.dropped++
	if time.Since(s.lastDrop) < dropLogInterval {
		return
	}
	s.lastDrop = time.Now()
	if err != nil {
		r.log.Warning(reason, "session", s.id, "dropped", s.dropped, "error", err)
		return
	}
	r.log.Warning(reason, "session", s.id, "dropped", s.dropped)
}

// workerExit returns the exit observer for session s. It runs on the worker
// wait goroutine when the subprocess exits for any reason. A crash clears
// the worker handle but retains the registration, so the egress mapping
// survives for diagnosis and explicit teardown.
func (r *registry) workerExit(s *session) func(error) {
	return func(err error) {
		s.mu.Lock()
		if s.state != workerSpawned {
			s.mu.Unlock()
			return
		}
		s.state = workerExited
		s.fwd = nil
		s.mu.Unlock()

		if err != nil {
			r.log.Warning("transcode worker crashed, session mapping retained", "session", s.id, "error", err)
			r.notify(notifyForwarder, fmt.Sprintf("transcode worker for session %s crashed: %v", s.id, err))
		}
	}
}

// teardown stops the session's worker if one is running and removes the
// registration. Unknown ids are a no-op, so teardown is idempotent.
func (r *registry) teardown(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	stopSession(s)

	s.mu.Lock()
	dropped := s.dropped
	s.mu.Unlock()
	r.log.Info("session torn down", "session", id, "dropped", dropped)
}

// stopSession stops s's worker if one is running, giving it workerStopGrace
// to flush. The session mutex is not held across the stop so that the exit
// observer can run.
func stopSession(s *session) {
	s.mu.Lock()
	fwd := s.fwd
	running := s.state == workerSpawned
	s.fwd = nil
	s.state = workerExited
	s.mu.Unlock()

	if running && fwd != nil {
		fwd.stop(workerStopGrace)
	}
}

// isRegistered returns true if the given session id is registered.
func (r *registry) isRegistered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// activeSessions returns the number of registered sessions.
func (r *registry) activeSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
