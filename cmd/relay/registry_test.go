/*
DESCRIPTION
  registry_test.go provides testing for the session registry and its
  worker lifecycle handling.

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
	"sync"
	"testing"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/danyelajunebrown/stagecast/notify"
)

const (
	testSession = "3b7e29fa-6c1d-4f10-9f3e-8a24d1c05f77"
	testEgress  = "rtmp://a.rtmp.example.com/live2/abcd-efgh-ijkl-mnop"
)

// dummyForwarder records written chunks and stop calls in place of a real
// ffmpeg subprocess.
type dummyForwarder struct {
	mu       sync.Mutex
	id       string
	egress   string
	chunks   [][]byte
	stopped  bool
	writeErr error
	onExit   func(error)
}

func (f *dummyForwarder) write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.chunks = append(f.chunks, p)
	return nil
}

func (f *dummyForwarder) stop(grace time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *dummyForwarder) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func (f *dummyForwarder) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// forwarderRecorder is a newForwarderFunc that records every forwarder it
// spawns.
type forwarderRecorder struct {
	mu      sync.Mutex
	spawned []*dummyForwarder
}

func (rec *forwarderRecorder) factory(id, egress string, l logging.Logger, onExit func(error)) (forwarder, error) {
	f := &dummyForwarder{id: id, egress: egress, onExit: onExit}
	rec.mu.Lock()
	rec.spawned = append(rec.spawned, f)
	rec.mu.Unlock()
	return f, nil
}

func (rec *forwarderRecorder) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.spawned)
}

func (rec *forwarderRecorder) at(i int) *dummyForwarder {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.spawned[i]
}

func newRegistryForTest(t *testing.T, notifyFn func(notify.Kind, string)) (*registry, *forwarderRecorder) {
	r, err := newRegistry((*logging.TestLogger)(t), notifyFn)
	if err != nil {
		t.Fatalf("could not create registry: %v", err)
	}
	rec := &forwarderRecorder{}
	r.newWorker = rec.factory
	return r, rec
}

func TestFeedSpawnsSingleWorker(t *testing.T) {
	r, rec := newRegistryForTest(t, nil)

	err := r.register(testSession, testEgress)
	if err != nil {
		t.Fatalf("could not register session: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("register must not spawn a worker, got %d", rec.count())
	}

	for i := 0; i < 3; i++ {
		err = r.feed(testSession, []byte{0x47, byte(i)})
		if err != nil {
			t.Fatalf("could not feed chunk %d: %v", i, err)
		}
	}

	if rec.count() != 1 {
		t.Errorf("expected exactly one worker, got %d", rec.count())
	}
	if got := rec.at(0).chunkCount(); got != 3 {
		t.Errorf("expected 3 chunks forwarded, got %d", got)
	}
	if rec.at(0).egress != testEgress {
		t.Errorf("worker spawned with wrong egress: %s", rec.at(0).egress)
	}
}

func TestFeedUnregistered(t *testing.T) {
	r, rec := newRegistryForTest(t, nil)

	err := r.feed(testSession, []byte{0x47})
	if !errors.Is(err, errSessionNotRegistered) {
		t.Errorf("expected errSessionNotRegistered, got %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("nothing should be spawned for an unregistered session, got %d", rec.count())
	}
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newRegistryForTest(t, nil)

	if err := r.register("", testEgress); err == nil {
		t.Error("expected error for empty session id")
	}
	if err := r.register(testSession, ""); err == nil {
		t.Error("expected error for missing egress target")
	}
}

func TestCrashDropsWithoutRespawn(t *testing.T) {
	var notified []notify.Kind
	r, rec := newRegistryForTest(t, func(kind notify.Kind, msg string) {
		notified = append(notified, kind)
	})

	err := r.register(testSession, testEgress)
	if err != nil {
		t.Fatalf("could not register session: %v", err)
	}
	err = r.feed(testSession, []byte{0x47})
	if err != nil {
		t.Fatalf("could not feed chunk: %v", err)
	}

	// Simulate the worker crashing.
	rec.at(0).onExit(errors.New("broken pipe"))

	err = r.feed(testSession, []byte{0x47})
	if err != nil {
		t.Fatalf("feed after crash must not error, got %v", err)
	}

	if rec.count() != 1 {
		t.Errorf("crashed worker must not be respawned, got %d spawns", rec.count())
	}
	if got := rec.at(0).chunkCount(); got != 1 {
		t.Errorf("chunk after crash must be dropped, worker saw %d chunks", got)
	}
	if !r.isRegistered(testSession) {
		t.Error("session mapping must be retained after a crash")
	}
	if len(notified) != 1 || notified[0] != notifyForwarder {
		t.Errorf("expected one forwarder crash notification, got %v", notified)
	}
}

func TestRegisterReplacement(t *testing.T) {
	r, rec := newRegistryForTest(t, nil)

	err := r.register(testSession, testEgress)
	if err != nil {
		t.Fatalf("could not register session: %v", err)
	}
	err = r.feed(testSession, []byte{0x47})
	if err != nil {
		t.Fatalf("could not feed chunk: %v", err)
	}

	const newEgress = "rtmp://b.rtmp.example.com/live2/pono-mlkj-ihgf-edcb"
	err = r.register(testSession, newEgress)
	if err != nil {
		t.Fatalf("could not re-register session: %v", err)
	}

	if !rec.at(0).wasStopped() {
		t.Error("old worker must be stopped on re-register")
	}

	err = r.feed(testSession, []byte{0x47})
	if err != nil {
		t.Fatalf("could not feed chunk after re-register: %v", err)
	}
	if rec.count() != 2 {
		t.Fatalf("expected a fresh worker after re-register, got %d spawns", rec.count())
	}
	if rec.at(1).egress != newEgress {
		t.Errorf("new worker spawned with wrong egress: %s", rec.at(1).egress)
	}
	if got := rec.at(0).chunkCount(); got != 1 {
		t.Errorf("old worker must not see chunks after replacement, saw %d", got)
	}
}

// wedgedForwarder blocks in write until stopped, standing in for a worker
// whose stdin pipe has filled because ffmpeg stopped consuming.
type wedgedForwarder struct {
	release chan struct{}
	writing chan struct{}
	stopped chan struct{}
}

func newWedgedForwarder() *wedgedForwarder {
	return &wedgedForwarder{
		release: make(chan struct{}),
		writing: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (f *wedgedForwarder) write(p []byte) error {
	close(f.writing)
	<-f.release
	return errors.New("stdin closed")
}

func (f *wedgedForwarder) stop(grace time.Duration) {
	close(f.stopped)
	// Stopping closes the worker's stdin, which unblocks the writer.
	close(f.release)
}

func TestTeardownWithWedgedWorker(t *testing.T) {
	r, _ := newRegistryForTest(t, nil)
	fwd := newWedgedForwarder()
	r.newWorker = func(id, egress string, l logging.Logger, onExit func(error)) (forwarder, error) {
		return fwd, nil
	}

	err := r.register(testSession, testEgress)
	if err != nil {
		t.Fatalf("could not register session: %v", err)
	}

	fed := make(chan struct{})
	go func() {
		r.feed(testSession, []byte{0x47})
		close(fed)
	}()
	<-fwd.writing

	// Teardown must be able to stop the worker while a chunk delivery is
	// wedged inside its write, rather than queueing behind it.
	torndown := make(chan struct{})
	go func() {
		r.teardown(testSession)
		close(torndown)
	}()
	select {
	case <-torndown:
	case <-time.After(2 * time.Second):
		t.Fatal("teardown blocked behind a wedged worker write")
	}

	select {
	case <-fwd.stopped:
	default:
		t.Error("wedged worker must be stopped by teardown")
	}
	if r.isRegistered(testSession) {
		t.Error("session must be unregistered after teardown")
	}
	<-fed
}

func TestSuccessiveSessions(t *testing.T) {
	r, rec := newRegistryForTest(t, nil)

	const (
		first  = "session-one"
		second = "session-two"
	)
	err := r.register(first, testEgress)
	if err != nil {
		t.Fatalf("could not register first session: %v", err)
	}
	err = r.feed(first, []byte{0x47})
	if err != nil {
		t.Fatalf("could not feed first session: %v", err)
	}
	r.teardown(first)

	err = r.register(second, testEgress)
	if err != nil {
		t.Fatalf("could not register second session: %v", err)
	}
	err = r.feed(second, []byte{0x47})
	if err != nil {
		t.Fatalf("could not feed second session: %v", err)
	}

	if !rec.at(0).wasStopped() {
		t.Error("first session's worker must be stopped by teardown")
	}
	if rec.count() != 2 {
		t.Errorf("expected two workers across two sessions, got %d", rec.count())
	}
	if r.isRegistered(first) {
		t.Error("first session must be unregistered after teardown")
	}
	if !r.isRegistered(second) {
		t.Error("second session must remain registered")
	}
}

func TestTeardownIdempotent(t *testing.T) {
	r, rec := newRegistryForTest(t, nil)

	err := r.register(testSession, testEgress)
	if err != nil {
		t.Fatalf("could not register session: %v", err)
	}
	err = r.feed(testSession, []byte{0x47})
	if err != nil {
		t.Fatalf("could not feed chunk: %v", err)
	}

	r.teardown(testSession)
	if !rec.at(0).wasStopped() {
		t.Error("worker must be stopped by teardown")
	}
	if r.isRegistered(testSession) {
		t.Error("session must be unregistered after teardown")
	}

	// Tearing down again, or tearing down a never-registered id, is a no-op.
	r.teardown(testSession)
	r.teardown("never-registered")

	if r.activeSessions() != 0 {
		t.Errorf("expected no active sessions, got %d", r.activeSessions())
	}
}

func TestDropLogThrottle(t *testing.T) {
	r, rec := newRegistryForTest(t, nil)

	err := r.register(testSession, testEgress)
	if err != nil {
		t.Fatalf("could not register session: %v", err)
	}
	err = r.feed(testSession, []byte{0x47})
	if err != nil {
		t.Fatalf("could not feed chunk: %v", err)
	}
	rec.at(0).onExit(nil)

	for i := 0; i < 10; i++ {
		err = r.feed(testSession, []byte{0x47})
		if err != nil {
			t.Fatalf("feed after exit must not error, got %v", err)
		}
	}

	r.mu.Lock()
	s := r.sessions[testSession]
	r.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped != 10 {
		t.Errorf("expected 10 dropped chunks counted, got %d", s.dropped)
	}
}
