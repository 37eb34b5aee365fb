/*
DESCRIPTION
  file_test.go provides testing for functionality contained in file.go.

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
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ausocean/utils/logging"

	"github.com/danyelajunebrown/stagecast/cmd/relay/global"
)

func TestSessionMarshal(t *testing.T) {
	tests := []struct {
		in     *session
		expect []byte
	}{
		{
			in:     &session{id: testSession, egress: testEgress, state: workerSpawned, fwd: &dummyForwarder{}},
			expect: []byte(`{"ID":"` + testSession + `","Egress":"` + testEgress + `"}`),
		},
	}

	for i, test := range tests {
		got, err := test.in.MarshalJSON()
		if err != nil {
			t.Errorf("could not marshal json for test no. %d: %v", i, err)
			continue
		}
		if !bytes.Equal(got, test.expect) {
			t.Errorf("did not get expected result.\nGot: %v\nWnt: %v\n", string(got), string(test.expect))
		}
	}
}

func TestSessionUnmarshal(t *testing.T) {
	in := []byte(`{"ID":"` + testSession + `","Egress":"` + testEgress + `"}`)

	var got session
	err := got.UnmarshalJSON(in)
	if err != nil {
		t.Fatalf("could not unmarshal json: %v", err)
	}
	if got.id != testSession || got.egress != testEgress {
		t.Errorf("did not get expected result.\nGot: %v %v\n", got.id, got.egress)
	}
	if got.state != workerUnspawned {
		t.Errorf("restored session must be unspawned, got state %v", got.state)
	}
	if got.fwd != nil {
		t.Error("restored session must not have a worker handle")
	}
}

func TestRegistryMarshal(t *testing.T) {
	r := &registry{
		sessions: map[string]*session{
			testSession: {id: testSession, egress: testEgress, state: workerSpawned},
		},
	}

	got, err := r.MarshalJSON()
	if err != nil {
		t.Fatalf("could not marshal json: %v", err)
	}
	expect := []byte(`{"Sessions":{"` + testSession + `":{"ID":"` + testSession + `","Egress":"` + testEgress + `"}}}`)
	if !bytes.Equal(got, expect) {
		t.Errorf("did not get expected result.\nGot: %v\nWnt: %v\n", string(got), string(expect))
	}
}

func TestRegistryUnmarshal(t *testing.T) {
	// Unmarshalling functionality uses the global logger.
	global.SetLogger((*logging.TestLogger)(t))

	in := []byte(`{"Sessions":{"` + testSession + `":{"ID":"` + testSession + `","Egress":"` + testEgress + `"}}}`)

	var got registry
	err := json.Unmarshal(in, &got)
	if err != nil {
		t.Fatalf("could not unmarshal json: %v", err)
	}

	s, ok := got.sessions[testSession]
	if !ok {
		t.Fatal("restored registry is missing the session")
	}
	if s.id != testSession || s.egress != testEgress {
		t.Errorf("did not get expected session.\nGot: %v %v\n", s.id, s.egress)
	}
	if s.state != workerUnspawned {
		t.Errorf("restored session must be unspawned, got state %v", s.state)
	}
	if got.newWorker == nil {
		t.Error("restored registry must carry a worker factory")
	}
	if got.dogNotifier == nil {
		t.Error("restored registry must carry a watchdog notifier")
	}
}
