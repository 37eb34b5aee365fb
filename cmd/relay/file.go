/*
DESCRIPTION
  file.go provides saving and loading of registry state, so that session
  mappings survive a watchdog restart. This includes the
  marshalling/unmarshalling overrides; process handles are never persisted,
  so restored sessions come back unspawned.

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
	"encoding/json"
	"fmt"
	"os"

	"github.com/danyelajunebrown/stagecast/cmd/relay/global"
	"github.com/danyelajunebrown/stagecast/notify"
)

// The file name for the registry state save.
const stateFileName = "state.json"

// SessionBasic is a crude version of session used to simplify
// marshal/unmarshal overriding.
type SessionBasic struct {
	ID     string
	Egress string
}

// RegistryBasic is a crude version of registry used to simplify
// marshal/unmarshal overriding.
type RegistryBasic struct {
	Sessions map[string]*session
}

// MarshalJSON calls the default marshalling behaviour for the SessionBasic
// struct using the information from s.
func (s *session) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(SessionBasic{ID: s.id, Egress: s.egress})
}

// UnmarshalJSON unmarshals into a value of the SessionBasic struct and then
// populates a session value. The worker state is always unspawned; a worker
// is spawned again when data next arrives.
func (s *session) UnmarshalJSON(data []byte) error {
	var sb SessionBasic
	err := json.Unmarshal(data, &sb)
	if err != nil {
		return fmt.Errorf("could not unmarshal JSON: %w", err)
	}
	s.id = sb.ID
	s.egress = sb.Egress
	s.state = workerUnspawned
	return nil
}

// MarshalJSON calls the default marshaller for a RegistryBasic value using
// data from a registry value.
func (r *registry) MarshalJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(RegistryBasic{Sessions: r.sessions})
}

// UnmarshalJSON populates a RegistryBasic value from the provided data and
// then populates the receiver registry to a usable state based on this data.
func (r *registry) UnmarshalJSON(data []byte) error {
	var rb RegistryBasic
	err := json.Unmarshal(data, &rb)
	if err != nil {
		return fmt.Errorf("could not unmarshal JSON: %w", err)
	}

	r.sessions = rb.Sessions
	if r.sessions == nil {
		r.sessions = make(map[string]*session)
	}
	r.log = global.GetLogger()
	r.newWorker = startWorker
	if r.notify == nil {
		r.notify = func(notify.Kind, string) {}
	}

	dn, err := newWatchdogNotifier(r.log, terminationCallback(r))
	if err != nil {
		return fmt.Errorf("could not create watchdog notifier: %w", err)
	}
	r.dogNotifier = dn
	return nil
}

// save utilises marshalling functionality to save the registry state to a
// file.
func (r *registry) save() error {
	f, err := os.OpenFile(stateFileName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("could not open file: %w", err)
	}
	defer f.Close()

	bytes, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("could not marshal registry: %w", err)
	}

	_, err = f.Write(bytes)
	if err != nil {
		return fmt.Errorf("could not write bytes to file: %w", err)
	}
	return nil
}

// load populates a registry value based on the previously saved state.
func (r *registry) load() error {
	bytes, err := os.ReadFile(stateFileName)
	if err != nil {
		return fmt.Errorf("could not read state file: %w", err)
	}

	err = json.Unmarshal(bytes, &r)
	if err != nil {
		return fmt.Errorf("could not unmarshal state data: %w", err)
	}
	return nil
}
