/*
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

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimeStore is an interface for notification persistence.
type TimeStore interface {
	Sendable(context.Context, string) (bool, error) // Returns true if a message is sendable.
	Sent(context.Context, string) error             // Records the time a message was sent.
}

// fileTimeStore implements a TimeStore backed by a local JSON file, which
// survives process restarts on the same host.
type fileTimeStore struct {
	mu     sync.Mutex
	path   string
	period time.Duration
}

// NewFileStore returns a TimeStore backed by the JSON file at path.
// A message of a given key is sendable if none of the same key was sent
// within the given period.
func NewFileStore(path string, period time.Duration) TimeStore {
	return &fileTimeStore{path: path, period: period}
}

// Sendable returns true either if (1) the period has elapsed since the last
// time a message with the given key was sent or (2) a message with the key
// is being sent for the first time.
func (ts *fileTimeStore) Sendable(ctx context.Context, key string) (bool, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	times, err := ts.load()
	if err != nil {
		return true, err // Fail open; a lost dedupe record should not silence ops.
	}
	last, ok := times[key]
	if !ok {
		return true, nil // No record of sending this kind of message.
	}
	return time.Since(last) >= ts.period, nil
}

// Sent records the time that a message with the given key was sent.
func (ts *fileTimeStore) Sent(ctx context.Context, key string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	times, err := ts.load()
	if err != nil {
		times = map[string]time.Time{}
	}
	times[key] = time.Now()

	data, err := json.Marshal(times)
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(ts.path), 0755)
	if err != nil {
		return err
	}
	return os.WriteFile(ts.path, data, 0644)
}

func (ts *fileTimeStore) load() (map[string]time.Time, error) {
	times := map[string]time.Time{}
	data, err := os.ReadFile(ts.path)
	if errors.Is(err, os.ErrNotExist) {
		return times, nil
	}
	if err != nil {
		return nil, err
	}
	err = json.Unmarshal(data, &times)
	if err != nil {
		return nil, err
	}
	return times, nil
}
