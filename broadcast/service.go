/*
DESCRIPTION
  service.go provides the Service interface through which the rest of
  stagecast talks to the remote broadcast platform, and the YouTube
  implementation of that interface.

AUTHORS
  Danyela June Brown

LICENSE
  Copyright (C) 2025 Danyela June Brown

  This file is part of stagecast. Stagecast is free software: you can
  redistribute it and/or modify it under the terms of the GNU
  General Public License as published by the Free Software
  Foundation, either version 3 of the License, or (at your option)
  any later version.

  Stagecast is distributed in the hope that it will be useful,
  but WITHOUT ANY WARRANTY; without even the implied warranty of
  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
  GNU General Public License for more details.

  You should have received a copy of the GNU General Public License
  in gpl.txt. If not, see <http://www.gnu.org/licenses/>.
*/

// Package broadcast provides a client for the remote broadcast platform:
// creation and binding of broadcast and ingest-point resources, status
// reads, and lifecycle transitions. The concrete platform is YouTube Live;
// everything outside this package goes through the Service interface so the
// platform can be swapped for a test double.
package broadcast

import (
	"context"
	"errors"
	"time"
)

// Broadcast lifecycle statuses, as reported by the platform.
const (
	StatusCreated  = "created"
	StatusReady    = "ready"
	StatusTesting  = "testing"
	StatusLive     = "live"
	StatusComplete = "complete"
	StatusRevoked  = "revoked"
)

// Ingest-point (stream) statuses, as reported by the platform.
const (
	StreamStatusInactive = "inactive"
	StreamStatusActive   = "active"
	StreamStatusError    = "error"
)

// Exported errors.
var (
	ErrNoBroadcastItems = errors.New("no broadcast items")
	ErrNoStreamItems    = errors.New("no stream items")
)

// IDs holds the platform identifiers for one broadcast attempt: the
// broadcast resource and the ingest-point (stream) resource bound to it.
type IDs struct {
	BID, SID string
}

// Details describes the broadcast to be created.
type Details struct {
	Title       string
	Description string
	StreamName  string
	Privacy     string // public, unlisted or private.
	Resolution  string // e.g. 1080p.
	Start, End  time.Time
}

// Service is an interface for a broadcast platform where video can be
// streamed to and then viewed publicly. CreateBroadcast creates a broadcast
// resource and an ingest-point resource, binds them, and returns their IDs
// along with the egress target that transcoded output should be sent to.
// Either everything succeeds or nothing usable is returned; callers must
// not attempt to salvage a partially created pair.
type Service interface {
	CreateBroadcast(ctx context.Context, d Details) (IDs, string, error)
	BroadcastStatus(ctx context.Context, bID string) (string, error)
	StreamStatus(ctx context.Context, sID string) (string, error)
	TransitionBroadcast(ctx context.Context, bID, status string) error
	CompleteBroadcast(ctx context.Context, bID string) error
}
