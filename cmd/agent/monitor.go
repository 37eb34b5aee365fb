/*
DESCRIPTION
  monitor.go provides the broadcast lifecycle monitor. It drives a
  broadcast attempt against the remote platform: resource creation, the
  wait for ingest to become active, and the auto-wait / force / confirm
  sequence that gets the broadcast to live.

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
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/danyelajunebrown/stagecast/broadcast"
	"github.com/danyelajunebrown/stagecast/utils"
)

// Lifecycle monitor defaults.
const (
	defaultAutoWait     = 10 * time.Second
	defaultPollInterval = 1 * time.Second
	defaultConfirmWait  = 5 * time.Second
	defaultIngestWait   = 30 * time.Second
)

// errIngestNotActive reports that the ingest point did not become active
// within the wait. This timeout is soft; callers may proceed to ensureLive
// regardless.
var errIngestNotActive = errors.New("ingest not active within wait")

// errNotLive reports that the broadcast did not reach live even after the
// forced transition. This is the fatal outcome of an attempt.
var errNotLive = errors.New("broadcast did not reach live after forced transition")

// monitorConfig parameterises the lifecycle monitor's waits. Zero values
// are replaced with the defaults above, except AutoWaitSet which permits an
// explicit zero auto-wait (force immediately).
type monitorConfig struct {
	AutoWait     time.Duration
	AutoWaitSet  bool
	PollInterval time.Duration
	ConfirmWait  time.Duration
	IngestWait   time.Duration
}

func (c monitorConfig) withDefaults() monitorConfig {
	if c.AutoWait == 0 && !c.AutoWaitSet {
		c.AutoWait = defaultAutoWait
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ConfirmWait == 0 {
		c.ConfirmWait = defaultConfirmWait
	}
	if c.IngestWait == 0 {
		c.IngestWait = defaultIngestWait
	}
	return c
}

// lifecycleMonitor drives broadcast attempts through a broadcast.Service.
type lifecycleMonitor struct {
	svc broadcast.Service
	log logging.Logger
	cfg monitorConfig
}

func newLifecycleMonitor(svc broadcast.Service, l logging.Logger, cfg monitorConfig) *lifecycleMonitor {
	return &lifecycleMonitor{svc: svc, log: l, cfg: cfg.withDefaults()}
}

// startBroadcast creates the broadcast and ingest-point resources and binds
// them, returning their IDs and the egress target for the relay. Any
// failure aborts the attempt; nothing partially created is returned.
func (m *lifecycleMonitor) startBroadcast(ctx context.Context, d broadcast.Details) (broadcast.IDs, string, error) {
	ids, egress, err := m.svc.CreateBroadcast(ctx, d)
	if err != nil {
		return broadcast.IDs{}, "", fmt.Errorf("could not create broadcast: %w", err)
	}
	m.log.Info("created broadcast", "bid", ids.BID, "sid", ids.SID)
	return ids, egress, nil
}

// waitUntilIngestActive polls the ingest-point status until it reports
// active. The wait is soft; on timeout errIngestNotActive is returned and
// the caller may proceed, since the platform can report an active ingest
// late while data is in fact flowing.
func (m *lifecycleMonitor) waitUntilIngestActive(ctx context.Context, sID string) error {
	active, err := utils.Poll(ctx, m.cfg.PollInterval, m.cfg.IngestWait, func(ctx context.Context) (bool, error) {
		status, err := m.svc.StreamStatus(ctx, sID)
		if err != nil {
			return false, fmt.Errorf("could not get stream status: %w", err)
		}
		return status == broadcast.StreamStatusActive, nil
	})
	if err != nil {
		return err
	}
	if !active {
		return errIngestNotActive
	}
	m.log.Info("ingest active", "sid", sID)
	return nil
}

// ensureLive gets the broadcast to live, preferring the platform's own
// transition. First the broadcast status is polled for the auto-wait
// period; if the platform goes live by itself no transition is requested.
// Otherwise exactly one forced transition is issued, followed by one
// bounded confirmation poll. Only a confirmed live status is success. An
// auto-wait of zero skips straight to the forced transition.
func (m *lifecycleMonitor) ensureLive(ctx context.Context, ids broadcast.IDs) error {
	isLive := func(ctx context.Context) (bool, error) {
		status, err := m.svc.BroadcastStatus(ctx, ids.BID)
		if err != nil {
			return false, fmt.Errorf("could not get broadcast status: %w", err)
		}
		return status == broadcast.StatusLive, nil
	}

	live, err := utils.Poll(ctx, m.cfg.PollInterval, m.cfg.AutoWait, isLive)
	if err != nil {
		return fmt.Errorf("could not poll for auto live: %w", err)
	}
	if live {
		m.log.Info("broadcast went live without forcing", "bid", ids.BID)
		return nil
	}

	m.log.Info("forcing transition to live", "bid", ids.BID)
	err = m.svc.TransitionBroadcast(ctx, ids.BID, broadcast.StatusLive)
	if err != nil {
		return fmt.Errorf("could not transition broadcast to live: %w", err)
	}

	live, err = utils.Poll(ctx, m.cfg.PollInterval, m.cfg.ConfirmWait, isLive)
	if err != nil {
		return fmt.Errorf("could not poll for confirmed live: %w", err)
	}
	if !live {
		return errNotLive
	}
	m.log.Info("broadcast confirmed live", "bid", ids.BID)
	return nil
}

// stopBroadcast requests a transition to complete. It is best effort and
// idempotent; a broadcast that is already complete counts as success, and
// any other error is logged and swallowed so that teardown always
// proceeds.
func (m *lifecycleMonitor) stopBroadcast(ctx context.Context, ids broadcast.IDs) {
	err := m.svc.CompleteBroadcast(ctx, ids.BID)
	switch {
	case err == nil:
	case broadcast.IsRedundantTransition(err):
		m.log.Info("broadcast already complete", "bid", ids.BID)
	default:
		m.log.Warning("could not complete broadcast", "bid", ids.BID, "error", err)
	}
}
