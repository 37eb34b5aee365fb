/*
DESCRIPTION
  schedule.go provides the broadcast window schedule. Cron expressions arm
  the trigger controller at window open and disarm it at window close, so
  that motion outside the window never starts a broadcast and a broadcast
  running at window close is ended.

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
	"fmt"

	"github.com/robfig/cron/v3"
)

// schedule runs the controller's broadcast window. Without a schedule the
// controller stays armed at all times.
type schedule struct {
	cron *cron.Cron
}

// newSchedule builds a schedule from cron expressions for window open and
// close and starts it. The controller starts disarmed when a schedule is
// in use, and is armed by the first window open.
func newSchedule(openSpec, closeSpec string, c *triggerController) (*schedule, error) {
	cr := cron.New()

	_, err := cr.AddFunc(openSpec, c.arm)
	if err != nil {
		return nil, fmt.Errorf("could not add window open entry %q: %w", openSpec, err)
	}
	_, err = cr.AddFunc(closeSpec, c.disarm)
	if err != nil {
		return nil, fmt.Errorf("could not add window close entry %q: %w", closeSpec, err)
	}

	c.mu.Lock()
	c.armed = false
	c.mu.Unlock()

	cr.Start()
	return &schedule{cron: cr}, nil
}

func (s *schedule) stop() { s.cron.Stop() }
