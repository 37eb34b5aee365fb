/*
DESCRIPTION
  indicator.go provides the visible broadcasting indicator. On device this
  is a GPIO-backed LED driven through sysfs; a logging fallback is used
  when no indicator path is configured.

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
	"os"

	"github.com/ausocean/utils/logging"
)

// Indicator shows whether the device is broadcasting.
type Indicator interface {
	Set(live bool) error
}

// fileIndicator drives an indicator through a file write, e.g. a sysfs LED
// brightness attribute.
type fileIndicator struct {
	path string
}

func newFileIndicator(path string) *fileIndicator {
	return &fileIndicator{path: path}
}

func (i *fileIndicator) Set(live bool) error {
	v := "0"
	if live {
		v = "1"
	}
	err := os.WriteFile(i.path, []byte(v), 0644)
	if err != nil {
		return fmt.Errorf("could not write indicator: %w", err)
	}
	return nil
}

// logIndicator logs state changes in place of hardware.
type logIndicator struct {
	log logging.Logger
}

func (i *logIndicator) Set(live bool) error {
	i.log.Info("indicator", "live", live)
	return nil
}
