/*
DESCRIPTION
  watcher.go provides a tool for watching a file for modifications and
  performing an action when the file is modified. Used to hot-reload the
  relay configuration.

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
	"path"

	"github.com/ausocean/utils/logging"
	"github.com/fsnotify/fsnotify"
)

// watchFile watches a file for modifications and calls onWrite when the
// file is modified. The containing directory is watched rather than the
// file itself, because editors and config managers commonly replace the
// file atomically, which would invalidate a watch on the file.
func watchFile(file string, onWrite func(), l logging.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create watcher: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					l.Warning("watcher events chan closed, terminating")
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write && event.Name == file {
					l.Info("file modification event", "file", file)
					onWrite()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					l.Warning("watcher error chan closed, terminating")
					return
				}
				l.Error("file watcher error", "error", err)
			}
		}
	}()

	err = watcher.Add(path.Dir(file))
	if err != nil {
		return fmt.Errorf("could not add file %s to watcher: %w", file, err)
	}
	return nil
}
