/*
DESCRIPTION
  utils.go houses generic relay helpers.

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
	"net/http"
	"runtime"

	"github.com/ausocean/utils/logging"
)

var loggingLevel = logging.Info

// errorLogWrite logs an error and writes it to w in JSON format with the
// given status code.
func (r *registry) errorLogWrite(w http.ResponseWriter, code int, msg string, args ...interface{}) {
	r.log.Error(msg, args...)
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprint(w, `{"er":"`+msg+`"}`)
}

type Log func(msg string, args ...interface{})

// logTrace logs a full stacktrace, used at termination and when handlers
// look stuck.
func logTrace(debug, warning Log) {
	const (
		maxStackTraceSize = 100000
		allStacks         = true
	)
	buf := make([]byte, maxStackTraceSize)
	n := runtime.Stack(buf, allStacks)
	if n > maxStackTraceSize && warning != nil {
		warning("stacktrace exceeded buffer size")
	}
	debug("got stacktrace at termination", "stacktrace", string(buf[:n]))
}
