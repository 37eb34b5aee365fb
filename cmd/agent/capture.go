/*
DESCRIPTION
  capture.go provides the capture feed: an external capture command is
  spawned per broadcast attempt, its stdout read in whole-packet chunks and
  each chunk sent as one binary message on the session's data plane.

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
	"fmt"
	"io"
	"os/exec"

	"github.com/Comcast/gots/v2/packet"
	"github.com/ausocean/utils/logging"
)

// chunkPackets is the number of MPEG-TS packets sent per data-plane
// message.
const chunkPackets = 64

// captureFeed wraps a running capture subprocess whose stdout is pumped to
// a chunkSink.
type captureFeed struct {
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	errc     chan error
	pumpDone chan struct{}
	log      logging.Logger
}

// feed is the running capture feed as seen by the trigger controller.
type feed interface {
	err() <-chan error
	stop()
}

// startCaptureFunc is the factory signature the trigger controller uses to
// start a capture feed, so that tests can substitute one.
type startCaptureFunc func(sink chunkSink) (feed, error)

// captureStarter returns a startCaptureFunc running the given command. The
// command must emit MPEG-TS on stdout, aligned from the first byte.
func captureStarter(command string, args []string, l logging.Logger) startCaptureFunc {
	return func(sink chunkSink) (feed, error) {
		cmd := exec.Command(command, args...)
		cmd.Stderr = &captureLogWriter{log: l}

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("could not get stdout pipe: %w", err)
		}
		err = cmd.Start()
		if err != nil {
			return nil, fmt.Errorf("could not start capture command: %w", err)
		}
		l.Info("started capture", "command", command, "pid", cmd.Process.Pid)

		f := &captureFeed{
			cmd:      cmd,
			stdout:   stdout,
			errc:     make(chan error, 1),
			pumpDone: make(chan struct{}),
			log:      l,
		}
		go f.pump(sink)
		return f, nil
	}
}

// pump reads whole-packet chunks from the capture stdout and sends each as
// one message. The first error ends the feed and is reported on errc.
func (f *captureFeed) pump(sink chunkSink) {
	defer close(f.pumpDone)
	buf := make([]byte, chunkPackets*packet.PacketSize)
	for {
		n, err := io.ReadFull(f.stdout, buf)
		// Trim a short final read to whole packets.
		n -= n % packet.PacketSize
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			serr := sink.sendChunk(chunk)
			if serr != nil {
				f.errc <- fmt.Errorf("could not send capture chunk: %w", serr)
				return
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			f.errc <- fmt.Errorf("capture stdout ended: %w", err)
			return
		}
		if err != nil {
			f.errc <- fmt.Errorf("could not read capture stdout: %w", err)
			return
		}
	}
}

// err returns the channel on which the feed reports its terminal error.
func (f *captureFeed) err() <-chan error { return f.errc }

// stop kills the capture subprocess, reaps it, and waits for the pump to
// finish so that no chunk is in flight to the sink when stop returns. Safe
// to call after the process has already exited.
func (f *captureFeed) stop() {
	f.stdout.Close()
	if f.cmd.Process != nil {
		f.cmd.Process.Kill()
	}
	f.cmd.Wait()
	<-f.pumpDone
}

// captureLogWriter relays the capture command's stderr through the service
// logger.
type captureLogWriter struct {
	log logging.Logger
}

func (w *captureLogWriter) Write(p []byte) (int, error) {
	w.log.Debug("capture stderr", "output", string(p))
	return len(p), nil
}
