/*
DESCRIPTION
  transcoder.go provides the ffmpeg subprocess wrapper used to forward a
  session's video chunks to its egress target. ffmpeg copies the video
  track, synthesises a silent audio track and muxes to FLV over RTMP.

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
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/ausocean/utils/logging"
)

// forwarder abstracts the transcoder subprocess so that registry logic can
// be tested without spawning ffmpeg.
type forwarder interface {
	write(p []byte) error
	stop(grace time.Duration)
}

// newForwarderFunc is the factory signature used by the registry to spawn a
// forwarder for a session. onExit is called exactly once, from a separate
// goroutine, when the subprocess exits for any reason.
type newForwarderFunc func(id, egress string, l logging.Logger, onExit func(error)) (forwarder, error)

// ffmpegWorker wraps a running ffmpeg subprocess fed via stdin.
type ffmpegWorker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
	log   logging.Logger
}

// startWorker spawns an ffmpeg subprocess forwarding stdin to the given
// egress target. The video track is copied without re-encoding, and a
// silent stereo AAC track is synthesised so that the remote ingest, which
// rejects video-only streams, accepts the feed.
func startWorker(id, egress string, l logging.Logger, onExit func(error)) (forwarder, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-f", "lavfi",
		"-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		"-c:v", "copy",
		"-c:a", "aac",
		"-map", "0:v",
		"-map", "1:a",
		"-f", "flv",
		egress,
	}
	cmd := exec.Command("ffmpeg", args...)
	cmd.Stderr = &workerLogWriter{id: id, log: l}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("could not get stdin pipe: %w", err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("could not start ffmpeg: %w", err)
	}
	l.Info("started transcode worker", "session", id, "pid", cmd.Process.Pid)

	w := &ffmpegWorker{cmd: cmd, stdin: stdin, done: make(chan struct{}), log: l}
	go func() {
		err := cmd.Wait()
		if err != nil {
			l.Warning("transcode worker exited with error", "session", id, "error", err)
		} else {
			l.Info("transcode worker exited", "session", id)
		}
		close(w.done)
		onExit(err)
	}()
	return w, nil
}

// write forwards a chunk to the subprocess stdin.
func (w *ffmpegWorker) write(p []byte) error {
	_, err := w.stdin.Write(p)
	if err != nil {
		return fmt.Errorf("could not write to worker stdin: %w", err)
	}
	return nil
}

// stop closes stdin so that ffmpeg can flush its muxer and exit, and waits
// up to grace for it to do so before killing the process. It is safe to call
// after the process has already exited.
func (w *ffmpegWorker) stop(grace time.Duration) {
	w.stdin.Close()
	select {
	case <-w.done:
	case <-time.After(grace):
		w.log.Warning("transcode worker did not exit within grace period, killing")
		w.cmd.Process.Kill()
		<-w.done
	}
}

// workerLogWriter splits the subprocess stderr into lines and relays them
// through the service logger, tagged with the session id.
type workerLogWriter struct {
	id  string
	log logging.Logger
}

func (w *workerLogWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.log.Debug("ffmpeg stderr", "session", w.id, "line", string(line))
	}
	return total, nil
}
