/*
DESCRIPTION
  ingest.go provides the websocket data plane. Each session holds one duplex
  connection to /ingest and sends its video as binary messages, one message
  per chunk of whole MPEG-TS packets.

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
	"net/http"

	"github.com/Comcast/gots/v2/packet"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 4 * 1024,
}

// ingest handles the websocket data plane for a single session. The first
// message from an unregistered session is dropped and the connection closed
// without spawning anything. Connection close from either side tears the
// session down.
func (r *registry) ingest(w http.ResponseWriter, req *http.Request) {
	done := r.dogNotifier.handlerInvoked("ingest")

	id := req.URL.Query().Get("id")
	if id == "" {
		r.errorLogWrite(w, http.StatusBadRequest, "missing session id")
		done()
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Error("could not upgrade ingest connection", "session", id, "error", err)
		done()
		return
	}

	// A session's connection stays open for the whole broadcast, far past any
	// sensible handler deadline, so it is released from handler-health
	// tracking once the upgrade has succeeded. The watchdog judges health
	// from the short-lived handlers only.
	done()
	r.log.Info("ingest connection opened", "session", id)

	for {
		typ, chunk, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Warning("ingest connection closed unexpectedly", "session", id, "error", err)
			}
			break
		}
		if typ != websocket.BinaryMessage {
			r.log.Warning("ignoring non-binary ingest message", "session", id, "type", typ)
			continue
		}
		if !validChunk(chunk) {
			r.log.Warning("invalid chunk, closing ingest connection", "session", id, "length", len(chunk))
			break
		}

		err = r.feed(id, chunk)
		if errors.Is(err, errSessionNotRegistered) {
			r.log.Warning("chunk for unregistered session, closing connection", "session", id)
			conn.Close()
			return
		}
		if err != nil {
			r.log.Error("could not feed chunk", "session", id, "error", err)
			break
		}
	}

	conn.Close()
	r.log.Info("ingest connection closed, tearing down session", "session", id)
	r.teardown(id)
}

// validChunk returns true if the chunk consists of one or more whole
// MPEG-TS packets starting on a sync byte.
func validChunk(chunk []byte) bool {
	if len(chunk) == 0 || len(chunk)%packet.PacketSize != 0 {
		return false
	}
	return chunk[0] == packet.SyncByte
}
