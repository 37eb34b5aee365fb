/*
DESCRIPTION
  relayclient_test.go provides testing for the relay control client and the
  websocket chunk sink.

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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

func TestControlRequestEncoding(t *testing.T) {
	var (
		got    controlBody
		auth   string
		method string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		auth = r.Header.Get("Authorization")
		err := json.NewDecoder(r.Body).Decode(&got)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := newRelayClient(srv.URL, []byte("test-secret"))

	// An egress target is opaque to us, so the body must survive characters
	// that are meaningful to JSON.
	const id = "session-1"
	const egress = `rtmp://a.rtmp.example.com/live2/key-with-"quotes"\and\slashes`
	err := c.register(context.Background(), id, egress)
	if err != nil {
		t.Fatalf("could not register: %v", err)
	}
	if method != http.MethodPut {
		t.Errorf("expected PUT, got %s", method)
	}
	if got.ID != id || got.Egress != egress {
		t.Errorf("body did not round-trip, got id %q egress %q", got.ID, got.Egress)
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		t.Errorf("expected bearer authorization, got %q", auth)
	}

	err = c.deregister(context.Background(), id)
	if err != nil {
		t.Fatalf("could not deregister: %v", err)
	}
	if method != http.MethodDelete {
		t.Errorf("expected DELETE, got %s", method)
	}
	if got.ID != id || got.Egress != "" {
		t.Errorf("deregister body did not round-trip, got id %q egress %q", got.ID, got.Egress)
	}
}

func TestSinkConcurrentSendAndClose(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := newRelayClient(srv.URL, []byte("test-secret"))
	sink, err := c.dialIngest(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("could not dial ingest: %v", err)
	}

	// The capture pump and the teardown path can touch the connection at
	// the same time; concurrent writers on one websocket connection panic
	// unless the sink serialises them. Errors after close are expected,
	// panics are not.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sink.sendChunk([]byte{0x47, byte(j)})
			}
		}()
	}
	sink.close()
	wg.Wait()
}
