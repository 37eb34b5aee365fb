/*
DESCRIPTION
  relayclient.go provides the agent's client for the relay: the control
  plane for registering and deregistering sessions, and the websocket data
  plane over which captured chunks are sent.

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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// tokenIssuer is the issuer claim the relay expects on control tokens.
const tokenIssuer = "stagecast-agent"

// tokenLifetime bounds how long a signed control token is valid for.
const tokenLifetime = 5 * time.Minute

// relayControl abstracts the relay so the trigger controller can be tested
// without a relay host.
type relayControl interface {
	register(ctx context.Context, id, egress string) error
	deregister(ctx context.Context, id string) error
	dialIngest(ctx context.Context, id string) (chunkSink, error)
}

// chunkSink is the data-plane half of a session: captured chunks go in, and
// close ends the session at the relay.
type chunkSink interface {
	sendChunk(p []byte) error
	close() error
}

// relayClient is the concrete relayControl over HTTP and websocket.
type relayClient struct {
	baseURL string // e.g. http://relay.example.com:8080
	secret  []byte
	client  *http.Client
}

func newRelayClient(baseURL string, secret []byte) *relayClient {
	return &relayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// token signs a fresh control token with the shared key.
func (c *relayClient) token() (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenLifetime)),
	})
	str, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("could not sign control token: %w", err)
	}
	return str, nil
}

// controlBody is the body of control-plane requests, matching what the
// relay's control handler unmarshals.
type controlBody struct {
	ID     string `json:"id"`
	Egress string `json:"egress,omitempty"`
}

// controlReq performs one control-plane request with bearer auth.
func (c *relayClient) controlReq(ctx context.Context, method string, body controlBody) error {
	tok, err := c.token()
	if err != nil {
		return err
	}

	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("could not marshal control body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/control", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("could not create control request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not perform control request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("control request rejected with status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// register maps the session to its egress target at the relay.
func (c *relayClient) register(ctx context.Context, id, egress string) error {
	return c.controlReq(ctx, http.MethodPut, controlBody{ID: id, Egress: egress})
}

// deregister tears the session down at the relay. Idempotent.
func (c *relayClient) deregister(ctx context.Context, id string) error {
	return c.controlReq(ctx, http.MethodDelete, controlBody{ID: id})
}

// dialIngest opens the session's data-plane connection.
func (c *relayClient) dialIngest(ctx context.Context, id string) (chunkSink, error) {
	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ingest?id=" + id
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not dial ingest: %w", err)
	}
	return &wsSink{conn: conn}, nil
}

// wsSink adapts a websocket connection to the chunkSink interface. The
// mutex serialises writes; the connection permits only one writer at a
// time, and close may race the capture pump's last chunk.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) sendChunk(p []byte) error {
	s.mu.Lock()
	err := s.conn.WriteMessage(websocket.BinaryMessage, p)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("could not send chunk: %w", err)
	}
	return nil
}

func (s *wsSink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
