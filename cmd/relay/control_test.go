/*
DESCRIPTION
  control_test.go provides testing for the control plane handlers and
  their bearer token authorisation.

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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-control-secret")

func newControlForTest(t *testing.T) (*controlAPI, *forwarderRecorder) {
	t.Chdir(t.TempDir()) // Keep state.json saves out of the package dir.
	r, rec := newRegistryForTest(t, nil)
	return &controlAPI{reg: r, secret: testSecret}, rec
}

func signedToken(t *testing.T, issuer string, key []byte) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	str, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("could not sign token: %v", err)
	}
	return str
}

func controlReq(t *testing.T, c *controlAPI, method, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/control", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	c.control(w, req)
	return w
}

func TestControlRegister(t *testing.T) {
	c, rec := newControlForTest(t)

	tok := signedToken(t, tokenIssuer, testSecret)
	w := controlReq(t, c, http.MethodPut, `{"id":"`+testSession+`","egress":"`+testEgress+`"}`, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if !c.reg.isRegistered(testSession) {
		t.Error("session should be registered after PUT")
	}
	if rec.count() != 0 {
		t.Errorf("register must not spawn a worker, got %d", rec.count())
	}
}

func TestControlMissingEgress(t *testing.T) {
	c, _ := newControlForTest(t)

	tok := signedToken(t, tokenIssuer, testSecret)
	w := controlReq(t, c, http.MethodPut, `{"id":"`+testSession+`"}`, tok)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if c.reg.isRegistered(testSession) {
		t.Error("session should not be registered without an egress target")
	}
}

func TestControlDeleteIdempotent(t *testing.T) {
	c, _ := newControlForTest(t)

	tok := signedToken(t, tokenIssuer, testSecret)
	w := controlReq(t, c, http.MethodPut, `{"id":"`+testSession+`","egress":"`+testEgress+`"}`, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	for i := 0; i < 2; i++ {
		w = controlReq(t, c, http.MethodDelete, `{"id":"`+testSession+`"}`, tok)
		if w.Code != http.StatusOK {
			t.Errorf("expected status 200 on delete %d, got %d", i, w.Code)
		}
	}
	if c.reg.isRegistered(testSession) {
		t.Error("session should be unregistered after DELETE")
	}
}

func TestControlAuth(t *testing.T) {
	c, _ := newControlForTest(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "no token", token: ""},
		{name: "wrong key", token: signedToken(t, tokenIssuer, []byte("wrong-key"))},
		{name: "wrong issuer", token: signedToken(t, "someone-else", testSecret)},
	}

	for _, test := range tests {
		w := controlReq(t, c, http.MethodPut, `{"id":"`+testSession+`","egress":"`+testEgress+`"}`, test.token)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected status 401, got %d", test.name, w.Code)
		}
	}
	if c.reg.isRegistered(testSession) {
		t.Error("unauthorised request must not register a session")
	}
}

func TestHealth(t *testing.T) {
	c, _ := newControlForTest(t)

	tok := signedToken(t, tokenIssuer, testSecret)
	w := controlReq(t, c, http.MethodPut, `{"id":"`+testSession+`","egress":"`+testEgress+`"}`, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c.reg.health(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var got struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"activeSessions"`
	}
	err := json.Unmarshal(rec.Body.Bytes(), &got)
	if err != nil {
		t.Fatalf("could not unmarshal health response: %v", err)
	}
	if got.Status != "ok" {
		t.Errorf("expected status ok, got %s", got.Status)
	}
	if got.ActiveSessions != 1 {
		t.Errorf("expected 1 active session, got %d", got.ActiveSessions)
	}
}
