/*
DESCRIPTION
  control.go provides the relay control plane. There is a basic REST API
  through which the agent can register and tear down sessions, authorised
  with HS256 bearer tokens, and an unauthenticated health endpoint.

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
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer is the issuer claim the agent puts in its control tokens.
const tokenIssuer = "stagecast-agent"

// controlRequest is the body of control API requests.
type controlRequest struct {
	ID     string `json:"id"`
	Egress string `json:"egress,omitempty"`
}

// controlAPI carries the control-plane handlers and the shared token key.
type controlAPI struct {
	reg    *registry
	secret []byte
}

// control handles control API requests. PUT registers or replaces a
// session, DELETE tears one down.
func (c *controlAPI) control(w http.ResponseWriter, r *http.Request) {
	reg := c.reg
	done := reg.dogNotifier.handlerInvoked("control")
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("panicked in control request!", "error", fmt.Sprint(rec), "stack", string(debug.Stack()))
		}
		done()
	}()

	if !c.authorised(r) {
		reg.errorLogWrite(w, http.StatusUnauthorized, "unauthorised")
		return
	}

	reg.log.Info("control request", "method", r.Method)
	switch r.Method {
	case http.MethodPut:
		c.processRequest(w, r, func(cr controlRequest) error {
			return reg.register(cr.ID, cr.Egress)
		})
	case http.MethodDelete:
		c.processRequest(w, r, func(cr controlRequest) error {
			reg.teardown(cr.ID)
			return nil
		})
	default:
		reg.errorLogWrite(w, http.StatusMethodNotAllowed, "unhandled http method", "method", r.Method)
	}
	reg.log.Info("finished handling control request")
}

// processRequest unmarshals the control request body and performs the
// provided action with it, saving the registry state on success.
func (c *controlAPI) processRequest(w http.ResponseWriter, r *http.Request, action func(controlRequest) error) {
	reg := c.reg
	body, err := io.ReadAll(r.Body)
	if err != nil {
		reg.errorLogWrite(w, http.StatusBadRequest, "could not read request body", "error", err)
		return
	}
	defer r.Body.Close()

	var cr controlRequest
	err = json.Unmarshal(body, &cr)
	if err != nil {
		reg.errorLogWrite(w, http.StatusBadRequest, "could not unmarshal request body", "error", err)
		return
	}

	err = action(cr)
	if err != nil {
		reg.errorLogWrite(w, http.StatusBadRequest, "could not perform action", "method", r.Method, "error", err)
		return
	}

	err = reg.save()
	if err != nil {
		reg.log.Error("could not save registry state", "error", err)
	}
	fmt.Fprint(w, `{}`)
}

// authorised verifies the bearer token on a control request. The token must
// be HS256 signed with the shared key and carry the agent issuer claim.
func (c *controlAPI) authorised(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	tokStr, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	_, err := jwt.Parse(tokStr,
		func(t *jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		c.reg.log.Warning("control token rejected", "error", err)
		return false
	}
	return true
}

// health reports service health and the number of registered sessions.
// It is unauthenticated so that load balancers and the watchdog can use it.
func (r *registry) health(w http.ResponseWriter, req *http.Request) {
	done := r.dogNotifier.handlerInvoked("health")
	defer done()

	if req.Method != http.MethodGet {
		r.errorLogWrite(w, http.StatusMethodNotAllowed, "unhandled http method", "method", req.Method)
		return
	}

	jsn, err := json.Marshal(map[string]interface{}{
		"status":         "ok",
		"activeSessions": r.activeSessions(),
	})
	if err != nil {
		r.errorLogWrite(w, http.StatusInternalServerError, "could not marshal health response", "error", err)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	fmt.Fprint(w, string(jsn))
}
