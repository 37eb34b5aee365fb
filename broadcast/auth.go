/*
DESCRIPTION
  auth.go provides the glue to the credential flow that authorises control
  of the platform account. Obtaining the initial consent is out of scope
  here; this file only loads the client secrets and token files that flow
  produces, and writes refreshed tokens back.

AUTHORS
  Danyela June Brown

LICENSE
  Copyright (C) 2025 Danyela June Brown

  This file is part of stagecast. Stagecast is free software: you can
  redistribute it and/or modify it under the terms of the GNU
  General Public License as published by the Free Software
  Foundation, either version 3 of the License, or (at your option)
  any later version.

  Stagecast is distributed in the hope that it will be useful,
  but WITHOUT ANY WARRANTY; without even the implied warranty of
  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
  GNU General Public License for more details.

  You should have received a copy of the GNU General Public License
  in gpl.txt. If not, see <http://www.gnu.org/licenses/>.
*/

package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// Environment variables naming the credential files. The secrets file is
// the OAuth client configuration; the token file holds the user token the
// consent flow produced.
const (
	secretsEnvVar = "STAGECAST_YOUTUBE_SECRETS"
	tokenEnvVar   = "STAGECAST_YOUTUBE_TOKEN"
)

// getService returns an authorised and configured youtube service for use
// by the YouTube API. The token file is rewritten in case the client
// refreshed the token during construction.
func getService(ctx context.Context) (*youtube.Service, error) {
	tok, err := fileTok()
	if err != nil {
		return nil, fmt.Errorf("could not get credentials token: %w", err)
	}

	cfg, err := googleConfig()
	if err != nil {
		return nil, fmt.Errorf("could not get google config: %w", err)
	}

	src := cfg.TokenSource(ctx, tok)
	s, err := youtube.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("could not create youtube service: %w", err)
	}

	cur, err := src.Token()
	if err == nil && cur.AccessToken != tok.AccessToken {
		err = saveTokFile(cur)
		if err != nil {
			return nil, fmt.Errorf("could not save refreshed token: %w", err)
		}
	}

	return s, nil
}

// googleConfig creates an oauth2.Config from the client secrets file.
func googleConfig() (*oauth2.Config, error) {
	path := os.Getenv(secretsEnvVar)
	if path == "" {
		return nil, errors.New(secretsEnvVar + " env var not defined")
	}
	secrets, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read client secrets file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(secrets, youtube.YoutubeScope)
	if err != nil {
		return nil, fmt.Errorf("could not create config from client secrets: %w", err)
	}
	return cfg, nil
}

// fileTok loads the oauth2 token from the token file.
func fileTok() (*oauth2.Token, error) {
	path := os.Getenv(tokenEnvVar)
	if path == "" {
		return nil, errors.New(tokenEnvVar + " env var not defined")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read token file: %w", err)
	}
	var tok oauth2.Token
	err = json.Unmarshal(data, &tok)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal token: %w", err)
	}
	return &tok, nil
}

// saveTokFile writes the token back to the token file.
func saveTokFile(tok *oauth2.Token) error {
	path := os.Getenv(tokenEnvVar)
	if path == "" {
		return errors.New(tokenEnvVar + " env var not defined")
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("could not marshal token: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
