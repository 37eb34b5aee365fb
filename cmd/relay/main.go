/*
DESCRIPTION
  relay is a service for receiving video from capture devices over
  websocket and forwarding it to a remote broadcast ingest. By acting as
  the RTMP encoder (instead of the capture device) the relay can copy the
  video track, add the silent audio track the remote ingest requires, and
  keep devices on low-power links off the RTMP path.

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
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/danyelajunebrown/stagecast/cmd/relay/global"
	"github.com/danyelajunebrown/stagecast/notify"
	"github.com/danyelajunebrown/stagecast/utils"
)

// This is the path to the relay configuration. This contains parameters
// such as log level and logging filters.
const configFileName = "/etc/stagecast/relay.json"

// Server defaults.
const (
	defaultPort = "8080"
	defaultHost = "0.0.0.0"
)

// Logging configuration.
const (
	logPath      = "/var/log/stagecast/relay.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logSuppress  = true
)

// Notification configuration.
const (
	notifyStorePath = "/var/lib/stagecast/notify.json"
	notifyPeriod    = time.Hour
)

// loadConfig loads the relay configuration file. This primarily concerns
// logging configuration, with the intended use case of debugging.
func (r *registry) loadConfig() error {
	r.log.Info("loading logger config file")
	data, err := os.ReadFile(configFileName)
	if err != nil {
		return fmt.Errorf("could not read config file: %w", err)
	}

	var cfg struct {
		LogLevel         string   `json:"LogLevel"`
		LogSuppress      bool     `json:"LogSuppress"`
		LogCallerFilters []string `json:"LogCallerFilters"`
	}

	if err = json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("could not unmarshal config file: %w", err)
	}

	r.log.Debug("logger config loaded", "cfg", cfg)
	r.log.(*logging.JSONLogger).SetLevel(map[string]int8{
		"debug":   logging.Debug,
		"info":    logging.Info,
		"warning": logging.Warning,
		"error":   logging.Error,
		"fatal":   logging.Fatal,
	}[cfg.LogLevel])
	r.log.(*logging.JSONLogger).SetSuppress(cfg.LogSuppress)
	r.log.(*logging.JSONLogger).SetCallerFilters(cfg.LogCallerFilters...)

	return nil
}

// This is a callback that can be used by file watchers to reload the config.
func (r *registry) onConfigChange() {
	err := r.loadConfig()
	if err != nil {
		r.log.Error("could not load config", "error", err)
	}
}

// newNotifier builds the ops notifier from the environment. Returns nil if
// no recipient is configured, in which case faults are logged only.
func newNotifier(log logging.Logger) func(kind notify.Kind, msg string) {
	recipient := os.Getenv("STAGECAST_NOTIFY_RECIPIENT")
	if recipient == "" {
		return nil
	}

	opts := []notify.Option{
		notify.WithSender(os.Getenv("STAGECAST_NOTIFY_SENDER")),
		notify.WithRecipient(recipient),
		notify.WithStore(notify.NewFileStore(notifyStorePath, notifyPeriod)),
	}
	pk, sk := os.Getenv("MAILJET_PUBLIC_KEY"), os.Getenv("MAILJET_PRIVATE_KEY")
	if pk != "" && sk != "" {
		opts = append(opts, notify.WithSecrets(map[string]string{
			"mailjetPublicKey":  pk,
			"mailjetPrivateKey": sk,
		}))
	}

	n, err := notify.NewMailjetNotifier(opts...)
	if err != nil {
		log.Warning("could not create notifier, faults will be logged only", "error", err)
		return nil
	}
	return func(kind notify.Kind, msg string) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := n.Send(ctx, kind, msg)
		if err != nil {
			log.Error("could not send notification", "kind", kind, "error", err)
		}
	}
}

func main() {
	host := flag.String("host", defaultHost, "Host IP to run relay on.")
	port := flag.String("port", defaultPort, "Port to run relay on.")
	flag.Parse()

	err := godotenv.Load()
	if err != nil {
		// A .env file is optional; the environment may be set by systemd.
		fmt.Fprintf(os.Stderr, "no .env loaded: %v\n", err)
	}

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(loggingLevel, io.MultiWriter(fileLog, os.Stdout), logSuppress)

	global.SetLogger(log)

	secret := os.Getenv("STAGECAST_RELAY_SECRET")
	if secret == "" {
		log.Fatal("STAGECAST_RELAY_SECRET must be set for the control plane")
	}

	r, err := newRegistry(log, newNotifier(log))
	if err != nil {
		log.Fatal("could not create registry", "error", err)
	}

	// Try to load any previous state. There may be a previous state if the
	// watchdog did a process restart.
	err = r.load()
	if err != nil {
		log.Warning("could not load previous state", "error", err)
	}

	// Try to load the config file, and watch it so that configuration
	// updates apply while the service is running.
	err = r.loadConfig()
	if err != nil {
		log.Warning("could not load config file", "error", err)
	}
	err = watchFile(configFileName, r.onConfigChange, log)
	if err != nil {
		log.Warning("could not watch config file", "error", err)
	}

	api := &controlAPI{reg: r, secret: []byte(secret)}

	mux := utils.NewRecoverableServeMux(func(w http.ResponseWriter, rec any) bool {
		log.Error("panicked in handler!", "error", fmt.Sprint(rec))
		w.WriteHeader(http.StatusInternalServerError)
		return true
	})
	mux.HandleFunc("/ingest", r.ingest)
	mux.HandleFunc("/control", api.control)
	mux.HandleFunc("/health", r.health)

	var g errgroup.Group
	g.Go(func() error {
		log.Info("listening", "host", *host, "port", *port)
		return http.ListenAndServe(*host+":"+*port, mux)
	})
	g.Go(func() error {
		r.dogNotifier.notify()
		return nil
	})

	err = g.Wait()
	if err != nil {
		log.Fatal("server exited", "error", err)
	}
}
