/*
DESCRIPTION
  agent is the capture-device side of stagecast. It consumes the motion
  classifier's start/stop triggers on a loopback endpoint, runs broadcast
  attempts against the remote platform, feeds captured video to the relay,
  and drives the visible broadcasting indicator.

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
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/danyelajunebrown/stagecast/broadcast"
	"github.com/danyelajunebrown/stagecast/notify"
	"github.com/danyelajunebrown/stagecast/utils"
)

// This is the path to the agent configuration.
const configFileName = "/etc/stagecast/agent.json"

// The trigger endpoint listens on loopback only; the motion classifier
// runs on the same host.
const defaultTriggerAddr = "127.0.0.1:8081"

// Logging configuration.
const (
	logPath      = "/var/log/stagecast/agent.log"
	logMaxSize   = 200 // MB
	logMaxBackup = 5
	logMaxAge    = 28 // days
	logSuppress  = true
)

var loggingLevel = logging.Info

// Notification configuration.
const (
	notifyStorePath = "/var/lib/stagecast/agent-notify.json"
	notifyPeriod    = time.Hour
)

// agentConfig is the agent configuration file contents.
type agentConfig struct {
	LogLevel         string   `json:"LogLevel"`
	LogSuppress      bool     `json:"LogSuppress"`
	LogCallerFilters []string `json:"LogCallerFilters"`

	RelayURL       string   `json:"RelayURL"`
	CaptureCommand string   `json:"CaptureCommand"`
	CaptureArgs    []string `json:"CaptureArgs"`
	IndicatorPath  string   `json:"IndicatorPath"`
	WindowOpen     string   `json:"WindowOpen"`  // Cron expression, optional.
	WindowClose    string   `json:"WindowClose"` // Cron expression, optional.

	Title       string `json:"Title"`
	Description string `json:"Description"`
	StreamName  string `json:"StreamName"`
	Privacy     string `json:"Privacy"`
	Resolution  string `json:"Resolution"`

	AutoWait     string `json:"AutoWait"`     // Durations, e.g. "10s".
	PollInterval string `json:"PollInterval"`
	ConfirmWait  string `json:"ConfirmWait"`
	IngestWait   string `json:"IngestWait"`
}

func loadConfig(log logging.Logger) (agentConfig, error) {
	var cfg agentConfig
	data, err := os.ReadFile(configFileName)
	if err != nil {
		return cfg, fmt.Errorf("could not read config file: %w", err)
	}
	if err = json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("could not unmarshal config file: %w", err)
	}

	log.(*logging.JSONLogger).SetLevel(map[string]int8{
		"debug":   logging.Debug,
		"info":    logging.Info,
		"warning": logging.Warning,
		"error":   logging.Error,
		"fatal":   logging.Fatal,
	}[cfg.LogLevel])
	log.(*logging.JSONLogger).SetSuppress(cfg.LogSuppress)
	log.(*logging.JSONLogger).SetCallerFilters(cfg.LogCallerFilters...)

	return cfg, nil
}

// monitorConfigFromFile parses the monitor durations from the config,
// falling back to the defaults for anything unset or malformed.
func monitorConfigFromFile(cfg agentConfig, log logging.Logger) monitorConfig {
	parse := func(name, s string, set *bool) time.Duration {
		if s == "" {
			return 0
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			log.Warning("could not parse duration, using default", "name", name, "value", s)
			return 0
		}
		if set != nil {
			*set = true
		}
		return d
	}
	var mc monitorConfig
	mc.AutoWait = parse("AutoWait", cfg.AutoWait, &mc.AutoWaitSet)
	mc.PollInterval = parse("PollInterval", cfg.PollInterval, nil)
	mc.ConfirmWait = parse("ConfirmWait", cfg.ConfirmWait, nil)
	mc.IngestWait = parse("IngestWait", cfg.IngestWait, nil)
	return mc
}

// newNotifier builds the ops notifier from the environment. Returns nil if
// no recipient is configured, in which case failures are logged only.
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
		log.Warning("could not create notifier, failures will be logged only", "error", err)
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

// triggerHandler publishes an event on each POST to a trigger endpoint.
func triggerHandler(bus eventBus, e event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		bus.publish(e)
		fmt.Fprint(w, `{}`)
	}
}

func main() {
	triggerAddr := flag.String("trigger-addr", defaultTriggerAddr, "Loopback address for the trigger endpoint.")
	flag.Parse()

	err := godotenv.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "no .env loaded: %v\n", err)
	}

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(loggingLevel, io.MultiWriter(fileLog, os.Stdout), logSuppress)

	cfg, err := loadConfig(log)
	if err != nil {
		log.Fatal("could not load config", "error", err)
	}
	if cfg.RelayURL == "" {
		log.Fatal("RelayURL must be configured")
	}
	if cfg.CaptureCommand == "" {
		log.Fatal("CaptureCommand must be configured")
	}

	secret := os.Getenv("STAGECAST_RELAY_SECRET")
	if secret == "" {
		log.Fatal("STAGECAST_RELAY_SECRET must be set for the relay control plane")
	}

	var indicator Indicator
	if cfg.IndicatorPath != "" {
		indicator = newFileIndicator(cfg.IndicatorPath)
	} else {
		indicator = &logIndicator{log: log}
	}

	svc := broadcast.NewYouTubeService(log.Info)
	monitor := newLifecycleMonitor(svc, log, monitorConfigFromFile(cfg, log))
	relay := newRelayClient(cfg.RelayURL, []byte(secret))
	capture := captureStarter(cfg.CaptureCommand, cfg.CaptureArgs, log)
	details := broadcast.Details{
		Title:       cfg.Title,
		Description: cfg.Description,
		StreamName:  cfg.StreamName,
		Privacy:     cfg.Privacy,
		Resolution:  cfg.Resolution,
		Start:       time.Now(),
	}

	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()
	bus := newBasicEventBus(busCtx, log.Debug)
	controller := newTriggerController(bus, monitor, relay, capture, indicator, details, log, newNotifier(log))
	bus.subscribe(controller.handleEvent)

	if cfg.WindowOpen != "" && cfg.WindowClose != "" {
		sched, err := newSchedule(cfg.WindowOpen, cfg.WindowClose, controller)
		if err != nil {
			log.Fatal("could not create schedule", "error", err)
		}
		defer sched.stop()
	}

	// Make sure the indicator starts dark.
	err = indicator.Set(false)
	if err != nil {
		log.Warning("could not clear indicator at startup", "error", err)
	}

	mux := utils.NewRecoverableServeMux(func(w http.ResponseWriter, rec any) bool {
		log.Error("panicked in handler!", "error", fmt.Sprint(rec))
		w.WriteHeader(http.StatusInternalServerError)
		return true
	})
	mux.HandleFunc("/trigger/start", triggerHandler(bus, startEvent{}))
	mux.HandleFunc("/trigger/stop", triggerHandler(bus, stopEvent{}))

	log.Info("listening for triggers", "addr", *triggerAddr)
	err = http.ListenAndServe(*triggerAddr, mux)
	log.Fatal("trigger listener exited", "error", err)
}
