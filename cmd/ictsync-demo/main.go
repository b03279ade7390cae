// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// ictsync-demo runs either the broadcast hub every participant relays
// through (-hub) or one sync participant configured from a TOML file.
// A participant publishes one item per line read from stdin and logs
// every update it learns from its peers.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/pelletier/go-toml"

	"github.com/WU-ARL/ICTSync/core"
	"github.com/WU-ARL/ICTSync/facewire"
	"github.com/WU-ARL/ICTSync/keychain"
	"github.com/WU-ARL/ICTSync/ndn"
	"github.com/WU-ARL/ICTSync/persist"
	"github.com/WU-ARL/ICTSync/status"
	"github.com/WU-ARL/ICTSync/sync"
)

type config struct {
	LogLevel    string `toml:"log_level"`
	Participant struct {
		DataPrefix             string `toml:"data_prefix"`
		SessionID              uint32 `toml:"session_id"`
		BroadcastPrefix        string `toml:"broadcast_prefix"`
		SyncLifetimeMs         int64  `toml:"sync_lifetime_ms"`
		PreviousSequenceNumber int64  `toml:"previous_sequence_number"`
		IsDiscovery            bool   `toml:"is_discovery"`
		NoData                 bool   `toml:"no_data"`
		SyncUpdateIntervalMs   int64  `toml:"sync_update_interval_ms"`
	} `toml:"participant"`
	Face struct {
		WebsocketURL string `toml:"websocket_url"`
	} `toml:"face"`
	Persist struct {
		Path string `toml:"path"`
	} `toml:"persist"`
	Status struct {
		Listen string `toml:"listen"`
	} `toml:"status"`
}

func loadConfig(path string) (*config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &config{}
	cfg.LogLevel = "info"
	cfg.Participant.SyncLifetimeMs = 4000
	cfg.Participant.PreviousSequenceNumber = -1
	cfg.Face.WebsocketURL = "ws://127.0.0.1:9696/"
	if err := tree.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	var configFile string
	var runHub bool
	var hubListen string
	flag.StringVar(&configFile, "config", "ictsync.toml", "participant configuration file")
	flag.BoolVar(&runHub, "hub", false, "run the broadcast hub instead of a participant")
	flag.StringVar(&hubListen, "listen", ":9696", "hub listen address (with -hub)")
	flag.Parse()

	if runHub {
		core.SetupLogging("info")
		log.WithField("addr", hubListen).Info("hub listening")
		if err := http.ListenAndServe(hubListen, facewire.NewHub()); err != nil {
			log.WithError(err).Fatal("hub exited")
		}
		return
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load %s: %v\n", configFile, err)
		os.Exit(1)
	}
	core.SetupLogging(cfg.LogLevel)
	logger := core.WithModule("demo")

	var store *persist.Store
	if cfg.Persist.Path != "" {
		store, err = persist.Open(cfg.Persist.Path)
		if err != nil {
			logger.WithError(err).Fatal("cannot open sequence journal")
		}
		defer store.Close()
	}

	face, err := facewire.Dial(cfg.Face.WebsocketURL)
	if err != nil {
		logger.WithError(err).Fatal("cannot reach hub")
	}
	defer face.Close()

	registry := status.NewRegistry()

	engineCfg := sync.Config{
		OwnDataPrefix:          cfg.Participant.DataPrefix,
		OwnSessionID:           cfg.Participant.SessionID,
		BroadcastPrefix:        ndn.NameFromURI(cfg.Participant.BroadcastPrefix),
		Face:                   face,
		KeyChain:               keychain.NewDigest(),
		SyncLifetime:           time.Duration(cfg.Participant.SyncLifetimeMs) * time.Millisecond,
		PreviousSequenceNumber: cfg.Participant.PreviousSequenceNumber,
		IsDiscovery:            cfg.Participant.IsDiscovery,
		NoData:                 cfg.Participant.NoData,
		UpdateInterval:         time.Duration(cfg.Participant.SyncUpdateIntervalMs) * time.Millisecond,
		StatusRegistry:         registry,
		OnInitialized: func() {
			logger.Info("bootstrap complete")
		},
		OnReceivedSyncState: func(updates []sync.SyncState, isRecovery bool) {
			for _, u := range updates {
				logger.WithFields(log.Fields{
					"prefix":  u.DataPrefix,
					"session": u.SessionID,
					"seq":     u.SequenceNo,
				}).Info("peer update")
			}
		},
		OnRegisterFailed: func(prefix ndn.Name, reason string) {
			logger.WithField("reason", reason).Error("registration failed")
		},
	}
	if store != nil {
		engineCfg.PersistentStore = store
	}

	engine, err := sync.New(engineCfg)
	if err != nil {
		logger.WithError(err).Fatal("cannot construct engine")
	}

	started := make(chan error, 1)
	face.Post(func() { started <- engine.Start() })
	if err := <-started; err != nil {
		logger.WithError(err).Fatal("cannot start engine")
	}

	if cfg.Status.Listen != "" {
		go serveStatus(cfg.Status.Listen, registry, cfg.Participant.DataPrefix, logger)
	}

	go publishFromStdin(face, engine, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	stopped := make(chan struct{})
	face.Post(func() {
		engine.Shutdown()
		close(stopped)
	})
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
	}
}

// publishFromStdin treats each stdin line as one published item; the
// line itself rides along as the update's application info.
func publishFromStdin(face *facewire.Face, engine *sync.Engine, logger *log.Entry) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		face.Post(func() {
			if err := engine.Publish(line); err != nil {
				logger.WithError(err).Warn("publish failed")
			}
		})
	}
}

// serveStatus exposes the participant's latest table snapshot as JSON.
// Snapshots are immutable, so this reads safely from any goroutine.
func serveStatus(addr string, registry *status.Registry, instance string, logger *log.Entry) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := registry.Get(instance)
		if !ok {
			http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
	logger.WithField("addr", addr).Info("status endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Error("status endpoint exited")
	}
}
