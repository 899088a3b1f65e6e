// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command kv-server runs one kv-server instance: a leader by default, or a
// replica when --replicaof is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/kvserver/internal/config"
	"github.com/nishisan-dev/kvserver/internal/logging"
	"github.com/nishisan-dev/kvserver/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	listen := flag.String("listen", "", "override listen address (host:port)")
	replicaOf := flag.String("replicaof", "", "leader address to replicate from (host:port)")
	logLevel := flag.String("log-level", "", "override logging.level")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kv-server: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *replicaOf != "" {
		cfg.ReplicaOf = *replicaOf
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, logger); err != nil {
		logger.Error("kv-server exited with error", "error", err)
		os.Exit(1)
	}
}
