// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcnode/node/config"
	"github.com/btcnode/node/logger"
	"github.com/btcnode/node/node"
)

// Exit codes: 0 normal, 1 config error, 2 data corruption requiring
// reindex, 3 fatal runtime.
const (
	exitOK         = 0
	exitConfig     = 1
	exitCorruption = 2
	exitFatal      = 3
)

const version = "0.1.0"

func main() {
	os.Exit(realMain())
}

// realMain exists so deferred cleanup runs before the process exit code is
// chosen; os.Exit in main would skip defers.
func realMain() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if config.IsUsageError(err) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "btcnoded: %v\n", err)
		return exitConfig
	}
	if cfg.ShowVersion {
		fmt.Printf("btcnoded version %s\n", version)
		return exitOK
	}

	if err := logger.InitLogRotator(cfg.LogFile()); err != nil {
		fmt.Fprintf(os.Stderr, "btcnoded: %v\n", err)
		return exitConfig
	}
	defer logger.Close()

	if err := logger.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		fmt.Fprintf(os.Stderr, "btcnoded: %v\n", err)
		return exitConfig
	}
	logger.UseNodeLogger()

	log := logger.Main()
	log.Infof("btcnoded version %s starting", version)

	n := node.New(cfg)
	if err := n.Open(); err != nil {
		if errors.Is(err, node.ErrCorruption) {
			log.Criticalf("%v", err)
			return exitCorruption
		}
		log.Criticalf("failed to open node: %v", err)
		return exitFatal
	}
	defer n.Close()

	// A signal or the RPC stop method requests shutdown; either way the
	// reactor is woken out of Start and the node unwinds cleanly.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-interrupt:
			log.Infof("received signal %v, shutting down", sig)
		case <-n.ShutdownRequested():
			log.Info("shutdown requested via RPC")
		}
		n.Stop()
	}()

	if err := n.Start(); err != nil {
		log.Criticalf("failed to start node: %v", err)
		return exitFatal
	}

	return exitOK
}
