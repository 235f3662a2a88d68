// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logger wires one btclog backend into every subsystem of the
// node: each package exposes a UseLogger hook, this package owns the
// backend, the rotating debug.log file, and the per-subsystem level map
// the --debuglevel flag drives.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/btcnode/node/addrmgr"
	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/database"
	"github.com/btcnode/node/loop"
	"github.com/btcnode/node/mempool"
	netpkg "github.com/btcnode/node/net"
	"github.com/btcnode/node/node"
	"github.com/btcnode/node/pool"
	"github.com/btcnode/node/rpc"
)

// logWriter duplicates all log output to stdout and, once InitLogRotator
// has run, the rotating debug.log.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

var (
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the few cross-goroutine sinks in the node;
	// rotator serializes writes internally.
	logRotator *rotator.Rotator

	adxrLog = backendLog.Logger("ADXR")
	chanLog = backendLog.Logger("CHAN")
	dbasLog = backendLog.Logger("BCDB")
	loopLog = backendLog.Logger("LOOP")
	mempLog = backendLog.Logger("MEMP")
	netwLog = backendLog.Logger("NETW")
	peerLog = backendLog.Logger("PEER")
	rpcsLog = backendLog.Logger("RPCS")
	nodeLog = backendLog.Logger("NODE")
	mainLog = backendLog.Logger("MAIN")
)

// subsystemLoggers maps each subsystem identifier to its logger so
// --debuglevel=subsys=level pairs can address them individually.
var subsystemLoggers = map[string]btclog.Logger{
	"ADXR": adxrLog,
	"CHAN": chanLog,
	"BCDB": dbasLog,
	"LOOP": loopLog,
	"MEMP": mempLog,
	"NETW": netwLog,
	"PEER": peerLog,
	"RPCS": rpcsLog,
	"NODE": nodeLog,
	"MAIN": mainLog,
}

func init() {
	addrmgr.UseLogger(adxrLog)
	blockchain.UseLogger(chanLog)
	loop.UseLogger(loopLog)
	mempool.UseLogger(mempLog)
	netpkg.UseLogger(netwLog)
	pool.UseLogger(peerLog)
	rpc.UseLogger(rpcsLog)
}

// Main returns the logger the main package logs under.
func Main() btclog.Logger { return mainLog }

// UseNodeLogger wires the composition root's subsystem logger; called
// from main after configuration.
func UseNodeLogger() { node.UseLogger(nodeLog) }

// InitLogRotator starts the rotating debug.log at logFile, creating parent
// directories as needed. Must be called before logging output is expected
// on disk; output before this only reaches stdout.
func InitLogRotator(logFile string) error {
	// The database driver registers itself from its own package init, so
	// its logger is wired here, after all package initialization, rather
	// than from this package's init.
	database.UseLogger("ffldb", dbasLog)

	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

// Close flushes and closes the log rotator on clean shutdown.
func Close() {
	if logRotator != nil {
		logRotator.Close()
		logRotator = nil
	}
}

// setLogLevel sets the level of one subsystem logger, ignoring unknown
// subsystem identifiers.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets every subsystem logger to the same level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// validLogLevel reports whether logLevel names a btclog level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// SupportedSubsystems returns a sorted slice of subsystem identifiers for
// use in --debuglevel usage errors.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// ParseAndSetDebugLevels applies a --debuglevel specification: either one
// level applied to everything ("debug") or comma-separated subsystem=level
// pairs ("CHAN=trace,PEER=debug").
func ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%v] is invalid", debugLevel)
		}
		setLogLevels(debugLevel)
		return nil
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%v]", logLevelPair)
		}
		fields := strings.Split(logLevelPair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level has an invalid format [%v]", logLevelPair)
		}
		subsysID, logLevel := fields[0], fields[1]
		if _, exists := subsystemLoggers[subsysID]; !exists {
			return fmt.Errorf("the specified subsystem [%v] is invalid -- supported subsystems %v", subsysID, SupportedSubsystems())
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is invalid", logLevel)
		}
		setLogLevel(subsysID, logLevel)
	}
	return nil
}
