// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config loads the node's configuration from the command line and
// an optional INI-style configuration file: data/network selection, peer
// and RPC listeners, database tuning, plus the ambient options (logging
// level, RPC credentials, SOCKS proxy) every deployment ends up needing.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	flags "github.com/jessevdk/go-flags"

	"github.com/btcnode/node/chaincfg"
)

const (
	defaultConfigFilename = "btcnoded.conf"
	defaultDataDirname    = ".btcnoded"
	defaultLogFilename    = "debug.log"
	defaultDebugLevel     = "info"
	defaultMaxConnections = 125
	defaultDbCacheMiB     = 300
	defaultRPCListen      = "127.0.0.1"
)

// Config holds the parsed and normalized node configuration. The struct
// tags drive go-flags; the unexported fields at the bottom are derived
// during Load and exposed through methods.
type Config struct {
	ShowVersion    bool     `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile     string   `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir        string   `short:"b" long:"datadir" description:"Directory to store data"`
	Network        string   `long:"network" description:"Network to run on (main, test, regtest, signet, simnet)" default:"main"`
	Listeners      []string `long:"listen" description:"Add an interface/port to listen for connections (default all interfaces, network default port)"`
	ConnectPeers   []string `long:"connect" description:"Connect only to the specified peers at startup"`
	AddPeers       []string `long:"addnode" description:"Add a peer to connect with at startup"`
	MaxConnections uint32   `long:"maxconnections" description:"Maximum number of peer connections"`
	DbCache        uint64   `long:"dbcache" description:"Database cache size in MiB"`
	Reindex        bool     `long:"reindex" description:"Rebuild the chain state from the block files on disk"`
	Prune          uint64   `long:"prune" description:"Prune block storage to the given target in MiB (0 disables pruning)"`
	DebugLevel     string   `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} or subsystem=level pairs separated by commas"`
	RPCUser        string   `short:"u" long:"rpcuser" description:"Username for RPC connections"`
	RPCPass        string   `short:"P" long:"rpcpass" default-mask:"-" description:"Password for RPC connections"`
	RPCListeners   []string `long:"rpclisten" description:"Add an interface/port to listen for RPC connections (default loopback only)"`
	DisableRPC     bool     `long:"norpc" description:"Disable the RPC server"`
	Proxy          string   `long:"proxy" description:"Connect via SOCKS5 proxy (host:port)"`
	ProxyUser      string   `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass      string   `long:"proxypass" default-mask:"-" description:"Password for proxy server"`

	params *chaincfg.Params
}

// ChainParams returns the network parameter set selected by --network.
func (c *Config) ChainParams() *chaincfg.Params { return c.params }

// LogDir returns the directory debug.log is written under.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, c.params.Name)
}

// LogFile returns the full path of the rotating debug log.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir(), defaultLogFilename)
}

// BlockDBPath returns the directory the block database lives under,
// namespaced per network so switching --network never mixes chains.
func (c *Config) BlockDBPath() string {
	return filepath.Join(c.DataDir, c.params.Name, "blocks_ffldb")
}

// defaultHomeDir resolves the base data directory from HOME, the only
// environment variable the node honors.
func defaultHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, defaultDataDirname)
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, defaultDataDirname)
	}
	return defaultDataDirname
}

// paramsForNetwork maps the --network flag values onto the parameter sets
// chaincfg defines.
func paramsForNetwork(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case "main", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "test", "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest", "regressiontest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	}
	return nil, fmt.Errorf("unknown network %q", network)
}

// normalizeAddresses adds the default port to any entry missing one and
// removes duplicates.
func normalizeAddresses(addrs []string, defaultPort string) []string {
	seen := make(map[string]struct{}, len(addrs))
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, defaultPort)
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		result = append(result, addr)
	}
	return result
}

// Load parses the given command-line arguments (not including the program
// name) and the configuration file into a normalized Config. Precedence is
// command line over configuration file over defaults, the usual go-flags
// arrangement.
func Load(args []string) (*Config, error) {
	cfg := Config{
		DataDir:        defaultHomeDir(),
		DebugLevel:     defaultDebugLevel,
		MaxConnections: defaultMaxConnections,
		DbCache:        defaultDbCacheMiB,
	}

	// A first pass picks up --configfile/--datadir/--network so the
	// config file can be located before the real parse.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}

	parser := flags.NewParser(&cfg, flags.Default)
	configFile := preCfg.ConfigFile
	if configFile == "" {
		configFile = filepath.Join(preCfg.DataDir, defaultConfigFilename)
	}
	if fileExists(configFile) {
		if err := flags.NewIniParser(parser).ParseFile(configFile); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configFile, err)
		}
	} else if preCfg.ConfigFile != "" {
		return nil, fmt.Errorf("config file %s does not exist", preCfg.ConfigFile)
	}

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	params, err := paramsForNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}
	cfg.params = params

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)

	// --connect implies not listening: a node pinned to explicit peers is
	// not meant to accept strangers.
	if len(cfg.ConnectPeers) > 0 && len(cfg.Listeners) == 0 {
		cfg.Listeners = nil
	} else if len(cfg.Listeners) == 0 {
		cfg.Listeners = []string{net.JoinHostPort("", params.DefaultPort)}
	}

	cfg.Listeners = normalizeAddresses(cfg.Listeners, params.DefaultPort)
	cfg.ConnectPeers = normalizeAddresses(cfg.ConnectPeers, params.DefaultPort)
	cfg.AddPeers = normalizeAddresses(cfg.AddPeers, params.DefaultPort)

	rpcPort := rpcPortForNetwork(params)
	if len(cfg.RPCListeners) == 0 {
		cfg.RPCListeners = []string{net.JoinHostPort(defaultRPCListen, rpcPort)}
	}
	cfg.RPCListeners = normalizeAddresses(cfg.RPCListeners, rpcPort)

	// RPC is authenticated; without credentials the server stays off
	// rather than open.
	if cfg.RPCUser == "" || cfg.RPCPass == "" {
		cfg.DisableRPC = true
	}

	if cfg.Prune != 0 && cfg.Prune < 550 {
		return nil, fmt.Errorf("--prune target %d MiB is below the 550 MiB minimum", cfg.Prune)
	}

	return &cfg, nil
}

// rpcPortForNetwork returns the conventional JSON-RPC port for each
// network; chaincfg only carries the P2P port, so the RPC convention lives
// with the rest of the configuration defaults.
func rpcPortForNetwork(params *chaincfg.Params) string {
	switch params.Net {
	case chaincfg.TestNet3Params.Net:
		return "18332"
	case chaincfg.RegressionNetParams.Net:
		return "18443"
	case chaincfg.SigNetParams.Net:
		return "38332"
	case chaincfg.SimNetParams.Net:
		return "18556"
	default:
		return "8332"
	}
}

// IsUsageError reports whether err is go-flags printing usage (e.g. -h),
// which callers treat as a clean exit rather than a configuration error.
func IsUsageError(err error) bool {
	var ferr *flags.Error
	if errors.As(err, &ferr) {
		return ferr.Type == flags.ErrHelp
	}
	return false
}

func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		return false
	}
	return true
}

// cleanAndExpandPath expands a leading ~ to the home directory and
// normalizes the result.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil && home != "" {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}
