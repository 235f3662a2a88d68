// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"path/filepath"
	"testing"

	"github.com/btcnode/node/chaincfg"
)

// TestNetworkSelection maps each --network value to its parameter set.
func TestNetworkSelection(t *testing.T) {
	tests := []struct {
		network string
		want    *chaincfg.Params
	}{
		{"main", &chaincfg.MainNetParams},
		{"mainnet", &chaincfg.MainNetParams},
		{"test", &chaincfg.TestNet3Params},
		{"regtest", &chaincfg.RegressionNetParams},
		{"signet", &chaincfg.SigNetParams},
		{"simnet", &chaincfg.SimNetParams},
	}

	for _, test := range tests {
		cfg, err := Load([]string{"--network=" + test.network, "--datadir=" + t.TempDir()})
		if err != nil {
			t.Errorf("network %q: %v", test.network, err)
			continue
		}
		if cfg.ChainParams() != test.want {
			t.Errorf("network %q selected %s", test.network, cfg.ChainParams().Name)
		}
	}

	if _, err := Load([]string{"--network=bogus"}); err == nil {
		t.Error("unknown network accepted")
	}
}

// TestListenerNormalization checks default-port completion and dedup.
func TestListenerNormalization(t *testing.T) {
	cfg, err := Load([]string{
		"--datadir=" + t.TempDir(),
		"--addnode=10.0.0.1",
		"--addnode=10.0.0.1:8333",
		"--addnode=10.0.0.2:9999",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"10.0.0.1:8333", "10.0.0.2:9999"}
	if len(cfg.AddPeers) != len(want) {
		t.Fatalf("AddPeers = %v, want %v", cfg.AddPeers, want)
	}
	for i := range want {
		if cfg.AddPeers[i] != want[i] {
			t.Fatalf("AddPeers[%d] = %q, want %q", i, cfg.AddPeers[i], want[i])
		}
	}

	// Default listener carries the network's default P2P port.
	if len(cfg.Listeners) != 1 || cfg.Listeners[0] != ":8333" {
		t.Fatalf("default Listeners = %v", cfg.Listeners)
	}
}

// TestRPCDisabledWithoutCredentials ensures the RPC server stays off when
// no user/password pair is configured.
func TestRPCDisabledWithoutCredentials(t *testing.T) {
	cfg, err := Load([]string{"--datadir=" + t.TempDir()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.DisableRPC {
		t.Fatal("RPC enabled without credentials")
	}

	cfg, err = Load([]string{
		"--datadir=" + t.TempDir(),
		"--rpcuser=u", "--rpcpass=p",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DisableRPC {
		t.Fatal("RPC disabled despite credentials")
	}
	if len(cfg.RPCListeners) != 1 || cfg.RPCListeners[0] != "127.0.0.1:8332" {
		t.Fatalf("RPCListeners = %v", cfg.RPCListeners)
	}
}

// TestPruneFloor rejects prune targets below the minimum.
func TestPruneFloor(t *testing.T) {
	if _, err := Load([]string{"--datadir=" + t.TempDir(), "--prune=100"}); err == nil {
		t.Fatal("prune target below floor accepted")
	}
	if _, err := Load([]string{"--datadir=" + t.TempDir(), "--prune=550"}); err != nil {
		t.Fatalf("minimum prune target rejected: %v", err)
	}
}

// TestPerNetworkPaths checks datadir-derived paths are namespaced per
// network.
func TestPerNetworkPaths(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load([]string{"--datadir=" + dir, "--network=regtest"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.BlockDBPath(), filepath.Join(dir, "regtest", "blocks_ffldb"); got != want {
		t.Fatalf("BlockDBPath = %q, want %q", got, want)
	}
	if got, want := cfg.LogFile(), filepath.Join(dir, "regtest", "debug.log"); got != want {
		t.Fatalf("LogFile = %q, want %q", got, want)
	}
}
