// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package timesource tracks the adjusted network time this node's peers
// agree on, the offset ProcessBlock's timestamp checks are measured
// against. The block template generator reads the local clock instead.
package timesource

import (
	"github.com/btcnode/node/blockchain"
)

// MedianTimeSource is the interface this package's time tracker satisfies,
// re-exported so callers don't need to reach into the blockchain package
// directly for a type whose whole purpose, here, is feeding
// blockchain.BlockChain's own Config.TimeSource field.
type MedianTimeSource = blockchain.MedianTimeSource

// New returns a new network-adjusted time source with no samples yet
// recorded -- its Offset is zero and AdjustedTime equals the local clock
// until peers contribute samples via AddTimeSample.
func New() MedianTimeSource {
	return blockchain.NewMedianTime()
}
