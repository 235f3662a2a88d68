// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pool implements the Pool component of this module: peer
// lifecycle, headers-first synchronization, block/transaction relay, and
// misbehavior scoring. It drives Chain and Mempool but never
// blocks on I/O itself — every public method is called from the Loop
// goroutine, and network I/O is mediated through net.Conn plus
// loop.Loop.AddHandle/Defer.
package pool

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}
