// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpc

import "github.com/btcsuite/btclog"

var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-level logger; callers wire a subsystem logger
// in at startup.
func UseLogger(logger btclog.Logger) {
	log = logger
}
