// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ffldb

import "github.com/btcnode/node/database"

// log defaults to a no-op; the driver's UseLogger hook swaps a real
// subsystem logger in at startup.
var log database.Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Tracef(string, ...interface{})    {}
func (nopLogger) Debugf(string, ...interface{})    {}
func (nopLogger) Infof(string, ...interface{})     {}
func (nopLogger) Warnf(string, ...interface{})     {}
func (nopLogger) Errorf(string, ...interface{})    {}
func (nopLogger) Criticalf(string, ...interface{}) {}
