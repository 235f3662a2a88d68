// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	upstream "github.com/btcsuite/btcd/txscript"
)

// ScriptBuilder provides a facility for building custom scripts, used by
// the addresses and mining packages to assemble locking scripts without
// hand-rolled byte concatenation.
type ScriptBuilder = upstream.ScriptBuilder

// NewScriptBuilder returns a new script builder.
func NewScriptBuilder() *ScriptBuilder {
	return upstream.NewScriptBuilder()
}
