// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// hexToBytes converts the passed hex string into bytes and will panic if
// there is an error. This is only provided for the hard coded constants so
// errors in the source code can be detected. It will only (and must only) be
// called with hard coded values.
func hexToBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("invalid hex in source file: " + s)
	}
	return b
}

// newHashFromStr converts the passed big-endian hex string into a
// chainhash.Hash and will panic if there is an error. This is only provided
// for the hard coded constants so errors in the source code can be detected.
// It will only (and must only) be called with hard coded values.
func newHashFromStr(hexStr string) *chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(hexStr)
	if err != nil {
		panic("invalid hash in source file: " + hexStr)
	}
	return hash
}
