// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// InvType identifies the type of an inventory item advertised in inv,
// getdata and notfound messages.
type InvType uint32

const (
	InvTypeError              InvType = 0
	InvTypeTx                 InvType = 1
	InvTypeBlock              InvType = 2
	InvTypeFilteredBlock      InvType = 3
	InvTypeCompactBlock       InvType = 4
	InvTypeWitnessTx          InvType = InvTypeTx | InvWitnessFlag
	InvTypeWitnessBlock       InvType = InvTypeBlock | InvWitnessFlag
	InvTypeFilteredWitnessBlk InvType = InvTypeFilteredBlock | InvWitnessFlag
)

// InvWitnessFlag denotes that the receiver should supply witness data for
// the requested item (BIP144).
const InvWitnessFlag = 1 << 30

var ivStrings = map[InvType]string{
	InvTypeError:         "ERROR",
	InvTypeTx:            "MSG_TX",
	InvTypeBlock:         "MSG_BLOCK",
	InvTypeFilteredBlock: "MSG_FILTERED_BLOCK",
	InvTypeCompactBlock:  "MSG_CMPCT_BLOCK",
	InvTypeWitnessTx:     "MSG_WITNESS_TX",
	InvTypeWitnessBlock:  "MSG_WITNESS_BLOCK",
}

// String returns the InvType in human-readable form.
func (i InvType) String() string {
	if s, ok := ivStrings[i]; ok {
		return s
	}
	return "Unknown InvType"
}

// InvVect identifies a single advertised item: its type and hash.
type InvVect struct {
	Type InvType
	Hash chainhash.Hash
}

// NewInvVect returns a new inventory vector for the given type and hash.
func NewInvVect(typ InvType, hash *chainhash.Hash) *InvVect {
	return &InvVect{Type: typ, Hash: *hash}
}

func readInvVect(r io.Reader, iv *InvVect) error {
	if err := readElement(r, &iv.Type); err != nil {
		return err
	}
	_, err := io.ReadFull(r, iv.Hash[:])
	return err
}

func writeInvVect(w io.Writer, iv *InvVect) error {
	if err := writeElement(w, iv.Type); err != nil {
		return err
	}
	_, err := w.Write(iv.Hash[:])
	return err
}
