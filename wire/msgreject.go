// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// RejectCode represents a numeric value by which a remote peer indicates
// why a message was rejected.
type RejectCode uint8

const (
	RejectMalformed       RejectCode = 0x01
	RejectInvalid         RejectCode = 0x10
	RejectObsolete        RejectCode = 0x11
	RejectDuplicate       RejectCode = 0x12
	RejectNonstandard     RejectCode = 0x40
	RejectDust            RejectCode = 0x41
	RejectInsufficientFee RejectCode = 0x42
	RejectCheckpoint      RejectCode = 0x43
)

func (code RejectCode) String() string {
	switch code {
	case RejectMalformed:
		return "REJECT_MALFORMED"
	case RejectInvalid:
		return "REJECT_INVALID"
	case RejectObsolete:
		return "REJECT_OBSOLETE"
	case RejectDuplicate:
		return "REJECT_DUPLICATE"
	case RejectNonstandard:
		return "REJECT_NONSTANDARD"
	case RejectDust:
		return "REJECT_DUST"
	case RejectInsufficientFee:
		return "REJECT_INSUFFICIENTFEE"
	case RejectCheckpoint:
		return "REJECT_CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

const maxRejectMessageLength = CommandSize
const maxRejectReasonLength = 250

// MsgReject implements the diagnostic reject message: a peer sends it to
// explain why a prior tx/block/version was refused.
type MsgReject struct {
	Cmd    string
	Code   RejectCode
	Reason string
	Hash   chainhash.Hash
}

func (msg *MsgReject) BtcDecode(r io.Reader, pver uint32) error {
	cmd, err := ReadVarString(r, pver)
	if err != nil {
		return err
	}
	msg.Cmd = cmd

	if err := readElement(r, &msg.Code); err != nil {
		return err
	}

	reason, err := ReadVarString(r, pver)
	if err != nil {
		return err
	}
	msg.Reason = reason

	switch msg.Cmd {
	case CmdBlock, CmdTx:
		if _, err := io.ReadFull(r, msg.Hash[:]); err != nil {
			return err
		}
	}
	return nil
}

func (msg *MsgReject) BtcEncode(w io.Writer, pver uint32) error {
	if err := WriteVarString(w, pver, msg.Cmd); err != nil {
		return err
	}
	if err := writeElement(w, msg.Code); err != nil {
		return err
	}
	if err := WriteVarString(w, pver, msg.Reason); err != nil {
		return err
	}
	switch msg.Cmd {
	case CmdBlock, CmdTx:
		if _, err := w.Write(msg.Hash[:]); err != nil {
			return err
		}
	}
	return nil
}

func (msg *MsgReject) Command() string { return CmdReject }
func (msg *MsgReject) MaxPayloadLength(pver uint32) uint32 {
	return uint32(VarIntSerializeSize(maxRejectMessageLength)) + maxRejectMessageLength +
		1 +
		uint32(VarIntSerializeSize(maxRejectReasonLength)) + maxRejectReasonLength +
		chainhash.HashSize
}
