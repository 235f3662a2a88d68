// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"
)

// MaxInvPerMsg is the maximum number of inventory vectors one inv, getdata
// or notfound message may carry.
const MaxInvPerMsg = 50000

type invList struct {
	InvList []*InvVect
}

func (m *invList) decode(r io.Reader, pver uint32) error {
	count, err := ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > MaxInvPerMsg {
		return fmt.Errorf("too many inventory vectors [count %d, max %d]", count, MaxInvPerMsg)
	}
	m.InvList = make([]*InvVect, 0, count)
	for i := uint64(0); i < count; i++ {
		iv := &InvVect{}
		if err := readInvVect(r, iv); err != nil {
			return err
		}
		m.InvList = append(m.InvList, iv)
	}
	return nil
}

func (m *invList) encode(w io.Writer, pver uint32) error {
	if len(m.InvList) > MaxInvPerMsg {
		return fmt.Errorf("too many inventory vectors [count %d, max %d]", len(m.InvList), MaxInvPerMsg)
	}
	if err := WriteVarInt(w, pver, uint64(len(m.InvList))); err != nil {
		return err
	}
	for _, iv := range m.InvList {
		if err := writeInvVect(w, iv); err != nil {
			return err
		}
	}
	return nil
}

func (m *invList) AddInvVect(iv *InvVect) error {
	if len(m.InvList)+1 > MaxInvPerMsg {
		return fmt.Errorf("too many inventory vectors [max %d]", MaxInvPerMsg)
	}
	m.InvList = append(m.InvList, iv)
	return nil
}

func maxInvPayload() uint32 {
	return uint32(VarIntSerializeSize(MaxInvPerMsg)) + MaxInvPerMsg*36
}

// MsgInv announces newly known transactions or blocks to a peer, who may
// respond with getdata for any it wants.
type MsgInv struct{ invList }

func (msg *MsgInv) BtcDecode(r io.Reader, pver uint32) error { return msg.decode(r, pver) }
func (msg *MsgInv) BtcEncode(w io.Writer, pver uint32) error { return msg.encode(w, pver) }
func (msg *MsgInv) Command() string                         { return CmdInv }
func (msg *MsgInv) MaxPayloadLength(pver uint32) uint32      { return maxInvPayload() }

// NewMsgInv returns a new, empty inv message.
func NewMsgInv() *MsgInv { return &MsgInv{} }

// MsgGetData requests the full contents of previously announced inventory
// items.
type MsgGetData struct{ invList }

func (msg *MsgGetData) BtcDecode(r io.Reader, pver uint32) error { return msg.decode(r, pver) }
func (msg *MsgGetData) BtcEncode(w io.Writer, pver uint32) error { return msg.encode(w, pver) }
func (msg *MsgGetData) Command() string                         { return CmdGetData }
func (msg *MsgGetData) MaxPayloadLength(pver uint32) uint32      { return maxInvPayload() }

// NewMsgGetData returns a new, empty getdata message.
func NewMsgGetData() *MsgGetData { return &MsgGetData{} }

// MsgNotFound answers a getdata for items the peer could not supply.
type MsgNotFound struct{ invList }

func (msg *MsgNotFound) BtcDecode(r io.Reader, pver uint32) error { return msg.decode(r, pver) }
func (msg *MsgNotFound) BtcEncode(w io.Writer, pver uint32) error { return msg.encode(w, pver) }
func (msg *MsgNotFound) Command() string                         { return CmdNotFound }
func (msg *MsgNotFound) MaxPayloadLength(pver uint32) uint32      { return maxInvPayload() }
