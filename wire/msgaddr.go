// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"
	"net"
)

// MaxAddrPerMsg is the maximum number of addresses a single addr message
// may carry.
const MaxAddrPerMsg = 1000

// MsgAddr implements the legacy address-gossip message.
type MsgAddr struct {
	AddrList []*NetAddress
}

// AddAddress appends na to the message, enforcing MaxAddrPerMsg.
func (msg *MsgAddr) AddAddress(na *NetAddress) error {
	if len(msg.AddrList)+1 > MaxAddrPerMsg {
		return fmt.Errorf("too many addresses for message [max %d]", MaxAddrPerMsg)
	}
	msg.AddrList = append(msg.AddrList, na)
	return nil
}

func (msg *MsgAddr) BtcDecode(r io.Reader, pver uint32) error {
	count, err := ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > MaxAddrPerMsg {
		return fmt.Errorf("too many addresses for message [count %d, max %d]", count, MaxAddrPerMsg)
	}
	msg.AddrList = make([]*NetAddress, 0, count)
	for i := uint64(0); i < count; i++ {
		na := &NetAddress{}
		if err := readNetAddress(r, pver, na, true); err != nil {
			return err
		}
		msg.AddrList = append(msg.AddrList, na)
	}
	return nil
}

func (msg *MsgAddr) BtcEncode(w io.Writer, pver uint32) error {
	if len(msg.AddrList) > MaxAddrPerMsg {
		return fmt.Errorf("too many addresses for message [count %d, max %d]", len(msg.AddrList), MaxAddrPerMsg)
	}
	if err := WriteVarInt(w, pver, uint64(len(msg.AddrList))); err != nil {
		return err
	}
	for _, na := range msg.AddrList {
		if err := writeNetAddress(w, pver, na, true); err != nil {
			return err
		}
	}
	return nil
}

func (msg *MsgAddr) Command() string { return CmdAddr }
func (msg *MsgAddr) MaxPayloadLength(pver uint32) uint32 {
	return uint32(VarIntSerializeSize(MaxAddrPerMsg)) + MaxAddrPerMsg*30
}

// AddrV2Entry is a single entry of the addrv2 message (BIP155): it extends
// the legacy NetAddress with a network-id byte, allowing non-IP networks
// (e.g. Tor onion v3) to be gossiped; this implementation supports the IPv4
// and IPv6 network ids used by normal P2P discovery.
type AddrV2Entry struct {
	NetAddress
	Network byte
}

const (
	AddrV2NetIPv4 byte = 1
	AddrV2NetIPv6 byte = 2
)

// MsgAddrV2 implements BIP155 address gossip.
type MsgAddrV2 struct {
	AddrList []*AddrV2Entry
}

func (msg *MsgAddrV2) BtcDecode(r io.Reader, pver uint32) error {
	count, err := ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > MaxAddrPerMsg {
		return fmt.Errorf("too many addresses for message [count %d, max %d]", count, MaxAddrPerMsg)
	}
	msg.AddrList = make([]*AddrV2Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		ts, err := ReadTimestamp(r)
		if err != nil {
			return err
		}
		var services uint64
		sv, err := ReadVarInt(r, pver)
		if err != nil {
			return err
		}
		services = sv

		var netID [1]byte
		if _, err := io.ReadFull(r, netID[:]); err != nil {
			return err
		}

		addrBytes, err := ReadVarBytes(r, pver, 512, "addrv2 address")
		if err != nil {
			return err
		}

		var port [2]byte
		if _, err := io.ReadFull(r, port[:]); err != nil {
			return err
		}

		e := &AddrV2Entry{
			NetAddress: NetAddress{
				Timestamp: ts,
				Services:  ServiceFlag(services),
				IP:        net.IP(addrBytes),
				Port:      uint16(port[0])<<8 | uint16(port[1]),
			},
			Network: netID[0],
		}
		msg.AddrList = append(msg.AddrList, e)
	}
	return nil
}

func (msg *MsgAddrV2) BtcEncode(w io.Writer, pver uint32) error {
	if err := WriteVarInt(w, pver, uint64(len(msg.AddrList))); err != nil {
		return err
	}
	for _, e := range msg.AddrList {
		if err := WriteTimestamp(w, e.Timestamp); err != nil {
			return err
		}
		if err := WriteVarInt(w, pver, uint64(e.Services)); err != nil {
			return err
		}
		if _, err := w.Write([]byte{e.Network}); err != nil {
			return err
		}
		if err := WriteVarBytes(w, pver, []byte(e.IP)); err != nil {
			return err
		}
		port := [2]byte{byte(e.Port >> 8), byte(e.Port)}
		if _, err := w.Write(port[:]); err != nil {
			return err
		}
	}
	return nil
}

func (msg *MsgAddrV2) Command() string { return CmdAddrV2 }
func (msg *MsgAddrV2) MaxPayloadLength(pver uint32) uint32 {
	return uint32(VarIntSerializeSize(MaxAddrPerMsg)) + MaxAddrPerMsg*50
}
