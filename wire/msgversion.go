// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"
	"time"
)

// MaxUserAgentLen is the maximum allowed length of the user agent string
// advertised in a version message.
const MaxUserAgentLen = 256

// DefaultUserAgent identifies this implementation in the version handshake.
const DefaultUserAgent = "/btcnode:0.1.0/"

// MsgVersion implements the initial handshake message: each
// side advertises its protocol version, services, perceived time, address,
// nonce (for self-connect detection), user agent, best known height and
// relay preference.
type MsgVersion struct {
	ProtocolVersion int32
	Services        ServiceFlag
	Timestamp       time.Time
	AddrYou         NetAddress
	AddrMe          NetAddress
	Nonce           uint64
	UserAgent       string
	LastBlock       int32
	DisableRelayTx  bool
}

// NewMsgVersion returns a new version message for the given addresses,
// nonce and last-block height.
func NewMsgVersion(me, you *NetAddress, nonce uint64, lastBlock int32) *MsgVersion {
	return &MsgVersion{
		ProtocolVersion: int32(ProtocolVersion),
		Services:        0,
		Timestamp:       time.Unix(time.Now().Unix(), 0),
		AddrYou:         *you,
		AddrMe:          *me,
		Nonce:           nonce,
		UserAgent:       DefaultUserAgent,
		LastBlock:       lastBlock,
		DisableRelayTx:  false,
	}
}

// AddService adds service to the set this message advertises.
func (msg *MsgVersion) AddService(service ServiceFlag) { msg.Services |= service }

// BtcDecode decodes a version message. AddrYou/AddrMe are encoded without
// the timestamp field, per the handshake-era wire format.
func (msg *MsgVersion) BtcDecode(r io.Reader, pver uint32) error {
	if err := readElement(r, &msg.ProtocolVersion); err != nil {
		return err
	}
	if err := readElement(r, &msg.Services); err != nil {
		return err
	}
	ts, err := ReadTimestamp(r)
	if err != nil {
		return err
	}
	msg.Timestamp = ts

	if err := readNetAddress(r, pver, &msg.AddrYou, false); err != nil {
		return err
	}

	// Older peers may end the message here.
	if err := readNetAddress(r, pver, &msg.AddrMe, false); err != nil {
		return err
	}
	if err := readElement(r, &msg.Nonce); err != nil {
		return err
	}
	ua, err := ReadVarString(r, pver)
	if err != nil {
		return err
	}
	if len(ua) > MaxUserAgentLen {
		return io.ErrShortBuffer
	}
	msg.UserAgent = ua
	if err := readElement(r, &msg.LastBlock); err != nil {
		return err
	}

	relay := true
	if err := readElement(r, &relay); err == nil {
		msg.DisableRelayTx = !relay
	}
	return nil
}

// BtcEncode encodes a version message.
func (msg *MsgVersion) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeElement(w, msg.ProtocolVersion); err != nil {
		return err
	}
	if err := writeElement(w, msg.Services); err != nil {
		return err
	}
	if err := WriteTimestamp(w, msg.Timestamp); err != nil {
		return err
	}
	if err := writeNetAddress(w, pver, &msg.AddrYou, false); err != nil {
		return err
	}
	if err := writeNetAddress(w, pver, &msg.AddrMe, false); err != nil {
		return err
	}
	if err := writeElement(w, msg.Nonce); err != nil {
		return err
	}
	if err := WriteVarString(w, pver, msg.UserAgent); err != nil {
		return err
	}
	if err := writeElement(w, msg.LastBlock); err != nil {
		return err
	}
	return writeElement(w, !msg.DisableRelayTx)
}

// Command returns the frame command string.
func (msg *MsgVersion) Command() string { return CmdVersion }

// MaxPayloadLength returns the maximum size this message is allowed to be.
func (msg *MsgVersion) MaxPayloadLength(pver uint32) uint32 {
	return 4 + 8 + 8 + 26 + 26 + 8 + uint32(VarIntSerializeSize(MaxUserAgentLen)) +
		MaxUserAgentLen + 4 + 1
}

// MsgVerAck implements the verack handshake acknowledgment; it carries no
// payload.
type MsgVerAck struct{}

func (msg *MsgVerAck) BtcDecode(r io.Reader, pver uint32) error { return nil }
func (msg *MsgVerAck) BtcEncode(w io.Writer, pver uint32) error { return nil }
func (msg *MsgVerAck) Command() string                         { return CmdVerAck }
func (msg *MsgVerAck) MaxPayloadLength(pver uint32) uint32      { return 0 }

// MsgSendHeaders requests that new blocks be announced via headers rather
// than inv; it carries no payload.
type MsgSendHeaders struct{}

func (msg *MsgSendHeaders) BtcDecode(r io.Reader, pver uint32) error { return nil }
func (msg *MsgSendHeaders) BtcEncode(w io.Writer, pver uint32) error { return nil }
func (msg *MsgSendHeaders) Command() string                         { return CmdSendHeaders }
func (msg *MsgSendHeaders) MaxPayloadLength(pver uint32) uint32      { return 0 }

// MsgGetAddr requests known peer addresses; it carries no payload.
type MsgGetAddr struct{}

func (msg *MsgGetAddr) BtcDecode(r io.Reader, pver uint32) error { return nil }
func (msg *MsgGetAddr) BtcEncode(w io.Writer, pver uint32) error { return nil }
func (msg *MsgGetAddr) Command() string                         { return CmdGetAddr }
func (msg *MsgGetAddr) MaxPayloadLength(pver uint32) uint32      { return 0 }

// MsgMemPool requests the peer's mempool transaction inventory; it carries
// no payload.
type MsgMemPool struct{}

func (msg *MsgMemPool) BtcDecode(r io.Reader, pver uint32) error { return nil }
func (msg *MsgMemPool) BtcEncode(w io.Writer, pver uint32) error { return nil }
func (msg *MsgMemPool) Command() string                         { return CmdMemPool }
func (msg *MsgMemPool) MaxPayloadLength(pver uint32) uint32      { return 0 }
