// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

// CommandSize is the fixed width, null-padded ASCII command field of every
// message header.
const CommandSize = 12

// MessageHeaderSize is the size of a message header: magic(4) | command(12)
// | length(4) | checksum(4).
const MessageHeaderSize = 4 + CommandSize + 4 + 4

// Command strings for every message type the codec supports.
const (
	CmdVersion     = "version"
	CmdVerAck      = "verack"
	CmdPing        = "ping"
	CmdPong        = "pong"
	CmdAddr        = "addr"
	CmdAddrV2      = "addrv2"
	CmdInv         = "inv"
	CmdGetData     = "getdata"
	CmdNotFound    = "notfound"
	CmdGetBlocks   = "getblocks"
	CmdGetHeaders  = "getheaders"
	CmdHeaders     = "headers"
	CmdTx          = "tx"
	CmdBlock       = "block"
	CmdMerkleBlock = "merkleblock"
	CmdCmpctBlock  = "cmpctblock"
	CmdSendCmpct   = "sendcmpct"
	CmdGetBlockTxn = "getblocktxn"
	CmdBlockTxn    = "blocktxn"
	CmdFeeFilter   = "feefilter"
	CmdFilterLoad  = "filterload"
	CmdFilterAdd   = "filteradd"
	CmdFilterClear = "filterclear"
	CmdReject      = "reject"
	CmdSendHeaders = "sendheaders"
	CmdGetAddr     = "getaddr"
	CmdMemPool     = "mempool"
)

// Message is implemented by every wire protocol payload type; Command
// identifies the 12-byte ASCII command used in the frame header.
type Message interface {
	BtcDecode(r io.Reader, pver uint32) error
	BtcEncode(w io.Writer, pver uint32) error
	Command() string
	MaxPayloadLength(pver uint32) uint32
}

func makeEmptyMessage(command string) (Message, error) {
	switch command {
	case CmdVersion:
		return &MsgVersion{}, nil
	case CmdVerAck:
		return &MsgVerAck{}, nil
	case CmdPing:
		return &MsgPing{}, nil
	case CmdPong:
		return &MsgPong{}, nil
	case CmdAddr:
		return &MsgAddr{}, nil
	case CmdAddrV2:
		return &MsgAddrV2{}, nil
	case CmdInv:
		return &MsgInv{}, nil
	case CmdGetData:
		return &MsgGetData{}, nil
	case CmdNotFound:
		return &MsgNotFound{}, nil
	case CmdGetBlocks:
		return &MsgGetBlocks{}, nil
	case CmdGetHeaders:
		return &MsgGetHeaders{}, nil
	case CmdHeaders:
		return &MsgHeaders{}, nil
	case CmdTx:
		return &MsgTx{}, nil
	case CmdBlock:
		return &MsgBlock{}, nil
	case CmdMerkleBlock:
		return &MsgMerkleBlock{}, nil
	case CmdCmpctBlock:
		return &MsgCmpctBlock{}, nil
	case CmdSendCmpct:
		return &MsgSendCmpct{}, nil
	case CmdGetBlockTxn:
		return &MsgGetBlockTxn{}, nil
	case CmdBlockTxn:
		return &MsgBlockTxn{}, nil
	case CmdFeeFilter:
		return &MsgFeeFilter{}, nil
	case CmdFilterLoad:
		return &MsgFilterLoad{}, nil
	case CmdFilterAdd:
		return &MsgFilterAdd{}, nil
	case CmdFilterClear:
		return &MsgFilterClear{}, nil
	case CmdReject:
		return &MsgReject{}, nil
	case CmdSendHeaders:
		return &MsgSendHeaders{}, nil
	case CmdGetAddr:
		return &MsgGetAddr{}, nil
	case CmdMemPool:
		return &MsgMemPool{}, nil
	}
	return nil, fmt.Errorf("unhandled command [%s]", command)
}

func checksum(payload []byte) [4]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}

// WriteMessageN writes a full magic-prefixed frame to w and returns the
// number of bytes written:
// magic(4) | command(12) | length(4) | checksum(4) | payload.
func WriteMessageN(w io.Writer, msg Message, pver uint32, btcnet BitcoinNet) (int, error) {
	var payload bytes.Buffer
	if err := msg.BtcEncode(&payload, pver); err != nil {
		return 0, err
	}
	payloadBytes := payload.Bytes()

	if uint32(len(payloadBytes)) > msg.MaxPayloadLength(pver) {
		return 0, fmt.Errorf("message payload is too large - encoded "+
			"%d bytes, but maximum message payload is %d bytes",
			len(payloadBytes), msg.MaxPayloadLength(pver))
	}

	var header bytes.Buffer
	header.Grow(MessageHeaderSize)
	if err := binary.Write(&header, littleEndian, uint32(btcnet)); err != nil {
		return 0, err
	}

	var command [CommandSize]byte
	copy(command[:], msg.Command())
	if _, err := header.Write(command[:]); err != nil {
		return 0, err
	}

	if err := binary.Write(&header, littleEndian, uint32(len(payloadBytes))); err != nil {
		return 0, err
	}

	chk := checksum(payloadBytes)
	if _, err := header.Write(chk[:]); err != nil {
		return 0, err
	}

	n, err := w.Write(header.Bytes())
	if err != nil {
		return n, err
	}
	n2, err := w.Write(payloadBytes)
	return n + n2, err
}

// ReadMessageN reads and decodes one magic-prefixed frame from r, returning
// both the raw header command (for unrecognized commands) and the decoded
// message.
func ReadMessageN(r io.Reader, pver uint32, btcnet BitcoinNet) (string, Message, []byte, error) {
	var header [MessageHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", nil, nil, err
	}

	net := BitcoinNet(littleEndian.Uint32(header[0:4]))
	if net != btcnet {
		return "", nil, nil, fmt.Errorf("message from other network [%v]", net)
	}

	command := string(bytes.TrimRight(header[4:4+CommandSize], "\x00"))
	length := littleEndian.Uint32(header[4+CommandSize : 8+CommandSize])
	if length > MaxMessagePayload {
		return command, nil, nil, fmt.Errorf("message payload is too large - "+
			"header indicates %d bytes, but max message payload is %d bytes",
			length, MaxMessagePayload)
	}

	var wantChecksum [4]byte
	copy(wantChecksum[:], header[8+CommandSize:MessageHeaderSize])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return command, nil, nil, err
	}

	gotChecksum := checksum(payload)
	if gotChecksum != wantChecksum {
		return command, nil, nil, fmt.Errorf("payload checksum failed - "+
			"header indicates %x, but actual checksum is %x",
			wantChecksum, gotChecksum)
	}

	msg, err := makeEmptyMessage(command)
	if err != nil {
		return command, nil, payload, err
	}
	if err := msg.BtcDecode(bytes.NewReader(payload), pver); err != nil {
		return command, nil, payload, err
	}

	return command, msg, payload, nil
}
