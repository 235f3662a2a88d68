// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/davecgh/go-spew/spew"
)

// TestMessageFrameRoundTrip frames a representative sample of every
// message family through WriteMessageN/ReadMessageN and checks the decoded
// result matches what was sent.
func TestMessageFrameRoundTrip(t *testing.T) {
	hash, _ := chainhash.NewHashFromStr(
		"000000000003ba27aa200b1cecaad478d2b00432346c3f1f3986da1afd33e506")

	me := NewNetAddressIPPort(net.ParseIP("127.0.0.1"), 8333, SFNodeNetwork)
	you := NewNetAddressIPPort(net.ParseIP("192.168.0.1"), 8333, SFNodeNetwork)
	version := NewMsgVersion(me, you, 0x1234567890abcdef, 644000)
	version.UserAgent = "/wiretest:0.0.1/"

	addr := &MsgAddr{}
	addr.AddAddress(&NetAddress{
		Timestamp: time.Unix(0x495fab29, 0),
		Services:  SFNodeNetwork,
		IP:        net.ParseIP("10.0.0.1"),
		Port:      8333,
	})

	inv := NewMsgInv()
	inv.AddInvVect(NewInvVect(InvTypeBlock, hash))
	inv.AddInvVect(NewInvVect(InvTypeWitnessTx, hash))

	gh := NewMsgGetHeaders()
	gh.BlockLocatorHashes = []*chainhash.Hash{hash}

	headers := &MsgHeaders{}
	headers.AddBlockHeader(&BlockHeader{
		Version:    1,
		PrevBlock:  *hash,
		MerkleRoot: *hash,
		Timestamp:  time.Unix(1293623863, 0),
		Bits:       0x1b04864c,
		Nonce:      0x10572b0f,
	})

	tests := []Message{
		version,
		&MsgVerAck{},
		&MsgPing{Nonce: 0xdeadbeef},
		&MsgPong{Nonce: 0xdeadbeef},
		addr,
		inv,
		gh,
		headers,
		&MsgFeeFilter{MinFee: 10000},
		&MsgSendCmpct{Announce: true, Version: 2},
		&MsgNotFound{},
		&MsgSendHeaders{},
		&MsgGetAddr{},
	}

	for i, msg := range tests {
		var buf bytes.Buffer
		n, err := WriteMessageN(&buf, msg, ProtocolVersion, MainNet)
		if err != nil {
			t.Errorf("#%d (%s) WriteMessageN: %v", i, msg.Command(), err)
			continue
		}
		if n != buf.Len() {
			t.Errorf("#%d (%s) WriteMessageN reported %d bytes, wrote %d", i, msg.Command(), n, buf.Len())
		}

		cmd, got, _, err := ReadMessageN(&buf, ProtocolVersion, MainNet)
		if err != nil {
			t.Errorf("#%d (%s) ReadMessageN: %v", i, msg.Command(), err)
			continue
		}
		if cmd != msg.Command() {
			t.Errorf("#%d command mismatch: got %q want %q", i, cmd, msg.Command())
		}

		// Re-encode both and compare payloads; structural equality via
		// reflect is noisy because of IP byte-slice forms.
		var want, gotBuf bytes.Buffer
		if err := msg.BtcEncode(&want, ProtocolVersion); err != nil {
			t.Errorf("#%d re-encode original: %v", i, err)
			continue
		}
		if err := got.BtcEncode(&gotBuf, ProtocolVersion); err != nil {
			t.Errorf("#%d re-encode decoded: %v", i, err)
			continue
		}
		if !bytes.Equal(want.Bytes(), gotBuf.Bytes()) {
			t.Errorf("#%d (%s) payload mismatch\n got: %s\nwant: %s", i, msg.Command(),
				spew.Sdump(got), spew.Sdump(msg))
		}
	}
}

// TestMessageWrongNetwork ensures a frame carrying another network's magic
// is rejected rather than decoded.
func TestMessageWrongNetwork(t *testing.T) {
	var buf bytes.Buffer
	if _, err := WriteMessageN(&buf, &MsgPing{Nonce: 1}, ProtocolVersion, MainNet); err != nil {
		t.Fatalf("WriteMessageN: %v", err)
	}
	if _, _, _, err := ReadMessageN(&buf, ProtocolVersion, TestNet3); err == nil {
		t.Fatal("expected wrong-magic rejection")
	}
}

// TestMessageBadChecksum corrupts a payload byte and expects the checksum
// verification to reject the frame.
func TestMessageBadChecksum(t *testing.T) {
	var buf bytes.Buffer
	if _, err := WriteMessageN(&buf, &MsgPing{Nonce: 1}, ProtocolVersion, MainNet); err != nil {
		t.Fatalf("WriteMessageN: %v", err)
	}
	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xff
	if _, _, _, err := ReadMessageN(bytes.NewReader(raw), ProtocolVersion, MainNet); err == nil {
		t.Fatal("expected checksum rejection")
	}
}
