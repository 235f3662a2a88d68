// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TestBlockHeaderSerialize checks the fixed 80-byte layout: version(4) |
// prev(32) | merkle(32) | time(4) | bits(4) | nonce(4), little endian.
func TestBlockHeaderSerialize(t *testing.T) {
	prev, _ := chainhash.NewHashFromStr(
		"000000000002d01c1fccc21636b607dfd930d31d01c3a62104612a1719011250")
	merkle, _ := chainhash.NewHashFromStr(
		"66657ba6c6bdcc146f8ba60e42c1f52ccbcee902614b5d7d0c3e1ca74a26297f")

	hdr := BlockHeader{
		Version:    1,
		PrevBlock:  *prev,
		MerkleRoot: *merkle,
		Timestamp:  time.Unix(0x4d96a2b1, 0),
		Bits:       0x1b00dc31,
		Nonce:      0x9962e301,
	}

	var buf bytes.Buffer
	if err := hdr.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if buf.Len() != BlockHeaderLen {
		t.Fatalf("serialized length %d, want %d", buf.Len(), BlockHeaderLen)
	}

	serialized := buf.Bytes()
	if got := littleEndian.Uint32(serialized[0:4]); got != 1 {
		t.Fatalf("version field: got %d want 1", got)
	}
	if !bytes.Equal(serialized[4:36], prev[:]) {
		t.Fatal("prev-hash field mismatch")
	}
	if !bytes.Equal(serialized[36:68], merkle[:]) {
		t.Fatal("merkle-root field mismatch")
	}
	if got := littleEndian.Uint32(serialized[68:72]); got != 0x4d96a2b1 {
		t.Fatalf("time field: got %x want 4d96a2b1", got)
	}
	if got := littleEndian.Uint32(serialized[72:76]); got != 0x1b00dc31 {
		t.Fatalf("bits field: got %x want 1b00dc31", got)
	}
	if got := littleEndian.Uint32(serialized[76:80]); got != 0x9962e301 {
		t.Fatalf("nonce field: got %x want 9962e301", got)
	}

	var got BlockHeader
	if err := got.Deserialize(bytes.NewReader(serialized)); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.Version != hdr.Version || got.PrevBlock != hdr.PrevBlock ||
		got.MerkleRoot != hdr.MerkleRoot || !got.Timestamp.Equal(hdr.Timestamp) ||
		got.Bits != hdr.Bits || got.Nonce != hdr.Nonce {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, hdr)
	}
}

// TestBlockHash checks the block hash is the double-SHA256 of the 80-byte
// serialization, using mainnet block 100000's literal header.
func TestBlockHash(t *testing.T) {
	prev, _ := chainhash.NewHashFromStr(
		"000000000002d01c1fccc21636b607dfd930d31d01c3a62104612a1719011250")
	merkle, _ := chainhash.NewHashFromStr(
		"f3e94742aca4b5ef85488dc37c06c3282295ffec960994b2c0d5ac2a25a95766")

	hdr := BlockHeader{
		Version:    1,
		PrevBlock:  *prev,
		MerkleRoot: *merkle,
		Timestamp:  time.Unix(1293623863, 0),
		Bits:       0x1b04864c,
		Nonce:      0x10572b0f,
	}

	want, _ := chainhash.NewHashFromStr(
		"000000000003ba27aa200b1cecaad478d2b00432346c3f1f3986da1afd33e506")
	if got := hdr.BlockHash(); got != *want {
		t.Fatalf("BlockHash: got %v want %v", got, want)
	}
}
