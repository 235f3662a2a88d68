// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// testTx returns a two-input, two-output transaction with witness data on
// the second input.
func testTx() *MsgTx {
	prevHash, _ := chainhash.NewHashFromStr(
		"2f3f1b17a0c1e4e80ecfa0d7f6a79b6b4c8cbb5c5cb1cb80f2c50e5f3b0d9b44")
	tx := NewMsgTx(2)
	tx.TxIn = append(tx.TxIn, &TxIn{
		PreviousOutPoint: OutPoint{Hash: *prevHash, Index: 0},
		SignatureScript:  []byte{0x04, 0x31, 0x32, 0x33, 0x34},
		Sequence:         0xffffffff,
	})
	tx.TxIn = append(tx.TxIn, &TxIn{
		PreviousOutPoint: OutPoint{Hash: *prevHash, Index: 1},
		Witness: [][]byte{
			{0x30, 0x45, 0x02, 0x21, 0x01},
			{0x02, 0x9b, 0x2c, 0x0a, 0xfc},
		},
		Sequence: 0xfffffffd,
	})
	tx.TxOut = append(tx.TxOut, &TxOut{
		Value:    50_0000_0000,
		PkScript: []byte{0x76, 0xa9, 0x14, 0x01, 0x02, 0x03, 0x88, 0xac},
	})
	tx.TxOut = append(tx.TxOut, &TxOut{
		Value:    12_3456_7890,
		PkScript: []byte{0x00, 0x14, 0xaa, 0xbb, 0xcc, 0xdd},
	})
	tx.LockTime = 500000
	return tx
}

// TestTxSerializeWitnessRoundTrip exercises the segwit marker encoding:
// serialize, deserialize, and compare every field including the witness
// stacks.
func TestTxSerializeWitnessRoundTrip(t *testing.T) {
	tx := testTx()

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if buf.Len() != tx.SerializeSize() {
		t.Fatalf("SerializeSize mismatch: wrote %d, reported %d", buf.Len(), tx.SerializeSize())
	}

	// Witness-bearing serialization carries the 0x00 marker / 0x01 flag
	// pair immediately after the version.
	serialized := buf.Bytes()
	if serialized[4] != 0x00 || serialized[5] != 0x01 {
		t.Fatalf("missing segwit marker/flag: got %x %x", serialized[4], serialized[5])
	}

	var got MsgTx
	if err := got.Deserialize(bytes.NewReader(serialized)); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if got.Version != tx.Version || got.LockTime != tx.LockTime {
		t.Fatalf("version/locktime mismatch: got %d/%d want %d/%d",
			got.Version, got.LockTime, tx.Version, tx.LockTime)
	}
	if len(got.TxIn) != len(tx.TxIn) || len(got.TxOut) != len(tx.TxOut) {
		t.Fatalf("input/output count mismatch")
	}
	for i, txIn := range tx.TxIn {
		gotIn := got.TxIn[i]
		if gotIn.PreviousOutPoint != txIn.PreviousOutPoint {
			t.Fatalf("input %d outpoint mismatch", i)
		}
		if !bytes.Equal(gotIn.SignatureScript, txIn.SignatureScript) {
			t.Fatalf("input %d script mismatch", i)
		}
		if gotIn.Sequence != txIn.Sequence {
			t.Fatalf("input %d sequence mismatch", i)
		}
		if len(gotIn.Witness) != len(txIn.Witness) {
			t.Fatalf("input %d witness count mismatch", i)
		}
		for j := range txIn.Witness {
			if !bytes.Equal(gotIn.Witness[j], txIn.Witness[j]) {
				t.Fatalf("input %d witness item %d mismatch", i, j)
			}
		}
	}
	for i, txOut := range tx.TxOut {
		if got.TxOut[i].Value != txOut.Value || !bytes.Equal(got.TxOut[i].PkScript, txOut.PkScript) {
			t.Fatalf("output %d mismatch", i)
		}
	}
}

// TestTxHashForms checks the two hash forms: the legacy txid must be
// computed over the non-witness serialization (so it is unchanged by
// witness data), while the wtxid covers the full serialization.
func TestTxHashForms(t *testing.T) {
	tx := testTx()

	txid := tx.TxHash()
	wtxid := tx.WitnessHash()
	if txid == wtxid {
		t.Fatal("txid and wtxid should differ for a witness-bearing transaction")
	}

	// Stripping the witness must leave the txid unchanged and collapse
	// the wtxid onto it.
	stripped := testTx()
	for _, txIn := range stripped.TxIn {
		txIn.Witness = nil
	}
	if stripped.TxHash() != txid {
		t.Fatal("txid changed when witness data was stripped")
	}
	if stripped.WitnessHash() != stripped.TxHash() {
		t.Fatal("wtxid of a witnessless transaction should equal its txid")
	}

	// The txid must be the double-SHA256 of the non-witness
	// serialization.
	var buf bytes.Buffer
	if err := tx.SerializeNoWitness(&buf); err != nil {
		t.Fatalf("SerializeNoWitness: %v", err)
	}
	if want := chainhash.DoubleHashH(buf.Bytes()); txid != want {
		t.Fatalf("txid mismatch: got %v want %v", txid, want)
	}
}

// TestTxSerializeNoWitnessRoundTrip checks the legacy encoding round trips
// and never carries the marker byte.
func TestTxSerializeNoWitnessRoundTrip(t *testing.T) {
	tx := testTx()

	var buf bytes.Buffer
	if err := tx.SerializeNoWitness(&buf); err != nil {
		t.Fatalf("SerializeNoWitness: %v", err)
	}
	// A legacy serialization starts version | varint(input count); with
	// two inputs the fifth byte is 0x02, never the 0x00 marker.
	if buf.Bytes()[4] == 0x00 {
		t.Fatal("legacy serialization carries segwit marker")
	}

	var got MsgTx
	if err := got.Deserialize(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.TxHash() != tx.TxHash() {
		t.Fatal("txid mismatch after legacy round trip")
	}
	if len(got.TxIn) != 2 || got.TxIn[1].Witness != nil {
		t.Fatal("legacy round trip should not resurrect witness data")
	}
}
