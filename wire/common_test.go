// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"net"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestVarIntWire tests the compact-size integer encoding against the
// boundary vectors the format defines.
func TestVarIntWire(t *testing.T) {
	tests := []struct {
		in  uint64
		buf []byte
	}{
		{0, []byte{0x00}},
		{0xfc, []byte{0xfc}},
		{0xfd, []byte{0xfd, 0xfd, 0x00}},
		{0xffff, []byte{0xfd, 0xff, 0xff}},
		{0x10000, []byte{0xfe, 0x00, 0x00, 0x01, 0x00}},
		{0xffffffff, []byte{0xfe, 0xff, 0xff, 0xff, 0xff}},
		{0x100000000, []byte{0xff, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}},
		{0xffffffffffffffff, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}

	for i, test := range tests {
		var buf bytes.Buffer
		if err := WriteVarInt(&buf, ProtocolVersion, test.in); err != nil {
			t.Errorf("WriteVarInt #%d error %v", i, err)
			continue
		}
		if !bytes.Equal(buf.Bytes(), test.buf) {
			t.Errorf("WriteVarInt #%d\n got: %x want: %x", i, buf.Bytes(), test.buf)
			continue
		}

		val, err := ReadVarInt(bytes.NewReader(test.buf), ProtocolVersion)
		if err != nil {
			t.Errorf("ReadVarInt #%d error %v", i, err)
			continue
		}
		if val != test.in {
			t.Errorf("ReadVarInt #%d got: %d want: %d", i, val, test.in)
		}
		if got := VarIntSerializeSize(test.in); got != len(test.buf) {
			t.Errorf("VarIntSerializeSize #%d got: %d want: %d", i, got, len(test.buf))
		}
	}
}

// TestVarIntRoundTrip property-tests deserialize(serialize(x)) == x over
// the whole uint64 domain.
func TestVarIntRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		val := rapid.Uint64().Draw(t, "val")

		var buf bytes.Buffer
		if err := WriteVarInt(&buf, ProtocolVersion, val); err != nil {
			t.Fatalf("WriteVarInt: %v", err)
		}
		got, err := ReadVarInt(bytes.NewReader(buf.Bytes()), ProtocolVersion)
		if err != nil {
			t.Fatalf("ReadVarInt: %v", err)
		}
		if got != val {
			t.Fatalf("round trip mismatch: got %d want %d", got, val)
		}
		if buf.Len() != VarIntSerializeSize(val) {
			t.Fatalf("size mismatch: wrote %d, VarIntSerializeSize says %d", buf.Len(), VarIntSerializeSize(val))
		}
	})
}

// TestVarIntNonCanonical ensures a value encoded with more bytes than
// necessary is rejected rather than silently accepted, since txids are
// computed over the serialization.
func TestVarIntNonCanonical(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"0 encoded with 3 bytes", []byte{0xfd, 0x00, 0x00}},
		{"252 encoded with 3 bytes", []byte{0xfd, 0xfc, 0x00}},
		{"65535 encoded with 5 bytes", []byte{0xfe, 0xff, 0xff, 0x00, 0x00}},
		{"4294967295 encoded with 9 bytes", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x00}},
	}

	for _, test := range tests {
		if _, err := ReadVarInt(bytes.NewReader(test.buf), ProtocolVersion); err == nil {
			t.Errorf("%s: expected non-canonical encoding rejection", test.name)
		}
	}
}

// TestVarStringRoundTrip property-tests var-string round trips.
func TestVarStringRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringN(0, 512, -1).Draw(t, "s")

		var buf bytes.Buffer
		if err := WriteVarString(&buf, ProtocolVersion, s); err != nil {
			t.Fatalf("WriteVarString: %v", err)
		}
		got, err := ReadVarString(bytes.NewReader(buf.Bytes()), ProtocolVersion)
		if err != nil {
			t.Fatalf("ReadVarString: %v", err)
		}
		if got != s {
			t.Fatalf("round trip mismatch: got %q want %q", got, s)
		}
	})
}

// TestNetAddressRoundTrip property-tests network-address round trips in
// both the timestamped (addr payload) and bare (version payload) forms.
func TestNetAddressRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ipBytes := rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "ip")
		na := &NetAddress{
			Timestamp: time.Unix(int64(rapid.Uint32().Draw(t, "ts")), 0),
			Services:  ServiceFlag(rapid.Uint64().Draw(t, "services")),
			IP:        net.IP(ipBytes),
			Port:      rapid.Uint16().Draw(t, "port"),
		}

		for _, withTS := range []bool{true, false} {
			var buf bytes.Buffer
			if err := writeNetAddress(&buf, ProtocolVersion, na, withTS); err != nil {
				t.Fatalf("writeNetAddress(ts=%v): %v", withTS, err)
			}
			var got NetAddress
			if err := readNetAddress(bytes.NewReader(buf.Bytes()), ProtocolVersion, &got, withTS); err != nil {
				t.Fatalf("readNetAddress(ts=%v): %v", withTS, err)
			}
			if got.Services != na.Services || !got.IP.Equal(na.IP) || got.Port != na.Port {
				t.Fatalf("round trip mismatch (ts=%v): got %v want %v", withTS, got, *na)
			}
			if withTS && !got.Timestamp.Equal(na.Timestamp) {
				t.Fatalf("timestamp mismatch: got %v want %v", got.Timestamp, na.Timestamp)
			}
		}
	})
}
