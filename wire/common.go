// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MaxVarIntPayload is the maximum payload size for a variable length integer.
const MaxVarIntPayload = 9

// MaxMessagePayload is the maximum bytes a message payload can be.
const MaxMessagePayload = (1024 * 1024 * 32) // 32MB

// littleEndian is the byte order of the wire format's fixed-width integer
// fields.
var littleEndian = binary.LittleEndian

// errNonCanonicalVarInt is returned when a variable length integer is
// encoded in a non-canonical (longer than necessary) form.
type errNonCanonicalVarInt string

func (e errNonCanonicalVarInt) Error() string { return string(e) }

// ReadVarInt reads a variable length integer from r and returns it as a
// uint64, matching Bitcoin's CompactSize encoding.
func ReadVarInt(r io.Reader, pver uint32) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}

	var rv uint64
	switch prefix[0] {
	case 0xff:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		rv = littleEndian.Uint64(b[:])
		if rv <= 0xffffffff {
			return 0, errNonCanonicalVarInt(fmt.Sprintf(
				"non-canonical varint %x - discriminant %x must "+
					"encode a value greater than %x", rv, prefix[0], 0xffffffff))
		}
	case 0xfe:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		rv = uint64(littleEndian.Uint32(b[:]))
		if rv <= 0xffff {
			return 0, errNonCanonicalVarInt(fmt.Sprintf(
				"non-canonical varint %x - discriminant %x must "+
					"encode a value greater than %x", rv, prefix[0], 0xffff))
		}
	case 0xfd:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		rv = uint64(littleEndian.Uint16(b[:]))
		if rv < 0xfd {
			return 0, errNonCanonicalVarInt(fmt.Sprintf(
				"non-canonical varint %x - discriminant %x must "+
					"encode a value greater than %x", rv, prefix[0], 0xfd-1))
		}
	default:
		rv = uint64(prefix[0])
	}

	return rv, nil
}

// WriteVarInt writes val to w using Bitcoin's CompactSize encoding, always
// choosing the shortest canonical form.
func WriteVarInt(w io.Writer, pver uint32, val uint64) error {
	if val < 0xfd {
		_, err := w.Write([]byte{byte(val)})
		return err
	}
	if val <= 0xffff {
		buf := make([]byte, 3)
		buf[0] = 0xfd
		littleEndian.PutUint16(buf[1:], uint16(val))
		_, err := w.Write(buf)
		return err
	}
	if val <= 0xffffffff {
		buf := make([]byte, 5)
		buf[0] = 0xfe
		littleEndian.PutUint32(buf[1:], uint32(val))
		_, err := w.Write(buf)
		return err
	}
	buf := make([]byte, 9)
	buf[0] = 0xff
	littleEndian.PutUint64(buf[1:], val)
	_, err := w.Write(buf)
	return err
}

// VarIntSerializeSize returns the number of bytes it would take to encode
// val as a variable length integer.
func VarIntSerializeSize(val uint64) int {
	switch {
	case val < 0xfd:
		return 1
	case val <= 0xffff:
		return 3
	case val <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// ReadVarString reads a variable length string: a CompactSize length prefix
// followed by that many bytes of UTF-8.
func ReadVarString(r io.Reader, pver uint32) (string, error) {
	n, err := ReadVarInt(r, pver)
	if err != nil {
		return "", err
	}

	if n > MaxMessagePayload {
		return "", fmt.Errorf("variable length string is too long "+
			"[%d] - max allowed is %d", n, MaxMessagePayload)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteVarString writes s to w as a CompactSize length prefix followed by
// its bytes.
func WriteVarString(w io.Writer, pver uint32, s string) error {
	if err := WriteVarInt(w, pver, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

// ReadVarBytes reads a variable length byte slice bounded by maxAllowed,
// returning a descriptive error identified by fieldName on overflow.
func ReadVarBytes(r io.Reader, pver uint32, maxAllowed uint32, fieldName string) ([]byte, error) {
	n, err := ReadVarInt(r, pver)
	if err != nil {
		return nil, err
	}
	if n > uint64(maxAllowed) {
		return nil, fmt.Errorf("%s is larger than the max allowed size "+
			"[count %d, max %d]", fieldName, n, maxAllowed)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteVarBytes writes bs to w as a CompactSize length prefix followed by
// its bytes.
func WriteVarBytes(w io.Writer, pver uint32, bs []byte) error {
	if err := WriteVarInt(w, pver, uint64(len(bs))); err != nil {
		return err
	}
	_, err := w.Write(bs)
	return err
}

func readElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *int32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = int32(littleEndian.Uint32(b[:]))
		return nil
	case *uint32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = littleEndian.Uint32(b[:])
		return nil
	case *int64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = int64(littleEndian.Uint64(b[:]))
		return nil
	case *uint64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = littleEndian.Uint64(b[:])
		return nil
	case *bool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = b[0] != 0
		return nil
	case *chainhash.Hash:
		_, err := io.ReadFull(r, e[:])
		return err
	default:
		return binary.Read(r, littleEndian, element)
	}
}

func writeElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case int32:
		var b [4]byte
		littleEndian.PutUint32(b[:], uint32(e))
		_, err := w.Write(b[:])
		return err
	case uint32:
		var b [4]byte
		littleEndian.PutUint32(b[:], e)
		_, err := w.Write(b[:])
		return err
	case int64:
		var b [8]byte
		littleEndian.PutUint64(b[:], uint64(e))
		_, err := w.Write(b[:])
		return err
	case uint64:
		var b [8]byte
		littleEndian.PutUint64(b[:], e)
		_, err := w.Write(b[:])
		return err
	case bool:
		var b [1]byte
		if e {
			b[0] = 1
		}
		_, err := w.Write(b[:])
		return err
	case chainhash.Hash:
		_, err := w.Write(e[:])
		return err
	default:
		return binary.Write(w, littleEndian, element)
	}
}

// ReadTimestamp reads a 4-byte unix timestamp (second precision), the
// encoding used by net addresses and version messages.
func ReadTimestamp(r io.Reader) (time.Time, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(littleEndian.Uint32(b[:])), 0), nil
}

// WriteTimestamp writes t truncated to second precision as a 4-byte unix
// timestamp.
func WriteTimestamp(w io.Writer, t time.Time) error {
	var b [4]byte
	littleEndian.PutUint32(b[:], uint32(t.Unix()))
	_, err := w.Write(b[:])
	return err
}
