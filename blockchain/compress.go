// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import "github.com/btcsuite/btcd/btcec/v2"

// This file implements a compact encoding for unspent transaction outputs,
// used by the persistent UTXO-set records chainio.go writes: amounts are
// compressed with a decimal-exponent scheme, and the output script is
// compressed by recognizing the common standard forms (P2PKH, P2SH, and
// compressed/uncompressed P2PK) and storing only what cannot be derived.
//
// The script templates are matched directly against the raw opcode bytes
// rather than through the script interpreter, mirroring how this
// compression scheme has always been implemented: it is purely a storage
// optimization and has nothing to do with script execution semantics.

// -----------------------------------------------------------------------
// Variable Length Quantities (VLQ)
// -----------------------------------------------------------------------

// serializeSizeVLQ returns the number of bytes it would take to serialize
// the passed number as a variable-length quantity according to the format
// described above.
func serializeSizeVLQ(n uint64) int {
	size := 1
	for ; n > 0x7f; n = (n >> 7) - 1 {
		size++
	}

	return size
}

// putVLQ serializes the provided number to a variable-length quantity
// according to the format described above and returns the number of bytes
// of the encoded value. The result is placed directly into the passed byte
// slice which must be at least large enough to handle the number of bytes
// returned by the serializeSizeVLQ function or it will panic.
func putVLQ(target []byte, n uint64) int {
	offset := 0
	for ; ; offset++ {
		// The high bit is set except for the last byte.
		target[offset] = byte(n&0x7f) | 0x80

		if n <= 0x7f {
			break
		}
		n = (n >> 7) - 1
	}
	target[offset] &= 0x7f

	// Reverse the bytes so it is MSB-first.
	for i, j := 0, offset; i < j; i, j = i+1, j-1 {
		target[i], target[j] = target[j], target[i]
	}

	return offset + 1
}

// deserializeVLQ deserializes the provided variable-length quantity
// according to the format described above and returns the number as well
// as the number of bytes deserialized.
func deserializeVLQ(serialized []byte) (uint64, int) {
	var n uint64
	var size int
	for _, val := range serialized {
		size++
		n = (n << 7) | uint64(val&0x7f)
		if val&0x80 != 0x80 {
			break
		}
		n++
	}

	return n, size
}

// -----------------------------------------------------------------------
// Compressed transaction amounts
// -----------------------------------------------------------------------

// compressTxOutAmount compresses the passed amount according to the domain
// specific compression algorithm described above.
func compressTxOutAmount(amount uint64) uint64 {
	if amount == 0 {
		return 0
	}

	e := uint64(0)
	for amount%10 == 0 && e < 9 {
		amount /= 10
		e++
	}

	if e < 9 {
		d := amount % 10
		amount /= 10
		return 1 + 10*(9*amount+d-1) + e
	}

	return 1 + (amount-1)*10 + 9
}

// decompressTxOutAmount returns the original amount the passed compressed
// amount represents.
func decompressTxOutAmount(amount uint64) uint64 {
	if amount == 0 {
		return 0
	}

	amount--

	e := amount % 10
	amount /= 10

	var n uint64
	if e < 9 {
		d := amount%9 + 1
		amount /= 9
		n = amount*10 + d
	} else {
		n = amount + 1
	}

	for ; e > 0; e-- {
		n *= 10
	}

	return n
}

// -----------------------------------------------------------------------
// Compressed script encoding
// -----------------------------------------------------------------------

// Opcode values needed to recognize the standard script templates below.
// Kept local to this file rather than imported from the script engine
// since this is purely a byte-pattern match, not script execution.
const (
	opDup          = 0x76
	opHash160      = 0xa9
	opData20       = 0x14
	opData33       = 0x21
	opData65       = 0x41
	opEqual        = 0x87
	opEqualVerify  = 0x88
	opCheckSig     = 0xac
)

// Compressed script type identifiers. 0 and 1 carry a 20-byte hash, while
// 2-5 carry a 32-byte pubkey x-coordinate; all other scripts are stored
// with a VLQ-encoded length prefix offset past these reserved values.
const (
	cstPayToPubKeyHash    = 0
	cstPayToScriptHash    = 1
	cstPayToPubKeyComp0   = 2
	cstPayToPubKeyComp1   = 3
	cstPayToPubKeyUncomp0 = 4
	cstPayToPubKeyUncomp1 = 5

	numSpecialScripts = 6
)

// isPubKeyHash returns the 20-byte hash and true if the script matches the
// standard pay-to-pubkey-hash template.
func isPubKeyHash(script []byte) ([]byte, bool) {
	if len(script) == 25 &&
		script[0] == opDup && script[1] == opHash160 &&
		script[2] == opData20 && script[23] == opEqualVerify &&
		script[24] == opCheckSig {
		return script[3:23], true
	}
	return nil, false
}

// isScriptHash returns the 20-byte hash and true if the script matches the
// standard pay-to-script-hash template.
func isScriptHash(script []byte) ([]byte, bool) {
	if len(script) == 23 &&
		script[0] == opHash160 && script[1] == opData20 &&
		script[22] == opEqual {
		return script[2:22], true
	}
	return nil, false
}

// isPubKeyCompressed returns the 33-byte compressed pubkey and true if the
// script matches the standard pay-to-pubkey template using a compressed
// public key.
func isPubKeyCompressed(script []byte) ([]byte, bool) {
	if len(script) == 35 && script[0] == opData33 &&
		script[34] == opCheckSig &&
		(script[1] == 0x02 || script[1] == 0x03) {
		return script[1:34], true
	}
	return nil, false
}

// isPubKeyUncompressed returns the 65-byte uncompressed pubkey and true if
// the script matches the standard pay-to-pubkey template using an
// uncompressed public key.
func isPubKeyUncompressed(script []byte) ([]byte, bool) {
	if len(script) == 67 && script[0] == opData65 &&
		script[66] == opCheckSig && script[1] == 0x04 {
		return script[1:66], true
	}
	return nil, false
}

// compressedScriptSize returns the number of bytes the passed script would
// take when encoded with the domain specific compression algorithm
// described above.
func compressedScriptSize(pkScript []byte) int {
	if _, ok := isPubKeyHash(pkScript); ok {
		return 21
	}
	if _, ok := isScriptHash(pkScript); ok {
		return 21
	}
	if _, ok := isPubKeyCompressed(pkScript); ok {
		return 33
	}
	if _, ok := isPubKeyUncompressed(pkScript); ok {
		return 33
	}

	return serializeSizeVLQ(uint64(len(pkScript)+numSpecialScripts)) + len(pkScript)
}

// putCompressedScript compresses the passed script according to the domain
// specific compression algorithm and writes it to the passed target byte
// slice. The target byte slice must be at least large enough to handle the
// number of bytes returned by the compressedScriptSize function or it will
// panic.
func putCompressedScript(target, pkScript []byte) int {
	if hash, ok := isPubKeyHash(pkScript); ok {
		target[0] = cstPayToPubKeyHash
		copy(target[1:21], hash)
		return 21
	}
	if hash, ok := isScriptHash(pkScript); ok {
		target[0] = cstPayToScriptHash
		copy(target[1:21], hash)
		return 21
	}
	if pubKey, ok := isPubKeyCompressed(pkScript); ok {
		target[0] = pubKey[0]
		copy(target[1:33], pubKey[1:33])
		return 33
	}
	if pubKey, ok := isPubKeyUncompressed(pkScript); ok {
		// Encode the parity of the Y coordinate into the header byte
		// and store only the X coordinate, reconstructing the full
		// uncompressed key on decode (cstPayToPubKeyUncomp0/1).
		target[0] = cstPayToPubKeyUncomp0 + (pubKey[64] & 0x01)
		copy(target[1:33], pubKey[1:33])
		return 33
	}

	// Non-standard scripts are encoded using their normal bytes prefixed
	// by the length of the script encoded as a VLQ, offset so it never
	// collides with the reserved special-script identifiers above.
	offsetLen := serializeSizeVLQ(uint64(len(pkScript) + numSpecialScripts))
	putVLQ(target, uint64(len(pkScript)+numSpecialScripts))
	copy(target[offsetLen:], pkScript)
	return offsetLen + len(pkScript)
}

// decompressScript returns the original script obtained by decompressing the
// passed serialized bytes according to the domain specific compression
// algorithm described above, along with the number of bytes read.
func decompressScript(serialized []byte) ([]byte, int, error) {
	if len(serialized) == 0 {
		return nil, 0, nil
	}

	switch serialized[0] {
	case cstPayToPubKeyHash:
		if len(serialized) < 21 {
			return nil, len(serialized), errDeserialize("unexpected end of data after pubkey hash")
		}
		script := make([]byte, 25)
		script[0], script[1], script[2] = opDup, opHash160, opData20
		copy(script[3:23], serialized[1:21])
		script[23], script[24] = opEqualVerify, opCheckSig
		return script, 21, nil

	case cstPayToScriptHash:
		if len(serialized) < 21 {
			return nil, len(serialized), errDeserialize("unexpected end of data after script hash")
		}
		script := make([]byte, 23)
		script[0], script[1] = opHash160, opData20
		copy(script[2:22], serialized[1:21])
		script[22] = opEqual
		return script, 21, nil

	case cstPayToPubKeyComp0, cstPayToPubKeyComp1:
		if len(serialized) < 33 {
			return nil, len(serialized), errDeserialize("unexpected end of data after pubkey")
		}
		script := make([]byte, 35)
		script[0] = opData33
		script[1] = serialized[0]
		copy(script[2:34], serialized[1:33])
		script[34] = opCheckSig
		return script, 33, nil

	case cstPayToPubKeyUncomp0, cstPayToPubKeyUncomp1:
		if len(serialized) < 33 {
			return nil, len(serialized), errDeserialize("unexpected end of data after pubkey")
		}
		// Recover the full uncompressed key from the X coordinate and
		// the Y parity carried in the header byte.
		compressedKey := make([]byte, 33)
		compressedKey[0] = 0x02 + (serialized[0] - cstPayToPubKeyUncomp0)
		copy(compressedKey[1:], serialized[1:33])
		key, err := btcec.ParsePubKey(compressedKey)
		if err != nil {
			return nil, 33, errDeserialize("unable to decompress pubkey: " + err.Error())
		}
		script := make([]byte, 67)
		script[0] = opData65
		copy(script[1:66], key.SerializeUncompressed())
		script[66] = opCheckSig
		return script, 33, nil
	}

	scriptSize, bytesRead := deserializeVLQ(serialized)
	if scriptSize < numSpecialScripts {
		return nil, bytesRead, errDeserialize("corrupt script size")
	}
	scriptSize -= numSpecialScripts
	if uint64(len(serialized[bytesRead:])) < scriptSize {
		return nil, bytesRead, errDeserialize("unexpected end of data after script size")
	}

	script := make([]byte, scriptSize)
	copy(script, serialized[bytesRead:bytesRead+int(scriptSize)])
	totalSize := bytesRead + int(scriptSize)
	return script, totalSize, nil
}

// compressedTxOutSize returns the number of bytes the passed transaction
// output fields would take when encoded with the domain specific
// compression algorithms described above.
func compressedTxOutSize(amount uint64, pkScript []byte) int {
	return serializeSizeVLQ(compressTxOutAmount(amount)) +
		compressedScriptSize(pkScript)
}

// putCompressedTxOut potentially compresses the passed amount and script
// according to the domain specific compression algorithms and writes the
// result to the passed target byte slice. The target byte slice must be at
// least large enough to handle the number of bytes returned by the
// compressedTxOutSize function or it will panic.
func putCompressedTxOut(target []byte, amount uint64, pkScript []byte) int {
	offset := putVLQ(target, compressTxOutAmount(amount))
	offset += putCompressedScript(target[offset:], pkScript)
	return offset
}

// decompressTxOut decodes the passed compressed txout, possibly followed by
// other data, into its uncompressed amount and script and returns them along
// with the number of bytes read.
func decompressTxOut(serialized []byte) (int64, []byte, int, error) {
	compressedAmount, bytesRead := deserializeVLQ(serialized)
	if bytesRead >= len(serialized) {
		return 0, nil, bytesRead, errDeserialize("unexpected end of " +
			"data after compressed amount")
	}
	amount := decompressTxOutAmount(compressedAmount)

	script, bytesRead2, err := decompressScript(serialized[bytesRead:])
	if err != nil {
		return 0, nil, bytesRead + bytesRead2, err
	}

	return int64(amount), script, bytesRead + bytesRead2, nil
}
