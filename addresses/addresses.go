// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package addresses implements encoding and decoding of the standard
// payment address forms the RPC surface needs (validateaddress and
// sendrawtransaction-adjacent tooling turn a human-readable address into a
// locking script and back): base58Check
// P2PKH/P2SH, and bech32/bech32m native segwit v0-v1 (P2WPKH/P2WSH/P2TR).
package addresses

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/ripemd160"

	"github.com/btcnode/node/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcnode/node/txscript"
)

var (
	// ErrInvalidAddress is returned when an address string does not parse
	// as any recognized form.
	ErrInvalidAddress = errors.New("invalid address format")

	// ErrUnsupportedAddressType describes a syntactically valid string
	// whose version/witness byte this module does not implement.
	// ParseAddress does not return it: an unrecognized base58 version byte
	// is reported as ErrWrongNetwork.
	ErrUnsupportedAddressType = errors.New("unsupported address type")

	// ErrInvalidPublicKey is returned when a caller-supplied public key
	// cannot be parsed.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrChecksumMismatch describes a base58Check or bech32 checksum that
	// does not verify. ParseAddress reports such failures as
	// ErrInvalidAddress and does not return this error.
	ErrChecksumMismatch = errors.New("address checksum mismatch")

	// ErrWrongNetwork is returned when an address decodes successfully
	// but its version byte or HRP belongs to a different network.
	ErrWrongNetwork = errors.New("address does not match the configured network")
)

// Address is the common interface satisfied by every recognized payment
// address form.
type Address interface {
	// String returns the address's canonical human-readable encoding.
	String() string

	// ScriptAddress returns the raw bytes (a pubkey hash, script hash, or
	// witness program) the locking script is built from.
	ScriptAddress() []byte

	// PkScript returns the locking script paying this address.
	PkScript() ([]byte, error)

	// IsForNetwork reports whether the address was decoded for params.
	IsForNetwork(params *chaincfg.Params) bool
}

// Hash160 returns RIPEMD160(SHA256(b)), the pubkey/script hash used by
// every address form below.
func Hash160(b []byte) []byte {
	sha := chainhash.HashB(b)
	h := ripemd160.New()
	h.Write(sha)
	return h.Sum(nil)
}

// PubKeyHashAddress is a legacy base58Check P2PKH address ("1..." on
// mainnet).
type PubKeyHashAddress struct {
	hash   [20]byte
	params *chaincfg.Params
}

// NewPubKeyHashAddress builds a P2PKH address from a 20-byte pubkey hash.
func NewPubKeyHashAddress(pkHash []byte, params *chaincfg.Params) (*PubKeyHashAddress, error) {
	if len(pkHash) != 20 {
		return nil, fmt.Errorf("pubkey hash must be 20 bytes, got %d", len(pkHash))
	}
	a := &PubKeyHashAddress{params: params}
	copy(a.hash[:], pkHash)
	return a, nil
}

// NewPubKeyHashAddressFromPubKey hashes a compressed public key and builds
// the resulting P2PKH address.
func NewPubKeyHashAddressFromPubKey(pubKey *btcec.PublicKey, params *chaincfg.Params) (*PubKeyHashAddress, error) {
	if pubKey == nil {
		return nil, ErrInvalidPublicKey
	}
	return NewPubKeyHashAddress(Hash160(pubKey.SerializeCompressed()), params)
}

func (a *PubKeyHashAddress) String() string {
	return base58.CheckEncode(a.hash[:], a.params.PubKeyHashAddrID)
}

func (a *PubKeyHashAddress) ScriptAddress() []byte { return a.hash[:] }

func (a *PubKeyHashAddress) PkScript() ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(a.hash[:]).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

func (a *PubKeyHashAddress) IsForNetwork(params *chaincfg.Params) bool {
	return a.params.PubKeyHashAddrID == params.PubKeyHashAddrID
}

// ScriptHashAddress is a base58Check BIP16 P2SH address ("3..." on
// mainnet).
type ScriptHashAddress struct {
	hash   [20]byte
	params *chaincfg.Params
}

// NewScriptHashAddress builds a P2SH address from a 20-byte script hash.
func NewScriptHashAddress(scriptHash []byte, params *chaincfg.Params) (*ScriptHashAddress, error) {
	if len(scriptHash) != 20 {
		return nil, fmt.Errorf("script hash must be 20 bytes, got %d", len(scriptHash))
	}
	a := &ScriptHashAddress{params: params}
	copy(a.hash[:], scriptHash)
	return a, nil
}

// NewScriptHashAddressFromScript hashes a redeem script and builds the
// resulting P2SH address.
func NewScriptHashAddressFromScript(redeemScript []byte, params *chaincfg.Params) (*ScriptHashAddress, error) {
	return NewScriptHashAddress(Hash160(redeemScript), params)
}

func (a *ScriptHashAddress) String() string {
	return base58.CheckEncode(a.hash[:], a.params.ScriptHashAddrID)
}

func (a *ScriptHashAddress) ScriptAddress() []byte { return a.hash[:] }

func (a *ScriptHashAddress) PkScript() ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(a.hash[:]).
		AddOp(txscript.OP_EQUAL).
		Script()
}

func (a *ScriptHashAddress) IsForNetwork(params *chaincfg.Params) bool {
	return a.params.ScriptHashAddrID == params.ScriptHashAddrID
}

// WitnessAddress is a native segwit address: bech32-encoded v0 (P2WPKH,
// P2WSH) or bech32m-encoded v1 (P2TR), per BIP173/BIP350.
type WitnessAddress struct {
	version byte // 0 for P2WPKH/P2WSH, 1 for P2TR
	program []byte
	params  *chaincfg.Params
}

// NewWitnessAddress builds a native segwit address for the given witness
// version and program (20 bytes for P2WPKH, 32 bytes for P2WSH/P2TR).
func NewWitnessAddress(version byte, program []byte, params *chaincfg.Params) (*WitnessAddress, error) {
	if version > 16 {
		return nil, fmt.Errorf("witness version %d out of range", version)
	}
	if len(program) < 2 || len(program) > 40 {
		return nil, fmt.Errorf("witness program length %d out of range", len(program))
	}
	return &WitnessAddress{version: version, program: program, params: params}, nil
}

func (a *WitnessAddress) String() string {
	converted, err := bech32.ConvertBits(a.program, 8, 5, true)
	if err != nil {
		return ""
	}
	data := append([]byte{a.version}, converted...)
	if a.version == 0 {
		encoded, err := bech32.Encode(a.params.Bech32HRPSegwit, data)
		if err != nil {
			return ""
		}
		return encoded
	}
	encoded, err := bech32.EncodeM(a.params.Bech32HRPSegwit, data)
	if err != nil {
		return ""
	}
	return encoded
}

func (a *WitnessAddress) ScriptAddress() []byte { return a.program }

func (a *WitnessAddress) PkScript() ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	if a.version == 0 {
		builder.AddOp(txscript.OP_0)
	} else {
		builder.AddInt64(int64(a.version))
	}
	return builder.AddData(a.program).Script()
}

func (a *WitnessAddress) IsForNetwork(params *chaincfg.Params) bool {
	return a.params.Bech32HRPSegwit == params.Bech32HRPSegwit
}

// IsTaproot reports whether this is a v1 (P2TR) witness address.
func (a *WitnessAddress) IsTaproot() bool { return a.version == 1 }

// ParseAddress decodes addr for the given network, trying base58Check
// forms first and falling back to bech32/bech32m.
func ParseAddress(addr string, params *chaincfg.Params) (Address, error) {
	if decoded, version, err := base58.CheckDecode(addr); err == nil {
		switch version {
		case params.PubKeyHashAddrID:
			return NewPubKeyHashAddress(decoded, params)
		case params.ScriptHashAddrID:
			return NewScriptHashAddress(decoded, params)
		}
		return nil, ErrWrongNetwork
	}

	hrp, data, bech32Version, err := decodeBech32OrM(addr)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	if hrp != params.Bech32HRPSegwit {
		return nil, ErrWrongNetwork
	}
	if len(data) == 0 {
		return nil, ErrInvalidAddress
	}
	version := data[0]
	if (version == 0) != (bech32Version == bech32.Version0) {
		return nil, ErrInvalidAddress
	}
	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	return NewWitnessAddress(version, program, params)
}

func decodeBech32OrM(addr string) (hrp string, data []byte, version bech32.Version, err error) {
	hrp, data, version, err = bech32.DecodeGeneric(addr)
	return
}

// ValidateAddress reports whether addr is a syntactically and
// network-correct address for params.
func ValidateAddress(addr string, params *chaincfg.Params) error {
	_, err := ParseAddress(addr, params)
	return err
}
