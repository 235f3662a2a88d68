// Copyright (c) 2013, 2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcutil

import (
	"errors"
	"math"
	"strconv"
)

// AmountUnit describes a denomination of satoshis.
type AmountUnit int

// These constants define various units used when formatting an Amount.
const (
	AmountMegaBTC  AmountUnit = 6
	AmountKiloBTC  AmountUnit = 3
	AmountBTC      AmountUnit = 0
	AmountMilliBTC AmountUnit = -3
	AmountMicroBTC AmountUnit = -6
	AmountSatoshi  AmountUnit = -8
)

// String returns the unit's abbreviation.
func (u AmountUnit) String() string {
	switch u {
	case AmountMegaBTC:
		return "MBTC"
	case AmountKiloBTC:
		return "kBTC"
	case AmountBTC:
		return "BTC"
	case AmountMilliBTC:
		return "mBTC"
	case AmountMicroBTC:
		return "μBTC"
	case AmountSatoshi:
		return "Satoshi"
	default:
		return "1e" + strconv.FormatInt(int64(u), 10) + " BTC"
	}
}

// SatoshiPerBitcoin is the number of satoshis in one bitcoin (1e8).
const SatoshiPerBitcoin = 1e8

// MaxSatoshi is the maximum transaction amount allowed in satoshis, fixed
// by the 21 million BTC supply cap.
const MaxSatoshi = 21_000_000 * SatoshiPerBitcoin

// Amount represents a quantity of satoshis, the smallest indivisible unit
// of value.
type Amount int64

// round converts a floating point value to the nearest integer, rounding
// ties away from zero.
func round(f float64) Amount {
	if f < 0 {
		return Amount(f - 0.5)
	}
	return Amount(f + 0.5)
}

// NewAmount converts a floating point BTC amount into an Amount.
func NewAmount(f float64) (Amount, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("invalid bitcoin amount")
	}
	return round(f * SatoshiPerBitcoin), nil
}

// ToUnit converts a monetary amount counted in bitcoin base units to a
// floating point value representing an amount of the given unit.
func (a Amount) ToUnit(u AmountUnit) float64 {
	return float64(a) / math.Pow10(int(u+8))
}

// ToBTC is a convenience method equivalent to ToUnit(AmountBTC).
func (a Amount) ToBTC() float64 { return a.ToUnit(AmountBTC) }

// Format formats the amount using the given unit, followed by the unit's
// abbreviation.
func (a Amount) Format(u AmountUnit) string {
	units := " " + u.String()
	formatted := strconv.FormatFloat(a.ToUnit(u), 'f', -int(u+8), 64)
	return formatted + units
}

// String is the equivalent of calling Format with AmountBTC.
func (a Amount) String() string { return a.Format(AmountBTC) }

// MulF64 multiplies the amount by f, rounding to the nearest whole
// satoshi.
func (a Amount) MulF64(f float64) Amount { return round(float64(a) * f) }
