// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr_test

import (
	"net"
	"testing"
	"time"

	"github.com/btcnode/node/addrmgr"
	"github.com/btcnode/node/wire"
)

func TestChance(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		attempts int
		lastseen time.Time
	}{
		{"fresh address", 0, now.Add(-30 * time.Second)},
		{"one failed attempt", 1, now.Add(-30 * time.Second)},
		{"many failed attempts", 10, now.Add(-30 * time.Second)},
	}

	var prev float64 = 2
	for _, test := range tests {
		na := &wire.NetAddress{IP: net.ParseIP("173.194.115.66")}
		ka := addrmgr.TstNewKnownAddress(na, test.attempts, test.lastseen,
			time.Time{}, false, 0)

		chance := addrmgr.TstKnownAddressChance(ka)
		if chance <= 0 || chance > 1 {
			t.Fatalf("%s: chance %v out of range", test.name, chance)
		}
		if chance > prev {
			t.Fatalf("%s: chance %v should not exceed previous %v",
				test.name, chance, prev)
		}
		prev = chance
	}
}

func TestIsBad(t *testing.T) {
	now := time.Now()
	// lastAttempt must be outside the one-minute grace window or isBad
	// returns false before ever consulting the other fields.
	lastAttempt := now.Add(-2 * time.Minute)
	future := now.Add(35 * time.Minute)
	monthOld := now.Add(-43 * 24 * time.Hour)

	tests := []struct {
		name        string
		timestamp   time.Time
		lastsuccess time.Time
		attempts    int
		want        bool
	}{
		{"good address", now, now, 0, false},
		{"claims to be from the future", future, time.Time{}, 0, true},
		{"hasn't been seen in over a month", monthOld, time.Time{}, 0, true},
		{"too many failed attempts, never succeeded", now, time.Time{}, 3, true},
	}

	for _, test := range tests {
		na := &wire.NetAddress{IP: net.ParseIP("173.194.115.66"), Timestamp: test.timestamp}
		ka := addrmgr.TstNewKnownAddress(na, test.attempts, lastAttempt,
			test.lastsuccess, false, 0)

		got := addrmgr.TstKnownAddressIsBad(ka)
		if got != test.want {
			t.Errorf("%s: isBad = %v, want %v", test.name, got, test.want)
		}
	}
}
