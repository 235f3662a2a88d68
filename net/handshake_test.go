// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package net

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/btcnode/node/wire"
)

// pipeConns returns two framed Conns joined by an in-memory duplex pipe.
func pipeConns() (*Conn, *Conn) {
	c1, c2 := net.Pipe()
	return NewConn(c1, wire.MainNet, wire.ProtocolVersion),
		NewConn(c2, wire.MainNet, wire.ProtocolVersion)
}

func testVersion(nonce uint64, height int32) *wire.MsgVersion {
	me := wire.NewNetAddressIPPort(net.IPv4zero, 0, wire.SFNodeNetwork)
	you := wire.NewNetAddressIPPort(net.IPv4zero, 0, 0)
	return OutboundVersion(me, you, nonce, height, "/handshaketest:0.0.1/")
}

// TestHandshake drives both halves of the version/verack exchange over a
// pipe and checks each side learns the other's advertised identity.
func TestHandshake(t *testing.T) {
	dialer, listener := pipeConns()
	notOurs := func(uint64) bool { return false }

	type result struct {
		res *HandshakeResult
		err error
	}
	dialerCh := make(chan result, 1)
	listenerCh := make(chan result, 1)

	go func() {
		res, err := NegotiateOutbound(dialer, testVersion(1, 100), notOurs)
		dialerCh <- result{res, err}
	}()
	go func() {
		build := func(*wire.NetAddress) *wire.MsgVersion { return testVersion(2, 200) }
		res, err := NegotiateInbound(listener, build, notOurs)
		listenerCh <- result{res, err}
	}()

	checks := []struct {
		name       string
		ch         chan result
		wantHeight int32
	}{
		{"dialer", dialerCh, 200},
		{"listener", listenerCh, 100},
	}
	for _, check := range checks {
		select {
		case r := <-check.ch:
			if r.err != nil {
				t.Fatalf("%s handshake failed: %v", check.name, r.err)
			}
			if r.res.UserAgent != "/handshaketest:0.0.1/" {
				t.Fatalf("%s: unexpected user agent %q", check.name, r.res.UserAgent)
			}
			if r.res.StartHeight != check.wantHeight {
				t.Fatalf("%s: start height %d, want %d", check.name, r.res.StartHeight, check.wantHeight)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s handshake timed out", check.name)
		}
	}
}

// TestHandshakeSelfConnect ensures a connection whose remote version
// carries one of our own nonces is rejected as a self-connection.
func TestHandshakeSelfConnect(t *testing.T) {
	dialer, listener := pipeConns()

	go func() {
		// The "remote" side first consumes the dialer's version (a pipe
		// write blocks until read), then echoes a version bearing nonce
		// 7, which the local side claims as its own.
		listener.ReadMessage()
		listener.WriteMessage(testVersion(7, 0))
	}()

	_, err := NegotiateOutbound(dialer, testVersion(7, 0), func(n uint64) bool { return n == 7 })
	if !errors.Is(err, ErrSelfConnect) {
		t.Fatalf("expected ErrSelfConnect, got %v", err)
	}
}

// TestHandshakeProtocolTooOld ensures an obsolete peer is refused.
func TestHandshakeProtocolTooOld(t *testing.T) {
	dialer, listener := pipeConns()

	go func() {
		listener.ReadMessage()
		old := testVersion(9, 0)
		old.ProtocolVersion = 200
		listener.WriteMessage(old)
	}()

	_, err := NegotiateOutbound(dialer, testVersion(10, 0), func(uint64) bool { return false })
	if !errors.Is(err, ErrProtocolTooOld) {
		t.Fatalf("expected ErrProtocolTooOld, got %v", err)
	}
}
