// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package net implements the Net component of this module: message framing,
// the version/verack handshake, and the inbound rate limiting that sits
// between a raw socket and the Pool's per-peer state machine. It does not
// itself own any goroutines or sockets; Conn wraps a net.Conn and every
// method is synchronous, so callers (the Loop reactor, via Pool) control
// when I/O actually happens.
package net

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/btcnode/node/wire"
)

// Conn wraps a raw network connection with the magic-prefixed framing of
// the peer protocol: magic(4) | command(12) | length(4) | checksum(4) |
// payload(length). Reads are rate limited so a single misbehaving peer
// cannot starve the loop thread decoding an oversized stream; written
// bytes are charged to a separate limiter but writes are never refused.
type Conn struct {
	netConn net.Conn

	btcnet wire.BitcoinNet
	pver   uint32

	readLimiter  *RateLimiter
	writeLimiter *RateLimiter

	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
}

// Default byte-rate limits applied to every connection NewConn wraps.
const (
	defaultReadBytesPerSec  = 1 << 20 // 1 MiB/s
	defaultWriteBytesPerSec = 1 << 20
	defaultBurstBytes       = 1 << 22 // 4 MiB burst
)

// NewConn wraps an already-connected socket for framed message I/O against
// the given network's magic bytes at the given protocol version.
func NewConn(netConn net.Conn, btcnet wire.BitcoinNet, pver uint32) *Conn {
	return &Conn{
		netConn:      netConn,
		btcnet:       btcnet,
		pver:         pver,
		readLimiter:  NewRateLimiter(defaultBurstBytes, defaultReadBytesPerSec),
		writeLimiter: NewRateLimiter(defaultBurstBytes, defaultWriteBytesPerSec),
	}
}

// RawConn returns the underlying socket, e.g. so the Loop reactor can
// register its file descriptor for readiness notification.
func (c *Conn) RawConn() net.Conn { return c.netConn }

// SetDeadline forwards to the underlying connection; Pool uses this to
// enforce the handshake and stall timeouts.
func (c *Conn) SetDeadline(t time.Time) error { return c.netConn.SetDeadline(t) }

// Close closes the underlying socket.
func (c *Conn) Close() error { return c.netConn.Close() }

// WriteMessage frames and writes a single wire message, then charges the
// bytes written to the write limiter; the write itself never waits on or
// is refused by the limiter. Wire protocol errors from
// BtcEncode are returned unwrapped; callers classify them as malformed
// input from the peer.
func (c *Conn) WriteMessage(msg wire.Message) error {
	n, err := wire.WriteMessageN(c.netConn, msg, c.pver, c.btcnet)
	if n > 0 {
		c.bytesWritten.Add(int64(n))
		c.writeLimiter.Allow(float64(n))
	}
	return err
}

// BytesSent returns the total bytes written to the connection so far.
func (c *Conn) BytesSent() int64 { return c.bytesWritten.Load() }

// BytesReceived returns the total bytes read from the connection so far.
func (c *Conn) BytesReceived() int64 { return c.bytesRead.Load() }

// ReadMessage blocks reading and decoding the next framed message. It
// returns the raw command name (useful for unknown-message logging) and the
// decoded message, or (Malformed) on a framing/checksum/decode failure.
func (c *Conn) ReadMessage() (string, wire.Message, error) {
	cmd, msg, payload, err := wire.ReadMessageN(c.netConn, c.pver, c.btcnet)
	if msg != nil {
		// Frame header is 24 bytes: magic, command, length, checksum.
		c.bytesRead.Add(int64(len(payload) + 24))
	}
	if err != nil {
		if err == io.EOF {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !c.readLimiter.Allow(float64(len(payload) + 24)) {
		return "", nil, ErrRateLimited
	}
	return cmd, msg, nil
}
