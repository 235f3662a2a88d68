// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package net

import "errors"

// ErrMalformed classifies a framing/checksum/decode failure: the peer sent
// bytes that do not parse as a valid message, which Pool treats as an
// automatic misbehavior-score bump.
var ErrMalformed = errors.New("net: malformed message")

// ErrRateLimited is returned when a peer's inbound byte/message rate
// exceeds the configured limiter; Pool treats repeated occurrences as
// misbehavior (a PolicyRejected-flavored stall, not a protocol violation).
var ErrRateLimited = errors.New("net: inbound rate exceeded")

// ErrProtocolTooOld is returned during handshake negotiation when a peer
// advertises a protocol version below MinAcceptableProtocolVersion.
var ErrProtocolTooOld = errors.New("net: peer protocol version too old")

// ErrUnexpectedMessage is returned during handshake negotiation when a peer
// sends anything other than the expected next message in the
// version/verack exchange.
var ErrUnexpectedMessage = errors.New("net: unexpected message during handshake")

// ErrSelfConnect is returned when a peer's version nonce matches one of our
// own recently-sent nonces, indicating we connected to ourselves.
var ErrSelfConnect = errors.New("net: detected connection to self")
