// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"encoding/binary"
	"net"

	"github.com/btcnode/node/wire"
)

var (
	// rfc1918Nets are the reserved private address ranges RFC1918 carves
	// out of the IPv4 space.
	rfc1918Nets = []net.IPNet{
		ipNet("10.0.0.0", 8, 32),
		ipNet("172.16.0.0", 12, 32),
		ipNet("192.168.0.0", 16, 32),
	}
	rfc3964Net     = ipNet("2002::", 16, 128)
	rfc4193Net     = ipNet("fc00::", 7, 128)
	rfc4380Net     = ipNet("2001::", 32, 128)
	rfc4843Net     = ipNet("2001:10::", 28, 128)
	rfc4862Net     = ipNet("fe80::", 64, 128)
	rfc6052Net     = ipNet("64:ff9b::", 96, 128)
	rfc6145Net     = ipNet("::ffff:0:0:0", 96, 128)
	rfc6598Net     = ipNet("100.64.0.0", 10, 32)
	zero4Net       = ipNet("0.0.0.0", 8, 32)
	onionCatNet    = ipNet("fd87:d87e:eb43::", 48, 128)
	heNet          = ipNet("2001:470::", 32, 128)
)

func ipNet(ip string, ones, bits int) net.IPNet {
	return net.IPNet{IP: net.ParseIP(ip), Mask: net.CIDRMask(ones, bits)}
}

// IsIPv4 returns whether or not the given address is an IPv4 address.
func IsIPv4(na *wire.NetAddress) bool {
	return na.IP.To4() != nil
}

// IsLocal returns whether an address is a local address.
func IsLocal(na *wire.NetAddress) bool {
	return na.IP.IsLoopback() || zero4Net.Contains(na.IP)
}

// IsOnionCatTor returns whether an address is in the IPv6 range used to
// tunnel Tor (.onion) addresses.
func IsOnionCatTor(na *wire.NetAddress) bool {
	return onionCatNet.Contains(na.IP)
}

// IsRFC1918 returns whether an address is in one of the reserved RFC1918
// ranges.
func IsRFC1918(na *wire.NetAddress) bool {
	for _, rfc := range rfc1918Nets {
		if rfc.Contains(na.IP) {
			return true
		}
	}
	return false
}

// IsRFC3964 returns whether an address is an RFC3964 (6to4) address.
func IsRFC3964(na *wire.NetAddress) bool { return rfc3964Net.Contains(na.IP) }

// IsRFC4193 returns whether an address is an RFC4193 (unique local) address.
func IsRFC4193(na *wire.NetAddress) bool { return rfc4193Net.Contains(na.IP) }

// IsRFC4380 returns whether an address is an RFC4380 (Teredo) address.
func IsRFC4380(na *wire.NetAddress) bool { return rfc4380Net.Contains(na.IP) }

// IsRFC4843 returns whether an address is an RFC4843 (ORCHID) address.
func IsRFC4843(na *wire.NetAddress) bool { return rfc4843Net.Contains(na.IP) }

// IsRFC4862 returns whether an address is an RFC4862 (autoconfig) address.
func IsRFC4862(na *wire.NetAddress) bool { return rfc4862Net.Contains(na.IP) }

// IsRFC6052 returns whether an address is an RFC6052 (NAT64) address.
func IsRFC6052(na *wire.NetAddress) bool { return rfc6052Net.Contains(na.IP) }

// IsRFC6145 returns whether an address is an RFC6145 (NAT64 translated)
// address.
func IsRFC6145(na *wire.NetAddress) bool { return rfc6145Net.Contains(na.IP) }

// IsRFC6598 returns whether an address is an RFC6598 (carrier-grade NAT)
// address.
func IsRFC6598(na *wire.NetAddress) bool { return rfc6598Net.Contains(na.IP) }

// IsValid returns whether the address is valid for use -- not unroutable as
// a matter of definition (all bits zero, or a broadcast address).
func IsValid(na *wire.NetAddress) bool {
	if na.IP == nil {
		return false
	}
	return !(na.IP.IsUnspecified() || na.IP.Equal(net.IPv4bcast))
}

// IsRoutable returns whether na is routable on the public internet, per the
// same exclusion list bitcoind applies when deciding whether an address is
// worth relaying.
func IsRoutable(na *wire.NetAddress) bool {
	if !IsValid(na) {
		return false
	}
	if IsRFC1918(na) || IsRFC3964(na) || IsRFC4193(na) || IsRFC4843(na) ||
		IsRFC4862(na) || IsRFC6598(na) || IsLocal(na) {
		return false
	}
	return true
}

// GroupKey returns a key for the address's group, used to ensure that we
// don't group more than one connection (or bucket entry) from the same
// network. The key is the IP's /16 for IPv4, its /32 for IPv6, or the
// special-cased Tor/local groupings.
func GroupKey(na *wire.NetAddress) string {
	if IsLocal(na) {
		return "local"
	}
	if IsOnionCatTor(na) {
		// Group all onion addresses under a single /4 of the ported
		// address space, mirroring how Tor's hidden-service address
		// hashes are grouped.
		return "tor:" + na.IP.String()[:9]
	}

	if !IsIPv4(na) {
		if IsRFC6145(na) || IsRFC6052(na) {
			ip := na.IP[12:16]
			return net.IP(ip).Mask(net.CIDRMask(16, 32)).String()
		}

		if IsRFC3964(na) {
			ip := make(net.IP, 4)
			binary.BigEndian.PutUint32(ip, binary.BigEndian.Uint32(na.IP[2:6]))
			return ip.Mask(net.CIDRMask(16, 32)).String()
		}

		if IsRFC4380(na) {
			ip := make(net.IP, 4)
			for i, b := range na.IP[12:16] {
				ip[i] = ^b
			}
			return ip.Mask(net.CIDRMask(16, 32)).String()
		}

		bits := 32
		if IsRFC4193(na) {
			bits = 104
		} else if IsRFC4843(na) {
			bits = 116
		} else if IsHeNet(na) {
			bits = 36
		} else {
			bits = 32
		}
		return na.IP.Mask(net.CIDRMask(bits, 128)).String()
	}

	ip := na.IP.To4()
	return ip.Mask(net.CIDRMask(16, 32)).String()
}

// IsHeNet returns whether an address is in Hurricane Electric's tunnel
// broker range, grouped coarser than a plain /32 since HE assigns a whole
// /36 per tunnel.
func IsHeNet(na *wire.NetAddress) bool { return heNet.Contains(na.IP) }
