// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"
	"net"
	"time"
)

// NetAddress defines information about a peer on the network, as carried in
// version and addr messages.
type NetAddress struct {
	// Timestamp is only present in messages that use NetAddressTimeVersion
	// or later; callers pass pver through to (De)Serialize to select.
	Timestamp time.Time

	Services ServiceFlag

	IP   net.IP
	Port uint16
}

// NewNetAddressIPPort returns a new NetAddress from an IP, port and service
// flags, stamped with the current time.
func NewNetAddressIPPort(ip net.IP, port uint16, services ServiceFlag) *NetAddress {
	return &NetAddress{
		Timestamp: time.Now(),
		Services:  services,
		IP:        ip,
		Port:      port,
	}
}

// HasService returns whether the address advertises the given service.
func (na *NetAddress) HasService(service ServiceFlag) bool {
	return na.Services.HasFlag(service)
}

// AddService adds service to the set the address advertises.
func (na *NetAddress) AddService(service ServiceFlag) {
	na.Services |= service
}

func readNetAddress(r io.Reader, pver uint32, na *NetAddress, ts bool) error {
	var ip [16]byte

	if ts {
		t, err := ReadTimestamp(r)
		if err != nil {
			return err
		}
		na.Timestamp = t
	}

	if err := readElement(r, &na.Services); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, ip[:]); err != nil {
		return err
	}

	var port [2]byte
	if _, err := io.ReadFull(r, port[:]); err != nil {
		return err
	}

	*na = NetAddress{
		Timestamp: na.Timestamp,
		Services:  na.Services,
		IP:        net.IP(append([]byte(nil), ip[:]...)),
		Port:      uint16(port[0])<<8 | uint16(port[1]),
	}
	return nil
}

func writeNetAddress(w io.Writer, pver uint32, na *NetAddress, ts bool) error {
	if ts {
		if err := WriteTimestamp(w, na.Timestamp); err != nil {
			return err
		}
	}

	if err := writeElement(w, na.Services); err != nil {
		return err
	}

	var ip [16]byte
	if ip4 := na.IP.To4(); ip4 != nil {
		// IPv4-mapped IPv6 address.
		copy(ip[:], []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff})
		copy(ip[12:], ip4)
	} else if na.IP != nil {
		copy(ip[:], na.IP.To16())
	}
	if _, err := w.Write(ip[:]); err != nil {
		return err
	}

	port := [2]byte{byte(na.Port >> 8), byte(na.Port)}
	_, err := w.Write(port[:])
	return err
}
