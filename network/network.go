/*
 * Copyright 2014 Canonical Ltd.
 *
 * This file is part of mmsd.
 *
 * mmsd is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; version 3.
 *
 * mmsd is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package network acquires and shares the cellular data path used for MMS.
//
// A Manager hands out references on a single path. The first reference asks
// the Platform for a path, the last one gives it back. Every holder shares
// the same Handle, resolves names through ResolveHost and dials through
// Dialer so traffic never leaves the MMS path.
package network

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Family is the set of address families usable on a path.
type Family uint8

const (
	IPv4 Family = 1 << iota
	IPv6

	Dual = IPv4 | IPv6
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	case Dual:
		return "IPv4/IPv6"
	}
	return "none"
}

// Allows reports whether ip belongs to one of the families in f.
func (f Family) Allows(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.To4() != nil {
		return f&IPv4 != 0
	}
	return f&IPv6 != 0
}

// lookupNetwork is the network argument for net.Resolver.LookupIP.
func (f Family) lookupNetwork() string {
	switch f {
	case IPv4:
		return "ip4"
	case IPv6:
		return "ip6"
	}
	return "ip"
}

// Handle describes an established data path.
type Handle struct {
	ID          string
	Interface   string
	Family      Family
	Nameservers []string
}

func (h Handle) String() string {
	return fmt.Sprintf("%s (%s %s dns=%s)", h.ID, h.Interface, h.Family, strings.Join(h.Nameservers, ","))
}

// Callback receives path updates for a request issued to a Platform.
// Implementations must not be called synchronously from RequestNetwork.
// OnUnavailable ends a request that never produced a path.
type Callback interface {
	OnAvailable(h Handle)
	OnLost(h Handle)
	OnUnavailable()
}

// Platform is the system side of path acquisition.
type Platform interface {
	RequestNetwork(cb Callback) error
	UnregisterNetworkCallback(cb Callback)
	IsAirplaneModeOn() bool
}

// Binder pins outgoing connections to a path.
type Binder interface {
	BindToPath(h Handle) (*net.Dialer, error)
}

// Transport is the system wide mobile data switch plus path binding.
type Transport interface {
	Binder
	IsTransportEnabled() (bool, error)
	SetTransportEnabled(enabled bool) error
}

// AcquireError means no path could be obtained. It is always worth retrying
// later.
type AcquireError struct {
	Reason string
	Err    error
}

func (e *AcquireError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network acquisition: %s: %v", e.Reason, e.Err)
	}
	return "network acquisition: " + e.Reason
}

func (e *AcquireError) Unwrap() error { return e.Err }

var (
	ErrAirplaneMode   = &AcquireError{Reason: "airplane mode is on"}
	ErrAcquireTimeout = &AcquireError{Reason: "timed out waiting for network"}
	ErrNetworkLost    = &AcquireError{Reason: "network lost while waiting"}
	ErrUnavailable    = &AcquireError{Reason: "network could not be brought up"}
	ErrNoNetwork      = &AcquireError{Reason: "no network held"}
)

// NoAddressError is returned when a host has no address in the families
// the path supports.
type NoAddressError struct {
	Host   string
	Family Family
}

func (e *NoAddressError) Error() string {
	return fmt.Sprintf("no %s address for %s", e.Family, e.Host)
}

var errUnsupportedBinding = errors.New("binding to an interface is not supported on this system")
