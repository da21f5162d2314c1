//go:build linux

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

package network

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// InterfaceBinder binds sockets to the path's interface with
// SO_BINDTODEVICE. This needs CAP_NET_RAW.
type InterfaceBinder struct{}

func (InterfaceBinder) BindToPath(h Handle) (*net.Dialer, error) {
	d := &net.Dialer{}
	if h.Interface == "" {
		return d, nil
	}
	iface := h.Interface
	d.Control = func(network, address string, c syscall.RawConn) error {
		var bindErr error
		if err := c.Control(func(fd uintptr) {
			bindErr = unix.BindToDevice(int(fd), iface)
		}); err != nil {
			return err
		}
		return bindErr
	}
	return d, nil
}
