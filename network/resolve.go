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
	"context"
	"net"

	"github.com/ubports/mmsd/log"
)

// ResolveHost returns the addresses of host usable on the held path. A
// dual stack resolver happily answers with families the MMS path cannot
// route, so the answer is filtered by the path's families.
func (m *Manager) ResolveHost(ctx context.Context, host string) ([]net.IP, error) {
	h, ok := m.Network()
	if !ok {
		return nil, ErrNoNetwork
	}
	family := h.Family
	if family == 0 {
		family = Dual
	}

	var candidates []net.IP
	if ip := net.ParseIP(host); ip != nil {
		candidates = []net.IP{ip}
	} else {
		lookup := m.opts.Lookup
		if lookup == nil {
			lookup = m.pathResolver(h).LookupIP
		}
		ips, err := lookup(ctx, family.lookupNetwork(), host)
		if err != nil {
			return nil, err
		}
		candidates = ips
	}

	var allowed []net.IP
	for _, ip := range candidates {
		if family.Allows(ip) {
			allowed = append(allowed, ip)
		}
	}
	if len(allowed) == 0 {
		return nil, &NoAddressError{Host: host, Family: family}
	}
	log.Debugf("Resolved %s to %v on %s", host, allowed, h.ID)
	return allowed, nil
}

// pathResolver queries the path's own name servers through a bound dialer.
// Without name servers the system resolver is used.
func (m *Manager) pathResolver(h Handle) *net.Resolver {
	if len(h.Nameservers) == 0 {
		return net.DefaultResolver
	}
	servers := h.Nameservers
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d, err := m.opts.Binder.BindToPath(h)
			if err != nil {
				return nil, err
			}
			var lastErr error
			for _, ns := range servers {
				conn, err := d.DialContext(ctx, network, net.JoinHostPort(ns, "53"))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, lastErr
		},
	}
}
