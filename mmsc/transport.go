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

package mmsc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ubports/mmsd/config"
	"github.com/ubports/mmsd/log"
)

func newTransport(req Request, cfg *config.Config) *http.Transport {
	t := &http.Transport{
		DialContext:           dialer(req.Route, cfg),
		ResponseHeaderTimeout: cfg.SocketTimeout(),
		DisableKeepAlives:     true,
	}
	if req.APN != nil && req.APN.IsProxySet() {
		t.Proxy = http.ProxyURL(&url.URL{
			Scheme: "http",
			Host:   net.JoinHostPort(req.APN.ProxyHost, strconv.Itoa(req.APN.ProxyPort)),
		})
	}
	return t
}

// dialer resolves the target through the route and tries each address in
// turn, returning the last failure when none connects.
func dialer(route Route, cfg *config.Config) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if route == nil {
			d := &net.Dialer{Timeout: cfg.SocketTimeout()}
			return d.DialContext(ctx, network, addr)
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := route.ResolveHost(ctx, host)
		if err != nil {
			return nil, err
		}
		d, err := route.Dialer()
		if err != nil {
			return nil, err
		}
		d.Timeout = cfg.SocketTimeout()
		var lastErr error
		for _, ip := range ips {
			target := net.JoinHostPort(ip.String(), port)
			conn, err := d.DialContext(ctx, "tcp", target)
			if err == nil {
				return conn, nil
			}
			log.Debugf("Cannot connect to %s for %s: %v", target, host, err)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		if lastErr == nil {
			lastErr = errors.New("no addresses")
		}
		return nil, fmt.Errorf("connect %s: %w", host, lastErr)
	}
}
