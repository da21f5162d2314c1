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
	"errors"
	"net"
	"sync"

	"github.com/google/go-cmp/cmp"
	. "launchpad.net/gocheck"
)

type fakeTransport struct {
	mu      sync.Mutex
	enabled bool
	readErr error
	sets    []bool
}

func (t *fakeTransport) IsTransportEnabled() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled, t.readErr
}

func (t *fakeTransport) SetTransportEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	t.sets = append(t.sets, enabled)
	return nil
}

func (t *fakeTransport) BindToPath(h Handle) (*net.Dialer, error) {
	return &net.Dialer{}, nil
}

type DataLeaseTestSuite struct{}

var _ = Suite(&DataLeaseTestSuite{})

func (s *DataLeaseTestSuite) TestRestoresDisabled(c *C) {
	t := &fakeTransport{}
	lease := NewDataLease(t)

	lease.Acquire()
	lease.Acquire()
	c.Check(t.sets, DeepEquals, []bool{true})

	lease.Release()
	c.Check(t.enabled, Equals, true)

	lease.Release()
	c.Check(t.enabled, Equals, false)
	c.Check(t.sets, DeepEquals, []bool{true, false})

	lease.Release()
	c.Check(t.sets, HasLen, 2)
}

func (s *DataLeaseTestSuite) TestLeavesEnabledAlone(c *C) {
	t := &fakeTransport{enabled: true}
	lease := NewDataLease(t)
	lease.Acquire()
	lease.Release()
	c.Check(t.sets, HasLen, 0)
	c.Check(t.enabled, Equals, true)
}

func (s *DataLeaseTestSuite) TestUnreadableStateUntouched(c *C) {
	t := &fakeTransport{readErr: errors.New("no modem")}
	lease := NewDataLease(t)
	lease.Acquire()
	lease.Release()
	c.Check(t.sets, HasLen, 0)
}

type ResolveTestSuite struct {
	platform *fakePlatform
}

var _ = Suite(&ResolveTestSuite{})

var (
	v4 = net.ParseIP("192.0.2.10")
	v6 = net.ParseIP("2001:db8::10")
)

func dualLookup(ctx context.Context, network, host string) ([]net.IP, error) {
	if host == "missing.example" {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	// the answer ignores network on purpose, as a dual stack resolver may
	return []net.IP{v6, v4}, nil
}

func (s *ResolveTestSuite) managerWith(c *C, family Family) *Manager {
	s.platform = &fakePlatform{}
	m := NewManager(s.platform, Options{Lookup: dualLookup})
	hold := m.NewHold()
	_, err := hold.Start()
	c.Assert(err, IsNil)
	s.platform.waitForRequest(c).OnAvailable(Handle{ID: "ctx", Interface: "rmnet0", Family: family})
	return m
}

func (s *ResolveTestSuite) TestFamilies(c *C) {
	testCases := []struct {
		family Family
		want   []net.IP
	}{
		{IPv4, []net.IP{v4}},
		{IPv6, []net.IP{v6}},
		{Dual, []net.IP{v6, v4}},
	}
	for _, tc := range testCases {
		m := s.managerWith(c, tc.family)
		got, err := m.ResolveHost(context.Background(), "mmsc.example")
		c.Assert(err, IsNil)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			c.Errorf("%s: unexpected addresses (-want +got):\n%s", tc.family, diff)
		}
	}
}

func (s *ResolveTestSuite) TestLiteralOfWrongFamily(c *C) {
	m := s.managerWith(c, IPv6)
	_, err := m.ResolveHost(context.Background(), "192.0.2.1")
	var noAddr *NoAddressError
	c.Assert(errors.As(err, &noAddr), Equals, true)
	c.Check(noAddr.Host, Equals, "192.0.2.1")
	c.Check(noAddr.Family, Equals, IPv6)
	c.Check(err, ErrorMatches, "no IPv6 address for 192.0.2.1")
}

func (s *ResolveTestSuite) TestLookupFailure(c *C) {
	m := s.managerWith(c, IPv4)
	_, err := m.ResolveHost(context.Background(), "missing.example")
	var dnsErr *net.DNSError
	c.Check(errors.As(err, &dnsErr), Equals, true)
}

func (s *ResolveTestSuite) TestWithoutNetwork(c *C) {
	m := NewManager(&fakePlatform{}, Options{Lookup: dualLookup})
	_, err := m.ResolveHost(context.Background(), "mmsc.example")
	c.Check(err, Equals, ErrNoNetwork)
}
