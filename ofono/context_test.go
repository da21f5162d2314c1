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

package ofono

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ubports/mmsd/apn"
	"github.com/ubports/mmsd/network"
	"launchpad.net/go-dbus"
	. "launchpad.net/gocheck"
)

func Test(t *testing.T) { TestingT(t) }

type ContextTestSuite struct {
	modem    *Modem
	provider *Provider
	contexts []OfonoContext
}

var _ = Suite(&ContextTestSuite{})

var proxy ProxyInfo

func makeGenericContextProperty(name, cType string, active, messageCenter, messageProxy bool) PropertiesType {
	p := make(PropertiesType)
	p["Name"] = dbus.Variant{Value: name}
	p["Type"] = dbus.Variant{Value: cType}
	p["Active"] = dbus.Variant{Value: active}
	if messageCenter {
		p["MessageCenter"] = dbus.Variant{Value: "http://messagecenter.com"}
	} else {
		p["MessageCenter"] = dbus.Variant{Value: ""}
	}
	if messageProxy {
		p["MessageProxy"] = dbus.Variant{Value: proxy.String()}
	} else {
		p["MessageProxy"] = dbus.Variant{Value: ""}
	}
	return p
}

func (s *ContextTestSuite) SetUpTest(c *C) {
	s.modem = &Modem{Modem: "/ril_0", online: true}
	s.provider = NewProvider(nil, nil)
	s.provider.SetModem(s.modem)
	s.contexts = []OfonoContext{}
	proxy = ProxyInfo{
		Host: "4.4.4.4",
		Port: 9999,
	}
	getOfonoProps = func(conn *dbus.Connection, objectPath dbus.ObjectPath, destination, iface, method string) (oProps []OfonoContext, err error) {
		return s.contexts, nil
	}
}

func (s *ContextTestSuite) TestNoContext(c *C) {
	contexts, err := s.modem.GetMMSContexts("")
	c.Check(contexts, HasLen, 0)
	c.Assert(err, Equals, ErrNoContexts)
}

func (s *ContextTestSuite) TestMMSOverInternet(c *C) {
	context1 := OfonoContext{
		ObjectPath: "/ril_0/context1",
		Properties: makeGenericContextProperty("Context1", contextTypeInternet, true, true, true),
	}
	s.contexts = append(s.contexts, context1)

	contexts, err := s.modem.GetMMSContexts("")
	c.Assert(err, IsNil)
	c.Check(contexts, DeepEquals, []OfonoContext{context1})
}

func (s *ContextTestSuite) TestMMSOverInactiveInternet(c *C) {
	context1 := OfonoContext{
		ObjectPath: "/ril_0/context1",
		Properties: makeGenericContextProperty("Context1", contextTypeInternet, false, true, true),
	}
	s.contexts = append(s.contexts, context1)

	_, err := s.modem.GetMMSContexts("")
	c.Assert(err, Equals, ErrNoContexts)
}

func (s *ContextTestSuite) TestMMSOverMMS(c *C) {
	context1 := OfonoContext{
		ObjectPath: "/ril_0/context1",
		Properties: makeGenericContextProperty("Context1", contextTypeInternet, true, false, false),
	}
	context2 := OfonoContext{
		ObjectPath: "/ril_0/context2",
		Properties: makeGenericContextProperty("Context2", contextTypeMMS, false, true, true),
	}
	s.contexts = append(s.contexts, context1, context2)

	contexts, err := s.modem.GetMMSContexts("")
	c.Assert(err, IsNil)
	c.Check(contexts, DeepEquals, []OfonoContext{context2})
}

func (s *ContextTestSuite) TestMMSPreferInternetOverMMS(c *C) {
	context1 := OfonoContext{
		ObjectPath: "/ril_0/context1",
		Properties: makeGenericContextProperty("Context1", contextTypeMMS, false, true, false),
	}
	context2 := OfonoContext{
		ObjectPath: "/ril_0/context2",
		Properties: makeGenericContextProperty("Context2", contextTypeInternet, true, true, false),
	}
	s.contexts = append(s.contexts, context1, context2)

	contexts, err := s.modem.GetMMSContexts("")
	c.Assert(err, IsNil)
	c.Check(contexts, DeepEquals, []OfonoContext{context2, context1})
}

func (s *ContextTestSuite) TestPreferredContextFirst(c *C) {
	context1 := OfonoContext{
		ObjectPath: "/ril_0/context1",
		Properties: makeGenericContextProperty("Context1", contextTypeMMS, false, true, false),
	}
	context2 := OfonoContext{
		ObjectPath: "/ril_0/context2",
		Properties: makeGenericContextProperty("Context2", contextTypeMMS, false, true, false),
	}
	s.contexts = append(s.contexts, context1, context2)

	contexts, err := s.modem.GetMMSContexts("/ril_0/context2")
	c.Assert(err, IsNil)
	c.Check(contexts, DeepEquals, []OfonoContext{context2, context1})
}

func (s *ContextTestSuite) TestGetProxy(c *C) {
	context := OfonoContext{
		ObjectPath: "/ril_0/context1",
		Properties: makeGenericContextProperty("Context1", contextTypeInternet, true, true, true),
	}

	p, err := context.GetProxy()
	c.Assert(err, IsNil)
	c.Check(p, DeepEquals, proxy)
}

func (s *ContextTestSuite) TestGetProxyNoProxy(c *C) {
	context := OfonoContext{
		ObjectPath: "/ril_0/context1",
		Properties: makeGenericContextProperty("Context1", contextTypeInternet, true, true, false),
	}

	p, err := context.GetProxy()
	c.Assert(err, IsNil)
	c.Check(p, DeepEquals, ProxyInfo{})
}

func (s *ContextTestSuite) TestGetProxyWithHTTP(c *C) {
	context := OfonoContext{
		ObjectPath: "/ril_0/context1",
		Properties: makeGenericContextProperty("Context1", contextTypeInternet, true, true, true),
	}
	context.Properties["MessageProxy"] = dbus.Variant{Value: fmt.Sprintf("http://%s:%d", proxy.Host, proxy.Port)}

	p, err := context.GetProxy()
	c.Assert(err, IsNil)
	c.Check(p, DeepEquals, proxy)
}

func (s *ContextTestSuite) TestGetProxyNoPort(c *C) {
	context := OfonoContext{
		ObjectPath: "/ril_0/context1",
		Properties: makeGenericContextProperty("Context1", contextTypeInternet, true, true, true),
	}
	context.Properties["MessageProxy"] = dbus.Variant{Value: fmt.Sprintf("http://%s", proxy.Host)}

	p, err := context.GetProxy()
	c.Assert(err, IsNil)
	c.Check(p, DeepEquals, ProxyInfo{Host: proxy.Host, Port: 80})
}

func (s *ContextTestSuite) TestRows(c *C) {
	internet := OfonoContext{
		ObjectPath: "/ril_0/context1",
		Properties: makeGenericContextProperty("Internet", contextTypeInternet, true, true, false),
	}
	mms := OfonoContext{
		ObjectPath: "/ril_0/context2",
		Properties: makeGenericContextProperty("MMS", contextTypeMMS, false, true, true),
	}
	mms.Properties["MessageProxy"] = dbus.Variant{Value: "010.000.000.010:8080"}
	s.contexts = append(s.contexts, internet, mms)

	rows, err := ContextRows{Provider: s.provider}.Rows("")
	c.Assert(err, IsNil)
	c.Check(rows, DeepEquals, []apn.Row{
		{Name: "Internet", Type: "default,mms", MMSC: "http://messagecenter.com"},
		{Name: "MMS", Type: "mms", MMSC: "http://messagecenter.com", Proxy: "010.000.000.010", Port: "8080"},
	})

	cfg, err := apn.Load(ContextRows{Provider: s.provider}, nil, "MMS")
	c.Assert(err, IsNil)
	c.Check(*cfg, Equals, apn.Config{MMSC: "http://messagecenter.com", ProxyHost: "10.0.0.10", ProxyPort: 8080})
}

func (s *ContextTestSuite) TestRowsNoModem(c *C) {
	s.provider.SetModem(nil)
	_, err := ContextRows{Provider: s.provider}.Rows("")
	c.Check(err, Equals, ErrNoModem)
}

func (s *ContextTestSuite) TestAirplaneMode(c *C) {
	c.Check(s.provider.IsAirplaneModeOn(), Equals, false)
	s.modem.handleOnlineState(dbus.Variant{Value: false})
	c.Check(s.provider.IsAirplaneModeOn(), Equals, true)
	s.provider.SetModem(nil)
	c.Check(s.provider.IsAirplaneModeOn(), Equals, true)
}

func TestHandle(t *testing.T) {
	context := OfonoContext{
		ObjectPath: "/ril_0/context2",
		Properties: PropertiesType{
			"Settings": dbus.Variant{Value: map[string]dbus.Variant{
				"Interface":         {Value: "rmnet1"},
				"Address":           {Value: "10.1.2.3"},
				"DomainNameServers": {Value: []string{"10.0.0.53", "10.0.0.54"}},
			}},
			"IPv6.Settings": dbus.Variant{Value: map[string]dbus.Variant{
				"Interface":         {Value: "rmnet1"},
				"DomainNameServers": {Value: []interface{}{"fd00::53"}},
			}},
		},
	}
	got, err := context.handle()
	if err != nil {
		t.Fatal(err)
	}
	want := network.Handle{
		ID:          "/ril_0/context2",
		Interface:   "rmnet1",
		Family:      network.Dual,
		Nameservers: []string{"10.0.0.53", "10.0.0.54", "fd00::53"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected handle (-want +got):\n%s", diff)
	}

	if _, err := (OfonoContext{ObjectPath: "/ril_0/context3"}).handle(); err == nil {
		t.Error("expected an error for a context without settings")
	}
}

type ProviderTestSuite struct {
	modem    *Modem
	provider *Provider
	cb       *fakeCallback
	prefs    *fakePrefs

	mu       sync.Mutex
	active   map[dbus.ObjectPath]bool
	sets     []string
	setErr   error
	contexts []OfonoContext
	signals  chan *dbus.Message
	canceled chan struct{}
}

var _ = Suite(&ProviderTestSuite{})

type fakeCallback struct {
	available   chan network.Handle
	lost        chan network.Handle
	unavailable chan struct{}
}

func (f *fakeCallback) OnAvailable(h network.Handle) { f.available <- h }
func (f *fakeCallback) OnLost(h network.Handle)      { f.lost <- h }
func (f *fakeCallback) OnUnavailable()               { f.unavailable <- struct{}{} }

type fakePrefs struct {
	mu        sync.Mutex
	preferred map[string]string
}

func (p *fakePrefs) PreferredContext(identity string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, ok := p.preferred[identity]
	if !ok {
		return "", errors.New("none")
	}
	return path, nil
}

func (p *fakePrefs) SetPreferredContext(identity, objectPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preferred[identity] = objectPath
	return nil
}

func (s *ProviderTestSuite) SetUpTest(c *C) {
	s.modem = &Modem{Modem: "/ril_0", online: true, identity: "214070000000001"}
	s.prefs = &fakePrefs{preferred: map[string]string{}}
	s.provider = NewProvider(nil, s.prefs)
	s.provider.SetModem(s.modem)
	s.cb = &fakeCallback{
		available:   make(chan network.Handle, 1),
		lost:        make(chan network.Handle, 1),
		unavailable: make(chan struct{}, 1),
	}
	s.active = map[dbus.ObjectPath]bool{}
	s.sets = nil
	s.setErr = nil
	s.signals = make(chan *dbus.Message, 1)
	s.canceled = make(chan struct{})
	s.contexts = []OfonoContext{{
		ObjectPath: "/ril_0/context2",
		Properties: makeGenericContextProperty("MMS", contextTypeMMS, false, true, false),
	}}
	activationWait = 0

	getOfonoProps = func(conn *dbus.Connection, objectPath dbus.ObjectPath, destination, iface, method string) ([]OfonoContext, error) {
		return s.contexts, nil
	}
	setProperty = func(conn *dbus.Connection, objectPath dbus.ObjectPath, iface, name string, value interface{}) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.sets = append(s.sets, fmt.Sprintf("%s %s=%v", objectPath, name, value))
		if s.setErr != nil {
			return s.setErr
		}
		if name == "Active" {
			s.active[objectPath] = value.(bool)
		}
		return nil
	}
	getProperties = func(conn *dbus.Connection, objectPath dbus.ObjectPath, iface string) (PropertiesType, error) {
		switch iface {
		case CONNECTION_MANAGER_INTERFACE:
			return PropertiesType{"Powered": dbus.Variant{Value: true}}, nil
		case CONNECTION_CONTEXT_INTERFACE:
			s.mu.Lock()
			defer s.mu.Unlock()
			props := makeGenericContextProperty("MMS", contextTypeMMS, s.active[objectPath], true, false)
			props["Settings"] = dbus.Variant{Value: map[string]dbus.Variant{
				"Interface":         {Value: "rmnet1"},
				"DomainNameServers": {Value: []string{"10.0.0.53"}},
			}}
			return props, nil
		}
		return nil, errors.New("unexpected interface " + iface)
	}
	watchProperty = func(conn *dbus.Connection, path dbus.ObjectPath, iface string) (<-chan *dbus.Message, func(), error) {
		return s.signals, func() { close(s.canceled) }, nil
	}
}

func (s *ProviderTestSuite) setCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.sets...)
}

func wait(c *C, ch <-chan network.Handle) network.Handle {
	select {
	case h := <-ch:
		return h
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for callback")
	}
	return network.Handle{}
}

func (s *ProviderTestSuite) TestActivate(c *C) {
	c.Assert(s.provider.RequestNetwork(s.cb), IsNil)
	h := wait(c, s.cb.available)
	c.Check(h, DeepEquals, network.Handle{
		ID:          "/ril_0/context2",
		Interface:   "rmnet1",
		Family:      network.IPv4,
		Nameservers: []string{"10.0.0.53"},
	})
	c.Check(s.setCalls(), DeepEquals, []string{"/ril_0/context2 Active=true"})
	c.Check(s.prefs.preferred["214070000000001"], Equals, "/ril_0/context2")

	s.provider.UnregisterNetworkCallback(s.cb)
	<-s.canceled
	for i := 0; i < 100 && len(s.setCalls()) < 2; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	c.Check(s.setCalls(), DeepEquals, []string{"/ril_0/context2 Active=true", "/ril_0/context2 Active=false"})
}

func (s *ProviderTestSuite) TestActiveInternetIsNotToggled(c *C) {
	internet := OfonoContext{
		ObjectPath: "/ril_0/context1",
		Properties: makeGenericContextProperty("Internet", contextTypeInternet, true, true, false),
	}
	internet.Properties["Settings"] = dbus.Variant{Value: map[string]dbus.Variant{"Interface": {Value: "rmnet0"}}}
	s.contexts = []OfonoContext{internet}

	c.Assert(s.provider.RequestNetwork(s.cb), IsNil)
	h := wait(c, s.cb.available)
	c.Check(h.Interface, Equals, "rmnet0")
	s.provider.UnregisterNetworkCallback(s.cb)
	c.Check(s.setCalls(), HasLen, 0)
}

func (s *ProviderTestSuite) TestContextGoesInactive(c *C) {
	c.Assert(s.provider.RequestNetwork(s.cb), IsNil)
	wait(c, s.cb.available)

	msg := dbus.NewSignalMessage("/ril_0/context2", CONNECTION_CONTEXT_INTERFACE, "PropertyChanged")
	c.Assert(msg.AppendArgs("Active", dbus.Variant{Value: false}), IsNil)
	s.signals <- msg
	h := wait(c, s.cb.lost)
	c.Check(h.ID, Equals, "/ril_0/context2")
}

func (s *ProviderTestSuite) TestActivationFailure(c *C) {
	s.setErr = &dbus.Error{Name: ofonoNotAttachedError}
	c.Assert(s.provider.RequestNetwork(s.cb), IsNil)
	select {
	case <-s.cb.unavailable:
	case <-time.After(5 * time.Second):
		c.Fatal("activation failure not reported")
	}
	c.Check(s.setCalls(), HasLen, 3)
	c.Check(s.cb.lost, HasLen, 0)
}

func (s *ProviderTestSuite) TestNoModem(c *C) {
	s.provider.SetModem(nil)
	c.Check(s.provider.RequestNetwork(s.cb), Equals, ErrNoModem)
}

func (s *ProviderTestSuite) TestModemRemovedLosesRequests(c *C) {
	c.Assert(s.provider.RequestNetwork(s.cb), IsNil)
	wait(c, s.cb.available)
	s.provider.SetModem(nil)
	wait(c, s.cb.lost)
}

func (s *ProviderTestSuite) TestTransport(c *C) {
	enabled, err := s.provider.IsTransportEnabled()
	c.Assert(err, IsNil)
	c.Check(enabled, Equals, true)
	c.Assert(s.provider.SetTransportEnabled(false), IsNil)
	c.Check(s.setCalls(), DeepEquals, []string{"/ril_0 Powered=false"})
}

func (s *ProviderTestSuite) TestDataLease(c *C) {
	getProperties = func(conn *dbus.Connection, objectPath dbus.ObjectPath, iface string) (PropertiesType, error) {
		return PropertiesType{"Powered": dbus.Variant{Value: false}}, nil
	}
	lease := network.NewDataLease(s.provider)
	lease.Acquire()
	lease.Release()
	c.Check(s.setCalls(), DeepEquals, []string{"/ril_0 Powered=true", "/ril_0 Powered=false"})
}
