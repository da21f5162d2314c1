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
	"net"
	"sync"

	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/network"
	"launchpad.net/go-dbus"
)

var ErrNoModem = errors.New("no modem available")

// watchProperty subscribes to PropertyChanged on path; replaced in tests.
var watchProperty = func(conn *dbus.Connection, path dbus.ObjectPath, iface string) (<-chan *dbus.Message, func(), error) {
	w, err := connectToPropertySignal(conn, path, iface)
	if err != nil {
		return nil, nil, err
	}
	return w.C, func() { w.Cancel() }, nil
}

// Provider implements network.Platform and network.Transport on top of
// the current modem's connection contexts. Asking for a network activates
// the best MMS context; giving it back deactivates it again when it is a
// dedicated type=mms context.
type Provider struct {
	conn   *dbus.Connection
	prefs  PreferredContexts
	binder network.Binder

	mu       sync.Mutex
	modem    *Modem
	requests map[network.Callback]*contextRequest
}

type contextRequest struct {
	cb   network.Callback
	done chan struct{}

	// guarded by Provider.mu
	context   *OfonoContext
	activated bool
	cancel    func()
}

func NewProvider(conn *dbus.Connection, prefs PreferredContexts) *Provider {
	return &Provider{
		conn:     conn,
		prefs:    prefs,
		binder:   network.InterfaceBinder{},
		requests: make(map[network.Callback]*contextRequest),
	}
}

// SetModem switches to modem, which may be nil. Requests made on the
// previous modem are reported lost.
func (p *Provider) SetModem(modem *Modem) {
	p.mu.Lock()
	if p.modem == modem {
		p.mu.Unlock()
		return
	}
	p.modem = modem
	var stale []*contextRequest
	for _, req := range p.requests {
		stale = append(stale, req)
	}
	p.mu.Unlock()
	for _, req := range stale {
		go req.cb.OnLost(network.Handle{})
	}
}

func (p *Provider) Modem() *Modem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modem
}

func (p *Provider) IsAirplaneModeOn() bool {
	modem := p.Modem()
	return modem == nil || !modem.Online()
}

// RequestNetwork starts activating a context in the background. Failure
// to find or activate one is reported through cb.OnUnavailable.
func (p *Provider) RequestNetwork(cb network.Callback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.modem == nil {
		return ErrNoModem
	}
	req := &contextRequest{cb: cb, done: make(chan struct{})}
	p.requests[cb] = req
	go p.activate(p.modem, req)
	return nil
}

func (p *Provider) UnregisterNetworkCallback(cb network.Callback) {
	p.mu.Lock()
	req, ok := p.requests[cb]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.requests, cb)
	close(req.done)
	cancel, context, activated := req.cancel, req.context, req.activated
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if activated && context != nil && context.isTypeMMS() {
		go p.deactivate(*context)
	}
}

func (p *Provider) deactivate(context OfonoContext) {
	if err := context.toggleActive(false, p.conn); err != nil {
		log.Warnf("Cannot deactivate %s: %s", context.ObjectPath, err)
	}
}

// current reports whether req is still registered.
func (p *Provider) current(req *contextRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[req.cb] == req
}

func (p *Provider) activate(modem *Modem, req *contextRequest) {
	identity := modem.Identity()
	contexts, err := modem.GetMMSContexts(preferredContext(p.prefs, identity))
	if err != nil {
		log.Errorf("Cannot find an MMS context on %s: %s", modem.Modem, err)
		p.fail(req)
		return
	}
	for _, context := range contexts {
		if !p.current(req) {
			return
		}
		h, err := p.bringUp(req, context)
		if err != nil {
			log.Warnf("Cannot use context %s: %s", context.ObjectPath, err)
			continue
		}
		if p.prefs != nil && identity != "" {
			if err := p.prefs.SetPreferredContext(identity, string(context.ObjectPath)); err != nil {
				log.Warnf("Cannot save preferred context: %s", err)
			}
		}
		req.cb.OnAvailable(h)
		return
	}
	p.fail(req)
}

// bringUp activates context if needed and starts watching it.
func (p *Provider) bringUp(req *contextRequest, context OfonoContext) (network.Handle, error) {
	if !context.isActive() {
		if err := context.toggleActive(true, p.conn); err != nil {
			return network.Handle{}, err
		}
		p.mu.Lock()
		current := p.requests[req.cb] == req
		if current {
			req.context, req.activated = &context, true
		}
		p.mu.Unlock()
		if !current {
			if context.isTypeMMS() {
				p.deactivate(context)
			}
			return network.Handle{}, errors.New("request withdrawn")
		}
		props, err := getProperties(p.conn, context.ObjectPath, CONNECTION_CONTEXT_INTERFACE)
		if err != nil {
			return network.Handle{}, err
		}
		context.Properties = props
	}
	h, err := context.handle()
	if err != nil {
		return h, err
	}
	signals, cancel, err := watchProperty(p.conn, context.ObjectPath, CONNECTION_CONTEXT_INTERFACE)
	if err != nil {
		return h, err
	}
	p.mu.Lock()
	if p.requests[req.cb] != req {
		p.mu.Unlock()
		cancel()
		return h, errors.New("request withdrawn")
	}
	req.context, req.cancel = &context, cancel
	p.mu.Unlock()
	go p.watchContext(req, signals, h)
	return h, nil
}

// watchContext reports the path lost once the context goes inactive.
func (p *Provider) watchContext(req *contextRequest, signals <-chan *dbus.Message, h network.Handle) {
	var name string
	var value dbus.Variant
	for {
		select {
		case <-req.done:
			return
		case msg, ok := <-signals:
			if !ok {
				return
			}
			if err := msg.Args(&name, &value); err != nil {
				log.Warnf("Cannot interpret context property change: %s", err)
				continue
			}
			if name != "Active" || boolValue(value.Value) {
				continue
			}
			log.Warnf("Context %s went inactive", h.ID)
			if p.current(req) {
				req.cb.OnLost(h)
			}
			return
		}
	}
}

func (p *Provider) fail(req *contextRequest) {
	if p.current(req) {
		req.cb.OnUnavailable()
	}
}

// IsTransportEnabled reports the ConnectionManager Powered property, the
// mobile data switch.
func (p *Provider) IsTransportEnabled() (bool, error) {
	modem := p.Modem()
	if modem == nil {
		return false, ErrNoModem
	}
	props, err := getProperties(p.conn, modem.Modem, CONNECTION_MANAGER_INTERFACE)
	if err != nil {
		return false, err
	}
	return boolValue(props["Powered"].Value), nil
}

func (p *Provider) SetTransportEnabled(enabled bool) error {
	modem := p.Modem()
	if modem == nil {
		return ErrNoModem
	}
	return setProperty(p.conn, modem.Modem, CONNECTION_MANAGER_INTERFACE, "Powered", enabled)
}

func (p *Provider) BindToPath(h network.Handle) (*net.Dialer, error) {
	return p.binder.BindToPath(h)
}

func (p *Provider) LineNumber() string {
	if modem := p.Modem(); modem != nil {
		return modem.LineNumber()
	}
	return ""
}

func (p *Provider) CountryCode() string {
	if modem := p.Modem(); modem != nil {
		return modem.CountryCode()
	}
	return ""
}

func (p *Provider) NAI() string {
	if modem := p.Modem(); modem != nil {
		return modem.NAI()
	}
	return ""
}
