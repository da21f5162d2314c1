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
	"sync"
	"time"

	"github.com/ubports/mmsd/log"
)

const (
	// DefaultTimeout is the platform request timeout plus a safety margin.
	DefaultTimeout       = 60*time.Second + 5*time.Second
	DefaultCheckInterval = 15 * time.Second
)

// Event reports a connectivity change to subscribers.
type Event struct {
	Available bool
	Handle    Handle
	Reason    string
}

const (
	ReasonLost            = "lost"
	ReasonTimeout         = "timeout"
	ReasonVoiceCallEnded  = "voiceCallEnded"
	ReasonRequestRejected = "requestRejected"
)

type Options struct {
	// Timeout bounds how long a request may stay unanswered.
	Timeout time.Duration
	// CheckInterval is how often blocked callers wake up to look at the
	// state on their own.
	CheckInterval time.Duration
	// Binder pins dialers to the held path; defaults to SO_BINDTODEVICE.
	Binder Binder
	// Lookup resolves host names; defaults to a resolver using the path's
	// name servers.
	Lookup func(ctx context.Context, network, host string) ([]net.IP, error)
}

// Manager reference counts the MMS data path.
//
// refCount > 0 means a request is pending or satisfied, refCount == 0 means
// no handle is held and no callback is registered. Losing the path, a
// failed request or a timeout resets everything and bumps generation;
// references taken before the reset are no longer counted and releasing
// them does nothing.
type Manager struct {
	platform Platform
	opts     Options

	mu         sync.Mutex
	cond       *sync.Cond
	network    *Handle
	refCount   int
	callback   *requestCallback
	generation uint64
	// resetErr is what waiters of the previous generation return.
	resetErr error

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

type requestCallback struct {
	m     *Manager
	timer *time.Timer
}

func (cb *requestCallback) OnAvailable(h Handle) { cb.m.onAvailable(cb, h) }
func (cb *requestCallback) OnLost(h Handle)      { cb.m.onLost(cb, h) }
func (cb *requestCallback) OnUnavailable()       { cb.m.onUnavailable(cb) }

func NewManager(platform Platform, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.Binder == nil {
		opts.Binder = InterfaceBinder{}
	}
	m := &Manager{
		platform: platform,
		opts:     opts,
		subs:     make(map[int]func(Event)),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Acquire takes a reference on the path and blocks until it is available.
// On success the caller must call release once it is done; release is
// safe to call more than once and does nothing after a reset.
func (m *Manager) Acquire(ctx context.Context) (release func(), err error) {
	if m.platform.IsAirplaneModeOn() {
		log.Warnf("Not acquiring MMS network: airplane mode is on")
		return nil, ErrAirplaneMode
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.refCount++
	if m.network != nil {
		log.Debugf("MMS network already available, %d references", m.refCount)
		return m.releaser(m.generation), nil
	}
	if m.callback == nil {
		if err := m.requestLocked(); err != nil {
			m.releaseLocked()
			return nil, err
		}
	}
	gen := m.generation

	done := make(chan struct{})
	defer close(done)
	timedOut := false
	go m.wake(ctx, done, &timedOut)

	for m.network == nil {
		switch {
		case m.generation != gen:
			log.Warnf("Stopped waiting for MMS network: %v", m.resetErr)
			return nil, m.resetErr
		case ctx.Err() != nil:
			m.releaseLocked()
			return nil, ctx.Err()
		case timedOut:
			log.Errorf("Timed out after %s waiting for MMS network", m.opts.Timeout)
			m.resetLocked(ErrAcquireTimeout)
			go m.publish(Event{Reason: ReasonTimeout})
			return nil, ErrAcquireTimeout
		}
		m.cond.Wait()
	}
	return m.releaser(gen), nil
}

func (m *Manager) releaser(gen uint64) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.generation != gen {
				log.Debugf("Ignoring release of a reference dropped by a reset")
				return
			}
			m.releaseLocked()
		})
	}
}

// wake broadcasts on every check interval, on cancellation and once the
// timeout elapses. timedOut is written under m.mu.
func (m *Manager) wake(ctx context.Context, done <-chan struct{}, timedOut *bool) {
	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()
	timer := time.NewTimer(m.opts.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		case <-ctx.Done():
		case <-timer.C:
			m.mu.Lock()
			*timedOut = true
			m.cond.Broadcast()
			m.mu.Unlock()
			return
		}
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
	}
}

func (m *Manager) releaseLocked() {
	if m.refCount <= 0 {
		return
	}
	m.refCount--
	log.Debugf("MMS network released, %d references left", m.refCount)
	if m.refCount == 0 {
		m.resetLocked(ErrNetworkLost)
	}
}

// requestLocked asks the platform for a path. The request is abandoned
// if it is still unanswered after opts.Timeout, whoever is waiting on it.
func (m *Manager) requestLocked() error {
	cb := &requestCallback{m: m}
	log.Infof("Requesting MMS network")
	if err := m.platform.RequestNetwork(cb); err != nil {
		go m.publish(Event{Reason: ReasonRequestRejected})
		return &AcquireError{Reason: "network request rejected", Err: err}
	}
	m.callback = cb
	cb.timer = time.AfterFunc(m.opts.Timeout, func() { m.onTimeout(cb) })
	return nil
}

func (m *Manager) resetLocked(reason error) {
	if m.callback != nil {
		m.callback.timer.Stop()
		m.platform.UnregisterNetworkCallback(m.callback)
	}
	m.callback = nil
	m.network = nil
	m.refCount = 0
	m.generation++
	m.resetErr = reason
	m.cond.Broadcast()
}

func (m *Manager) onAvailable(cb *requestCallback, h Handle) {
	m.mu.Lock()
	if m.callback != cb {
		m.mu.Unlock()
		log.Debugf("Ignoring availability of %s for a stale request", h)
		return
	}
	log.Infof("MMS network available: %s", h)
	cb.timer.Stop()
	m.network = &h
	m.cond.Broadcast()
	m.mu.Unlock()
	m.publish(Event{Available: true, Handle: h})
}

func (m *Manager) onLost(cb *requestCallback, h Handle) {
	m.mu.Lock()
	if m.callback != cb {
		m.mu.Unlock()
		return
	}
	log.Warnf("MMS network lost: %s", h)
	m.resetLocked(ErrNetworkLost)
	m.mu.Unlock()
	m.publish(Event{Handle: h, Reason: ReasonLost})
}

func (m *Manager) onUnavailable(cb *requestCallback) {
	m.mu.Lock()
	if m.callback != cb {
		m.mu.Unlock()
		return
	}
	log.Warnf("MMS network could not be brought up")
	m.resetLocked(ErrUnavailable)
	m.mu.Unlock()
	m.publish(Event{Reason: ReasonRequestRejected})
}

func (m *Manager) onTimeout(cb *requestCallback) {
	m.mu.Lock()
	if m.callback != cb || m.network != nil {
		m.mu.Unlock()
		return
	}
	log.Errorf("MMS network request unanswered after %s", m.opts.Timeout)
	m.resetLocked(ErrAcquireTimeout)
	m.mu.Unlock()
	m.publish(Event{Reason: ReasonTimeout})
}

// Network returns the held path, if any.
func (m *Manager) Network() (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.network == nil {
		return Handle{}, false
	}
	return *m.network, true
}

// Dialer returns a dialer bound to the held path.
func (m *Manager) Dialer() (*net.Dialer, error) {
	h, ok := m.Network()
	if !ok {
		return nil, ErrNoNetwork
	}
	return m.opts.Binder.BindToPath(h)
}

// Subscribe registers fn for connectivity events. fn runs on the
// goroutine reporting the change and must not block for long.
func (m *Manager) Subscribe(fn func(Event)) (cancel func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// Interrupted tells subscribers the path was disrupted by something
// outside the data connection, such as a voice call on a 2G network.
func (m *Manager) Interrupted(reason string) {
	log.Infof("MMS network interrupted: %s", reason)
	m.publish(Event{Reason: reason})
}

func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Hold is a non blocking reference for a long lived user such as the
// transaction dispatcher. It holds at most one reference at a time and
// notices when a reset took it away. A request it starts is bounded by
// the same timeout as Acquire.
type Hold struct {
	m          *Manager
	held       bool
	generation uint64
}

func (m *Manager) NewHold() *Hold {
	return &Hold{m: m}
}

// Start takes the reference if not already held, asks for the path if
// nothing is pending and reports whether it is ready now.
func (h *Hold) Start() (ready bool, err error) {
	m := h.m
	if m.platform.IsAirplaneModeOn() {
		return false, ErrAirplaneMode
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !h.heldLocked() {
		m.refCount++
		h.held = true
		h.generation = m.generation
	}
	if m.network != nil {
		return true, nil
	}
	if m.callback == nil {
		if err := m.requestLocked(); err != nil {
			h.held = false
			m.releaseLocked()
			return false, err
		}
	}
	return false, nil
}

// Renew asks for the path again if the reference is held but nothing is
// pending, or takes a fresh reference if a reset dropped it.
func (h *Hold) Renew() error {
	_, err := h.Start()
	if err != nil {
		log.Warnf("Cannot renew MMS network: %s", err)
	}
	return err
}

// End gives the reference back. It is a no-op if a reset already did.
func (h *Hold) End() {
	m := h.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.heldLocked() {
		m.releaseLocked()
	}
	h.held = false
}

// Held reports whether the reference is still owned.
func (h *Hold) Held() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.heldLocked()
}

func (h *Hold) heldLocked() bool {
	return h.held && h.generation == h.m.generation
}
