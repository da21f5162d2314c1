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

package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ubports/mmsd/apn"
	"github.com/ubports/mmsd/config"
	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/network"
	"github.com/ubports/mmsd/pdu"
	"github.com/ubports/mmsd/storage"
)

const DefaultRenewInterval = 30 * time.Second

// maxLosses is how many times the network may be lost while work is queued
// before the pending transactions are given up on. A successful
// transaction resets the count.
const maxLosses = 3

// ErrStopped is returned by Submit once Run has returned.
var ErrStopped = errors.New("transaction service stopped")

// Lease is the dispatcher's share of the MMS network. *network.Hold
// satisfies it.
type Lease interface {
	Start() (ready bool, err error)
	Renew() error
	End()
}

// Connectivity delivers network events. *network.Manager satisfies it.
type Connectivity interface {
	Subscribe(fn func(network.Event)) (cancel func())
}

// Observer is told about finished transactions. Calls are made from the
// worker goroutine.
type Observer interface {
	TransactionCompleted(t *Transaction)
	PendingFailed(t *Transaction)
}

type Options struct {
	Lease        Lease
	Connectivity Connectivity
	// Settings loads the access point to use once the network is up.
	Settings      func() (*apn.Config, error)
	Env           Env
	Factory       Factory
	RenewInterval time.Duration
}

// Service queues transactions and processes them one at a time. Only the
// goroutine in Run mutates the queues; mu lets other goroutines read them.
// queued holds every transaction from Submit until it finishes, so
// duplicates are caught even while the worker is busy with the original.
type Service struct {
	opts   Options
	events chan func(ctx context.Context)
	done   chan struct{}

	mu         sync.Mutex
	processing []*Transaction
	pending    []*Transaction
	queued     map[identity]*Transaction
	nextID     int
	renew      *time.Timer
	observers  []Observer

	// only touched by the worker
	leased bool
	losses int
}

func NewService(opts Options) *Service {
	if opts.RenewInterval == 0 {
		opts.RenewInterval = DefaultRenewInterval
	}
	if opts.Factory == nil {
		opts.Factory = NewFactory(opts.Env.Store)
	}
	return &Service{
		opts:   opts,
		events: make(chan func(ctx context.Context), 16),
		done:   make(chan struct{}),
		queued: make(map[identity]*Transaction),
	}
}

func (s *Service) AddObserver(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Run processes events until ctx is done. It ends the network lease on the
// way out.
func (s *Service) Run(ctx context.Context) error {
	cancel := s.opts.Connectivity.Subscribe(func(ev network.Event) {
		s.post(ctx, func(ctx context.Context) { s.handleConnectivity(ctx, ev) })
	})
	defer cancel()
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()
		case fn := <-s.events:
			fn(ctx)
		}
	}
}

func (s *Service) post(ctx context.Context, fn func(context.Context)) error {
	select {
	case s.events <- fn:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit builds the transaction for item and queues it. If an equivalent
// transaction is queued or processing, that one is returned instead.
func (s *Service) Submit(ctx context.Context, item WorkItem) (*Transaction, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()
	t, err := s.opts.Factory(id, item)
	if err != nil {
		return nil, fmt.Errorf("cannot create %s transaction: %w", item.Type, err)
	}
	s.mu.Lock()
	if queued, ok := s.queued[t.identity()]; ok {
		s.mu.Unlock()
		log.Infof("%s is already queued as %s", t, queued)
		return queued, nil
	}
	s.queued[t.identity()] = t
	s.mu.Unlock()
	if err := s.post(ctx, func(ctx context.Context) { s.handleSubmit(ctx, t) }); err != nil {
		s.forget(t)
		return nil, err
	}
	return t, nil
}

// forget lets an equivalent transaction be submitted again.
func (s *Service) forget(t *Transaction) {
	s.mu.Lock()
	if s.queued[t.identity()] == t {
		delete(s.queued, t.identity())
	}
	s.mu.Unlock()
}

func (s *Service) handleSubmit(ctx context.Context, t *Transaction) {
	ready, err := s.opts.Lease.Start()
	if err != nil {
		log.Errorf("Cannot start MMS network for %s: %v", t, err)
		t.State = Failed
		s.markNetworkProblem(t)
		s.forget(t)
		s.notifyCompleted(t)
		s.teardownIfIdle()
		return
	}
	s.leased = true

	s.mu.Lock()
	if !ready || len(s.processing) > 0 {
		s.pending = append(s.pending, t)
		s.mu.Unlock()
		log.Debugf("Queued %s, network ready: %v", t, ready)
		return
	}
	s.mu.Unlock()

	settings, ok := s.loadSettings()
	if !ok {
		s.mu.Lock()
		s.pending = append(s.pending, t)
		s.mu.Unlock()
		s.failPending()
		return
	}
	t.Settings = settings
	s.drain(ctx, t)
}

func (s *Service) handleConnectivity(ctx context.Context, ev network.Event) {
	if !s.leased {
		return
	}
	if !ev.Available {
		switch ev.Reason {
		case network.ReasonVoiceCallEnded, network.ReasonLost:
			s.renewAfter(ev.Reason)
		case network.ReasonTimeout, network.ReasonRequestRejected:
			s.failPending()
		}
		return
	}
	s.mu.Lock()
	busy, empty := len(s.processing) > 0, len(s.pending) == 0
	s.mu.Unlock()
	if busy || empty {
		return
	}
	settings, ok := s.loadSettings()
	if !ok {
		s.failPending()
		return
	}
	s.drain(ctx, s.popPending(settings))
}

func (s *Service) renewAfter(reason string) {
	if s.idle() {
		return
	}
	if reason == network.ReasonLost {
		s.losses++
		if s.losses > maxLosses {
			log.Errorf("MMS network lost %d times without progress, giving up", s.losses)
			s.failPending()
			return
		}
	}
	log.Infof("Renewing MMS network after %s", reason)
	if err := s.opts.Lease.Renew(); err != nil {
		s.failPending()
	}
}

// drain processes t and then the pending queue in order while the network
// stays ready.
func (s *Service) drain(ctx context.Context, t *Transaction) {
	for t != nil {
		s.process(ctx, t)
		t = s.next()
	}
}

func (s *Service) next() *Transaction {
	if s.idle() {
		s.teardown()
		return nil
	}
	ready, err := s.opts.Lease.Start()
	if err != nil {
		log.Errorf("Cannot restart MMS network: %v", err)
		s.failPending()
		return nil
	}
	if !ready {
		return nil
	}
	settings, ok := s.loadSettings()
	if !ok {
		s.failPending()
		return nil
	}
	return s.popPending(settings)
}

func (s *Service) popPending(settings *apn.Config) *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	t.Settings = settings
	return t
}

func (s *Service) loadSettings() (*apn.Config, bool) {
	settings, err := s.opts.Settings()
	if err != nil {
		log.Errorf("Cannot load MMS settings: %v", err)
		return nil, false
	}
	if settings == nil || settings.MMSC == "" {
		log.Errorf("No MMSC configured")
		return nil, false
	}
	return settings, true
}

func (s *Service) process(ctx context.Context, t *Transaction) {
	s.mu.Lock()
	s.processing = append(s.processing, t)
	s.armRenewalLocked()
	s.mu.Unlock()

	log.Infof("Processing %s with %s", t, t.Settings)
	state := s.execute(ctx, t)
	log.Infof("%s finished: %s", t, state)

	s.mu.Lock()
	t.State = state
	for i, p := range s.processing {
		if p == t {
			s.processing = append(s.processing[:i], s.processing[i+1:]...)
			break
		}
	}
	if s.queued[t.identity()] == t {
		delete(s.queued, t.identity())
	}
	s.mu.Unlock()
	if state == Success {
		s.losses = 0
	}
	s.notifyCompleted(t)
}

func (s *Service) execute(ctx context.Context, t *Transaction) (state State) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("Processing %s panicked: %v", t, p)
			state = Failed
		}
	}()
	cfg := config.Defaults()
	if s.opts.Env.Config != nil {
		var err error
		if cfg, err = s.opts.Env.Config.Load(nil); err != nil {
			log.Errorf("Cannot load mms config for %s: %v", t, err)
			return Failed
		}
	}
	if err := t.kind.process(ctx, t, &s.opts.Env, cfg); err != nil {
		log.Errorf("%s failed: %v", t, err)
		return Failed
	}
	return Success
}

// failPending fails every pending transaction with a network problem.
func (s *Service) failPending() {
	s.mu.Lock()
	failed := s.pending
	s.pending = nil
	observers := append([]Observer{}, s.observers...)
	s.mu.Unlock()
	for _, t := range failed {
		t.State = Failed
		s.forget(t)
		s.markNetworkProblem(t)
		for _, o := range observers {
			o.PendingFailed(t)
		}
	}
	if len(failed) > 0 {
		log.Warnf("Failed %d pending transactions", len(failed))
	}
	s.teardownIfIdle()
}

func (s *Service) markNetworkProblem(t *Transaction) {
	store := s.opts.Env.Store
	if store == nil || t.StoreID == "" {
		return
	}
	values := storage.Values{storage.ResponseStatus: pdu.ResponseStatusErrorNetworkProblem}
	if t.Type == Send {
		values[storage.MessageBox] = storage.BoxFailed
	}
	if err := store.Update(t.StoreID, values); err != nil {
		log.Errorf("Cannot mark %s as failed: %v", t, err)
	}
}

func (s *Service) notifyCompleted(t *Transaction) {
	s.mu.Lock()
	observers := append([]Observer{}, s.observers...)
	s.mu.Unlock()
	for _, o := range observers {
		o.TransactionCompleted(t)
	}
}

func (s *Service) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processing) == 0 && len(s.pending) == 0
}

func (s *Service) teardownIfIdle() {
	if s.idle() {
		s.teardown()
	}
}

func (s *Service) teardown() {
	s.mu.Lock()
	if s.renew != nil {
		s.renew.Stop()
		s.renew = nil
	}
	s.mu.Unlock()
	if s.leased {
		log.Debugf("Ending MMS network lease")
		s.opts.Lease.End()
		s.leased = false
	}
	s.losses = 0
}

// armRenewalLocked keeps the network request alive while something is
// processing. The timer runs outside the worker since the worker is busy
// processing when it fires.
func (s *Service) armRenewalLocked() {
	if s.renew != nil {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(s.opts.RenewInterval, func() {
		s.mu.Lock()
		if s.renew != timer {
			s.mu.Unlock()
			return
		}
		busy := len(s.processing) > 0
		s.renew = nil
		if busy {
			s.armRenewalLocked()
		}
		s.mu.Unlock()
		if busy {
			s.opts.Lease.Renew()
		}
	})
	s.renew = timer
}

// Info describes a queued transaction.
type Info struct {
	ServiceID int
	Type      Type
	MessageID string
	State     State
}

type Snapshot struct {
	Processing []Info
	Pending    []Info
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := func(ts []*Transaction) []Info {
		out := make([]Info, 0, len(ts))
		for _, t := range ts {
			out = append(out, Info{t.ServiceID, t.Type, t.MessageID, t.State})
		}
		return out
	}
	return Snapshot{Processing: info(s.processing), Pending: info(s.pending)}
}
