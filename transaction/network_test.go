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
	"net/http"
	"sync"
	"time"

	"github.com/ubports/mmsd/apn"
	"github.com/ubports/mmsd/mmsc"
	"github.com/ubports/mmsd/network"
	"github.com/ubports/mmsd/pdu"
	"github.com/ubports/mmsd/storage"
	"go.uber.org/atomic"
	. "launchpad.net/gocheck"
)

// platform answers requests the way the oFono provider does: always from
// another goroutine.
type platform struct {
	unavailable bool
	requests    atomic.Int32

	mu sync.Mutex
	cb network.Callback
}

func (p *platform) RequestNetwork(cb network.Callback) error {
	p.requests.Inc()
	if p.unavailable {
		go cb.OnUnavailable()
		return nil
	}
	p.mu.Lock()
	p.cb = cb
	p.mu.Unlock()
	return nil
}

func (p *platform) UnregisterNetworkCallback(cb network.Callback) {
	p.mu.Lock()
	if p.cb == cb {
		p.cb = nil
	}
	p.mu.Unlock()
}

func (p *platform) IsAirplaneModeOn() bool { return false }

// request waits for the n-th request to be registered.
func (p *platform) request(c *C, n int32) network.Callback {
	for i := 0; i < 500; i++ {
		p.mu.Lock()
		cb := p.cb
		p.mu.Unlock()
		if cb != nil && p.requests.Load() >= n {
			return cb
		}
		time.Sleep(2 * time.Millisecond)
	}
	c.Fatalf("network request %d never issued", n)
	return nil
}

var mmsPath = network.Handle{ID: "/ril_0/context2", Interface: "rmnet1", Family: network.IPv4}

type NetworkTestSuite struct {
	platform *platform
	manager  *network.Manager
	hold     *network.Hold
	client   *fakeClient
	obs      *observer
	svc      *Service
	cancel   context.CancelFunc
	stopped  chan struct{}
}

var _ = Suite(&NetworkTestSuite{})

func (s *NetworkTestSuite) SetUpTest(c *C) {
	s.platform = &platform{}
	s.manager = network.NewManager(s.platform, network.Options{Timeout: 2 * time.Second, CheckInterval: 10 * time.Millisecond})
	s.client = &fakeClient{content: map[string][]byte{}}
	s.obs = &observer{completed: make(chan *Transaction, 16), failed: make(chan *Transaction, 16)}
}

func (s *NetworkTestSuite) start(c *C, client HTTPClient) {
	store, err := storage.NewFileStore(c.MkDir())
	c.Assert(err, IsNil)
	s.hold = s.manager.NewHold()
	s.svc = NewService(Options{
		Lease:        s.hold,
		Connectivity: s.manager,
		Settings:     func() (*apn.Config, error) { return &apn.Config{MMSC: mmscURL}, nil },
		Env:          Env{Client: client, Store: store},
	})
	s.svc.AddObserver(s.obs)
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.stopped = make(chan struct{})
	go func() {
		s.svc.Run(ctx)
		close(s.stopped)
	}()
	ch := make(chan struct{})
	c.Assert(s.svc.post(context.Background(), func(context.Context) { close(ch) }), IsNil)
	<-ch
}

func (s *NetworkTestSuite) TearDownTest(c *C) {
	if s.cancel != nil {
		s.cancel()
		<-s.stopped
		s.cancel = nil
	}
}

func (s *NetworkTestSuite) TestActivationFailureFailsPending(c *C) {
	s.platform.unavailable = true
	s.start(c, s.client)

	t, err := s.svc.Submit(context.Background(), WorkItem{Type: Retrieve, ContentLocation: "http://mmsc.example/get/nocontext"})
	c.Assert(err, IsNil)
	c.Check(receive(c, s.obs.failed), Equals, t)
	c.Check(t.State, Equals, Failed)

	time.Sleep(50 * time.Millisecond)
	c.Check(s.platform.requests.Load(), Equals, int32(1))
	c.Check(s.svc.Snapshot().Pending, HasLen, 0)
	c.Check(s.hold.Held(), Equals, false)
	c.Check(s.client.exchanges, HasLen, 0)
}

func (s *NetworkTestSuite) TestLossBeforeAvailableRenews(c *C) {
	location := "http://mmsc.example/get/renewed"
	data, err := pdu.Marshal(&pdu.RetrieveConf{TransactionId: "tr-renewed", MessageId: "renewed", Body: []byte("hi")})
	c.Assert(err, IsNil)
	s.client.content[location] = data
	s.start(c, s.client)

	t, err := s.svc.Submit(context.Background(), WorkItem{Type: Retrieve, ContentLocation: location})
	c.Assert(err, IsNil)
	s.platform.request(c, 1).OnLost(network.Handle{})
	s.platform.request(c, 2).OnAvailable(mmsPath)

	c.Check(receive(c, s.obs.completed), Equals, t)
	c.Check(t.State, Equals, Success)
	c.Check(s.platform.requests.Load(), Equals, int32(2))
	c.Check(s.client.calls(http.MethodGet), HasLen, 1)
}

func (s *NetworkTestSuite) TestStaleReleaseKeepsDispatcherPath(c *C) {
	location := "http://mmsc.example/get/shared"
	data, err := pdu.Marshal(&pdu.RetrieveConf{TransactionId: "tr-shared", MessageId: "shared", Body: []byte("hi")})
	c.Assert(err, IsNil)
	inGet := make(chan struct{})
	block := make(chan struct{})
	s.start(c, clientFunc(func(ctx context.Context, req mmsc.Request) ([]byte, error) {
		if req.Method != http.MethodGet {
			return nil, nil
		}
		close(inGet)
		<-block
		return data, nil
	}))

	// a request holds the path when it goes away
	acquired := make(chan func(), 1)
	go func() {
		release, err := s.manager.Acquire(context.Background())
		c.Check(err, IsNil)
		acquired <- release
	}()
	first := s.platform.request(c, 1)
	first.OnAvailable(mmsPath)
	staleRelease := <-acquired
	first.OnLost(mmsPath)

	t, err := s.svc.Submit(context.Background(), WorkItem{Type: Retrieve, ContentLocation: location})
	c.Assert(err, IsNil)
	s.platform.request(c, 2).OnAvailable(mmsPath)
	<-inGet

	staleRelease()
	c.Check(s.hold.Held(), Equals, true)
	_, ok := s.manager.Network()
	c.Check(ok, Equals, true)

	close(block)
	c.Check(receive(c, s.obs.completed), Equals, t)
	c.Check(t.State, Equals, Success)
	for i := 0; i < 500 && s.hold.Held(); i++ {
		time.Sleep(2 * time.Millisecond)
	}
	_, ok = s.manager.Network()
	c.Check(ok, Equals, false)
}
