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
	"bytes"
	"sync"

	"github.com/ubports/mmsd/pdu"
	"launchpad.net/go-dbus"
	. "launchpad.net/gocheck"
)

type PushAgentTestSuite struct {
	agent   *PushAgent
	replies *fakeSender
	calls   chan *dbus.Message
}

var _ = Suite(&PushAgentTestSuite{})

type fakeSender struct {
	mu   sync.Mutex
	sent []*dbus.Message
	done chan struct{}
}

func (f *fakeSender) Send(msg *dbus.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

// m-notification.ind push as sent by a carrier.
var notificationPush = bytes.Join([][]byte{
	{0x01, 0x06, 0x26},
	[]byte("application/vnd.wap.mms-message\x00"),
	{0xaf, 0x84, 0xb4, 0x86, 0xc3, 0x95},
	{0x8c, 0x82},
	{0x98}, []byte("m04BKksim05@mms.personal.com.ar\x00"),
	{0x8d, 0x90},
	{0x89, 0x19, 0x80}, []byte("+543515924906/TYPE=PLMN\x00"),
	{0x8a, 0x80},
	{0x8e, 0x02, 0x74, 0x00},
	{0x88, 0x05, 0x81, 0x03, 0x02, 0xa2, 0xff},
	{0x83}, []byte("http://localhost:9191/mms\x00"),
}, nil)

func (s *PushAgentTestSuite) SetUpTest(c *C) {
	s.replies = &fakeSender{done: make(chan struct{}, 1)}
	s.agent = NewPushAgent(nil, "/ril_0")
	s.agent.replies = s.replies
	s.calls = make(chan *dbus.Message)
	go s.agent.watchDBusMethodCalls(s.calls)
}

func (s *PushAgentTestSuite) TearDownTest(c *C) {
	close(s.calls)
}

func (s *PushAgentTestSuite) call(c *C, member string, args ...interface{}) *dbus.Message {
	msg := dbus.NewMethodCallMessage(OFONO_SENDER, AGENT_TAG, PUSH_NOTIFICATION_AGENT_INTERFACE, member)
	c.Assert(msg.AppendArgs(args...), IsNil)
	return msg
}

func (s *PushAgentTestSuite) TestNotification(c *C) {
	s.calls <- s.call(c, "ReceiveNotification", notificationPush, PropertiesType{"Sender": dbus.Variant{Value: "+543515924906"}})
	push := <-s.agent.Push
	<-s.replies.done
	c.Check(push.IsMMS(), Equals, true)
	n, err := pdu.ParseNotificationInd(push.Data)
	c.Assert(err, IsNil)
	c.Check(n.ContentLocation, Equals, "http://localhost:9191/mms")
	c.Check(s.replies.sent[0].Type, Equals, dbus.TypeMethodReturn)
}

func (s *PushAgentTestSuite) TestUndecodablePush(c *C) {
	s.calls <- s.call(c, "ReceiveNotification", []byte{0x01, 0x04}, PropertiesType{})
	<-s.replies.done
	c.Check(s.replies.sent[0].Type, Equals, dbus.TypeError)
}

func (s *PushAgentTestSuite) TestUnknownMethod(c *C) {
	s.calls <- s.call(c, "Frobnicate")
	<-s.replies.done
	c.Check(s.replies.sent[0].Type, Equals, dbus.TypeError)
}
