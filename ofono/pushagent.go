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
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/pdu"
	"launchpad.net/go-dbus"
)

/*
 in = "aya{sv}", out = ""
*/
type OfonoPushNotification struct {
	Data []byte
	Info PropertiesType
}

// sender is the part of *dbus.Connection the agent replies through.
type sender interface {
	Send(msg *dbus.Message) error
}

// PushAgent receives WAP pushes for a modem and forwards the MMS ones on
// Push, which stays open across registrations.
type PushAgent struct {
	conn           *dbus.Connection
	replies        sender
	modem          dbus.ObjectPath
	Push           chan *pdu.Push
	messageChannel chan *dbus.Message
	Registered     bool
	m              sync.Mutex
}

func NewPushAgent(conn *dbus.Connection, modem dbus.ObjectPath) *PushAgent {
	agent := &PushAgent{conn: conn, modem: modem, Push: make(chan *pdu.Push)}
	if conn != nil {
		agent.replies = conn
	}
	return agent
}

func (agent *PushAgent) IsRegistered() bool {
	agent.m.Lock()
	defer agent.m.Unlock()
	return agent.Registered
}

func (agent *PushAgent) Register() (err error) {
	agent.m.Lock()
	defer agent.m.Unlock()
	if agent.Registered {
		log.Debugf("Agent already registered for %s", agent.modem)
		return nil
	}
	log.Infof("Registering agent for %s on path %s and name %s", agent.modem, AGENT_TAG, agent.conn.UniqueName)
	obj := agent.conn.Object(OFONO_SENDER, agent.modem)
	if _, err = obj.Call(PUSH_NOTIFICATION_INTERFACE, "RegisterAgent", AGENT_TAG); err != nil {
		return fmt.Errorf("cannot register agent for %s: %w", agent.modem, err)
	}
	agent.Registered = true
	agent.messageChannel = make(chan *dbus.Message)
	go agent.watchDBusMethodCalls(agent.messageChannel)
	agent.conn.RegisterObjectPath(AGENT_TAG, agent.messageChannel)
	return nil
}

func (agent *PushAgent) Unregister() error {
	agent.m.Lock()
	defer agent.m.Unlock()
	if !agent.Registered {
		log.Debugf("Agent not registered for %s", agent.modem)
		return nil
	}
	log.Infof("Unregistering agent on %s", agent.modem)
	obj := agent.conn.Object(OFONO_SENDER, agent.modem)
	if _, err := obj.Call(PUSH_NOTIFICATION_INTERFACE, "UnregisterAgent", AGENT_TAG); err != nil {
		log.Warnf("Unregister failed: %s", err)
		return err
	}
	agent.release()
	return nil
}

// release must be called with agent.m held.
func (agent *PushAgent) release() {
	if !agent.Registered {
		return
	}
	agent.Registered = false
	if agent.conn != nil {
		agent.conn.UnregisterObjectPath(AGENT_TAG)
	}
	close(agent.messageChannel)
	agent.messageChannel = nil
}

func (agent *PushAgent) watchDBusMethodCalls(calls <-chan *dbus.Message) {
	for msg := range calls {
		var reply *dbus.Message
		switch {
		case msg.Interface == PUSH_NOTIFICATION_AGENT_INTERFACE && msg.Member == "ReceiveNotification":
			reply = agent.notificationReceived(msg)
		case msg.Interface == PUSH_NOTIFICATION_AGENT_INTERFACE && msg.Member == "Release":
			log.Infof("Push Agent on %s received Release", agent.modem)
			reply = dbus.NewMethodReturnMessage(msg)
			// the range ends once release closes calls
			go func() {
				agent.m.Lock()
				agent.release()
				agent.m.Unlock()
			}()
		default:
			log.Warnf("Received unknown method call on %s %s", msg.Interface, msg.Member)
			reply = dbus.NewErrorMessage(msg, "org.freedesktop.DBus.Error.UnknownMethod", "Unknown method")
		}
		if err := agent.replies.Send(reply); err != nil {
			log.Errorf("Could not send reply: %s", err)
		}
	}
}

func (agent *PushAgent) notificationReceived(msg *dbus.Message) (reply *dbus.Message) {
	var push OfonoPushNotification
	if err := msg.Args(&(push.Data), &(push.Info)); err != nil {
		log.Errorf("Error in received ReceiveNotification() method call %v: %s", msg, err)
		return dbus.NewErrorMessage(msg, "org.freedesktop.DBus.Error", "FormatError")
	}
	log.Infof("Received ReceiveNotification() method call from %v", push.Info["Sender"].Value)
	log.Debugf("Push data\n%s", hex.Dump(push.Data))
	p, err := pdu.ParsePush(push.Data)
	if err != nil {
		log.Errorf("Cannot decode push: %s", err)
		return dbus.NewErrorMessage(msg, "org.freedesktop.DBus.Error", "DecodeError")
	}
	if !p.IsMMS() {
		log.Infof("Unhandled push pdu %s for application %d", p.ContentType, p.ApplicationId)
		return dbus.NewMethodReturnMessage(msg)
	}
	agent.Push <- p
	return dbus.NewMethodReturnMessage(msg)
}
