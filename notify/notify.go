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

// Package notify publishes request and transaction outcomes on D-Bus.
package notify

import (
	"fmt"

	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/request"
	"github.com/ubports/mmsd/transaction"
	"launchpad.net/go-dbus"
)

const (
	MMSD_DBUS_NAME          = "org.ubports.mmsd"
	MMSD_DBUS_PATH          = dbus.ObjectPath("/org/ubports/mmsd")
	MMSD_SERVICE_DBUS_IFACE = "org.ubports.mmsd.Service"
)

const (
	REQUEST_COMPLETED     = "RequestCompleted"
	TRANSACTION_COMPLETED = "TransactionCompleted"
	PENDING_FAILED        = "PendingFailed"
	GET_TRANSACTIONS      = "GetTransactions"
	SEND_MESSAGE          = "SendMessage"
	DOWNLOAD_MESSAGE      = "DownloadMessage"
	SEND_READ_REPORT      = "SendReadReport"
)

type sender interface {
	Send(msg *dbus.Message) error
}

// Queue exposes the dispatcher state. *transaction.Service satisfies it.
type Queue interface {
	Snapshot() transaction.Snapshot
}

// Commands are the operations clients may start over D-Bus.
type Commands interface {
	SendMessage(storeID string) error
	DownloadMessage(location, transactionID string) (storeID string, err error)
	SendReadReport(storeID, to string) error
}

// Payload is the wire form of a queued transaction, (isss).
type Payload struct {
	ServiceID int32
	Type      string
	MessageID string
	State     string
}

// Broadcaster emits RequestCompleted, TransactionCompleted and
// PendingFailed signals and serves GetTransactions plus the Commands.
type Broadcaster struct {
	conn     sender
	queue    Queue
	commands Commands
	msgChan  chan *dbus.Message
}

// NewBroadcaster owns MMSD_DBUS_NAME on conn and serves MMSD_DBUS_PATH.
func NewBroadcaster(conn *dbus.Connection, queue Queue, commands Commands) (*Broadcaster, error) {
	name := conn.RequestName(MMSD_DBUS_NAME, dbus.NameFlagDoNotQueue)
	if err := <-name.C; err != nil {
		return nil, fmt.Errorf("could not acquire name %s: %w", MMSD_DBUS_NAME, err)
	}
	log.Infof("Registered %s on bus as %s", conn.UniqueName, name.Name)

	b := newBroadcaster(conn, queue, commands)
	go b.watchDBusMethodCalls()
	conn.RegisterObjectPath(MMSD_DBUS_PATH, b.msgChan)
	return b, nil
}

func newBroadcaster(conn sender, queue Queue, commands Commands) *Broadcaster {
	return &Broadcaster{conn: conn, queue: queue, commands: commands, msgChan: make(chan *dbus.Message)}
}

func (b *Broadcaster) watchDBusMethodCalls() {
	for msg := range b.msgChan {
		var reply *dbus.Message
		switch {
		case msg.Interface == MMSD_SERVICE_DBUS_IFACE && msg.Member == GET_TRANSACTIONS:
			reply = b.getTransactions(msg)
		case msg.Interface == MMSD_SERVICE_DBUS_IFACE && b.commands != nil:
			reply = b.command(msg)
		default:
			log.Warnf("Received unknown method call on %s %s", msg.Interface, msg.Member)
			reply = dbus.NewErrorMessage(msg, "org.freedesktop.DBus.Error.UnknownMethod", "Unknown method")
		}
		if err := b.conn.Send(reply); err != nil {
			log.Errorf("Could not send reply: %s", err)
		}
	}
}

func (b *Broadcaster) getTransactions(msg *dbus.Message) *dbus.Message {
	var snapshot transaction.Snapshot
	if b.queue != nil {
		snapshot = b.queue.Snapshot()
	}
	reply := dbus.NewMethodReturnMessage(msg)
	if err := reply.AppendArgs(payloads(snapshot.Processing), payloads(snapshot.Pending)); err != nil {
		log.Errorf("Cannot encode transactions: %s", err)
		return dbus.NewErrorMessage(msg, "org.freedesktop.DBus.Error.Failed", "Cannot encode transactions")
	}
	return reply
}

func (b *Broadcaster) command(msg *dbus.Message) *dbus.Message {
	var err error
	var storeID, location, transactionID, to string
	reply := dbus.NewMethodReturnMessage(msg)
	switch msg.Member {
	case SEND_MESSAGE:
		if err = msg.Args(&storeID); err == nil {
			log.Infof("Received %s(%s)", SEND_MESSAGE, storeID)
			err = b.commands.SendMessage(storeID)
		}
	case DOWNLOAD_MESSAGE:
		if err = msg.Args(&location, &transactionID); err == nil {
			log.Infof("Received %s(%s)", DOWNLOAD_MESSAGE, location)
			if storeID, err = b.commands.DownloadMessage(location, transactionID); err == nil {
				err = reply.AppendArgs(storeID)
			}
		}
	case SEND_READ_REPORT:
		if err = msg.Args(&storeID, &to); err == nil {
			log.Infof("Received %s(%s)", SEND_READ_REPORT, storeID)
			err = b.commands.SendReadReport(storeID, to)
		}
	default:
		log.Warnf("Received unknown method call on %s %s", msg.Interface, msg.Member)
		return dbus.NewErrorMessage(msg, "org.freedesktop.DBus.Error.UnknownMethod", "Unknown method")
	}
	if err != nil {
		log.Errorf("%s failed: %s", msg.Member, err)
		return dbus.NewErrorMessage(msg, "org.freedesktop.DBus.Error.Failed", err.Error())
	}
	return reply
}

func payloads(infos []transaction.Info) []Payload {
	out := make([]Payload, 0, len(infos))
	for _, i := range infos {
		out = append(out, Payload{int32(i.ServiceID), i.Type.String(), i.MessageID, i.State.String()})
	}
	return out
}

func (b *Broadcaster) emit(member string, args ...interface{}) error {
	signal := dbus.NewSignalMessage(MMSD_DBUS_PATH, MMSD_SERVICE_DBUS_IFACE, member)
	if err := signal.AppendArgs(args...); err != nil {
		return err
	}
	if err := b.conn.Send(signal); err != nil {
		return fmt.Errorf("cannot send %s: %w", member, err)
	}
	return nil
}

// RequestCompleted announces the outcome of a send or download request.
// It has the shape of a request.Completion callback once messageID is
// bound.
func (b *Broadcaster) RequestCompleted(messageID string, c request.Completion) {
	log.Debugf("%s %s: %s", REQUEST_COMPLETED, messageID, c.Result)
	if err := b.emit(REQUEST_COMPLETED, messageID, c.Result.String(), int32(c.HTTPStatus), c.ContentLocation); err != nil {
		log.Errorf("%s", err)
	}
}

func (b *Broadcaster) TransactionCompleted(t *transaction.Transaction) {
	b.transactionSignal(TRANSACTION_COMPLETED, t)
}

func (b *Broadcaster) PendingFailed(t *transaction.Transaction) {
	b.transactionSignal(PENDING_FAILED, t)
}

func (b *Broadcaster) transactionSignal(member string, t *transaction.Transaction) {
	log.Debugf("%s %s: %s", member, t, t.State)
	if err := b.emit(member, int32(t.ServiceID), t.Type.String(), t.MessageID, t.State.String()); err != nil {
		log.Errorf("%s", err)
	}
}

// Close stops serving method calls.
func (b *Broadcaster) Close() {
	if conn, ok := b.conn.(*dbus.Connection); ok {
		conn.UnregisterObjectPath(MMSD_DBUS_PATH)
	}
	close(b.msgChan)
}
