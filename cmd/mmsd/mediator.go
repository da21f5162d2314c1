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

package main

import (
	"context"
	"time"

	"github.com/ubports/mmsd/config"
	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/network"
	"github.com/ubports/mmsd/ofono"
	"github.com/ubports/mmsd/pdu"
	"github.com/ubports/mmsd/storage"
	"github.com/ubports/mmsd/transaction"
)

var now = time.Now

// removalGrace bounds how long a stopped mediator waits for the modem to
// announce its identity going away.
const removalGrace = 5 * time.Second

type submitter interface {
	Submit(ctx context.Context, item transaction.WorkItem) (*transaction.Transaction, error)
}

type interrupter interface {
	Interrupted(reason string)
}

// mediator connects one modem to the rest of the daemon: it registers the
// push agent, stores incoming notifications and queues their download,
// and passes voice call ends on to the network manager.
type mediator struct {
	modem   *ofono.Modem
	store   storage.Store
	config  config.Loader
	submit  submitter
	network interrupter
	done    chan struct{}
}

func (m *mediator) stop() {
	close(m.done)
}

func (m *mediator) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if err := m.modem.PushAgent.Unregister(); err != nil {
				log.Warnf("Cannot unregister push agent: %s", err)
			}
			return
		case <-m.done:
			select {
			case <-m.modem.IdentityRemoved:
			case <-time.After(removalGrace):
			}
			return
		case identity := <-m.modem.IdentityAdded:
			log.Infof("SIM %s ready on %s", identity, m.modem.Modem)
		case identity := <-m.modem.IdentityRemoved:
			log.Infof("SIM %s removed from %s", identity, m.modem.Modem)
		case available := <-m.modem.PushInterfaceAvailable:
			if available {
				if err := m.modem.PushAgent.Register(); err != nil {
					log.Errorf("%s", err)
				}
			} else if err := m.modem.PushAgent.Unregister(); err != nil {
				log.Warnf("Cannot unregister push agent: %s", err)
			}
		case push := <-m.modem.PushAgent.Push:
			m.handlePush(ctx, push)
		case <-m.modem.CallEnded:
			if m.network != nil {
				m.network.Interrupted(network.ReasonVoiceCallEnded)
			}
		}
	}
}

// handlePush records an m-notification.ind in the inbox and queues its
// download. Other MMS pushes, delivery reports included, are ignored.
func (m *mediator) handlePush(ctx context.Context, push *pdu.Push) {
	ind, err := pdu.ParseNotificationInd(push.Data)
	if err != nil {
		log.Infof("Ignoring push: %s", err)
		return
	}
	log.Infof("Notification %s from %s, %d bytes at %s", ind.TransactionId, ind.From, ind.Size, ind.ContentLocation)
	id, err := m.store.Insert(storage.Values{
		storage.MessageType:     int(pdu.TYPE_NOTIFICATION_IND),
		storage.MessageBox:      storage.BoxInbox,
		storage.ContentLocation: ind.ContentLocation,
		storage.TransactionID:   ind.TransactionId,
		storage.Date:            now().Unix(),
		storage.Read:            0,
		storage.Seen:            0,
	})
	if err != nil {
		log.Errorf("Cannot store notification %s: %s", ind.TransactionId, err)
		return
	}
	if err := m.store.WritePDU(id, push.Data); err != nil {
		log.Errorf("Cannot store notification %s: %s", ind.TransactionId, err)
		return
	}
	if m.submit == nil {
		return
	}
	if cfg, err := m.config.Load(nil); err == nil && !cfg.MMSEnabled {
		log.Infof("MMS disabled, not downloading %s", ind.ContentLocation)
		return
	}
	if _, err := m.submit.Submit(ctx, transaction.WorkItem{Type: transaction.Notification, StoreID: id}); err != nil {
		log.Errorf("Cannot queue download of %s: %s", ind.ContentLocation, err)
	}
}
