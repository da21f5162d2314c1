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
	"errors"
	"os/signal"
	"syscall"

	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/notify"
	"github.com/ubports/mmsd/ofono"
	"github.com/ubports/mmsd/request"
	"github.com/ubports/mmsd/storage"
	"github.com/ubports/mmsd/transaction"
	"launchpad.net/go-dbus"
)

const creator = "mmsd"

type runCommand struct {
	opts *options
}

// daemon serves the notify.Commands for the session bus.
type daemon struct {
	ctx         context.Context
	platform    *platform
	service     *transaction.Service
	broadcaster *notify.Broadcaster
}

func (cmd *runCommand) Execute(args []string) error {
	p, err := newPlatform(cmd.opts)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	svc := transaction.NewService(transaction.Options{
		Lease:        p.network.NewHold(),
		Connectivity: p.network,
		Settings:     p.settings,
		Env: transaction.Env{
			Client: p.client,
			Route:  p.network,
			Store:  p.store,
			Config: p.config,
		},
	})
	d := &daemon{ctx: ctx, platform: p, service: svc}

	session, err := dbus.Connect(dbus.SessionBus)
	if err != nil {
		return err
	}
	log.Infof("Using session bus on %s", session.UniqueName)
	if d.broadcaster, err = notify.NewBroadcaster(session, svc, d); err != nil {
		return err
	}
	defer d.broadcaster.Close()
	svc.AddObserver(d.broadcaster)

	err = p.start(ctx, func(modem *ofono.Modem) *mediator {
		return &mediator{
			modem:   modem,
			store:   p.store,
			config:  p.config,
			submit:  svc,
			network: p.network,
			done:    make(chan struct{}),
		}
	})
	if err != nil {
		return err
	}

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Infof("Shutting down")
	return nil
}

func (d *daemon) execute(r *request.Request) {
	go func() {
		if _, err := d.platform.executor().Execute(d.ctx, r); err != nil {
			log.Errorf("%s: %s", r, err)
		}
	}()
}

func (d *daemon) completed(storeID string) func(request.Completion) {
	return func(c request.Completion) {
		d.broadcaster.RequestCompleted(storeID, c)
	}
}

func (d *daemon) SendMessage(storeID string) error {
	if _, err := d.platform.store.Query(storeID); err != nil {
		return err
	}
	d.execute(request.NewSendRequest(storeID, creator, nil, d.completed(storeID)))
	return nil
}

func (d *daemon) DownloadMessage(location, transactionID string) (string, error) {
	id, err := d.platform.store.Insert(storage.Values{
		storage.MessageBox:      storage.BoxInbox,
		storage.ContentLocation: location,
		storage.TransactionID:   transactionID,
	})
	if err != nil {
		return "", err
	}
	d.execute(request.NewDownloadRequest(id, creator, location, transactionID, nil, d.completed(id)))
	return id, nil
}

func (d *daemon) SendReadReport(storeID, to string) error {
	_, err := d.service.Submit(d.ctx, transaction.WorkItem{Type: transaction.ReadRec, StoreID: storeID, To: to})
	return err
}
