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
	"sync"

	"github.com/ubports/mmsd/apn"
	"github.com/ubports/mmsd/config"
	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/mmsc"
	"github.com/ubports/mmsd/network"
	"github.com/ubports/mmsd/ofono"
	"github.com/ubports/mmsd/request"
	"github.com/ubports/mmsd/storage"
	"launchpad.net/go-dbus"
)

// platform holds the long lived pieces every command needs.
type platform struct {
	opts     *options
	conn     *dbus.Connection
	provider *ofono.Provider
	network  *network.Manager
	data     *network.DataLease
	store    *storage.FileStore
	prefs    *storage.Preferences
	config   config.Loader
	client   *mmsc.Client
	modems   *ofono.ModemTracker

	ready     chan struct{}
	readyOnce sync.Once
}

func newPlatform(opts *options) (*platform, error) {
	logger, err := log.New(opts.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLogger(logger)

	conn, err := dbus.Connect(dbus.SystemBus)
	if err != nil {
		return nil, err
	}
	log.Infof("Using system bus on %s", conn.UniqueName)

	prefs := storage.NewPreferences(opts.Preferences)
	if opts.Preferences == "" {
		if prefs, err = storage.DefaultPreferences(); err != nil {
			return nil, err
		}
	}
	store, err := storage.NewFileStore(opts.Store)
	if err != nil {
		return nil, err
	}
	cfgPath := opts.Config
	if cfgPath == "" {
		if cfgPath, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}

	provider := ofono.NewProvider(conn, prefs)
	return &platform{
		opts:     opts,
		conn:     conn,
		provider: provider,
		network:  network.NewManager(provider, network.Options{Binder: provider}),
		data:     network.NewDataLease(provider),
		store:    store,
		prefs:    prefs,
		config:   config.FileLoader{FilePath: cfgPath},
		client:   &mmsc.Client{Locale: opts.locale()},
		modems:   ofono.NewModemTracker(conn),
		ready:    make(chan struct{}),
	}, nil
}

func (p *platform) rows() apn.RowSource {
	return ofono.ContextRows{Provider: p.provider}
}

func (p *platform) executor() *request.Executor {
	return &request.Executor{
		Network:     p.network,
		Data:        p.data,
		APNs:        p.rows(),
		Preferences: p.prefs,
		APNName:     p.opts.APN,
		Client:      p.client,
		Config:      p.config,
		Store:       p.store,
		Subscriber:  p.provider,
	}
}

// settings loads the access point the dispatcher uses.
func (p *platform) settings() (*apn.Config, error) {
	return apn.Load(p.rows(), p.prefs, p.opts.APN)
}

// start follows oFono's modems until ctx is done. newMediator is called
// for each modem before it is initialized, so its channels are drained
// from the start.
func (p *platform) start(ctx context.Context, newMediator func(*ofono.Modem) *mediator) error {
	go p.followModems(ctx, newMediator)
	return p.modems.Init()
}

func (p *platform) followModems(ctx context.Context, newMediator func(*ofono.Modem) *mediator) {
	mediators := make(map[dbus.ObjectPath]*mediator)
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-p.modems.Changes:
			modem := change.Modem
			if !change.Added {
				if p.provider.Modem() == modem {
					p.provider.SetModem(nil)
				}
				if m, ok := mediators[modem.Modem]; ok {
					m.stop()
					delete(mediators, modem.Modem)
				}
				continue
			}
			m := newMediator(modem)
			mediators[modem.Modem] = m
			go m.run(ctx)
			if err := modem.Init(); err != nil {
				log.Errorf("Cannot initialize modem %s: %s", modem.Modem, err)
				continue
			}
			p.provider.SetModem(modem)
			p.readyOnce.Do(func() { close(p.ready) })
		}
	}
}

// waitForModem blocks until a modem backs the provider.
func (p *platform) waitForModem(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
