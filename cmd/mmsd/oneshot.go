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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/ofono"
	"github.com/ubports/mmsd/request"
	"github.com/ubports/mmsd/storage"
)

// modemTimeout bounds the wait for oFono to report a usable modem.
const modemTimeout = 30 * time.Second

type sendCommand struct {
	opts      *options
	ID        string            `long:"id" description:"store id of an encoded m-send.req"`
	File      string            `long:"file" description:"encoded m-send.req to store and send"`
	Overrides map[string]string `long:"override" short:"o" description:"configuration override as key:value"`
}

type downloadCommand struct {
	opts          *options
	Location      string            `long:"location" required:"true" description:"content location of the message"`
	TransactionID string            `long:"transaction-id" description:"transaction id from the m-notification.ind"`
	Overrides     map[string]string `long:"override" short:"o" description:"configuration override as key:value"`
}

// oneShot prepares the platform, waits for a modem and runs r.
func oneShot(opts *options, prepare func(p *platform) (*request.Request, error)) error {
	p, err := newPlatform(opts)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = p.start(ctx, func(modem *ofono.Modem) *mediator {
		// pushes arriving meanwhile are stored, not downloaded
		return &mediator{modem: modem, store: p.store, config: p.config, network: p.network, done: make(chan struct{})}
	})
	if err != nil {
		return err
	}
	wait, cancel := context.WithTimeout(ctx, modemTimeout)
	defer cancel()
	if err := p.waitForModem(wait); err != nil {
		return fmt.Errorf("no modem: %w", err)
	}

	r, err := prepare(p)
	if err != nil {
		return err
	}
	c, err := p.executor().Execute(ctx, r)
	if err != nil {
		return err
	}
	log.Infof("%s finished with %s (HTTP %d)", r, c.Result, c.HTTPStatus)
	if c.Result != request.OK {
		return fmt.Errorf("request failed: %s", c.Result)
	}
	return nil
}

func (cmd *sendCommand) Execute(args []string) error {
	if (cmd.ID == "") == (cmd.File == "") {
		return errors.New("exactly one of --id and --file is required")
	}
	return oneShot(cmd.opts, func(p *platform) (*request.Request, error) {
		id := cmd.ID
		if cmd.File != "" {
			data, err := os.ReadFile(cmd.File)
			if err != nil {
				return nil, err
			}
			if id, err = p.store.Insert(storage.Values{storage.MessageBox: storage.BoxOutbox, storage.Creator: creator}); err != nil {
				return nil, err
			}
			if err := p.store.WritePDU(id, data); err != nil {
				return nil, err
			}
		}
		return request.NewSendRequest(id, creator, cmd.Overrides, nil), nil
	})
}

func (cmd *downloadCommand) Execute(args []string) error {
	return oneShot(cmd.opts, func(p *platform) (*request.Request, error) {
		return request.NewDownloadRequest("", creator, cmd.Location, cmd.TransactionID, cmd.Overrides, func(c request.Completion) {
			if c.Result == request.OK {
				fmt.Println(len(c.Response), "bytes retrieved")
			}
		}), nil
	})
}
