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

package request

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ubports/mmsd/apn"
	"github.com/ubports/mmsd/config"
	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/mmsc"
	"github.com/ubports/mmsd/network"
	"github.com/ubports/mmsd/storage"
)

const (
	maxAttempts  = 3
	initialDelay = 2 * time.Second
)

// ErrAlreadyExecuted is returned when a Request is executed twice.
var ErrAlreadyExecuted = errors.New("request already executed")

// NetworkLease is the MMS data path shared by all requests.
// *network.Manager satisfies it. release gives back exactly the reference
// Acquire took.
type NetworkLease interface {
	mmsc.Route
	Acquire(ctx context.Context) (release func(), err error)
}

// DataSwitch keeps mobile data on while requests run.
// *network.DataLease satisfies it.
type DataSwitch interface {
	Acquire()
	Release()
}

// Executor runs requests. Sleep is used between attempts and defaults to a
// context aware timer.
type Executor struct {
	Network     NetworkLease
	Data        DataSwitch
	APNs        apn.RowSource
	Preferences apn.Preferences
	APNName     string
	Client      HTTPClient
	Config      config.Loader
	Store       storage.Store
	Subscriber  Subscriber
	Sleep       func(ctx context.Context, d time.Duration) error
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs r to completion, invokes its callback once and returns the
// same Completion.
func (e *Executor) Execute(ctx context.Context, r *Request) (Completion, error) {
	if !r.executed.CompareAndSwap(false, true) {
		return Completion{}, ErrAlreadyExecuted
	}
	if e.Data != nil {
		e.Data.Acquire()
		defer e.Data.Release()
	}
	log.Infof("Executing %s", r)

	completion, response, env := e.run(ctx, r)
	if completion.Result == OK {
		if err := r.Variant.TransferResponse(env, r, response); err != nil {
			log.Errorf("Cannot transfer response for %s: %v", r, err)
			completion.Result = ErrorIO
		}
	}
	r.Variant.UpdateStatus(env, r, completion.Result, response)
	completion.ContentLocation = r.Variant.ContentLocation(env)
	if r.Callback != nil {
		r.Callback(completion)
	}
	r.Variant.RevokeGrants(r)
	log.Infof("%s finished with %s", r, completion.Result)
	return completion, nil
}

func (e *Executor) env(cfg *config.Config) *Env {
	return &Env{
		Store:  e.Store,
		Client: e.Client,
		Route:  e.Network,
		Config: cfg,
	}
}

// run returns the env it ran with; Env.Config is nil when the
// configuration could not be loaded.
func (e *Executor) run(ctx context.Context, r *Request) (Completion, []byte, *Env) {
	cfg, err := e.loadConfig(r)
	if err != nil {
		log.Errorf("Cannot load mms config for %s: %v", r, err)
		return Completion{Result: ErrorConfiguration}, nil, e.env(nil)
	}
	env := e.env(cfg)
	env.Macros = Macros(e.Subscriber, cfg)
	if err := r.Variant.Prepare(env, r); err != nil {
		log.Errorf("Cannot prepare %s: %v", r, err)
		return Completion{Result: ErrorIO}, nil, env
	}

	sleepFn := e.Sleep
	if sleepFn == nil {
		sleepFn = sleep
	}
	completion := Completion{Result: ErrorUnspecified}
	delay := initialDelay
	for i := 1; i <= maxAttempts; i++ {
		response, err := e.attempt(ctx, env, r)
		if err == nil {
			return Completion{Result: OK, Response: response, HTTPStatus: http.StatusOK}, response, env
		}
		var retry bool
		completion.Result, retry = classify(err)
		var httpErr *mmsc.HTTPError
		if errors.As(err, &httpErr) {
			completion.HTTPStatus = httpErr.StatusCode
		}
		log.Warnf("Attempt %d/%d of %s failed with %s: %v", i, maxAttempts, r, completion.Result, err)
		if !retry {
			break
		}
		if err := sleepFn(ctx, delay); err != nil {
			log.Warnf("Stopped retrying %s: %v", r, err)
			break
		}
		delay *= 2
	}
	return completion, nil, env
}

// attempt acquires the network once and releases it once, whatever the
// outcome.
func (e *Executor) attempt(ctx context.Context, env *Env, r *Request) (response []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	release, err := e.Network.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	apnCfg, err := apn.Load(e.APNs, e.Preferences, e.APNName)
	if err != nil {
		return nil, err
	}
	return r.Variant.DoHTTP(ctx, env, r, apnCfg)
}

func (e *Executor) loadConfig(r *Request) (*config.Config, error) {
	if e.Config == nil {
		return config.Defaults().Merge(r.ConfigOverrides)
	}
	return e.Config.Load(r.ConfigOverrides)
}

// classify maps an attempt failure to its result and whether another
// attempt may help.
func classify(err error) (Result, bool) {
	var (
		apnErr       *apn.Error
		acquireErr   *network.AcquireError
		httpErr      *mmsc.HTTPError
		transportErr *mmsc.TransportError
	)
	switch {
	case errors.As(err, &apnErr):
		return ErrorInvalidAPN, false
	case errors.As(err, &acquireErr):
		return ErrorUnableToConnect, true
	case errors.As(err, &httpErr), errors.As(err, &transportErr):
		return ErrorHTTPFailure, true
	}
	return ErrorUnspecified, false
}
