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

// Package request runs one MMS send or download against the MMSC,
// including network acquisition and the retry policy.
package request

import (
	"context"
	"fmt"

	"github.com/ubports/mmsd/apn"
	"github.com/ubports/mmsd/config"
	"github.com/ubports/mmsd/mmsc"
	"github.com/ubports/mmsd/storage"
	"go.uber.org/atomic"
)

// Result is the outcome reported to the requester.
type Result int

const (
	OK Result = iota
	ErrorUnspecified
	ErrorConfiguration
	ErrorInvalidAPN
	ErrorUnableToConnect
	ErrorHTTPFailure
	ErrorIO
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case ErrorUnspecified:
		return "ErrorUnspecified"
	case ErrorConfiguration:
		return "ErrorConfiguration"
	case ErrorInvalidAPN:
		return "ErrorInvalidAPN"
	case ErrorUnableToConnect:
		return "ErrorUnableToConnect"
	case ErrorHTTPFailure:
		return "ErrorHTTPFailure"
	case ErrorIO:
		return "ErrorIO"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Completion is handed to the request callback once the request is done.
// HTTPStatus is zero when no status line was received.
type Completion struct {
	Result          Result
	Response        []byte
	ContentLocation string
	HTTPStatus      int
}

// HTTPClient performs one MMSC exchange. *mmsc.Client satisfies it.
type HTTPClient interface {
	Execute(ctx context.Context, req mmsc.Request) ([]byte, error)
}

// Env is what a Variant may use while the request runs. Config is the
// merged configuration for this request.
type Env struct {
	Store  storage.Store
	Client HTTPClient
	Route  mmsc.Route
	Config *config.Config
	Macros map[string]string
}

// Variant supplies the send or download specific steps.
type Variant interface {
	Prepare(env *Env, r *Request) error
	DoHTTP(ctx context.Context, env *Env, r *Request, apnCfg *apn.Config) ([]byte, error)
	TransferResponse(env *Env, r *Request, response []byte) error
	UpdateStatus(env *Env, r *Request, result Result, response []byte)
	RevokeGrants(r *Request)
	ContentLocation(env *Env) string
}

// Request is a single send or download. It may only be executed once.
type Request struct {
	// MessageID locates the message in the store, it may be empty.
	MessageID       string
	Creator         string
	ConfigOverrides map[string]string
	Callback        func(Completion)
	Variant         Variant

	executed atomic.Bool
}

func (r *Request) String() string {
	return fmt.Sprintf("%T(%s)", r.Variant, r.MessageID)
}
