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
	"net/http"
	"time"

	"github.com/ubports/mmsd/apn"
	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/mmsc"
	"github.com/ubports/mmsd/pdu"
	"github.com/ubports/mmsd/storage"
)

var now = time.Now

// SendRequest posts an encoded m-send.req to the MMSC.
type SendRequest struct {
	// LocationURL replaces the MMSC of the access point when set.
	LocationURL string
	// PDU is read from the store by Prepare when empty.
	PDU []byte
}

func NewSendRequest(messageID, creator string, overrides map[string]string, callback func(Completion)) *Request {
	return &Request{
		MessageID:       messageID,
		Creator:         creator,
		ConfigOverrides: overrides,
		Callback:        callback,
		Variant:         &SendRequest{},
	}
}

func (s *SendRequest) Prepare(env *Env, r *Request) error {
	if len(s.PDU) > 0 {
		return nil
	}
	if r.MessageID == "" || env.Store == nil {
		return errors.New("no m-send.req to send")
	}
	data, err := env.Store.ReadPDU(r.MessageID)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty m-send.req")
	}
	if env.Config != nil && len(data) > env.Config.MaxMessageSize {
		return errors.New("m-send.req larger than maxMessageSize")
	}
	s.PDU = data
	return nil
}

func (s *SendRequest) DoHTTP(ctx context.Context, env *Env, r *Request, apnCfg *apn.Config) ([]byte, error) {
	url := s.LocationURL
	if url == "" {
		url = apnCfg.MMSC
	}
	return env.Client.Execute(ctx, mmsc.Request{
		URL:    url,
		Method: http.MethodPost,
		Body:   s.PDU,
		APN:    apnCfg,
		Config: env.Config,
		Macros: env.Macros,
		Route:  env.Route,
	})
}

// TransferResponse is a no-op, the m-send.conf reaches the caller through
// the Completion.
func (s *SendRequest) TransferResponse(env *Env, r *Request, response []byte) error {
	return nil
}

// UpdateStatus moves the message to the sent box when the MMSC accepted
// it and to the failed box otherwise.
func (s *SendRequest) UpdateStatus(env *Env, r *Request, result Result, response []byte) {
	if env.Store == nil || r.MessageID == "" {
		return
	}
	values := storage.Values{storage.MessageBox: storage.BoxFailed}
	if result == OK {
		conf, err := pdu.ParseSendConf(response)
		switch {
		case err != nil:
			log.Warnf("Cannot parse m-send.conf for %s: %v", r, err)
		case conf.IsOk():
			values[storage.MessageBox] = storage.BoxSent
			values[storage.MessageID] = conf.MessageId
			values[storage.ResponseStatus] = conf.ResponseStatus
			values[storage.Date] = now().Unix()
		default:
			log.Warnf("MMSC refused %s with response status %#x %s", r, conf.ResponseStatus, conf.ResponseText)
			values[storage.ResponseStatus] = conf.ResponseStatus
		}
	}
	if err := env.Store.Update(r.MessageID, values); err != nil {
		log.Errorf("Cannot update status of %s: %v", r, err)
	}
}

func (s *SendRequest) RevokeGrants(r *Request) {}

func (s *SendRequest) ContentLocation(env *Env) string {
	return s.LocationURL
}
