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
	"strings"

	"github.com/ubports/mmsd/apn"
	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/mmsc"
	"github.com/ubports/mmsd/pdu"
	"github.com/ubports/mmsd/storage"
)

// DownloadRequest fetches an m-retrieve.conf from a content location.
type DownloadRequest struct {
	Location      string
	TransactionID string
}

func NewDownloadRequest(messageID, creator, location, transactionID string, overrides map[string]string, callback func(Completion)) *Request {
	return &Request{
		MessageID:       messageID,
		Creator:         creator,
		ConfigOverrides: overrides,
		Callback:        callback,
		Variant:         &DownloadRequest{Location: location, TransactionID: transactionID},
	}
}

func (d *DownloadRequest) Prepare(env *Env, r *Request) error {
	if d.Location == "" {
		return errors.New("no content location")
	}
	return nil
}

// ContentLocation returns the url fetched, with the transaction id
// appended when the carrier asks for it.
func (d *DownloadRequest) ContentLocation(env *Env) string {
	if env == nil || env.Config == nil || !env.Config.TransIDEnabled || d.TransactionID == "" {
		return d.Location
	}
	if strings.HasSuffix(d.Location, d.TransactionID) {
		return d.Location
	}
	return d.Location + d.TransactionID
}

func (d *DownloadRequest) DoHTTP(ctx context.Context, env *Env, r *Request, apnCfg *apn.Config) ([]byte, error) {
	return env.Client.Execute(ctx, mmsc.Request{
		URL:    d.ContentLocation(env),
		Method: http.MethodGet,
		APN:    apnCfg,
		Config: env.Config,
		Macros: env.Macros,
		Route:  env.Route,
	})
}

// TransferResponse saves the retrieved PDU, creating an inbox record when
// the request had none.
func (d *DownloadRequest) TransferResponse(env *Env, r *Request, response []byte) error {
	if env.Store == nil {
		return nil
	}
	if r.MessageID == "" {
		id, err := env.Store.Insert(storage.Values{
			storage.MessageBox: storage.BoxInbox,
			storage.Creator:    r.Creator,
		})
		if err != nil {
			return err
		}
		r.MessageID = id
	}
	return env.Store.WritePDU(r.MessageID, response)
}

func (d *DownloadRequest) UpdateStatus(env *Env, r *Request, result Result, response []byte) {
	if env.Store == nil || r.MessageID == "" {
		return
	}
	values := storage.Values{storage.RetrieveStatus: pdu.RetrieveStatusErrorTransientFailure}
	if result == OK {
		values = storage.Values{
			storage.MessageBox:      storage.BoxInbox,
			storage.Read:            0,
			storage.Seen:            0,
			storage.Creator:         r.Creator,
			storage.ContentLocation: d.Location,
			storage.MessageType:     pdu.TYPE_RETRIEVE_CONF,
			storage.Date:            now().Unix(),
		}
		if conf, err := pdu.ParseRetrieveConf(response); err != nil {
			log.Warnf("Cannot parse m-retrieve.conf for %s: %v", r, err)
		} else {
			values[storage.MessageID] = conf.MessageId
			values[storage.TransactionID] = conf.TransactionId
			values[storage.RetrieveStatus] = conf.RetrieveStatus
			if conf.Date != 0 {
				values[storage.Date] = int64(conf.Date)
			}
		}
	}
	if err := env.Store.Update(r.MessageID, values); err != nil {
		log.Errorf("Cannot update status of %s: %v", r, err)
	}
}

func (d *DownloadRequest) RevokeGrants(r *Request) {}
