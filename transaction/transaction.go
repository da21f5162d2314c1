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

// Package transaction runs the notification, retrieve, send and read
// report exchanges queued by the daemon, one at a time over a shared MMS
// network lease.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ubports/mmsd/apn"
	"github.com/ubports/mmsd/config"
	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/mmsc"
	"github.com/ubports/mmsd/pdu"
	"github.com/ubports/mmsd/storage"
)

type Type int

const (
	Notification Type = iota
	Retrieve
	Send
	ReadRec
)

func (t Type) String() string {
	switch t {
	case Notification:
		return "notification"
	case Retrieve:
		return "retrieve"
	case Send:
		return "send"
	case ReadRec:
		return "read-rec"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

type State int

const (
	Initialized State = iota
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Success:
		return "success"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// WorkItem is a request for a transaction. StoreID names the record the
// transaction works on; ContentLocation is only used by Retrieve, To and
// ReadStatus only by ReadRec.
type WorkItem struct {
	Type            Type
	StoreID         string
	ContentLocation string
	To              string
	ReadStatus      byte
}

// Transaction is one queued exchange. MessageID identifies the message
// on the wire: the content location for Notification and Retrieve, the
// store id otherwise. Two transactions are equivalent when Type and
// MessageID match.
type Transaction struct {
	ServiceID int
	Type      Type
	MessageID string
	StoreID   string
	Settings  *apn.Config
	State     State

	kind kind
}

func (t *Transaction) String() string {
	return fmt.Sprintf("%s#%d(%s)", t.Type, t.ServiceID, t.MessageID)
}

func (t *Transaction) Equivalent(o *Transaction) bool {
	return t.identity() == o.identity()
}

type identity struct {
	typ       Type
	messageID string
}

func (t *Transaction) identity() identity {
	return identity{t.Type, t.MessageID}
}

// HTTPClient performs one MMSC exchange. *mmsc.Client satisfies it.
type HTTPClient interface {
	Execute(ctx context.Context, req mmsc.Request) ([]byte, error)
}

// Env is what transactions use while processing.
type Env struct {
	Client HTTPClient
	Route  mmsc.Route
	Store  storage.Store
	Config config.Loader
}

type kind interface {
	process(ctx context.Context, t *Transaction, env *Env, cfg *config.Config) error
}

// Factory turns a WorkItem into a Transaction.
type Factory func(serviceID int, item WorkItem) (*Transaction, error)

// NewFactory returns a Factory reading the records items refer to from
// store.
func NewFactory(store storage.Store) Factory {
	return func(serviceID int, item WorkItem) (*Transaction, error) {
		t := &Transaction{ServiceID: serviceID, Type: item.Type, StoreID: item.StoreID}
		switch item.Type {
		case Notification:
			if store == nil || item.StoreID == "" {
				return nil, errors.New("notification without a stored m-notification.ind")
			}
			data, err := store.ReadPDU(item.StoreID)
			if err != nil {
				return nil, err
			}
			ind, err := pdu.ParseNotificationInd(data)
			if err != nil {
				return nil, err
			}
			t.MessageID = ind.ContentLocation
			t.kind = &notification{ind: ind}
		case Retrieve:
			location := item.ContentLocation
			if location == "" && store != nil && item.StoreID != "" {
				if v, err := store.Query(item.StoreID); err == nil {
					location = v.String(storage.ContentLocation)
				}
			}
			if location == "" {
				return nil, errors.New("retrieve without content location")
			}
			t.MessageID = location
			t.kind = &retrieve{location: location}
		case Send:
			if item.StoreID == "" {
				return nil, errors.New("send without a stored m-send.req")
			}
			t.MessageID = item.StoreID
			t.kind = &send{}
		case ReadRec:
			if store == nil || item.StoreID == "" {
				return nil, errors.New("read report without a stored message")
			}
			v, err := store.Query(item.StoreID)
			if err != nil {
				return nil, err
			}
			mid := v.String(storage.MessageID)
			if mid == "" || item.To == "" {
				return nil, errors.New("read report needs a message id and a recipient")
			}
			status := item.ReadStatus
			if status == 0 {
				status = pdu.ReadStatusRead
			}
			t.MessageID = item.StoreID
			t.kind = &readRec{ind: pdu.ReadRecInd{MessageId: mid, To: item.To, ReadStatus: status}}
		default:
			return nil, fmt.Errorf("unknown transaction type %s", item.Type)
		}
		return t, nil
	}
}

func (env *Env) exchange(ctx context.Context, t *Transaction, cfg *config.Config, method, url string, body []byte) ([]byte, error) {
	return env.Client.Execute(ctx, mmsc.Request{
		URL:    url,
		Method: method,
		Body:   body,
		APN:    t.Settings,
		Config: cfg,
		Route:  env.Route,
	})
}

func (env *Env) post(ctx context.Context, t *Transaction, cfg *config.Config, p interface{}) error {
	data, err := pdu.Marshal(p)
	if err != nil {
		return err
	}
	_, err = env.exchange(ctx, t, cfg, http.MethodPost, t.Settings.MMSC, data)
	return err
}

// storeRetrieved saves an m-retrieve.conf in the inbox and returns it
// decoded.
func (env *Env) storeRetrieved(t *Transaction, data []byte) (*pdu.RetrieveConf, error) {
	conf, err := pdu.ParseRetrieveConf(data)
	if err != nil {
		return nil, err
	}
	if env.Store == nil {
		return conf, nil
	}
	if t.StoreID == "" {
		id, err := env.Store.Insert(storage.Values{storage.MessageBox: storage.BoxInbox})
		if err != nil {
			return nil, err
		}
		t.StoreID = id
	}
	if err := env.Store.WritePDU(t.StoreID, data); err != nil {
		return nil, err
	}
	return conf, env.Store.Update(t.StoreID, storage.Values{
		storage.MessageBox:     storage.BoxInbox,
		storage.MessageType:    pdu.TYPE_RETRIEVE_CONF,
		storage.MessageID:      conf.MessageId,
		storage.TransactionID:  conf.TransactionId,
		storage.RetrieveStatus: conf.RetrieveStatus,
		storage.Read:           0,
		storage.Seen:           0,
	})
}

type notification struct {
	ind *pdu.NotificationInd
}

// process downloads the message and answers with m-notifyresp.ind,
// deferring when the download failed.
func (n *notification) process(ctx context.Context, t *Transaction, env *Env, cfg *config.Config) error {
	status := byte(pdu.StatusRetrieved)
	data, err := env.exchange(ctx, t, cfg, http.MethodGet, n.ind.ContentLocation, nil)
	if err == nil {
		_, err = env.storeRetrieved(t, data)
	}
	if err != nil {
		log.Warnf("Cannot retrieve %s: %v", n.ind.ContentLocation, err)
		status = pdu.StatusDeferred
	}
	resp := &pdu.NotifyRespInd{
		TransactionId: n.ind.TransactionId,
		Version:       n.ind.Version,
		Status:        status,
		ReportAllowed: true,
	}
	if perr := env.post(ctx, t, cfg, resp); perr != nil {
		log.Warnf("Cannot send m-notifyresp.ind for %s: %v", t, perr)
		if err == nil {
			err = perr
		}
	}
	return err
}

type retrieve struct {
	location string
}

func (r *retrieve) process(ctx context.Context, t *Transaction, env *Env, cfg *config.Config) error {
	data, err := env.exchange(ctx, t, cfg, http.MethodGet, r.location, nil)
	if err != nil {
		return err
	}
	conf, err := env.storeRetrieved(t, data)
	if err != nil {
		return err
	}
	if conf.RetrieveStatus != pdu.RetrieveStatusOk {
		return fmt.Errorf("retrieve status %#x %s", conf.RetrieveStatus, conf.RetrieveText)
	}
	return env.post(ctx, t, cfg, &pdu.AcknowledgeInd{
		TransactionId: conf.TransactionId,
		Version:       conf.Version,
		ReportAllowed: true,
	})
}

type send struct{}

func (s *send) process(ctx context.Context, t *Transaction, env *Env, cfg *config.Config) error {
	if env.Store == nil {
		return errors.New("no store to read m-send.req from")
	}
	data, err := env.Store.ReadPDU(t.StoreID)
	if err != nil {
		return err
	}
	resp, err := env.exchange(ctx, t, cfg, http.MethodPost, t.Settings.MMSC, data)
	if err != nil {
		env.markSendFailed(t, 0)
		return err
	}
	conf, err := pdu.ParseSendConf(resp)
	if err != nil {
		env.markSendFailed(t, 0)
		return err
	}
	if !conf.IsOk() {
		env.markSendFailed(t, conf.ResponseStatus)
		return fmt.Errorf("response status %#x %s", conf.ResponseStatus, conf.ResponseText)
	}
	return env.Store.Update(t.StoreID, storage.Values{
		storage.MessageBox:     storage.BoxSent,
		storage.MessageID:      conf.MessageId,
		storage.ResponseStatus: conf.ResponseStatus,
	})
}

func (env *Env) markSendFailed(t *Transaction, responseStatus byte) {
	values := storage.Values{storage.MessageBox: storage.BoxFailed}
	if responseStatus != 0 {
		values[storage.ResponseStatus] = responseStatus
	}
	if err := env.Store.Update(t.StoreID, values); err != nil {
		log.Errorf("Cannot mark %s as failed: %v", t, err)
	}
}

type readRec struct {
	ind pdu.ReadRecInd
}

func (r *readRec) process(ctx context.Context, t *Transaction, env *Env, cfg *config.Config) error {
	return env.post(ctx, t, cfg, &r.ind)
}
