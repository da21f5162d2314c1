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
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/mmsc"
	"github.com/ubports/mmsd/pdu"
	"go.uber.org/atomic"
)

var sendStatuses = map[string]byte{
	"ok":        pdu.ResponseStatusOk,
	"denied":    pdu.ResponseStatusErrorServiceDenied,
	"transient": pdu.ResponseStatusErrorTransientFailure,
}

type server struct {
	retrieveConf []byte
	sendStatus   byte
	denials      atomic.Int32

	served   atomic.Int32
	received atomic.Int32
}

func newServer(args mainFlags) (*server, error) {
	s := &server{sendStatus: pdu.ResponseStatusOk}
	if status, ok := sendStatuses[args.SendStatus]; ok {
		s.sendStatus = status
	}
	s.denials.Store(int32(args.DenialCount))
	if args.RetrieveConf != "" {
		data, err := os.ReadFile(args.RetrieveConf)
		if err != nil {
			return nil, err
		}
		s.retrieveConf = data
		return s, nil
	}
	data, err := pdu.Marshal(&pdu.RetrieveConf{
		TransactionId:  "fake-" + uuid.NewString(),
		Version:        pdu.MMS_MESSAGE_VERSION_1_2,
		MessageId:      uuid.NewString(),
		From:           args.Sender,
		Date:           uint64(time.Now().Unix()),
		RetrieveStatus: pdu.RetrieveStatusOk,
		ContentType:    "text/plain",
		Body:           []byte("Hello from the fake MMSC"),
	})
	if err != nil {
		return nil, err
	}
	s.retrieveConf = data
	return s, nil
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/mms" {
		http.NotFound(w, r)
		return
	}
	if s.denials.Dec() >= 0 {
		log.Infof("Serving MMS content denied")
		http.Error(w, "Intentional denial", http.StatusInternalServerError)
		return
	}
	switch r.Method {
	case http.MethodGet:
		log.Infof("Serving MMS content to %s", r.RemoteAddr)
		s.served.Inc()
		w.Header().Set("Content-Type", mmsc.ContentTypeMMS)
		w.Write(s.retrieveConf)
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil || len(body) < 2 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		s.received.Inc()
		s.answer(w, body)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// answer replies to a posted PDU: m-send.req gets an m-send.conf, the
// indications get an empty 200.
func (s *server) answer(w http.ResponseWriter, body []byte) {
	msgType := body[1]
	log.Infof("Received PDU type %#x", msgType)
	if msgType != pdu.TYPE_SEND_REQ {
		w.WriteHeader(http.StatusOK)
		return
	}
	conf := &pdu.SendConf{
		TransactionId:  "fake-" + uuid.NewString(),
		Version:        pdu.MMS_MESSAGE_VERSION_1_2,
		ResponseStatus: s.sendStatus,
	}
	if s.sendStatus == pdu.ResponseStatusOk {
		conf.MessageId = uuid.NewString()
	} else {
		conf.ResponseText = fmt.Sprintf("status %#x", s.sendStatus)
	}
	data, err := pdu.Marshal(conf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mmsc.ContentTypeMMS)
	w.Write(data)
}
