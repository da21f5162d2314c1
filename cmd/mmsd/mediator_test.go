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
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ubports/mmsd/config"
	"github.com/ubports/mmsd/pdu"
	"github.com/ubports/mmsd/storage"
	"github.com/ubports/mmsd/transaction"
	"golang.org/x/text/language"
	. "launchpad.net/gocheck"
)

func Test(t *testing.T) { TestingT(t) }

type MediatorTestSuite struct {
	store    *storage.FileStore
	cfg      *config.Config
	submits  *fakeSubmitter
	mediator *mediator
}

var _ = Suite(&MediatorTestSuite{})

type fakeSubmitter struct {
	items []transaction.WorkItem
}

func (f *fakeSubmitter) Submit(ctx context.Context, item transaction.WorkItem) (*transaction.Transaction, error) {
	f.items = append(f.items, item)
	return &transaction.Transaction{Type: item.Type, StoreID: item.StoreID}, nil
}

var notificationInd = bytes.Join([][]byte{
	{0x8c, 0x82},
	{0x98}, []byte("tid-7\x00"),
	{0x8d, 0x90},
	{0x89, 0x12, 0x80}, []byte("+12345/TYPE=PLMN\x00"),
	{0x8a, 0x80},
	{0x8e, 0x02, 0x04, 0x00},
	{0x83}, []byte("http://mmsc.example/m7\x00"),
}, nil)

func (s *MediatorTestSuite) SetUpTest(c *C) {
	var err error
	s.store, err = storage.NewFileStore(c.MkDir())
	c.Assert(err, IsNil)
	s.cfg = config.Defaults()
	s.submits = &fakeSubmitter{}
	s.mediator = &mediator{store: s.store, config: config.Static{Base: s.cfg}, submit: s.submits}
	now = func() time.Time { return time.Unix(1400000000, 0) }
}

func (s *MediatorTestSuite) TearDownTest(c *C) {
	now = time.Now
}

func (s *MediatorTestSuite) TestNotificationIsStoredAndQueued(c *C) {
	s.mediator.handlePush(context.Background(), &pdu.Push{ContentType: pdu.VND_WAP_MMS_MESSAGE, Data: notificationInd})

	c.Assert(s.submits.items, HasLen, 1)
	item := s.submits.items[0]
	c.Check(item.Type, Equals, transaction.Notification)

	v, err := s.store.Query(item.StoreID)
	c.Assert(err, IsNil)
	c.Check(v.String(storage.ContentLocation), Equals, "http://mmsc.example/m7")
	c.Check(v.String(storage.TransactionID), Equals, "tid-7")
	box, _ := v.Int(storage.MessageBox)
	c.Check(box, Equals, int64(storage.BoxInbox))
	date, _ := v.Int(storage.Date)
	c.Check(date, Equals, int64(1400000000))

	data, err := s.store.ReadPDU(item.StoreID)
	c.Assert(err, IsNil)
	c.Check(data, DeepEquals, notificationInd)

	// the stored record is what the dispatcher builds the transaction from
	t, err := transaction.NewFactory(s.store)(1, item)
	c.Assert(err, IsNil)
	c.Check(t.MessageID, Equals, "http://mmsc.example/m7")
}

func (s *MediatorTestSuite) TestMMSDisabledOnlyStores(c *C) {
	s.cfg.MMSEnabled = false
	s.mediator.handlePush(context.Background(), &pdu.Push{Data: notificationInd})
	c.Check(s.submits.items, HasLen, 0)
	ids, err := s.store.IDs()
	c.Assert(err, IsNil)
	c.Check(ids, HasLen, 1)
}

func (s *MediatorTestSuite) TestOtherPDUsAreIgnored(c *C) {
	sendConf, err := pdu.Marshal(&pdu.SendConf{TransactionId: "t", ResponseStatus: pdu.ResponseStatusOk})
	c.Assert(err, IsNil)
	s.mediator.handlePush(context.Background(), &pdu.Push{Data: sendConf})
	c.Check(s.submits.items, HasLen, 0)
	ids, err := s.store.IDs()
	c.Assert(err, IsNil)
	c.Check(ids, HasLen, 0)
}

func TestLocale(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want language.Tag
	}{
		{"", language.Und},
		{"C", language.Und},
		{"C.UTF-8", language.Und},
		{"fr_FR.UTF-8", language.MustParse("fr-FR")},
		{"es_AR", language.MustParse("es-AR")},
		{"de_DE@euro", language.MustParse("de-DE")},
	} {
		o := &options{Locale: tc.in}
		if got := o.locale(); got != tc.want {
			t.Errorf("locale(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
