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

package ofono

import (
	"launchpad.net/go-dbus"
	. "launchpad.net/gocheck"
)

type ModemTrackerTestSuite struct {
	tracker *ModemTracker
}

var _ = Suite(&ModemTrackerTestSuite{})

func (s *ModemTrackerTestSuite) SetUpTest(c *C) {
	s.tracker = NewModemTracker(nil)
	s.tracker.newModem = func(path dbus.ObjectPath) *Modem {
		return &Modem{
			Modem:           path,
			IdentityRemoved: make(chan string, 1),
			endWatch:        make(chan bool, 1),
		}
	}
}

func modemSignal(c *C, member string, args ...interface{}) *dbus.Message {
	msg := dbus.NewSignalMessage("/", OFONO_MANAGER_INTERFACE, member)
	c.Assert(msg.AppendArgs(args...), IsNil)
	return msg
}

func (s *ModemTrackerTestSuite) next(c *C) ModemChange {
	select {
	case change := <-s.tracker.Changes:
		return change
	default:
		c.Fatal("no modem change reported")
	}
	return ModemChange{}
}

func (s *ModemTrackerTestSuite) TestAddedAndRemoved(c *C) {
	s.tracker.handle(modemSignal(c, "ModemAdded", dbus.ObjectPath("/ril_0"), PropertiesType{"Online": dbus.Variant{Value: true}}))
	added := s.next(c)
	c.Check(added.Added, Equals, true)
	c.Check(added.Modem.Modem, Equals, dbus.ObjectPath("/ril_0"))
	tracked, ok := s.tracker.Modem("/ril_0")
	c.Check(ok, Equals, true)
	c.Check(tracked, Equals, added.Modem)

	s.tracker.handle(modemSignal(c, "ModemRemoved", dbus.ObjectPath("/ril_0")))
	removed := s.next(c)
	c.Check(removed.Added, Equals, false)
	c.Check(removed.Modem, Equals, added.Modem)
	_, ok = s.tracker.Modem("/ril_0")
	c.Check(ok, Equals, false)
	// Delete stopped the watch
	c.Check(len(added.Modem.endWatch), Equals, 1)
}

func (s *ModemTrackerTestSuite) TestReAddReplacesStaleModem(c *C) {
	s.tracker.add("/ril_0")
	first := s.next(c).Modem

	s.tracker.add("/ril_0")
	removed := s.next(c)
	c.Check(removed.Added, Equals, false)
	c.Check(removed.Modem, Equals, first)
	added := s.next(c)
	c.Check(added.Added, Equals, true)
	c.Check(added.Modem, Not(Equals), first)
}

func (s *ModemTrackerTestSuite) TestUnknownRemovalIgnored(c *C) {
	s.tracker.handle(modemSignal(c, "ModemRemoved", dbus.ObjectPath("/ril_1")))
	c.Check(s.tracker.Changes, HasLen, 0)
}

func (s *ModemTrackerTestSuite) TestOtherMembersIgnored(c *C) {
	s.tracker.handle(modemSignal(c, "PropertyChanged", "Powered", dbus.Variant{Value: true}))
	c.Check(s.tracker.Changes, HasLen, 0)
}
