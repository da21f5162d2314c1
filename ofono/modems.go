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
	"sync"

	"github.com/ubports/mmsd/log"
	"launchpad.net/go-dbus"
)

// ModemChange is one entry of oFono's modem list coming or going.
type ModemChange struct {
	Modem *Modem
	Added bool
}

// ModemTracker mirrors oFono's modem list. Every change is delivered on
// Changes in the order oFono reported it; the caller must keep draining
// it. A removed modem is Deleted after its change has been delivered.
type ModemTracker struct {
	Changes chan ModemChange

	conn     *dbus.Connection
	newModem func(dbus.ObjectPath) *Modem

	mu     sync.Mutex
	modems map[dbus.ObjectPath]*Modem
}

func NewModemTracker(conn *dbus.Connection) *ModemTracker {
	return &ModemTracker{
		Changes:  make(chan ModemChange, 4),
		conn:     conn,
		newModem: func(path dbus.ObjectPath) *Modem { return NewModem(conn, path) },
		modems:   make(map[dbus.ObjectPath]*Modem),
	}
}

// Init subscribes to ModemAdded and ModemRemoved and then reports the
// modems already present.
func (t *ModemTracker) Init() error {
	// signals get their own connection so a slow consumer of modem
	// properties cannot stall them
	conn, err := dbus.Connect(dbus.SystemBus)
	if err != nil {
		return err
	}
	added, err := connectToSignal(conn, "/", OFONO_MANAGER_INTERFACE, "ModemAdded")
	if err != nil {
		return err
	}
	removed, err := connectToSignal(conn, "/", OFONO_MANAGER_INTERFACE, "ModemRemoved")
	if err != nil {
		added.Cancel()
		return err
	}

	paths, err := getModems(conn)
	if err != nil {
		log.Warnf("Cannot list existing modems: %s", err)
	}
	for _, path := range paths {
		t.add(path)
	}
	go t.follow(added.C, removed.C)
	return nil
}

func (t *ModemTracker) follow(added, removed <-chan *dbus.Message) {
	for {
		select {
		case msg, ok := <-added:
			if !ok {
				return
			}
			t.handle(msg)
		case msg, ok := <-removed:
			if !ok {
				return
			}
			t.handle(msg)
		}
	}
}

func (t *ModemTracker) handle(msg *dbus.Message) {
	var path dbus.ObjectPath
	switch msg.Member {
	case "ModemAdded":
		var props PropertiesType
		if err := msg.Args(&path, &props); err != nil {
			log.Warnf("Cannot interpret ModemAdded: %s", err)
			return
		}
		t.add(path)
	case "ModemRemoved":
		if err := msg.Args(&path); err != nil {
			log.Warnf("Cannot interpret ModemRemoved: %s", err)
			return
		}
		t.remove(path)
	}
}

// add reports path as a new modem. A second ModemAdded for a known path
// replaces the stale instance, which is reported removed first.
func (t *ModemTracker) add(path dbus.ObjectPath) {
	t.remove(path)
	modem := t.newModem(path)
	t.mu.Lock()
	t.modems[path] = modem
	t.mu.Unlock()
	log.Infof("Modem %s added", path)
	t.Changes <- ModemChange{Modem: modem, Added: true}
}

func (t *ModemTracker) remove(path dbus.ObjectPath) {
	t.mu.Lock()
	modem, ok := t.modems[path]
	delete(t.modems, path)
	t.mu.Unlock()
	if !ok {
		return
	}
	log.Infof("Modem %s removed", path)
	t.Changes <- ModemChange{Modem: modem}
	modem.Delete()
}

// Modem returns the tracked modem at path.
func (t *ModemTracker) Modem(path dbus.ObjectPath) (*Modem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	modem, ok := t.modems[path]
	return modem, ok
}
