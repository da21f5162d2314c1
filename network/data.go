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

package network

import (
	"sync"

	"github.com/ubports/mmsd/log"
)

// DataLease keeps mobile data switched on while at least one holder needs
// it. The first Acquire remembers the user's setting and turns data on if
// it was off, the last Release puts the setting back.
type DataLease struct {
	transport Transport

	mu     sync.Mutex
	refs   int
	forced bool
}

func NewDataLease(t Transport) *DataLease {
	return &DataLease{transport: t}
}

// Acquire takes a reference. It never fails the caller: if the setting
// cannot be read or changed the request goes ahead and the path request
// reports the real problem.
func (l *DataLease) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refs++
	if l.refs > 1 || l.transport == nil {
		return
	}
	enabled, err := l.transport.IsTransportEnabled()
	if err != nil {
		log.Warnf("Cannot read mobile data state: %s", err)
		return
	}
	if enabled {
		return
	}
	log.Infof("Mobile data is off, enabling it for MMS")
	if err := l.transport.SetTransportEnabled(true); err != nil {
		log.Errorf("Cannot enable mobile data: %s", err)
		return
	}
	l.forced = true
}

// Release drops a reference, restoring the saved setting on the last one.
func (l *DataLease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs <= 0 {
		return
	}
	l.refs--
	if l.refs > 0 || !l.forced {
		return
	}
	l.forced = false
	log.Infof("Restoring mobile data to off")
	if err := l.transport.SetTransportEnabled(false); err != nil {
		log.Errorf("Cannot restore mobile data state: %s", err)
	}
}
