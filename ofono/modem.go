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

// Modem tracks the state of one oFono modem that matters for MMS: whether
// it is online, the SIM identity and line number, push support and the
// end of voice calls.
type Modem struct {
	conn                   *dbus.Connection
	Modem                  dbus.ObjectPath
	PushAgent              *PushAgent
	IdentityAdded          chan string
	IdentityRemoved        chan string
	PushInterfaceAvailable chan bool
	// CallEnded receives a value whenever a voice call goes away. Sends
	// never block; a pending value covers later calls.
	CallEnded chan struct{}
	endWatch  chan bool

	mu                     sync.Mutex
	identity               string
	lineNumber             string
	mcc                    string
	pushInterfaceAvailable bool
	online                 bool

	modemSignal, simSignal, callSignal *dbus.SignalWatch
}

func NewModem(conn *dbus.Connection, objectPath dbus.ObjectPath) *Modem {
	return &Modem{
		conn:                   conn,
		Modem:                  objectPath,
		IdentityAdded:          make(chan string),
		IdentityRemoved:        make(chan string),
		PushInterfaceAvailable: make(chan bool),
		CallEnded:              make(chan struct{}, 1),
		endWatch:               make(chan bool, 1),
		PushAgent:              NewPushAgent(conn, objectPath),
	}
}

func (modem *Modem) Init() (err error) {
	log.Infof("Initializing modem %s", modem.Modem)
	modem.modemSignal, err = connectToPropertySignal(modem.conn, modem.Modem, MODEM_INTERFACE)
	if err != nil {
		return err
	}

	modem.simSignal, err = connectToPropertySignal(modem.conn, modem.Modem, SIM_MANAGER_INTERFACE)
	if err != nil {
		return err
	}

	modem.callSignal, err = connectToSignal(modem.conn, modem.Modem, VOICE_CALL_MANAGER_INTERFACE, "CallRemoved")
	if err != nil {
		return err
	}

	// the calling order here avoids race conditions
	go modem.watchStatus()
	modem.fetchExistingStatus()

	return nil
}

// fetchExistingStatus reads the current state through method calls,
// watchStatus keeps it up to date through signals.
func (modem *Modem) fetchExistingStatus() {
	if props, err := getProperties(modem.conn, modem.Modem, MODEM_INTERFACE); err == nil {
		modem.updatePushInterfaceState(props["Interfaces"])
		modem.handleOnlineState(props["Online"])
	} else {
		log.Warnf("Initial modem state couldn't be retrieved: %s", err)
	}
	if props, err := getProperties(modem.conn, modem.Modem, SIM_MANAGER_INTERFACE); err == nil {
		modem.handleSubscriberNumbers(props["SubscriberNumbers"])
		modem.handleMobileCountryCode(props["MobileCountryCode"])
		modem.handleIdentity(props["SubscriberIdentity"])
	} else {
		log.Warnf("Initial SIM state couldn't be retrieved: %s", err)
	}
}

func (modem *Modem) watchStatus() {
	var propName string
	var propValue dbus.Variant
watchloop:
	for {
		select {
		case <-modem.endWatch:
			log.Debugf("Ending modem watch for %s", modem.Modem)
			break watchloop
		case msg, ok := <-modem.modemSignal.C:
			if !ok {
				modem.modemSignal.C = nil
				continue watchloop
			}
			if err := msg.Args(&propName, &propValue); err != nil {
				log.Warnf("Cannot interpret Modem Property change: %s", err)
				continue watchloop
			}
			switch propName {
			case "Interfaces":
				modem.updatePushInterfaceState(propValue)
			case "Online":
				modem.handleOnlineState(propValue)
			}
		case msg, ok := <-modem.simSignal.C:
			if !ok {
				modem.simSignal.C = nil
				continue watchloop
			}
			if err := msg.Args(&propName, &propValue); err != nil {
				log.Warnf("Cannot interpret Sim Property change: %s", err)
				continue watchloop
			}
			switch propName {
			case "SubscriberIdentity":
				modem.handleIdentity(propValue)
			case "SubscriberNumbers":
				modem.handleSubscriberNumbers(propValue)
			case "MobileCountryCode":
				modem.handleMobileCountryCode(propValue)
			}
		case _, ok := <-modem.callSignal.C:
			if !ok {
				modem.callSignal.C = nil
				continue watchloop
			}
			modem.callEnded()
		}
	}
}

func (modem *Modem) callEnded() {
	log.Debugf("Voice call ended on %s", modem.Modem)
	select {
	case modem.CallEnded <- struct{}{}:
	default:
	}
}

func (modem *Modem) handleOnlineState(propValue dbus.Variant) {
	online := boolValue(propValue.Value)
	modem.mu.Lock()
	changed := modem.online != online
	modem.online = online
	modem.mu.Unlock()
	if changed {
		log.Infof("Modem online: %t", online)
	}
}

func (modem *Modem) handleSubscriberNumbers(propValue dbus.Variant) {
	var number string
	if numbers := stringsValue(propValue.Value); len(numbers) > 0 {
		number = numbers[0]
	}
	modem.mu.Lock()
	modem.lineNumber = number
	modem.mu.Unlock()
}

func (modem *Modem) handleMobileCountryCode(propValue dbus.Variant) {
	modem.mu.Lock()
	modem.mcc = stringValue(propValue.Value)
	modem.mu.Unlock()
}

func (modem *Modem) handleIdentity(propValue dbus.Variant) {
	identity := stringValue(propValue.Value)
	modem.mu.Lock()
	previous := modem.identity
	modem.identity = identity
	modem.mu.Unlock()
	switch {
	case identity == "" && previous != "":
		log.Infof("Identity %s removed", previous)
		modem.IdentityRemoved <- previous
	case identity != "" && previous == "":
		log.Infof("Identity added %s", identity)
		modem.IdentityAdded <- identity
	}
}

func (modem *Modem) updatePushInterfaceState(interfaces dbus.Variant) {
	available := false
	for _, name := range stringsValue(interfaces.Value) {
		if name == PUSH_NOTIFICATION_INTERFACE {
			available = true
			break
		}
	}
	modem.mu.Lock()
	origState := modem.pushInterfaceAvailable
	modem.pushInterfaceAvailable = available
	modem.mu.Unlock()
	if available != origState {
		log.Infof("Push interface state: %t", available)
		if available {
			modem.PushInterfaceAvailable <- true
		} else if modem.PushAgent.IsRegistered() {
			modem.PushInterfaceAvailable <- false
		}
	}
}

// Online reports the modem's Online property. An offline modem is the
// oFono rendition of airplane mode.
func (modem *Modem) Online() bool {
	modem.mu.Lock()
	defer modem.mu.Unlock()
	return modem.online
}

func (modem *Modem) Identity() string {
	modem.mu.Lock()
	defer modem.mu.Unlock()
	return modem.identity
}

func (modem *Modem) LineNumber() string {
	modem.mu.Lock()
	defer modem.mu.Unlock()
	return modem.lineNumber
}

// CountryCode maps the SIM's mobile country code to its E.164 calling
// code. Unknown codes yield "".
func (modem *Modem) CountryCode() string {
	modem.mu.Lock()
	defer modem.mu.Unlock()
	return callingCodes[modem.mcc]
}

// NAI is only provisioned on CDMA networks, which oFono does not expose.
func (modem *Modem) NAI() string {
	return ""
}

func (modem *Modem) Delete() {
	if identity := modem.Identity(); identity != "" {
		modem.IdentityRemoved <- identity
	}
	for _, w := range []*dbus.SignalWatch{modem.modemSignal, modem.simSignal, modem.callSignal} {
		if w != nil {
			w.Cancel()
		}
	}
	modem.endWatch <- true
}

// callingCodes maps ITU-T E.212 mobile country codes to E.164 calling
// codes.
var callingCodes = map[string]string{
	"202": "30", "204": "31", "206": "32", "208": "33", "214": "34",
	"222": "39", "226": "40", "228": "41", "232": "43", "234": "44",
	"235": "44", "238": "45", "240": "46", "242": "47", "244": "358",
	"260": "48", "262": "49", "268": "351", "272": "353", "302": "1",
	"310": "1", "311": "1", "312": "1", "334": "52", "404": "91",
	"405": "91", "440": "81", "450": "82", "460": "86", "505": "61",
	"530": "64", "603": "213", "655": "27", "704": "502", "716": "51",
	"722": "54", "724": "55", "730": "56", "732": "57", "734": "58",
	"740": "593", "744": "595", "748": "598",
}
