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

// Package ofono binds mmsd to the oFono telephony stack over D-Bus.
package ofono

import (
	"fmt"
	"reflect"

	"launchpad.net/go-dbus"
)

const (
	AGENT_TAG                         = dbus.ObjectPath("/org/ubports/mmsd/agent")
	PUSH_NOTIFICATION_INTERFACE       = "org.ofono.PushNotification"
	PUSH_NOTIFICATION_AGENT_INTERFACE = "org.ofono.PushNotificationAgent"
	CONNECTION_MANAGER_INTERFACE      = "org.ofono.ConnectionManager"
	CONNECTION_CONTEXT_INTERFACE      = "org.ofono.ConnectionContext"
	SIM_MANAGER_INTERFACE             = "org.ofono.SimManager"
	VOICE_CALL_MANAGER_INTERFACE      = "org.ofono.VoiceCallManager"
	OFONO_MANAGER_INTERFACE           = "org.ofono.Manager"
	OFONO_SENDER                      = "org.ofono"
	MODEM_INTERFACE                   = "org.ofono.Modem"
)

type PropertiesType map[string]dbus.Variant

func getModems(conn *dbus.Connection) (modemPaths []dbus.ObjectPath, err error) {
	modemsReply, err := getOfonoProps(conn, "/", OFONO_SENDER, OFONO_MANAGER_INTERFACE, "GetModems")
	if err != nil {
		return nil, err
	}
	for _, modemReply := range modemsReply {
		modemPaths = append(modemPaths, modemReply.ObjectPath)
	}
	return modemPaths, nil
}

// getProperties is replaced in tests.
var getProperties = func(conn *dbus.Connection, objectPath dbus.ObjectPath, iface string) (PropertiesType, error) {
	reply, err := conn.Object(OFONO_SENDER, objectPath).Call(iface, "GetProperties")
	if err != nil {
		return nil, err
	}
	var props PropertiesType
	if err := reply.Args(&props); err != nil {
		return nil, err
	}
	return props, nil
}

// setProperty is replaced in tests.
var setProperty = func(conn *dbus.Connection, objectPath dbus.ObjectPath, iface, name string, value interface{}) error {
	_, err := conn.Object(OFONO_SENDER, objectPath).Call(iface, "SetProperty", name, dbus.Variant{Value: value})
	return err
}

func connectToPropertySignal(conn *dbus.Connection, path dbus.ObjectPath, inter string) (*dbus.SignalWatch, error) {
	return connectToSignal(conn, path, inter, "PropertyChanged")
}

func connectToSignal(conn *dbus.Connection, path dbus.ObjectPath, inter, member string) (*dbus.SignalWatch, error) {
	w, err := conn.WatchSignal(&dbus.MatchRule{
		Type:      dbus.TypeSignal,
		Sender:    OFONO_SENDER,
		Interface: inter,
		Member:    member,
		Path:      path})
	return w, err
}

func boolValue(v interface{}) bool {
	if b, ok := unwrap(v).(bool); ok {
		return b
	}
	return false
}

func stringValue(v interface{}) string {
	if s, ok := unwrap(v).(string); ok {
		return s
	}
	return ""
}

// stringsValue reads an "as" value whatever slice type the decoder
// picked.
func stringsValue(v interface{}) []string {
	rv := reflect.ValueOf(unwrap(v))
	if rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		if s := stringValue(rv.Index(i).Interface()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// dictValue reads an "a{sv}" value into a plain map.
func dictValue(v interface{}) map[string]interface{} {
	rv := reflect.ValueOf(unwrap(v))
	if rv.Kind() != reflect.Map {
		return nil
	}
	out := make(map[string]interface{}, rv.Len())
	for _, k := range rv.MapKeys() {
		out[fmt.Sprint(unwrap(k.Interface()))] = unwrap(rv.MapIndex(k).Interface())
	}
	return out
}

func unwrap(v interface{}) interface{} {
	for {
		switch variant := v.(type) {
		case dbus.Variant:
			v = variant.Value
		case *dbus.Variant:
			if variant == nil {
				return nil
			}
			v = variant.Value
		default:
			return v
		}
	}
}
