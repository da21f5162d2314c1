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
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ubports/mmsd/apn"
	"github.com/ubports/mmsd/log"
	"github.com/ubports/mmsd/network"
	"launchpad.net/go-dbus"
)

const (
	contextTypeInternet = "internet"
	contextTypeMMS      = "mms"
)

const (
	ofonoAttachInProgressError = "org.ofono.AttachInProgress"
	ofonoInProgressError       = "org.ofono.InProgress"
	ofonoNotAttachedError      = "org.ofono.Error.NotAttached"
)

var ErrNoContexts = errors.New("no mms contexts found")

type OfonoContext struct {
	ObjectPath dbus.ObjectPath
	Properties PropertiesType
}

type ProxyInfo struct {
	Host string
	Port uint64
}

func (p ProxyInfo) String() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

func (oContext OfonoContext) String() string {
	var s string
	s += fmt.Sprintf("ObjectPath: %s\n", oContext.ObjectPath)
	for k, v := range oContext.Properties {
		s += fmt.Sprint("\t", k, ": ", v.Value, "\n")
	}
	return s
}

var getOfonoProps = func(conn *dbus.Connection, objectPath dbus.ObjectPath, destination, iface, method string) (oProps []OfonoContext, err error) {
	obj := conn.Object(destination, objectPath)
	reply, err := obj.Call(iface, method)
	if err != nil || reply.Type == dbus.TypeError {
		return oProps, err
	}
	if err := reply.Args(&oProps); err != nil {
		return oProps, err
	}
	return oProps, err
}

func activationErrorNeedsWait(err error) bool {
	if dbusErr, ok := err.(*dbus.Error); ok {
		return dbusErr.Name == ofonoInProgressError || dbusErr.Name == ofonoAttachInProgressError || dbusErr.Name == ofonoNotAttachedError
	}
	return false
}

// activationWait is how long to back off when oFono is still attaching.
var activationWait = 2 * time.Second

func (oContext OfonoContext) toggleActive(state bool, conn *dbus.Connection) error {
	log.Debugf("Setting Active to %t for context %s", state, oContext.ObjectPath)
	for i := 0; i < 3; i++ {
		err := setProperty(conn, oContext.ObjectPath, CONNECTION_CONTEXT_INTERFACE, "Active", state)
		if err == nil {
			return nil
		}
		log.Warnf("Cannot set Active to %t (try %d/3) on %s: %s", state, i+1, oContext.ObjectPath, err)
		if activationErrorNeedsWait(err) {
			time.Sleep(activationWait)
		}
	}
	return fmt.Errorf("failed to set Active to %t on %s", state, oContext.ObjectPath)
}

func (oContext OfonoContext) isTypeInternet() bool {
	return stringValue(oContext.Properties["Type"].Value) == contextTypeInternet
}

func (oContext OfonoContext) isTypeMMS() bool {
	return stringValue(oContext.Properties["Type"].Value) == contextTypeMMS
}

func (oContext OfonoContext) isActive() bool {
	return boolValue(oContext.Properties["Active"].Value)
}

func (oContext OfonoContext) hasMessageCenter() bool {
	return oContext.messageCenter() != ""
}

func (oContext OfonoContext) messageCenter() string {
	return stringValue(oContext.Properties["MessageCenter"].Value)
}

func (oContext OfonoContext) messageProxy() string {
	return stringValue(oContext.Properties["MessageProxy"].Value)
}

func (oContext OfonoContext) name() string {
	return stringValue(oContext.Properties["Name"].Value)
}

func (oContext OfonoContext) GetProxy() (proxyInfo ProxyInfo, err error) {
	proxy := oContext.messageProxy()
	// we need to support empty proxies
	if proxy == "" {
		return proxyInfo, nil
	}
	proxy = strings.TrimPrefix(proxy, "http://")
	var portString string
	proxyInfo.Host, portString, err = net.SplitHostPort(proxy)
	if err != nil {
		proxyInfo.Host = proxy
		proxyInfo.Port = 80
		return proxyInfo, nil
	}
	proxyInfo.Port, err = strconv.ParseUint(portString, 0, 64)
	if err != nil {
		return proxyInfo, err
	}
	return proxyInfo, nil
}

// handle describes the data path of an active context from its Settings
// and IPv6.Settings properties.
func (oContext OfonoContext) handle() (network.Handle, error) {
	h := network.Handle{ID: string(oContext.ObjectPath)}
	for _, s := range []struct {
		key    string
		family network.Family
	}{
		{"Settings", network.IPv4},
		{"IPv6.Settings", network.IPv6},
	} {
		settings := dictValue(oContext.Properties[s.key].Value)
		iface := stringValue(settings["Interface"])
		if iface == "" {
			continue
		}
		if h.Interface == "" {
			h.Interface = iface
		}
		h.Family |= s.family
		h.Nameservers = append(h.Nameservers, stringsValue(settings["DomainNameServers"])...)
	}
	if h.Interface == "" {
		return h, fmt.Errorf("context %s has no network interface", oContext.ObjectPath)
	}
	return h, nil
}

// row turns the context into a carrier access point entry. An active
// internet context carrying a MessageCenter serves both roles.
func (oContext OfonoContext) row() (apn.Row, error) {
	row := apn.Row{Name: oContext.name(), MMSC: oContext.messageCenter(), Type: apn.TypeMMS}
	if oContext.isTypeInternet() {
		row.Type = "default," + apn.TypeMMS
	}
	proxy, err := oContext.GetProxy()
	if err != nil {
		return row, err
	}
	if proxy.Host != "" {
		row.Proxy = proxy.Host
		row.Port = strconv.FormatUint(proxy.Port, 10)
	}
	return row, nil
}

//GetMMSContexts returns the contexts that are MMS capable; by convention it has
//been defined that for it to be MMS capable it either has to define a MessageProxy
//and a MessageCenter within the context.
//
//The following rules take place:
//- check current type=internet context for MessageProxy & MessageCenter;
//  if they exist and aren't empty AND the context is active, select it as the
//  context to use for MMS.
//- otherwise search for type=mms, if found, use it and activate
//
//The preferred context and active contexts are moved to the front.
func (modem *Modem) GetMMSContexts(preferredContext dbus.ObjectPath) (mmsContexts []OfonoContext, err error) {
	contexts, err := getOfonoProps(modem.conn, modem.Modem, OFONO_SENDER, CONNECTION_MANAGER_INTERFACE, "GetContexts")
	if err != nil {
		return mmsContexts, err
	}

	for _, context := range contexts {
		if (context.isTypeInternet() && context.isActive() && context.hasMessageCenter()) || context.isTypeMMS() {
			if context.ObjectPath == preferredContext || context.isActive() {
				mmsContexts = append([]OfonoContext{context}, mmsContexts...)
			} else {
				mmsContexts = append(mmsContexts, context)
			}
		}
	}
	if len(mmsContexts) == 0 {
		log.Debugf("non matching contexts:\n %+v", contexts)
		return mmsContexts, ErrNoContexts
	}
	return mmsContexts, nil
}

// PreferredContexts remembers the context a SIM last used successfully.
// *storage.Preferences satisfies it.
type PreferredContexts interface {
	PreferredContext(identity string) (string, error)
	SetPreferredContext(identity, objectPath string) error
}

func preferredContext(prefs PreferredContexts, identity string) dbus.ObjectPath {
	if prefs == nil || identity == "" {
		return ""
	}
	path, err := prefs.PreferredContext(identity)
	if err != nil {
		return ""
	}
	return dbus.ObjectPath(path)
}

// ContextRows lists the MMS capable contexts of the current modem as
// carrier access points.
type ContextRows struct {
	Provider *Provider
}

func (r ContextRows) Rows(apnName string) ([]apn.Row, error) {
	modem := r.Provider.Modem()
	if modem == nil {
		return nil, ErrNoModem
	}
	contexts, err := modem.GetMMSContexts(preferredContext(r.Provider.prefs, modem.Identity()))
	if err != nil {
		return nil, err
	}
	var rows []apn.Row
	for _, context := range contexts {
		row, err := context.row()
		if err != nil {
			log.Warnf("Skipping context %s: %s", context.ObjectPath, err)
			continue
		}
		if apnName != "" && row.Name != apnName {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}
