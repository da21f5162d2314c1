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
	"fmt"

	"github.com/ubports/mmsd/ofono"
	"github.com/ubports/mmsd/pdu"
	"launchpad.net/go-dbus"
)

const pushMethod = "ReceiveNotification"

// pushEnvelope is the WSP push header up to the MMS PDU: transaction id,
// PDU type push, header length, content type and the
// X-Wap-Application-Id and Encoding-Version headers seen on carriers.
var pushEnvelope = bytes.Join([][]byte{
	{0x01, 0x06, 0x26},
	[]byte(pdu.VND_WAP_MMS_MESSAGE + "\x00"),
	{0xaf, 0x84, 0xb4, 0x86, 0xc3, 0x95},
}, nil)

// notificationPush builds the push a carrier would send for a message of
// size bytes waiting at location.
func notificationPush(transactionId, sender, location string, size int) []byte {
	ind, err := pdu.Marshal(&pdu.NotificationInd{
		TransactionId:   transactionId,
		Version:         pdu.MMS_MESSAGE_VERSION_1_0,
		From:            sender,
		Class:           pdu.CLASS_PERSONAL,
		Size:            uint64(size),
		Expiry:          0x02a2ff,
		ContentLocation: location,
	})
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, pushEnvelope...), ind...)
}

func push(endPoint string, payload []byte, sender string) error {
	conn, err := dbus.Connect(dbus.SystemBus)
	if err != nil {
		return err
	}

	obj := conn.Object(endPoint, ofono.AGENT_TAG)

	info := ofono.PropertiesType{
		"LocalSentTime": dbus.Variant{Value: "2014-02-05T08:29:55-0300"},
		"Sender":        dbus.Variant{Value: sender},
	}

	reply, err := obj.Call(ofono.PUSH_NOTIFICATION_AGENT_INTERFACE, pushMethod, payload, info)
	if err != nil || reply.Type == dbus.TypeError {
		return fmt.Errorf("notification error: %v", err)
	}
	return nil
}
