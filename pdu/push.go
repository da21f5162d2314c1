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

package pdu

import "fmt"

const (
	wspPush          = 0x06
	wspConfirmedPush = 0x07
)

// WSP header field names used in push headers, WAP-230-WSP table 39.
const (
	wspApplicationId   = 0x2F
	wspPushFlag        = 0x34
	wspEncodingVersion = 0x43
)

const mmsApplicationURI = "x-wap-application:mms.ua"

// Push is a connectionless WSP push as delivered by the modem.
type Push struct {
	TransactionId   byte
	HeaderLength    uint64
	ContentType     string
	ApplicationId   uint64
	EncodingVersion byte
	PushFlag        byte
	Data            []byte
}

// IsMMS reports whether the push carries an MMS PDU for the MMS user agent.
func (p *Push) IsMMS() bool {
	return p.ContentType == VND_WAP_MMS_MESSAGE &&
		(p.ApplicationId == PUSH_APPLICATION_ID || p.ApplicationId == 0)
}

// ParsePush decodes the WSP push envelope, WAP-230-WSP section 8.2.4.1.
// The HeadersLen field covers the ContentType and Headers fields; Data
// runs to the end of the SDU.
func ParsePush(data []byte) (*Push, error) {
	if len(data) < 3 {
		return nil, ErrorDecodeShortData{Length: len(data), Expected: 3}
	}
	p := &Push{TransactionId: data[0]}
	if t := data[1]; t != wspPush && t != wspConfirmedPush {
		return nil, fmt.Errorf("%#x is not a push PDU", t)
	}
	dec := NewDecoder(data)
	dec.Offset = 2
	var err error
	if p.HeaderLength, err = dec.ReadUintVar(); err != nil {
		return nil, err
	}
	end := dec.Offset + int(p.HeaderLength)
	if end > len(data) {
		return nil, ErrorDecodeShortData{Length: len(data), Expected: end}
	}
	if p.ContentType, err = dec.ReadMediaType(); err != nil {
		return nil, err
	}
	for dec.Offset < end {
		b := dec.Data[dec.Offset]
		if b&0x80 == 0 {
			if _, err := dec.ReadString(); err != nil {
				return nil, err
			}
			if _, err := dec.ReadString(); err != nil {
				return nil, err
			}
			continue
		}
		dec.Offset++
		switch b & 0x7f {
		case wspApplicationId:
			p.ApplicationId, err = dec.readApplicationId()
		case wspPushFlag:
			var v uint64
			v, err = dec.ReadInteger()
			p.PushFlag = byte(v)
		case wspEncodingVersion:
			var v uint64
			v, err = dec.ReadInteger()
			p.EncodingVersion = byte(v)
		default:
			err = dec.skipValue()
		}
		if err != nil {
			return nil, err
		}
	}
	p.Data = data[end:]
	return p, nil
}

// readApplicationId reads X-Wap-Application-Id in either the integer or
// the URI form.
func (dec *Decoder) readApplicationId() (uint64, error) {
	b, err := dec.peek()
	if err != nil {
		return 0, err
	}
	if b&0x80 != 0 || b <= LENGTH_QUOTE {
		return dec.ReadInteger()
	}
	uri, err := dec.ReadString()
	if err != nil {
		return 0, err
	}
	if uri == mmsApplicationURI {
		return PUSH_APPLICATION_ID, nil
	}
	return 0xffff, nil
}
