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

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ubports/mmsd/log"
)

// Decoder reads WSP encoded values. Offset is the next unread byte.
type Decoder struct {
	Data   []byte
	Offset int
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{Data: data}
}

func (dec *Decoder) need(n int) error {
	if dec.Offset+n > len(dec.Data) {
		return ErrorDecodeShortData{Length: len(dec.Data), Expected: dec.Offset + n}
	}
	return nil
}

func (dec *Decoder) peek() (byte, error) {
	if err := dec.need(1); err != nil {
		return 0, err
	}
	return dec.Data[dec.Offset], nil
}

func (dec *Decoder) ReadByte() (byte, error) {
	b, err := dec.peek()
	if err != nil {
		return 0, err
	}
	dec.Offset++
	return b, nil
}

// ReadString reads a null terminated Text-string, dropping the quote
// prefix used for strings starting with a high octet.
func (dec *Decoder) ReadString() (string, error) {
	if b, err := dec.peek(); err != nil {
		return "", err
	} else if b == QUOTE || b == '"' {
		dec.Offset++
	}
	begin := dec.Offset
	for ; dec.Offset < len(dec.Data); dec.Offset++ {
		if dec.Data[dec.Offset] == 0 {
			v := string(dec.Data[begin:dec.Offset])
			dec.Offset++
			return v, nil
		}
	}
	return "", fmt.Errorf("reached end of data while trying to read string: %q", dec.Data[begin:])
}

// A UintVar is a variable length uint of up to 5 octets where more octets
// are indicated with the most significant bit set to 1.
func (dec *Decoder) ReadUintVar() (uint64, error) {
	var value uint64
	for i := 0; i < 5; i++ {
		b, err := dec.ReadByte()
		if err != nil {
			return 0, err
		}
		value = value<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return value, nil
		}
	}
	return 0, errors.New("uintvar longer than 5 octets")
}

// ReadLength reads a Value-length, WAP-230-WSP section 8.4.2.2.
//
// Value-length = Short-length | (Length-quote Length)
func (dec *Decoder) ReadLength() (int, error) {
	b, err := dec.ReadByte()
	if err != nil {
		return 0, err
	}
	switch {
	case b <= SHORT_LENGTH_MAX:
		return int(b), nil
	case b == LENGTH_QUOTE:
		l, err := dec.ReadUintVar()
		return int(l), err
	}
	return 0, fmt.Errorf("unhandled length %#x @%d", b, dec.Offset-1)
}

func (dec *Decoder) ReadLongInteger() (uint64, error) {
	size, err := dec.ReadByte()
	if err != nil {
		return 0, err
	}
	if size == 0 || size > 8 {
		return 0, fmt.Errorf("cannot decode long integer of %d octets", size)
	}
	if err := dec.need(int(size)); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < int(size); i++ {
		v = v<<8 | uint64(dec.Data[dec.Offset])
		dec.Offset++
	}
	return v, nil
}

// ReadInteger reads either a Short-integer or a Long-integer.
func (dec *Decoder) ReadInteger() (uint64, error) {
	b, err := dec.peek()
	if err != nil {
		return 0, err
	}
	if b&0x80 != 0 {
		dec.Offset++
		return uint64(b & 0x7f), nil
	}
	return dec.ReadLongInteger()
}

// ReadEncodedString reads an Encoded-string-value; the charset is
// assumed to be compatible with utf-8.
func (dec *Decoder) ReadEncodedString() (string, error) {
	b, err := dec.peek()
	if err != nil {
		return "", err
	}
	if b > LENGTH_QUOTE {
		return dec.ReadString()
	}
	if b == 0 {
		// empty Text-string
		dec.Offset++
		return "", nil
	}
	length, err := dec.ReadLength()
	if err != nil {
		return "", err
	}
	end := dec.Offset + length
	if end > len(dec.Data) {
		return "", ErrorDecodeShortData{len(dec.Data), end}
	}
	if _, err := dec.ReadInteger(); err != nil {
		return "", err
	}
	s, err := dec.ReadString()
	if err != nil {
		return "", err
	}
	dec.Offset = end
	return s, nil
}

// ReadMediaType reads a Content-type-value and returns the media type,
// parameters are skipped.
func (dec *Decoder) ReadMediaType() (string, error) {
	b, err := dec.peek()
	if err != nil {
		return "", err
	}
	if b <= LENGTH_QUOTE {
		length, err := dec.ReadLength()
		if err != nil {
			return "", err
		}
		end := dec.Offset + length
		if end > len(dec.Data) {
			return "", ErrorDecodeShortData{len(dec.Data), end}
		}
		mediaType, err := dec.readConstrainedMedia()
		dec.Offset = end
		return mediaType, err
	}
	return dec.readConstrainedMedia()
}

func (dec *Decoder) readConstrainedMedia() (string, error) {
	b, err := dec.peek()
	if err != nil {
		return "", err
	}
	if b&0x80 != 0 {
		dec.Offset++
		if mt, ok := wellKnownMediaTypes[b&0x7f]; ok {
			return mt, nil
		}
		return fmt.Sprintf("application/x-wsp-%#02x", b&0x7f), nil
	}
	return dec.ReadString()
}

func (dec *Decoder) readAddress() (string, error) {
	s, err := dec.ReadEncodedString()
	return trimAddressType(s), err
}

func (dec *Decoder) readFrom() (string, error) {
	length, err := dec.ReadLength()
	if err != nil {
		return "", err
	}
	end := dec.Offset + length
	if end > len(dec.Data) {
		return "", ErrorDecodeShortData{len(dec.Data), end}
	}
	token, err := dec.ReadByte()
	if err != nil {
		return "", err
	}
	var from string
	switch token {
	case TOKEN_INSERT_ADDRESS:
	case TOKEN_ADDRESS_PRESENT:
		if from, err = dec.readAddress(); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unhandled token address in from field %#x", token)
	}
	if dec.Offset != end {
		return "", fmt.Errorf("from field length is %d but expected size is %d", dec.Offset-(end-length), length)
	}
	return from, nil
}

// readExpiry returns the expiry value, absolute or relative as encoded.
func (dec *Decoder) readExpiry() (uint64, error) {
	length, err := dec.ReadLength()
	if err != nil {
		return 0, err
	}
	end := dec.Offset + length
	if end > len(dec.Data) {
		return 0, ErrorDecodeShortData{len(dec.Data), end}
	}
	if _, err := dec.ReadByte(); err != nil {
		return 0, err
	}
	v, err := dec.ReadLongInteger()
	if err != nil {
		return 0, err
	}
	dec.Offset = end
	return v, nil
}

func (dec *Decoder) skipValue() error {
	b, err := dec.peek()
	if err != nil {
		return err
	}
	switch {
	case b <= LENGTH_QUOTE:
		length, err := dec.ReadLength()
		if err != nil {
			return err
		}
		if err := dec.need(length); err != nil {
			return err
		}
		dec.Offset += length
		return nil
	case b <= TEXT_MAX:
		_, err := dec.ReadString()
		return err
	}
	dec.Offset++
	return nil
}

// walk decodes the header list, handing every well known field to fn. A
// false return from fn skips the value.
func (dec *Decoder) walk(expectedType byte, fn func(field byte) (bool, error)) error {
	sawType := false
	for dec.Offset < len(dec.Data) {
		b := dec.Data[dec.Offset]
		if b&0x80 == 0 {
			// application header, Token-text followed by Application-specific-value
			name, err := dec.ReadString()
			if err != nil {
				return err
			}
			value, err := dec.ReadString()
			if err != nil {
				return err
			}
			log.Debugf("Ignoring application header %s: %s", name, value)
			continue
		}
		dec.Offset++
		field := b & 0x7f
		if field == X_MMS_MESSAGE_TYPE {
			t, err := dec.ReadByte()
			if err != nil {
				return err
			}
			if t != expectedType {
				return ErrorUnexpectedType{Expected: expectedType, Got: t}
			}
			sawType = true
			continue
		}
		if !sawType {
			return fmt.Errorf("message type is not the first header, got %#x", field)
		}
		handled, err := fn(field)
		if err != nil {
			return fmt.Errorf("header %#02x: %w", field, err)
		}
		if !handled {
			log.Debugf("Skipping unrecognized header 0x%02x", field)
			if err := dec.skipValue(); err != nil {
				return err
			}
		}
	}
	if !sawType {
		return errors.New("missing message type")
	}
	return nil
}

// ParseSendConf decodes an m-send.conf.
func ParseSendConf(data []byte) (*SendConf, error) {
	dec := NewDecoder(data)
	conf := &SendConf{}
	err := dec.walk(TYPE_SEND_CONF, func(field byte) (bool, error) {
		var err error
		switch field {
		case X_MMS_TRANSACTION_ID:
			conf.TransactionId, err = dec.ReadString()
		case X_MMS_MMS_VERSION:
			conf.Version, err = dec.ReadByte()
		case X_MMS_RESPONSE_STATUS:
			conf.ResponseStatus, err = dec.ReadByte()
		case X_MMS_RESPONSE_TEXT:
			conf.ResponseText, err = dec.ReadEncodedString()
		case MESSAGE_ID:
			conf.MessageId, err = dec.ReadString()
		default:
			return false, nil
		}
		return true, err
	})
	if err != nil {
		return nil, err
	}
	return conf, nil
}

// ParseNotificationInd decodes an m-notification.ind.
func ParseNotificationInd(data []byte) (*NotificationInd, error) {
	dec := NewDecoder(data)
	n := &NotificationInd{}
	err := dec.walk(TYPE_NOTIFICATION_IND, func(field byte) (bool, error) {
		var err error
		switch field {
		case X_MMS_TRANSACTION_ID:
			n.TransactionId, err = dec.ReadString()
		case X_MMS_MMS_VERSION:
			n.Version, err = dec.ReadByte()
		case FROM:
			n.From, err = dec.readFrom()
		case SUBJECT:
			n.Subject, err = dec.ReadEncodedString()
		case X_MMS_MESSAGE_CLASS:
			n.Class, err = dec.readClass()
		case X_MMS_MESSAGE_SIZE:
			n.Size, err = dec.ReadLongInteger()
		case X_MMS_EXPIRY:
			n.Expiry, err = dec.readExpiry()
		case X_MMS_CONTENT_LOCATION:
			n.ContentLocation, err = dec.ReadString()
		default:
			return false, nil
		}
		return true, err
	})
	if err != nil {
		return nil, err
	}
	if n.ContentLocation == "" {
		return nil, errors.New("m-notification.ind without content location")
	}
	return n, nil
}

// ParseRetrieveConf decodes an m-retrieve.conf. Headers end at the
// Content-Type field and the remaining bytes are the body.
func ParseRetrieveConf(data []byte) (*RetrieveConf, error) {
	dec := NewDecoder(data)
	r := &RetrieveConf{RetrieveStatus: RetrieveStatusOk}
	err := dec.walk(TYPE_RETRIEVE_CONF, func(field byte) (bool, error) {
		var err error
		switch field {
		case X_MMS_TRANSACTION_ID:
			r.TransactionId, err = dec.ReadString()
		case X_MMS_MMS_VERSION:
			r.Version, err = dec.ReadByte()
		case MESSAGE_ID:
			r.MessageId, err = dec.ReadString()
		case FROM:
			r.From, err = dec.readFrom()
		case TO:
			var to string
			if to, err = dec.readAddress(); err == nil {
				r.To = append(r.To, to)
			}
		case SUBJECT:
			r.Subject, err = dec.ReadEncodedString()
		case DATE:
			r.Date, err = dec.ReadLongInteger()
		case X_MMS_RETRIEVE_STATUS:
			r.RetrieveStatus, err = dec.ReadByte()
		case X_MMS_RETRIEVE_TEXT:
			r.RetrieveText, err = dec.ReadEncodedString()
		case CONTENT_TYPE:
			if r.ContentType, err = dec.ReadMediaType(); err == nil {
				r.Body = dec.Data[dec.Offset:]
				dec.Offset = len(dec.Data)
			}
		default:
			return false, nil
		}
		return true, err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (dec *Decoder) readClass() (byte, error) {
	b, err := dec.peek()
	if err != nil {
		return 0, err
	}
	if b&0x80 != 0 {
		dec.Offset++
		return b, nil
	}
	// Token-text class, treated as personal
	_, err = dec.ReadString()
	return CLASS_PERSONAL, err
}

func trimAddressType(addr string) string {
	if i := strings.Index(addr, "/TYPE="); i >= 0 {
		return addr[:i]
	}
	return addr
}
