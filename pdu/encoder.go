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
	"bytes"
	"fmt"
	"io"
	"strings"
)

type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w}
}

// WriteString writes a null terminated Text-string.
func (enc *Encoder) WriteString(s string) error {
	b := make([]byte, 0, len(s)+2)
	if len(s) > 0 && s[0]&0x80 != 0 {
		b = append(b, QUOTE)
	}
	b = append(b, s...)
	b = append(b, 0)
	_, err := enc.w.Write(b)
	return err
}

func (enc *Encoder) WriteByte(b byte) error {
	if n, err := enc.w.Write([]byte{b}); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("expected to write 1 byte but wrote %d", n)
	}
	return nil
}

func (enc *Encoder) setParam(param byte) error {
	return enc.WriteByte(param | 0x80)
}

func (enc *Encoder) writeUintVar(v uint64) error {
	var b []byte
	b = append(b, byte(v&0x7f))
	for v >>= 7; v > 0; v >>= 7 {
		b = append([]byte{byte(v&0x7f) | 0x80}, b...)
	}
	_, err := enc.w.Write(b)
	return err
}

func (enc *Encoder) writeLength(n int) error {
	if n <= SHORT_LENGTH_MAX {
		return enc.WriteByte(byte(n))
	}
	if err := enc.WriteByte(LENGTH_QUOTE); err != nil {
		return err
	}
	return enc.writeUintVar(uint64(n))
}

func (enc *Encoder) writeLongInteger(v uint64) error {
	var b []byte
	for ; v > 0; v >>= 8 {
		b = append([]byte{byte(v)}, b...)
	}
	if len(b) == 0 {
		b = []byte{0}
	}
	if err := enc.WriteByte(byte(len(b))); err != nil {
		return err
	}
	_, err := enc.w.Write(b)
	return err
}

// writeHeader writes the three headers every PDU starts with.
func (enc *Encoder) writeHeader(msgType byte, transactionId string, version byte) error {
	if err := enc.setParam(X_MMS_MESSAGE_TYPE); err != nil {
		return err
	}
	if err := enc.WriteByte(msgType); err != nil {
		return err
	}
	if transactionId != "" {
		if err := enc.setParam(X_MMS_TRANSACTION_ID); err != nil {
			return err
		}
		if err := enc.WriteString(transactionId); err != nil {
			return err
		}
	}
	if version == 0 {
		version = MMS_MESSAGE_VERSION_1_1
	}
	if err := enc.setParam(X_MMS_MMS_VERSION); err != nil {
		return err
	}
	return enc.WriteByte(version)
}

func (enc *Encoder) writeByteField(field, value byte) error {
	if err := enc.setParam(field); err != nil {
		return err
	}
	return enc.WriteByte(value)
}

func (enc *Encoder) writeStringField(field byte, value string) error {
	if err := enc.setParam(field); err != nil {
		return err
	}
	return enc.WriteString(value)
}

func (enc *Encoder) setReportAllowed(reportAllowed bool) error {
	b := byte(REPORT_ALLOWED_NO)
	if reportAllowed {
		b = REPORT_ALLOWED_YES
	}
	return enc.writeByteField(X_MMS_REPORT_ALLOWED, b)
}

// writeFrom writes a From field, an empty address asks the MMSC to
// insert the sender's.
func (enc *Encoder) writeFrom(from string) error {
	if err := enc.setParam(FROM); err != nil {
		return err
	}
	if from == "" {
		if err := enc.writeLength(1); err != nil {
			return err
		}
		return enc.WriteByte(TOKEN_INSERT_ADDRESS)
	}
	addr := withAddressType(from)
	if err := enc.writeLength(len(addr) + 2); err != nil {
		return err
	}
	if err := enc.WriteByte(TOKEN_ADDRESS_PRESENT); err != nil {
		return err
	}
	return enc.WriteString(addr)
}

func (enc *Encoder) EncodeNotifyRespInd(p *NotifyRespInd) error {
	if err := enc.writeHeader(TYPE_NOTIFYRESP_IND, p.TransactionId, p.Version); err != nil {
		return err
	}
	if err := enc.writeByteField(X_MMS_STATUS, p.Status); err != nil {
		return err
	}
	return enc.setReportAllowed(p.ReportAllowed)
}

func (enc *Encoder) EncodeAcknowledgeInd(p *AcknowledgeInd) error {
	if err := enc.writeHeader(TYPE_ACKNOWLEDGE_IND, p.TransactionId, p.Version); err != nil {
		return err
	}
	return enc.setReportAllowed(p.ReportAllowed)
}

func (enc *Encoder) EncodeReadRecInd(p *ReadRecInd) error {
	if err := enc.writeHeader(TYPE_READ_REC_IND, "", p.Version); err != nil {
		return err
	}
	if err := enc.writeStringField(MESSAGE_ID, p.MessageId); err != nil {
		return err
	}
	if err := enc.writeStringField(TO, withAddressType(p.To)); err != nil {
		return err
	}
	if err := enc.writeFrom(""); err != nil {
		return err
	}
	if p.Date != 0 {
		if err := enc.setParam(DATE); err != nil {
			return err
		}
		if err := enc.writeLongInteger(p.Date); err != nil {
			return err
		}
	}
	return enc.writeByteField(X_MMS_READ_STATUS, p.ReadStatus)
}

func (enc *Encoder) EncodeSendConf(p *SendConf) error {
	if err := enc.writeHeader(TYPE_SEND_CONF, p.TransactionId, p.Version); err != nil {
		return err
	}
	if err := enc.writeByteField(X_MMS_RESPONSE_STATUS, p.ResponseStatus); err != nil {
		return err
	}
	if p.ResponseText != "" {
		if err := enc.writeStringField(X_MMS_RESPONSE_TEXT, p.ResponseText); err != nil {
			return err
		}
	}
	if p.MessageId != "" {
		return enc.writeStringField(MESSAGE_ID, p.MessageId)
	}
	return nil
}

func (enc *Encoder) EncodeNotificationInd(p *NotificationInd) error {
	if err := enc.writeHeader(TYPE_NOTIFICATION_IND, p.TransactionId, p.Version); err != nil {
		return err
	}
	if err := enc.writeFrom(p.From); err != nil {
		return err
	}
	if p.Subject != "" {
		if err := enc.writeStringField(SUBJECT, p.Subject); err != nil {
			return err
		}
	}
	class := p.Class
	if class == 0 {
		class = CLASS_PERSONAL
	}
	if err := enc.writeByteField(X_MMS_MESSAGE_CLASS, class); err != nil {
		return err
	}
	if err := enc.setParam(X_MMS_MESSAGE_SIZE); err != nil {
		return err
	}
	if err := enc.writeLongInteger(p.Size); err != nil {
		return err
	}
	if p.Expiry != 0 {
		var v bytes.Buffer
		inner := NewEncoder(&v)
		if err := inner.WriteByte(0x81); err != nil { // relative token
			return err
		}
		if err := inner.writeLongInteger(p.Expiry); err != nil {
			return err
		}
		if err := enc.setParam(X_MMS_EXPIRY); err != nil {
			return err
		}
		if err := enc.writeLength(v.Len()); err != nil {
			return err
		}
		if _, err := enc.w.Write(v.Bytes()); err != nil {
			return err
		}
	}
	return enc.writeStringField(X_MMS_CONTENT_LOCATION, p.ContentLocation)
}

// EncodeRetrieveConf writes the headers followed by the opaque body.
func (enc *Encoder) EncodeRetrieveConf(p *RetrieveConf) error {
	if err := enc.writeHeader(TYPE_RETRIEVE_CONF, p.TransactionId, p.Version); err != nil {
		return err
	}
	if p.MessageId != "" {
		if err := enc.writeStringField(MESSAGE_ID, p.MessageId); err != nil {
			return err
		}
	}
	if err := enc.writeFrom(p.From); err != nil {
		return err
	}
	for _, to := range p.To {
		if err := enc.writeStringField(TO, withAddressType(to)); err != nil {
			return err
		}
	}
	if p.Date != 0 {
		if err := enc.setParam(DATE); err != nil {
			return err
		}
		if err := enc.writeLongInteger(p.Date); err != nil {
			return err
		}
	}
	if p.RetrieveStatus != 0 {
		if err := enc.writeByteField(X_MMS_RETRIEVE_STATUS, p.RetrieveStatus); err != nil {
			return err
		}
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	if err := enc.writeStringField(CONTENT_TYPE, contentType); err != nil {
		return err
	}
	_, err := enc.w.Write(p.Body)
	return err
}

// Marshal encodes any of the PDU types of this package.
func Marshal(p interface{}) ([]byte, error) {
	var b bytes.Buffer
	enc := NewEncoder(&b)
	var err error
	switch v := p.(type) {
	case *NotifyRespInd:
		err = enc.EncodeNotifyRespInd(v)
	case *AcknowledgeInd:
		err = enc.EncodeAcknowledgeInd(v)
	case *ReadRecInd:
		err = enc.EncodeReadRecInd(v)
	case *SendConf:
		err = enc.EncodeSendConf(v)
	case *NotificationInd:
		err = enc.EncodeNotificationInd(v)
	case *RetrieveConf:
		err = enc.EncodeRetrieveConf(v)
	default:
		return nil, fmt.Errorf("cannot encode %T", p)
	}
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func withAddressType(addr string) string {
	if addr == "" || trimAddressType(addr) != addr {
		return addr
	}
	if strings.Contains(addr, "@") {
		return addr
	}
	return addr + "/TYPE=PLMN"
}
