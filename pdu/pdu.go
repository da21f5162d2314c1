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

// Package pdu reads and writes the MMS headers mmsd needs to drive a
// transaction. Message bodies are carried as opaque bytes.
package pdu

import "fmt"

// MMS field names from OMA-WAP-MMS-ENC section 7.3, without the high bit.
const (
	BCC                    = 0x01
	CC                     = 0x02
	X_MMS_CONTENT_LOCATION = 0x03
	CONTENT_TYPE           = 0x04
	DATE                   = 0x05
	X_MMS_DELIVERY_REPORT  = 0x06
	X_MMS_EXPIRY           = 0x08
	FROM                   = 0x09
	X_MMS_MESSAGE_CLASS    = 0x0A
	MESSAGE_ID             = 0x0B
	X_MMS_MESSAGE_TYPE     = 0x0C
	X_MMS_MMS_VERSION      = 0x0D
	X_MMS_MESSAGE_SIZE     = 0x0E
	X_MMS_PRIORITY         = 0x0F
	X_MMS_READ_REPORT      = 0x10
	X_MMS_REPORT_ALLOWED   = 0x11
	X_MMS_RESPONSE_STATUS  = 0x12
	X_MMS_RESPONSE_TEXT    = 0x13
	X_MMS_STATUS           = 0x15
	SUBJECT                = 0x16
	TO                     = 0x17
	X_MMS_TRANSACTION_ID   = 0x18
	X_MMS_RETRIEVE_STATUS  = 0x19
	X_MMS_RETRIEVE_TEXT    = 0x1A
	X_MMS_READ_STATUS      = 0x1B
)

const (
	TYPE_SEND_REQ         = 0x80
	TYPE_SEND_CONF        = 0x81
	TYPE_NOTIFICATION_IND = 0x82
	TYPE_NOTIFYRESP_IND   = 0x83
	TYPE_RETRIEVE_CONF    = 0x84
	TYPE_ACKNOWLEDGE_IND  = 0x85
	TYPE_DELIVERY_IND     = 0x86
	TYPE_READ_REC_IND     = 0x87
)

const (
	MMS_MESSAGE_VERSION_1_0 = 0x90
	MMS_MESSAGE_VERSION_1_1 = 0x91
	MMS_MESSAGE_VERSION_1_2 = 0x92
	MMS_MESSAGE_VERSION_1_3 = 0x93
)

// X-Mms-Response-Status values, OMA-WAP-MMS-ENC section 7.2.27.
const (
	ResponseStatusOk                        = 0x80
	ResponseStatusErrorUnspecified          = 0x81
	ResponseStatusErrorServiceDenied        = 0x82
	ResponseStatusErrorMessageFormatCorrupt = 0x83
	ResponseStatusErrorAddressUnresolved    = 0x84
	ResponseStatusErrorMessageNotFound      = 0x85
	ResponseStatusErrorNetworkProblem       = 0x86
	ResponseStatusErrorContentNotAccepted   = 0x87
	ResponseStatusErrorUnsupportedMessage   = 0x88
	ResponseStatusErrorTransientFailure     = 0xC0
	ResponseStatusErrorPermanentFailure     = 0xE0
)

// X-Mms-Retrieve-Status values.
const (
	RetrieveStatusOk                    = 0x80
	RetrieveStatusErrorTransientFailure = 0xC0
	RetrieveStatusErrorPermanentFailure = 0xE0
)

// X-Mms-Status values used in m-notifyresp.ind.
const (
	StatusExpired       = 0x80
	StatusRetrieved     = 0x81
	StatusRejected      = 0x82
	StatusDeferred      = 0x83
	StatusUnrecognised  = 0x84
	StatusIndeterminate = 0x85
)

// X-Mms-Read-Status values.
const (
	ReadStatusRead    = 0x80
	ReadStatusDeleted = 0x81
)

const (
	REPORT_ALLOWED_YES = 0x80
	REPORT_ALLOWED_NO  = 0x81

	TOKEN_ADDRESS_PRESENT = 0x80
	TOKEN_INSERT_ADDRESS  = 0x81

	CLASS_PERSONAL = 0x80
)

// Value encodings from WAP-230-WSP section 8.4.2.
const (
	SHORT_LENGTH_MAX = 30
	LENGTH_QUOTE     = 31
	TEXT_MIN         = 32
	TEXT_MAX         = 127
	QUOTE            = 127
)

const (
	PUSH_APPLICATION_ID = 0x04
	VND_WAP_MMS_MESSAGE = "application/vnd.wap.mms-message"
)

// Well known media types used by MMS, WAP-230-WSP appendix A.
var wellKnownMediaTypes = map[byte]string{
	0x00: "*/*",
	0x01: "text/*",
	0x03: "text/plain",
	0x0C: "multipart/mixed",
	0x23: "application/vnd.wap.multipart.mixed",
	0x26: "application/vnd.wap.multipart.alternative",
	0x33: "application/vnd.wap.multipart.related",
	0x3E: VND_WAP_MMS_MESSAGE,
}

// SendConf is an m-send.conf, OMA-WAP-MMS-ENC section 6.1.2.
type SendConf struct {
	TransactionId  string
	Version        byte
	ResponseStatus byte
	ResponseText   string
	MessageId      string
}

// IsOk reports whether the MMSC accepted the message.
func (c *SendConf) IsOk() bool {
	return c.ResponseStatus == ResponseStatusOk
}

// NotificationInd is an m-notification.ind, OMA-WAP-MMS-ENC section 6.2.
type NotificationInd struct {
	TransactionId   string
	Version         byte
	From            string
	Subject         string
	Class           byte
	Size            uint64
	Expiry          uint64
	ContentLocation string
}

// RetrieveConf is an m-retrieve.conf, OMA-WAP-MMS-ENC section 6.3. Body
// holds everything after the Content-Type header.
type RetrieveConf struct {
	TransactionId  string
	Version        byte
	MessageId      string
	From           string
	To             []string
	Subject        string
	Date           uint64
	RetrieveStatus byte
	RetrieveText   string
	ContentType    string
	Body           []byte
}

// NotifyRespInd is an m-notifyresp.ind.
type NotifyRespInd struct {
	TransactionId string
	Version       byte
	Status        byte
	ReportAllowed bool
}

// AcknowledgeInd is an m-acknowledge.ind.
type AcknowledgeInd struct {
	TransactionId string
	Version       byte
	ReportAllowed bool
}

// ReadRecInd is an m-read-rec.ind, OMA-WAP-MMS-ENC section 6.7.2.
type ReadRecInd struct {
	Version    byte
	MessageId  string
	To         string
	Date       uint64
	ReadStatus byte
}

// ErrorDecodeShortData is returned when a header runs past the data.
type ErrorDecodeShortData struct {
	Length, Expected int
}

func (e ErrorDecodeShortData) Error() string {
	return fmt.Sprintf("expected offset after decoding out of range [%d] with data length %d", e.Expected, e.Length)
}

// ErrorUnexpectedType is returned when the message type header does not
// match what the caller asked to parse.
type ErrorUnexpectedType struct {
	Expected, Got byte
}

func (e ErrorUnexpectedType) Error() string {
	return fmt.Sprintf("expected message type %#x got %#x", e.Expected, e.Got)
}
