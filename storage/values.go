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

package storage

import (
	"encoding/json"
	"strconv"
)

// Column names of a message record.
const (
	MessageBox      = "msg_box"
	Status          = "st"
	ResponseStatus  = "resp_st"
	MessageID       = "m_id"
	Read            = "read"
	Seen            = "seen"
	Creator         = "creator"
	Date            = "date"
	ContentLocation = "ct_l"
	TransactionID   = "tr_id"
	MessageType     = "m_type"
	RetrieveStatus  = "retr_st"
	SubscriptionID  = "sub_id"
)

// Message boxes stored under MessageBox.
const (
	BoxInbox  = 1
	BoxSent   = 2
	BoxDrafts = 3
	BoxOutbox = 4
	BoxFailed = 5
)

// Values is one message record keyed by column name. Numbers read back
// from a FileStore are json.Number, use the typed getters.
type Values map[string]interface{}

// Int returns the integer stored under key.
func (v Values) Int(key string) (int64, bool) {
	switch n := v[key].(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case byte:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func (v Values) String(key string) string {
	s, _ := v[key].(string)
	return s
}

// Merge copies every entry of other into v.
func (v Values) Merge(other Values) {
	for k, val := range other {
		v[k] = val
	}
}
