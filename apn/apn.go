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

// Package apn resolves the carrier access point used to reach the MMSC.
package apn

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/ubports/mmsd/log"
)

const (
	DefaultProxyPort = 80

	TypeAll = "*"
	TypeMMS = "mms"
)

// Config is the access point data needed for one MMS exchange.
type Config struct {
	MMSC      string
	ProxyHost string
	ProxyPort int
}

func (c *Config) IsProxySet() bool {
	return c.ProxyHost != ""
}

func (c *Config) String() string {
	if c.IsProxySet() {
		return fmt.Sprintf("mmsc=%s proxy=%s:%d", c.MMSC, c.ProxyHost, c.ProxyPort)
	}
	return fmt.Sprintf("mmsc=%s", c.MMSC)
}

// Row is one carrier access point entry. Type is a comma separated list of
// tags, Port is kept as text since carriers ship it that way.
type Row struct {
	Name  string
	Type  string
	MMSC  string
	Proxy string
	Port  string
}

// RowSource lists the access points of the current carrier. A non empty
// apnName restricts the result to entries with that name.
type RowSource interface {
	Rows(apnName string) ([]Row, error)
}

// Preferences holds user provided overrides; an empty MMSC means none.
type Preferences interface {
	APNOverride() (mmsc, proxy, port string)
}

// Error is returned when no usable access point exists or the one found is
// malformed.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("apn: %s: %v", e.Reason, e.Err)
	}
	return "apn: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Load returns the access point to use. User preferences win over the
// carrier table; otherwise the first row tagged for mms with an MMSC wins.
func Load(source RowSource, prefs Preferences, apnName string) (*Config, error) {
	if prefs != nil {
		if mmsc, proxy, port := prefs.APNOverride(); strings.TrimSpace(mmsc) != "" {
			cfg := &Config{
				MMSC:      strings.TrimSpace(mmsc),
				ProxyHost: TrimV4AddrZeros(strings.TrimSpace(proxy)),
				ProxyPort: parsePort(port),
			}
			log.Debugf("Using apn from user preferences: %s", cfg)
			return cfg, nil
		}
	}
	if source == nil {
		return nil, &Error{Reason: "no access point source"}
	}
	rows, err := source.Rows(apnName)
	if err != nil {
		return nil, &Error{Reason: "cannot list access points", Err: err}
	}
	for _, row := range rows {
		if !IsValidType(row.Type, TypeMMS) {
			continue
		}
		mmsc := strings.TrimSpace(row.MMSC)
		if mmsc == "" {
			continue
		}
		if err := validateURL(mmsc); err != nil {
			return nil, &Error{Reason: "invalid MMSC url " + mmsc, Err: err}
		}
		cfg := &Config{
			MMSC:      mmsc,
			ProxyHost: TrimV4AddrZeros(strings.TrimSpace(row.Proxy)),
			ProxyPort: DefaultProxyPort,
		}
		if cfg.IsProxySet() {
			cfg.ProxyPort = parsePort(row.Port)
		}
		log.Debugf("Using apn %q: %s", row.Name, cfg)
		return cfg, nil
	}
	return nil, &Error{Reason: "can not find valid APN"}
}

// IsValidType reports whether the comma separated types accept
// requestType. An empty list accepts everything.
func IsValidType(types, requestType string) bool {
	if strings.TrimSpace(types) == "" {
		return true
	}
	for _, t := range strings.Split(types, ",") {
		t = strings.TrimSpace(t)
		if t == requestType || t == TypeAll {
			return true
		}
	}
	return false
}

func parsePort(port string) int {
	port = strings.TrimSpace(port)
	if port == "" {
		return DefaultProxyPort
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		log.Warnf("Invalid proxy port %q, using %d", port, DefaultProxyPort)
		return DefaultProxyPort
	}
	return p
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// TrimV4AddrZeros strips leading zeros from each octet of a dotted IPv4
// address ("010.001.002.003" becomes "10.1.2.3"). Anything else is
// returned unchanged.
func TrimV4AddrZeros(addr string) string {
	octets := strings.Split(addr, ".")
	if len(octets) != 4 {
		return addr
	}
	trimmed := make([]string, 4)
	for i, o := range octets {
		if o == "" || len(o) > 3 {
			return addr
		}
		n, err := strconv.Atoi(o)
		if err != nil || n > 255 {
			return addr
		}
		trimmed[i] = strconv.Itoa(n)
	}
	out := strings.Join(trimmed, ".")
	if net.ParseIP(out) == nil {
		return addr
	}
	return out
}
