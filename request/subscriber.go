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

package request

import (
	"encoding/base64"
	"strings"

	"github.com/ubports/mmsd/config"
	"github.com/ubports/mmsd/mmsc"
)

// Subscriber describes the SIM the request runs on. Any value may be
// empty when the modem does not report it.
type Subscriber interface {
	// LineNumber is the MSISDN, usually in international format.
	LineNumber() string
	// CountryCode is the E.164 calling code of the home network, "54"
	// for Argentina.
	CountryCode() string
	NAI() string
}

// Macros returns the values httpParams may reference.
func Macros(sub Subscriber, cfg *config.Config) map[string]string {
	macros := map[string]string{}
	if sub == nil {
		return macros
	}
	if line1 := sub.LineNumber(); line1 != "" {
		macros[mmsc.MacroLine1] = line1
		macros[mmsc.MacroLine1NoCountryCode] = nationalNumber(line1, sub.CountryCode())
	}
	if nai := sub.NAI(); nai != "" {
		if cfg != nil {
			nai += cfg.NaiSuffix
		}
		macros[mmsc.MacroNAI] = base64.StdEncoding.EncodeToString([]byte(nai))
	}
	return macros
}

// nationalNumber drops the international prefix of number when it
// matches countryCode. Other numbers are returned unchanged.
func nationalNumber(number, countryCode string) string {
	if countryCode == "" {
		return number
	}
	for _, prefix := range []string{"+", "00"} {
		if rest := strings.TrimPrefix(number, prefix+countryCode); rest != number && rest != "" {
			return rest
		}
	}
	return number
}
