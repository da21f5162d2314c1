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

package mmsc

import (
	"regexp"
	"strings"

	"github.com/ubports/mmsd/log"
	"golang.org/x/text/language"
)

// Macro names carriers use in httpParams.
const (
	MacroLine1              = "LINE1"
	MacroLine1NoCountryCode = "LINE1NOCOUNTRYCODE"
	MacroNAI                = "NAI"
)

var macroPattern = regexp.MustCompile(`##(\S+?)##`)

// Deprecated ISO 639 codes some platforms still report.
var obsoleteLanguages = map[string]string{
	"iw": "he",
	"in": "id",
	"ji": "yi",
}

// AcceptLanguage builds the Accept-Language value for locale, always
// offering en-US as a fallback.
func AcceptLanguage(locale language.Tag) string {
	const fallback = "en-US"
	if locale == language.Und {
		return fallback
	}
	base, _ := locale.Base()
	lang := base.String()
	if l, ok := obsoleteLanguages[lang]; ok {
		lang = l
	}
	if region, conf := locale.Region(); conf == language.Exact {
		lang += "-" + region.String()
	}
	if lang == fallback {
		return lang
	}
	return lang + ", " + fallback
}

// ParseHTTPParams splits a Name:Value|Name:Value template into header
// pairs, expanding ##MACRO## references. Pairs with an empty name or value
// are skipped.
func ParseHTTPParams(params string, macros map[string]string) [][2]string {
	if params == "" {
		return nil
	}
	var headers [][2]string
	for _, pair := range strings.Split(params, "|") {
		nameValue := strings.SplitN(pair, ":", 2)
		if len(nameValue) != 2 {
			continue
		}
		name := strings.TrimSpace(nameValue[0])
		value := strings.TrimSpace(ResolveMacros(nameValue[1], macros))
		if name == "" || value == "" {
			continue
		}
		headers = append(headers, [2]string{name, value})
	}
	return headers
}

// ResolveMacros replaces every ##NAME## in value. Unknown or empty macros
// are dropped.
func ResolveMacros(value string, macros map[string]string) string {
	return macroPattern.ReplaceAllStringFunc(value, func(m string) string {
		name := macroPattern.FindStringSubmatch(m)[1]
		v, ok := macros[name]
		if !ok || v == "" {
			log.Warnf("HTTP param macro %s has no value", name)
			return ""
		}
		return v
	})
}
