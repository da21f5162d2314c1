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

// mmsd sends and receives MMS over the cellular data path managed by
// oFono. "run" starts the daemon, "send" and "download" perform a single
// request and exit.
package main

import (
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
	"golang.org/x/text/language"
)

type options struct {
	LogLevel    string `long:"log-level" description:"log level" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
	Config      string `long:"config" description:"mms configuration file, defaults to the xdg location"`
	Store       string `long:"store" description:"message store directory, defaults to the xdg location"`
	Preferences string `long:"preferences" description:"preferences file, defaults to the xdg location"`
	APN         string `long:"apn" description:"only use the access point with this name"`
	Locale      string `long:"locale" env:"LANG" description:"locale used for Accept-Language"`
}

// locale turns a POSIX locale such as fr_FR.UTF-8 into a language tag.
func (o *options) locale() language.Tag {
	l := o.Locale
	if i := strings.IndexAny(l, ".@"); i >= 0 {
		l = l[:i]
	}
	if l == "" || l == "C" || l == "POSIX" {
		return language.Und
	}
	tag, err := language.Parse(strings.Replace(l, "_", "-", -1))
	if err != nil {
		return language.Und
	}
	return tag
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.AddCommand("run", "Run the daemon",
		"Watches oFono modems, downloads pushed messages and serves org.ubports.mmsd on the session bus.",
		&runCommand{opts: &opts})
	parser.AddCommand("send", "Send one message",
		"Posts an encoded m-send.req to the MMSC and records the m-send.conf.",
		&sendCommand{opts: &opts})
	parser.AddCommand("download", "Download one message",
		"Retrieves the message at a content location into the store.",
		&downloadCommand{opts: &opts})
	if _, err := parser.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
