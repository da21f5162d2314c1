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

// mmsc-fake serves canned MMSC responses on localhost and can inject a
// matching m-notification.ind into a running mmsd push agent.
package main

import (
	"net/http"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/ubports/mmsd/log"
)

type mainFlags struct {
	Listen string `long:"listen" description:"address to serve the MMSC on" default:"localhost:9191"`
	// DenialCount is how many requests are refused before content is served.
	DenialCount int `long:"denial-count" short:"d" description:"number of serving denials until successful MMS serving" default:"0"`
	// RetrieveConf is an encoded m-retrieve.conf to serve instead of the built in one.
	RetrieveConf string `long:"m-retrieve-conf" description:"Use a specific m-retrieve.conf to test"`
	Sender       string `long:"sender" short:"s" description:"the sender of the MMS" default:"+543515924906"`
	SendStatus   string `long:"send-status" description:"response status for m-send.req" choice:"ok" choice:"denied" choice:"transient" default:"ok"`
	// EndPoint is the bus name of the push agent; no push is sent when empty.
	EndPoint      string `long:"end-point" description:"dbus name where the mmsd agent is listening for push requests from ofono"`
	TransactionId string `long:"transaction-id" description:"transaction id of the injected m-notification.ind" default:"m04BKksim05@mms.personal.com.ar"`
	LogLevel      string `long:"log-level" description:"log level" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
}

func main() {
	var args mainFlags
	parser := flags.NewParser(&args, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
	logger, err := log.New(args.LogLevel)
	if err != nil {
		os.Exit(1)
	}
	log.SetLogger(logger)
	defer log.Sync()

	srv, err := newServer(args)
	if err != nil {
		log.Fatalf("Issues while creating mms local server instance: %s", err)
	}
	log.Infof("Serving fake MMSC on %s, denial count %d", args.Listen, args.DenialCount)

	errc := make(chan error, 1)
	go func() { errc <- http.ListenAndServe(args.Listen, srv) }()

	if args.EndPoint != "" {
		location := "http://" + args.Listen + "/mms"
		if err := push(args.EndPoint, notificationPush(args.TransactionId, args.Sender, location, len(srv.retrieveConf)), args.Sender); err != nil {
			log.Fatalf("%s", err)
		}
		log.Infof("Injected m-notification.ind for %s", location)
	}
	log.Fatalf("%s", <-errc)
}
