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

// Package mmsc performs the HTTP exchanges with a carrier MMSC over the
// MMS data path.
package mmsc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ubports/mmsd/apn"
	"github.com/ubports/mmsd/config"
	"github.com/ubports/mmsd/log"
	"golang.org/x/text/language"
)

const (
	ContentTypeMMS = "application/vnd.wap.mms-message"
	acceptHeader   = "*/*, application/vnd.wap.mms-message, application/vnd.wap.sia"
)

// ErrResponseTooLarge is wrapped in a *TransportError when a chunked
// response does not fit in maxMessageSize.
var ErrResponseTooLarge = errors.New("response larger than maxMessageSize")

// HTTPError is returned when the MMSC answers with anything but 200.
type HTTPError struct {
	StatusCode int
	Reason     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("mmsc: HTTP %d %s", e.StatusCode, e.Reason)
}

// TransportError covers failures before a status line was read or while
// reading the body.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mmsc: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Route is the data path the exchange is bound to. network.Manager
// satisfies it.
type Route interface {
	ResolveHost(ctx context.Context, host string) ([]net.IP, error)
	Dialer() (*net.Dialer, error)
}

// Request describes one exchange. Method is http.MethodGet or
// http.MethodPost; Body is only sent with POST.
type Request struct {
	URL    string
	Method string
	Body   []byte
	APN    *apn.Config
	Config *config.Config
	Macros map[string]string
	Route  Route
}

// Client executes requests. The zero value uses American English for
// Accept-Language.
type Client struct {
	Locale language.Tag
}

// Execute performs the exchange and returns the response body on 200.
func (c *Client) Execute(ctx context.Context, req Request) ([]byte, error) {
	cfg := req.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	var body io.Reader
	switch req.Method {
	case http.MethodGet:
	case http.MethodPost:
		body = bytes.NewReader(req.Body)
	default:
		return nil, &TransportError{"request", fmt.Errorf("unsupported method %q", req.Method)}
	}
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		return nil, &TransportError{"request", err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &TransportError{"request", err}
	}
	c.setHeaders(httpReq, cfg, req.Macros)

	transport := newTransport(req, cfg)
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport}

	log.Infof("HTTP: %s %s %s", req.Method, req.URL, describeProxy(req.APN))
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{"send", err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		reason := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")
		log.Warnf("HTTP: %s %s failed with %d %s", req.Method, req.URL, resp.StatusCode, reason)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Reason: reason}
	}
	data, err := readBody(resp, cfg.MaxMessageSize)
	if err != nil {
		return nil, &TransportError{"read", err}
	}
	log.Debugf("HTTP: %s %s returned %d bytes", req.Method, req.URL, len(data))
	return data, nil
}

func (c *Client) setHeaders(r *http.Request, cfg *config.Config, macros map[string]string) {
	r.Header.Set("Accept", acceptHeader)
	r.Header.Set("Accept-Language", AcceptLanguage(c.Locale))
	if cfg.UserAgent != "" {
		r.Header.Set("User-Agent", cfg.UserAgent)
	}
	if cfg.UaProfURL != "" {
		tag := cfg.UaProfTagName
		if tag == "" {
			tag = config.DefaultUaProfTagName
		}
		r.Header.Set(tag, cfg.UaProfURL)
	}
	if r.Method == http.MethodPost {
		r.Header.Set("Content-Type", ContentTypeMMS)
	}
	for _, h := range ParseHTTPParams(cfg.HTTPParams, macros) {
		r.Header.Add(h[0], h[1])
	}
}

// readBody reads chunked responses into a buffer bounded by max, other
// responses are read whole.
func readBody(resp *http.Response, max int) ([]byte, error) {
	if !isChunked(resp) {
		return io.ReadAll(resp.Body)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(max)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > max {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

func isChunked(resp *http.Response) bool {
	if resp.ContentLength < 0 {
		return true
	}
	for _, te := range resp.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return true
		}
	}
	return false
}

func describeProxy(cfg *apn.Config) string {
	if cfg == nil || !cfg.IsProxySet() {
		return "direct"
	}
	return "via " + net.JoinHostPort(cfg.ProxyHost, strconv.Itoa(cfg.ProxyPort))
}
