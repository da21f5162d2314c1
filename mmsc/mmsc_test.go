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
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ubports/mmsd/apn"
	"github.com/ubports/mmsd/config"
	"go.uber.org/atomic"
	"golang.org/x/text/language"
	. "launchpad.net/gocheck"
)

func Test(t *testing.T) { TestingT(t) }

type ClientTestSuite struct {
	server   *httptest.Server
	handler  http.HandlerFunc
	port     string
	route    *fakeRoute
	client   *Client
	received *http.Request
	body     []byte
}

var _ = Suite(&ClientTestSuite{})

// fakeRoute resolves every host to its ips.
type fakeRoute struct {
	ips      []net.IP
	resolved []string
	lookups  atomic.Int32
	err      error
}

func (r *fakeRoute) ResolveHost(ctx context.Context, host string) ([]net.IP, error) {
	r.lookups.Inc()
	r.resolved = append(r.resolved, host)
	if r.err != nil {
		return nil, r.err
	}
	return r.ips, nil
}

func (r *fakeRoute) Dialer() (*net.Dialer, error) {
	return &net.Dialer{}, nil
}

func (s *ClientTestSuite) SetUpTest(c *C) {
	s.received = nil
	s.body = nil
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pdu"))
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.received = r
		s.body, _ = io.ReadAll(r.Body)
		s.handler(w, r)
	}))
	u, err := url.Parse(s.server.URL)
	c.Assert(err, IsNil)
	_, s.port, _ = net.SplitHostPort(u.Host)
	s.route = &fakeRoute{ips: []net.IP{net.ParseIP("127.0.0.1")}}
	s.client = &Client{Locale: language.MustParse("fr-FR")}
}

func (s *ClientTestSuite) TearDownTest(c *C) {
	s.server.Close()
}

func (s *ClientTestSuite) url() string {
	return "http://mmsc.test:" + s.port + "/mms"
}

func (s *ClientTestSuite) TestGet(c *C) {
	cfg := config.Defaults()
	cfg.UaProfURL = "http://example.com/ua.xml"
	cfg.HTTPParams = "X-Line:##LINE1##|X-Missing:a##BAR##b|Broken|X-Empty:##NONE##"
	data, err := s.client.Execute(context.Background(), Request{
		URL:    s.url(),
		Method: http.MethodGet,
		Config: cfg,
		Macros: map[string]string{MacroLine1: "5551234"},
		Route:  s.route,
	})
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "pdu")
	c.Check(s.route.resolved, DeepEquals, []string{"mmsc.test"})

	h := s.received.Header
	c.Check(h.Get("Accept"), Equals, acceptHeader)
	c.Check(h.Get("Accept-Language"), Equals, "fr-FR, en-US")
	c.Check(h.Get("User-Agent"), Equals, config.DefaultUserAgent)
	c.Check(h.Get("X-Wap-Profile"), Equals, "http://example.com/ua.xml")
	c.Check(h.Get("X-Line"), Equals, "5551234")
	c.Check(h.Get("X-Missing"), Equals, "ab")
	c.Check(h.Get("X-Empty"), Equals, "")
	c.Check(h.Get("Content-Type"), Equals, "")
}

func (s *ClientTestSuite) TestPost(c *C) {
	_, err := s.client.Execute(context.Background(), Request{
		URL:    s.url(),
		Method: http.MethodPost,
		Body:   []byte{0x8c, 0x80},
		Route:  s.route,
	})
	c.Assert(err, IsNil)
	c.Check(s.received.Method, Equals, http.MethodPost)
	c.Check(s.received.Header.Get("Content-Type"), Equals, ContentTypeMMS)
	c.Check(s.body, DeepEquals, []byte{0x8c, 0x80})
}

func (s *ClientTestSuite) TestProxy(c *C) {
	port, _ := strconv.Atoi(s.port)
	_, err := s.client.Execute(context.Background(), Request{
		URL:    "http://mmsc.carrier.example/servlets/mms",
		Method: http.MethodGet,
		APN:    &apn.Config{MMSC: "http://mmsc.carrier.example/servlets/mms", ProxyHost: "10.0.0.1", ProxyPort: port},
		Route:  s.route,
	})
	c.Assert(err, IsNil)
	// the proxy is dialed, the origin only appears in the request line
	c.Check(s.route.resolved, DeepEquals, []string{"10.0.0.1"})
	c.Check(s.received.URL.Host, Equals, "mmsc.carrier.example")
}

func (s *ClientTestSuite) TestTriesEveryAddress(c *C) {
	s.route.ips = []net.IP{net.ParseIP("127.0.0.2"), net.ParseIP("127.0.0.1")}
	data, err := s.client.Execute(context.Background(), Request{
		URL:    s.url(),
		Method: http.MethodGet,
		Route:  s.route,
	})
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "pdu")
}

func (s *ClientTestSuite) TestStatusError(c *C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}
	_, err := s.client.Execute(context.Background(), Request{
		URL:    s.url(),
		Method: http.MethodGet,
		Route:  s.route,
	})
	c.Assert(err, FitsTypeOf, &HTTPError{})
	c.Check(err.(*HTTPError).StatusCode, Equals, http.StatusNotFound)
	c.Check(err.(*HTTPError).Reason, Equals, "Not Found")
}

func (s *ClientTestSuite) TestChunkedTooLarge(c *C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 4; i++ {
			w.Write([]byte("0123456789"))
			w.(http.Flusher).Flush()
		}
	}
	cfg := config.Defaults()
	cfg.MaxMessageSize = 25
	_, err := s.client.Execute(context.Background(), Request{
		URL:    s.url(),
		Method: http.MethodGet,
		Config: cfg,
		Route:  s.route,
	})
	c.Assert(err, FitsTypeOf, &TransportError{})
	c.Check(errors.Is(err, ErrResponseTooLarge), Equals, true)
}

func (s *ClientTestSuite) TestChunkedWithinLimit(c *C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 2; i++ {
			w.Write([]byte("0123456789"))
			w.(http.Flusher).Flush()
		}
	}
	cfg := config.Defaults()
	cfg.MaxMessageSize = 20
	data, err := s.client.Execute(context.Background(), Request{
		URL:    s.url(),
		Method: http.MethodGet,
		Config: cfg,
		Route:  s.route,
	})
	c.Assert(err, IsNil)
	c.Check(len(data), Equals, 20)
}

func (s *ClientTestSuite) TestFixedLengthIgnoresLimit(c *C) {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "40")
		w.Write(make([]byte, 40))
	}
	cfg := config.Defaults()
	cfg.MaxMessageSize = 10
	data, err := s.client.Execute(context.Background(), Request{
		URL:    s.url(),
		Method: http.MethodGet,
		Config: cfg,
		Route:  s.route,
	})
	c.Assert(err, IsNil)
	c.Check(len(data), Equals, 40)
}

func (s *ClientTestSuite) TestResolveFailure(c *C) {
	s.route.err = errors.New("no IPv6 address for mmsc.test")
	_, err := s.client.Execute(context.Background(), Request{
		URL:    s.url(),
		Method: http.MethodGet,
		Route:  s.route,
	})
	c.Assert(err, FitsTypeOf, &TransportError{})
	c.Check(s.received, IsNil)
}

func (s *ClientTestSuite) TestMalformedURL(c *C) {
	_, err := s.client.Execute(context.Background(), Request{
		URL:    "mms",
		Method: http.MethodGet,
		Route:  s.route,
	})
	c.Assert(err, FitsTypeOf, &TransportError{})
	c.Check(s.route.lookups.Load(), Equals, int32(0))
}

func (s *ClientTestSuite) TestUnsupportedMethod(c *C) {
	_, err := s.client.Execute(context.Background(), Request{
		URL:    s.url(),
		Method: http.MethodPut,
		Route:  s.route,
	})
	c.Assert(err, FitsTypeOf, &TransportError{})
}

func (s *ClientTestSuite) TestCanceled(c *C) {
	release := make(chan struct{})
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		<-release
	}
	defer close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.client.Execute(ctx, Request{
		URL:    s.url(),
		Method: http.MethodGet,
		Route:  s.route,
	})
	c.Assert(err, FitsTypeOf, &TransportError{})
	c.Check(errors.Is(err, context.DeadlineExceeded), Equals, true)
}

func TestAcceptLanguage(t *testing.T) {
	for _, tc := range []struct {
		locale language.Tag
		want   string
	}{
		{language.AmericanEnglish, "en-US"},
		{language.Und, "en-US"},
		{language.MustParse("fr-FR"), "fr-FR, en-US"},
		{language.English, "en, en-US"},
		{language.BritishEnglish, "en-GB, en-US"},
		{language.MustParse("iw-IL"), "he-IL, en-US"},
		{language.MustParse("in"), "id, en-US"},
		{language.MustParse("ji"), "yi, en-US"},
	} {
		if got := AcceptLanguage(tc.locale); got != tc.want {
			t.Errorf("AcceptLanguage(%s) = %q, want %q", tc.locale, got, tc.want)
		}
	}
}

func TestResolveMacros(t *testing.T) {
	macros := map[string]string{"FOO": "X", MacroNAI: "bmFp"}
	for _, tc := range []struct {
		in, want string
	}{
		{"a##FOO##b", "aXb"},
		{"a##BAR##b", "ab"},
		{"##FOO####NAI##", "XbmFp"},
		{"no macros", "no macros"},
		{"##not a macro##", "##not a macro##"},
	} {
		if got := ResolveMacros(tc.in, macros); got != tc.want {
			t.Errorf("ResolveMacros(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseHTTPParams(t *testing.T) {
	got := ParseHTTPParams(" X-A : 1 |X-B:http://b:80|nocolon|:v|X-C:", nil)
	want := [][2]string{{"X-A", "1"}, {"X-B", "http://b:80"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected headers (-want +got):\n%s", diff)
	}
}
