package main

import (
	"bytes"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/meigma/blobstream"
	"github.com/meigma/blobstream/blocklog"
	blockhttp "github.com/meigma/blobstream/blocklog/http"
)

// newHTTPStore returns an opener for remote stores reading the log's bytes.
// With data-url "local" the bytes are served by an in-process server.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newHTTPStore(cfg config, l *blocklog.Log) (func() blobstream.Store, func(), error) {
	url := cfg.dataURL
	var cleanup func()
	if cfg.dataURL == "local" {
		data := make([]byte, l.Size())
		if _, err := l.ReadAt(data, 0); err != nil && err != io.EOF {
			return nil, nil, err
		}
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			nethttp.ServeContent(w, r, "log", time.Time{}, bytes.NewReader(data))
		}))
		url = server.URL
		cleanup = server.Close
	}

	client := newHTTPClient(cfg)
	table := l.Table()
	open := func() blobstream.Store {
		return blockhttp.NewStore(url, table, blockhttp.WithClient(client))
	}
	return open, cleanup, nil
}

func newHTTPClient(cfg config) *nethttp.Client {
	transport := nethttp.DefaultTransport
	if base, ok := transport.(*nethttp.Transport); ok {
		transport = base.Clone()
	}
	if cfg.dataHTTPLatency > 0 || cfg.dataHTTPBPS > 0 {
		transport = &httpThrottleRoundTripper{
			base:           transport,
			latency:        cfg.dataHTTPLatency,
			bytesPerSecond: cfg.dataHTTPBPS,
		}
	}
	return &nethttp.Client{Transport: transport}
}

type httpThrottleRoundTripper struct {
	base           nethttp.RoundTripper
	latency        time.Duration
	bytesPerSecond int64
}

func (rt *httpThrottleRoundTripper) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	if rt.latency > 0 {
		time.Sleep(rt.latency)
	}
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if rt.bytesPerSecond > 0 && resp.Body != nil {
		resp.Body = &throttleReadCloser{
			rc:             resp.Body,
			bytesPerSecond: rt.bytesPerSecond,
			start:          time.Now(),
		}
	}
	return resp, nil
}

type throttleReadCloser struct {
	rc             io.ReadCloser
	bytesPerSecond int64
	start          time.Time
	readBytes      int64
}

func (tr *throttleReadCloser) Read(p []byte) (int, error) {
	n, err := tr.rc.Read(p)
	if n > 0 {
		tr.readBytes += int64(n)
		expected := time.Duration(float64(tr.readBytes) / float64(tr.bytesPerSecond) * float64(time.Second))
		if elapsed := time.Since(tr.start); expected > elapsed {
			time.Sleep(expected - elapsed)
		}
	}
	return n, err
}

func (tr *throttleReadCloser) Close() error {
	return tr.rc.Close()
}

var byteUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"kb", 1 << 10}, {"k", 1 << 10},
	{"mb", 1 << 20}, {"m", 1 << 20},
	{"gb", 1 << 30}, {"g", 1 << 30},
}

// parseBytesPerSecond parses rates such as "512", "64k" or "10MBps".
func parseBytesPerSecond(value string) (int64, error) {
	text := strings.TrimSpace(value)
	for _, suffix := range []string{"Bps", "bps", "/s"} {
		text = strings.TrimSuffix(text, suffix)
	}
	text = strings.TrimSpace(text)

	multiplier := int64(1)
	lower := strings.ToLower(text)
	for _, unit := range byteUnits {
		if strings.HasSuffix(lower, unit.suffix) {
			multiplier = unit.multiplier
			text = text[:len(text)-len(unit.suffix)]
			break
		}
	}

	raw, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || raw <= 0 {
		return 0, fmt.Errorf("invalid bytes-per-second %q", value)
	}
	return raw * multiplier, nil
}
