// Package egress rotates outbound provider traffic across a configured list of
// proxies. The pool is loaded once at startup and rotation advances on every
// call attempt; a bad proxy simply makes that one call fail.
package egress

import (
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

const clientTimeout = 30 * time.Second

// Pool is a round-robin list of egress proxy URIs. An empty pool means direct
// egress.
type Pool struct {
	proxies []string
	cursor  atomic.Uint64
}

// NewPool builds a pool from the given URIs, dropping blank entries.
func NewPool(uris []string) *Pool {
	p := &Pool{}
	for _, uri := range uris {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		log.Printf("🌐 Proxy: %s", uri)
		p.proxies = append(p.proxies, uri)
	}
	return p
}

// LoadFile reads one proxy URI per line, ignoring blank lines. A missing file
// yields an empty pool rather than an error.
func LoadFile(path string) *Pool {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("⚠️ Unable to read %s, will not use any proxy", path)
		return NewPool(nil)
	}
	return NewPool(strings.Split(string(data), "\n"))
}

// Size returns the number of configured proxies.
func (p *Pool) Size() int {
	return len(p.proxies)
}

// Next returns the next proxy URI in round-robin order, or "" when the pool is
// empty. Every call advances the cursor, including retries within one logical
// operation.
func (p *Pool) Next() string {
	if len(p.proxies) == 0 {
		return ""
	}
	n := p.cursor.Add(1) - 1
	return p.proxies[n%uint64(len(p.proxies))]
}

// ClientFor returns an HTTP client that egresses through the given proxy, or a
// direct client when proxy is empty. A malformed proxy URI falls back to
// direct egress; the upstream call will carry on without it.
func (p *Pool) ClientFor(proxy string) *http.Client {
	if proxy == "" {
		return &http.Client{Timeout: clientTimeout}
	}
	u, err := url.Parse(proxy)
	if err != nil {
		log.Printf("⚠️ Invalid proxy %q: %v", proxy, err)
		return &http.Client{Timeout: clientTimeout}
	}
	return &http.Client{
		Timeout:   clientTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(u)},
	}
}

// NextClient rotates to the next proxy and returns a client for it along with
// the proxy URI used.
func (p *Pool) NextClient() (*http.Client, string) {
	proxy := p.Next()
	return p.ClientFor(proxy), proxy
}
