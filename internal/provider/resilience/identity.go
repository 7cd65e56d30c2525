package resilience

import (
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultUserAgents is the browser identity pool rotated across attempts.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

const (
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	acceptJSON = "application/json, text/javascript, */*; q=0.01"
)

// browserHeaders builds a fresh header set for one attempt. A request with a
// Referer on the target's own host is marked same-origin.
func browserHeaders(userAgents []string, req Request, target *url.URL) http.Header {
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}

	h := make(http.Header)
	h.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Sec-Fetch-User", "?1")

	if strings.EqualFold(req.method(), http.MethodPost) {
		h.Set("Accept", acceptJSON)
		h.Set("X-Requested-With", "XMLHttpRequest")
		h.Set("Sec-Fetch-Dest", "empty")
		h.Set("Sec-Fetch-Mode", "cors")
	} else {
		h.Set("Accept", acceptHTML)
		h.Set("Sec-Fetch-Dest", "document")
		h.Set("Sec-Fetch-Mode", "navigate")
		h.Set("Upgrade-Insecure-Requests", "1")
	}

	site := "none"
	if req.Referer != "" {
		h.Set("Referer", req.Referer)
		if ref, err := url.Parse(req.Referer); err == nil && strings.EqualFold(ref.Hostname(), target.Hostname()) {
			site = "same-origin"
		} else {
			site = "cross-site"
		}
	}
	h.Set("Sec-Fetch-Site", site)

	return h
}

// Politeness configures the randomized delay taken before every fetch.
type Politeness struct {
	// Base is the minimum delay for hosts without a DomainBase entry.
	Base time.Duration

	// Spread is the width of the uniform range added on top of the base.
	Spread time.Duration

	// DomainBase overrides Base for hosts ending in the given suffix; the
	// longest matching suffix wins.
	DomainBase map[string]time.Duration
}

// DefaultPoliteness waits 0.8-2.8s, or 1.5-3.5s for the CNEMC endpoints.
func DefaultPoliteness() Politeness {
	return Politeness{
		Base:   800 * time.Millisecond,
		Spread: 2 * time.Second,
		DomainBase: map[string]time.Duration{
			"cnemc.cn": 1500 * time.Millisecond,
		},
	}
}

// Delay returns the pre-request delay for host, with u drawn from [0, 1).
func (p Politeness) Delay(host string, u float64) time.Duration {
	base, matched := p.Base, ""
	host = strings.ToLower(host)
	for suffix, d := range p.DomainBase {
		if strings.HasSuffix(host, suffix) && len(suffix) > len(matched) {
			base, matched = d, suffix
		}
	}
	return base + time.Duration(u*float64(p.Spread))
}
