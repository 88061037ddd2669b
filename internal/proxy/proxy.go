// Package proxy selects the outbound proxy used by the fetcher.
package proxy

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
)

// Normalize adds an http:// scheme to bare host:port entries and drops blanks.
func Normalize(proxies []string) []string {
	out := make([]string, 0, len(proxies))
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "://") {
			p = "http://" + p
		}
		out = append(out, p)
	}
	return out
}

// Pick returns one proxy chosen uniformly at random, or "" for an empty list.
func Pick(proxies []string) string {
	return pickWith(proxies, rand.IntN)
}

func pickWith(proxies []string, intn func(int) int) string {
	proxies = Normalize(proxies)
	if len(proxies) == 0 {
		return ""
	}
	return proxies[intn(len(proxies))]
}

// Parse validates a proxy address. An empty string yields a nil URL.
func Parse(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy %q has no host", raw)
	}
	return u, nil
}
