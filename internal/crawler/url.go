package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// CanonicalURL standardizes an item URL so two stages that reach the same page
// key their records identically. It lowercases the scheme and host, removes
// default ports, the fragment and a trailing slash on non-root paths, and
// sorts query parameters.
func CanonicalURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// WithQuery encodes params onto rawURL, keeping any query already present.
func WithQuery(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// QueryParams extracts the "params" entry of request metadata. Both
// map[string]string and map[string]any values are accepted.
func QueryParams(meta Meta) map[string]string {
	switch p := meta["params"].(type) {
	case map[string]string:
		return p
	case map[string]any:
		out := make(map[string]string, len(p))
		for k, v := range p {
			out[k] = fmt.Sprint(v)
		}
		return out
	default:
		return nil
	}
}
