package cachekey

import (
	"mime"
	"net/http"
	"net/url"
	"strings"
)

type CacheKeyer struct {
	// Origin used to resolve requests without scheme and host, e.g. "https://example.com".
	// Usually this is only needed for server-side requests.
	Origin string
}

func NewCacheKeyer(origin string) CacheKeyer {
	return CacheKeyer{Origin: strings.TrimSuffix(origin, "/")}
}

// Normalize returns the normalized form of an absolute URL:
// scheme and host are lower-cased, default ports and the fragment are dropped,
// and an empty path becomes "/".
func Normalize(u *url.URL) string {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)
	if port := n.Port(); (n.Scheme == "http" && port == "80") || (n.Scheme == "https" && port == "443") {
		n.Host = n.Hostname()
		if strings.Contains(n.Host, ":") {
			n.Host = "[" + n.Host + "]"
		}
	}
	n.Fragment = ""
	n.RawFragment = ""
	if n.Path == "" && n.Opaque == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	n.User = nil
	return n.String()
}

// RequestURL returns the absolute URL of the request.
func (c CacheKeyer) RequestURL(r *http.Request) *url.URL {
	u := *r.URL
	if u.IsAbs() && u.Host != "" {
		return &u
	}
	base := c.Origin
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	if b, err := url.Parse(base); err == nil {
		return b.ResolveReference(&u)
	}
	return &u
}

// GetKey returns the key used to look up responses for the request.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return Normalize(c.RequestURL(r))
}

// GetResponseKey returns the key a response to the request is stored under.
// HTML responses are keyed by the final URL after redirects, so that a redirected
// navigation is cached under its destination.
// Other responses are keyed by the originally requested URL, so that e.g. a prefetched
// resource resolves from the cache before any redirect is known.
func (c CacheKeyer) GetResponseKey(r *http.Request, res *http.Response) string {
	if IsHTML(res) && res.Request != nil && res.Request.URL != nil {
		return c.GetKey(res.Request)
	}
	return c.GetKey(r)
}

// IsHTML reports whether the response carries an HTML document.
func IsHTML(res *http.Response) bool {
	mediaType, _, err := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
