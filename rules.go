package offlinecache

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
)

// Matcher decides whether a rule applies to a request.
type Matcher interface {
	Match(req *http.Request) bool
}

// MatchFunc is an arbitrary predicate over the request.
type MatchFunc func(req *http.Request) bool

func (f MatchFunc) Match(req *http.Request) bool {
	return f(req)
}

// Exact matches requests for exactly the given absolute URL, after normalization.
func Exact(rawURL string) Matcher {
	want := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		want = cachekey.Normalize(u)
	}
	return MatchFunc(func(req *http.Request) bool {
		return cachekey.Normalize(cachekey.CacheKeyer{}.RequestURL(req)) == want
	})
}

// Pattern matches requests whose absolute URL matches the regular expression.
func Pattern(re *regexp.Regexp) Matcher {
	return MatchFunc(func(req *http.Request) bool {
		return re.MatchString(cachekey.CacheKeyer{}.RequestURL(req).String())
	})
}

// Route matches on parts of the request. Empty fields match anything.
type Route struct {
	// Prefix of the URL path.
	Prefix string
	// Path is the complete URL path.
	Path string
	// Method of the request. If empty, only GET requests match.
	Method string
	// Query parameters that must be present. An empty value only requires presence.
	Query map[string]string
	// Pattern is matched against the absolute request URL.
	Pattern *regexp.Regexp
}

func (r Route) Match(req *http.Request) bool {
	if r.Method == "" && req.Method != http.MethodGet {
		return false
	}
	if r.Method != "" && !strings.EqualFold(r.Method, req.Method) {
		return false
	}
	if r.Path != "" && r.Path != req.URL.Path {
		return false
	}
	if r.Prefix != "" && !strings.HasPrefix(req.URL.Path, r.Prefix) {
		return false
	}
	if len(r.Query) > 0 {
		qry := req.URL.Query()
		for name, value := range r.Query {
			if value == "" && !qry.Has(name) {
				return false
			} else if value != "" && qry.Get(name) != value {
				return false
			}
		}
	}
	if r.Pattern != nil && !Pattern(r.Pattern).Match(req) {
		return false
	}
	return true
}

// Rule routes the requests matched by any of its matchers to its strategy.
type Rule struct {
	Match   []Matcher
	Handler Strategy
}

func (r Rule) matches(req *http.Request) bool {
	for _, m := range r.Match {
		if m != nil && m.Match(req) {
			return true
		}
	}
	return false
}
