// Package cachestatus formats the Cache-Status response header field (RFC 9211).
package cachestatus

import (
	"fmt"
	"net/http"
)

// HeaderName is the name of the response header field.
const HeaderName = "Cache-Status"

// CacheName identifies this cache in the header field.
const CacheName = "OfflineCache"

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request (to be used when an implementation cannot
	// distinguish between uri-miss and vary-miss).
	FwdMiss FwdReason = "miss"
)

type CacheStatus struct {
	hit       bool
	fwdReason FwdReason
	stored    bool
	detail    string
}

// Hit returns the status of a response served from the cache.
func Hit() CacheStatus {
	return CacheStatus{hit: true}
}

// Forward returns the status of a response fetched from the network.
func Forward(reason FwdReason) CacheStatus {
	return CacheStatus{fwdReason: reason}
}

// Stored marks that the forwarded response will be stored.
func (cs CacheStatus) Stored() CacheStatus {
	cs.stored = true
	return cs
}

func (cs CacheStatus) Detail(detail string) CacheStatus {
	cs.detail = detail
	return cs
}

func (cs CacheStatus) String() string {
	status := CacheName + "; hit"
	if !cs.hit {
		status = fmt.Sprintf("%s; fwd=%s", CacheName, cs.fwdReason)
		if cs.stored {
			status = status + "; stored"
		}
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}

// Set sets the header field on the response, replacing a value set by this cache earlier.
func (cs CacheStatus) Set(res *http.Response) {
	if res == nil {
		return
	}
	if res.Header == nil {
		res.Header = http.Header{}
	}
	res.Header.Set(HeaderName, cs.String())
}
