package offlinecache

import (
	"context"
	"net/http"
)

// RedirectMode tells how the requester deals with redirects.
type RedirectMode int

const (
	// RedirectFollow accepts responses that were reached through redirects.
	RedirectFollow RedirectMode = iota
	// RedirectManual wants to see redirects itself.
	RedirectManual
	// RedirectError treats a redirect as a network error.
	RedirectError
)

type redirectModeKey struct{}

// WithRedirectMode attaches the redirect mode of a request to its context.
// Requests without a mode are treated as RedirectFollow.
func WithRedirectMode(ctx context.Context, mode RedirectMode) context.Context {
	return context.WithValue(ctx, redirectModeKey{}, mode)
}

// RedirectModeFrom returns the redirect mode attached to ctx.
func RedirectModeFrom(ctx context.Context) RedirectMode {
	mode, _ := ctx.Value(redirectModeKey{}).(RedirectMode)
	return mode
}

// withoutRedirect rebuilds a stored response as if it had been served for req directly.
// Status, header fields and body are kept.
func withoutRedirect(req *http.Request, res *http.Response) *http.Response {
	body := res.Body
	if body == nil {
		body = http.NoBody
	}
	return &http.Response{
		Status:        res.Status,
		StatusCode:    res.StatusCode,
		Proto:         res.Proto,
		ProtoMajor:    res.ProtoMajor,
		ProtoMinor:    res.ProtoMinor,
		Header:        res.Header.Clone(),
		Body:          body,
		ContentLength: res.ContentLength,
		Request:       req,
	}
}
