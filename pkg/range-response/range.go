// Package rangeresponse builds 206 (Partial Content) responses out of complete stored responses.
package rangeresponse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ErrUnsatisfiable is wrapped by parse errors for ranges outside the representation.
var ErrUnsatisfiable = errors.New("range not satisfiable")

// errInvalid marks Range header values that must be ignored.
var errInvalid = errors.New("invalid range")

// BuildPartialResponse returns the part of the full response selected by the request's Range header.
// If the request has no (valid) Range header, the full response is returned as is.
// A range outside the representation results in a 416 response.
// The full response body is consumed.
func BuildPartialResponse(req *http.Request, full *http.Response) (*http.Response, error) {
	header := req.Header.Get("Range")
	if header == "" {
		return full, nil
	}
	body, err := io.ReadAll(full.Body)
	full.Body.Close()
	if err != nil {
		return nil, err
	}
	full.Body = io.NopCloser(bytes.NewReader(body))
	size := int64(len(body))

	start, end, err := parseRange(header, size)
	if errors.Is(err, errInvalid) {
		return full, nil
	}

	res := &http.Response{
		Proto:      full.Proto,
		ProtoMajor: full.ProtoMajor,
		ProtoMinor: full.ProtoMinor,
		Header:     full.Header.Clone(),
		Request:    full.Request,
	}
	if res.Header == nil {
		res.Header = http.Header{}
	}

	if err != nil {
		res.StatusCode = http.StatusRequestedRangeNotSatisfiable
		res.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		res.Header.Set("Content-Length", "0")
		res.Body = http.NoBody
		return res, nil
	}

	part := body[start : end+1]
	res.StatusCode = http.StatusPartialContent
	res.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	res.Header.Set("Content-Length", strconv.Itoa(len(part)))
	res.ContentLength = int64(len(part))
	res.Body = io.NopCloser(bytes.NewReader(part))
	return res, nil
}

// parseRange parses a single "bytes=" range against a representation of the given size.
// The returned end is inclusive.
func parseRange(header string, size int64) (int64, int64, error) {
	unit, spec, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || strings.TrimSpace(unit) != "bytes" {
		return 0, 0, errInvalid
	}
	spec = strings.TrimSpace(spec)
	if strings.Contains(spec, ",") {
		// multipart/byteranges is not supported
		return 0, 0, errInvalid
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, errInvalid
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		// suffix range: the last n bytes
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, errInvalid
		}
		if n == 0 || size == 0 {
			return 0, 0, fmt.Errorf("%w: %s", ErrUnsatisfiable, header)
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errInvalid
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return 0, 0, errInvalid
		}
		if end > size-1 {
			end = size - 1
		}
	}
	if start >= size {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnsatisfiable, header)
	}
	return start, end, nil
}
