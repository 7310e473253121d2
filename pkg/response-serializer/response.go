package serializer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

var delim = []byte("\r\n\r\n----\r\n\r\n")

// ErrMalformed is returned when stored bytes cannot be split into request and response.
var ErrMalformed = errors.New("malformed stored response")

// ResponseToBytes serializes a response together with the request that produced it.
// The request is needed in order to know the (final) URL of the response and
// the request header fields the response varies on.
// The response body is read and then set back, so the response stays usable.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	buf := &bytes.Buffer{}

	if req := res.Request; req != nil {
		if err := requestWithoutBody(req).WriteProxy(buf); err != nil {
			log.Warn().Err(err).Msg("Could not write request to bytes")
			buf.Reset()
		}
	} else {
		log.Warn().Msg("Request not set")
	}
	buf.Write(delim)

	bts, err := responseToBytes(res)
	if err != nil {
		return nil, err
	}
	buf.Write(bts)

	return buf.Bytes(), nil
}

// BytesToResponse converts bytes written by ResponseToBytes back to a response.
// The body of the returned response is fully buffered.
func BytesToResponse(b []byte) (*http.Response, error) {
	parts := bytes.SplitN(b, delim, 2)
	if len(parts) != 2 {
		return nil, ErrMalformed
	}
	reqBytes, resBytes := parts[0], parts[1]

	var req *http.Request
	if len(reqBytes) > 0 {
		r, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(reqBytes)))
		if err != nil {
			log.Warn().Err(err).Msg("Could not read request from stored response")
		} else {
			req = r
		}
	}

	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(resBytes)), req)
	if err != nil {
		return nil, err
	}
	if _, err := BufferBody(res); err != nil {
		return nil, err
	}
	return res, nil
}

// BufferBody reads the complete response body and sets it back as an in-memory reader.
// A nil body is treated as empty.
func BufferBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		res.Body = http.NoBody
		return []byte{}, nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// Clone returns a copy of the response that can be consumed independently.
// The original response body is buffered in the process.
func Clone(res *http.Response) (*http.Response, error) {
	body, err := BufferBody(res)
	if err != nil {
		return nil, err
	}
	clone := *res
	clone.Header = res.Header.Clone()
	clone.Body = io.NopCloser(bytes.NewReader(body))
	return &clone, nil
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	body, err := BufferBody(res)
	if err != nil {
		return nil, err
	}
	out := *res
	out.ProtoMajor, out.ProtoMinor = 1, 1
	out.TransferEncoding = nil
	out.Trailer = nil
	out.Close = false
	out.ContentLength = int64(len(body))
	out.Body = io.NopCloser(bytes.NewReader(body))
	if out.Header == nil {
		out.Header = http.Header{}
	}
	// the request is serialized separately, and a HEAD request would drop the body
	out.Request = nil

	buf := &bytes.Buffer{}
	if err := out.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func requestWithoutBody(req *http.Request) *http.Request {
	r := req.Clone(context.Background())
	r.Body = nil
	r.GetBody = nil
	r.ContentLength = 0
	r.TransferEncoding = nil
	return r
}
