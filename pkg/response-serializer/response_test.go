package serializer

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestResponseToBytesBodyIntact(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nServer: Test\r\nContent-Length: 16\r\n\r\nThis is the body"

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		panic(err)
	}

	_, err = ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if fmt.Sprintf("%s", body) != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestStoredResponseKeepsRequestURL(t *testing.T) {
	req, _ := http.NewRequest("GET", "https://example.com/final?x=1", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	res := &http.Response{
		StatusCode: 201,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("created")),
		Request:    req,
	}
	res.Header.Add("Test", "-ing")

	bts, err := ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	res2, err := BytesToResponse(bts)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	if res2.StatusCode != 201 {
		t.Fatalf("Status is %d", res2.StatusCode)
	}
	if res2.Header.Get("Test") != "-ing" {
		t.Fatalf("Test header wrong %+v", res2.Header)
	}
	if res2.Request == nil || res2.Request.URL.String() != "https://example.com/final?x=1" {
		t.Fatalf("Request is %+v", res2.Request)
	}
	if res2.Request.Header.Get("Accept-Encoding") != "gzip" {
		t.Fatalf("Request header lost %+v", res2.Request.Header)
	}
	body, _ := io.ReadAll(res2.Body)
	if string(body) != "created" {
		t.Fatalf("Body is %s", body)
	}
}

func TestOpaqueResponseRoundTrip(t *testing.T) {
	res := &http.Response{StatusCode: 0, Header: http.Header{}, Body: io.NopCloser(strings.NewReader("x"))}
	bts, err := ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	res2, err := BytesToResponse(bts)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	if res2.StatusCode != 0 {
		t.Fatalf("Status is %d", res2.StatusCode)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	res := &http.Response{StatusCode: 200, Header: http.Header{"A": {"1"}}, Body: io.NopCloser(strings.NewReader("abc"))}
	clone, err := Clone(res)
	if err != nil {
		t.Fatal(err)
	}
	clone.Header.Set("A", "2")
	a, _ := io.ReadAll(res.Body)
	b, _ := io.ReadAll(clone.Body)
	if string(a) != "abc" || string(b) != "abc" {
		t.Fatalf("Bodies are %q and %q", a, b)
	}
	if res.Header.Get("A") != "1" {
		t.Fatal("Header shared between clones")
	}
}
