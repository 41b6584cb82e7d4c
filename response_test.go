package offlineproxy

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResponseToBytesBodyIntact(t *testing.T) {
	response := `HTTP/1.1 200 OK
Server: Test

This is the body`

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		panic(err)
	}

	_, err = responseToBytes(res)
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

func TestResponseSaverRoundTrip(t *testing.T) {
	rs := NewResponseSaver(nil)
	rs.Header().Set("Content-Type", "text/plain")
	rs.WriteHeader(http.StatusCreated)
	rs.Write([]byte("saved body"))

	res, err := bytesToResponse(rs.Response())
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("Status: %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("Content-Type: %s", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "saved body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestResponseSaverTees(t *testing.T) {
	rec := httptest.NewRecorder()
	rs := NewResponseSaver(rec)
	rs.Header().Set("Content-Type", "text/plain")
	rs.Write([]byte("tee'd body"))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status: %d", rec.Code)
	}
	if body := rec.Body.String(); body != "tee'd body" {
		t.Fatalf("Body: %s", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("Content-Type: %s", ct)
	}
	if rs.StatusCode() != http.StatusOK {
		t.Fatalf("Saved status: %d", rs.StatusCode())
	}
}

// Headers set on the underlying writer before the saver is created must
// not leak into the saved response.
func TestResponseSaverSkipsPresetHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Cache-Status", "offline-proxy; fwd=miss; stored")
	rs := NewResponseSaver(rec)
	rs.Write([]byte("body"))

	res, err := bytesToResponse(rs.Response())
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	defer res.Body.Close()
	if cs := res.Header.Get("Cache-Status"); cs != "" {
		t.Fatalf("Cache-Status leaked into saved response: %s", cs)
	}
}
