package ohttp

import (
	"bytes"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	want := &Request{
		Method:    "POST",
		Scheme:    "https",
		Authority: "directory.example:443",
		Path:      "/abc123/payjoin",
		Body:      []byte("hello world"),
	}
	data, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got, err := UnmarshalRequest(data)
	if err != nil {
		t.Fatalf("UnmarshalRequest: %v", err)
	}
	if got.Method != want.Method || got.Scheme != want.Scheme || got.Authority != want.Authority ||
		got.Path != want.Path || !bytes.Equal(got.Body, want.Body) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestRequestRoundTripEmptyBody(t *testing.T) {
	want := &Request{Method: "GET", Scheme: "https", Authority: "directory.example", Path: "/abc123"}
	data, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got, err := UnmarshalRequest(data)
	if err != nil {
		t.Fatalf("UnmarshalRequest: %v", err)
	}
	if len(got.Body) != 0 {
		t.Fatalf("got body %q, want empty", got.Body)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	want := &Response{StatusCode: 200, Body: []byte("ack")}
	data, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got, err := UnmarshalResponse(data)
	if err != nil {
		t.Fatalf("UnmarshalResponse: %v", err)
	}
	if got.StatusCode != want.StatusCode || !bytes.Equal(got.Body, want.Body) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestUnmarshalRequestTruncated(t *testing.T) {
	if _, err := UnmarshalRequest([]byte{0x00, 0x00}); err == nil {
		t.Fatal("expected error on truncated input")
	}
}
