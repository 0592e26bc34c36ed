package ohttp

import (
	"encoding/binary"
	"io"

	"github.com/rawblock/payjoin-receiver/internal/pjerr"
)

// Request is a length-framed binary HTTP request, carrying just the fields
// the directory API needs (spec §4.4: "Build a BHTTP request from (method,
// scheme, authority[:port], path, body?)"). This is not a general HTTP/1.1
// or HTTP/2 message model — the receiver only ever issues GET/POST to the
// directory, so header fields are omitted entirely.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Body      []byte
}

// Response is the BHTTP counterpart returned by the gateway.
type Response struct {
	StatusCode int
	Body       []byte
}

func writeField(w io.Writer, field []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(field)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(field)
	return err
}

func readField(r *byteCursor) ([]byte, error) {
	lengthBytes, err := r.take(4)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBytes)
	return r.take(int(length))
}

type byteCursor struct {
	buf []byte
	pos int
}

func (c *byteCursor) take(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, pjerr.Wrap(pjerr.KindSession, "OhttpEncapsulation", "truncated bhttp message", io.ErrUnexpectedEOF)
	}
	out := c.buf[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

// MarshalBinary renders r as a length-framed known-length bhttp request
// message (spec §4.4, loosely modeled on RFC 9292's known-length framing;
// the receiver and its own relay/gateway stand-in are the only two parties
// that ever parse this format, so wire compatibility with the IETF draft's
// exact byte layout is not required).
func (r *Request) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 64+len(r.Body))
	w := &sliceWriter{buf: buf}
	fields := [][]byte{
		[]byte(r.Method),
		[]byte(r.Scheme),
		[]byte(r.Authority),
		[]byte(r.Path),
		r.Body,
	}
	for _, f := range fields {
		if err := writeField(w, f); err != nil {
			return nil, pjerr.Wrap(pjerr.KindImplementation, "OhttpEncapsulation", "marshaling bhttp request", err)
		}
	}
	return w.buf, nil
}

// UnmarshalRequest parses a message produced by Request.MarshalBinary.
func UnmarshalRequest(data []byte) (*Request, error) {
	c := &byteCursor{buf: data}
	method, err := readField(c)
	if err != nil {
		return nil, err
	}
	scheme, err := readField(c)
	if err != nil {
		return nil, err
	}
	authority, err := readField(c)
	if err != nil {
		return nil, err
	}
	path, err := readField(c)
	if err != nil {
		return nil, err
	}
	body, err := readField(c)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:    string(method),
		Scheme:    string(scheme),
		Authority: string(authority),
		Path:      string(path),
		Body:      body,
	}, nil
}

// MarshalBinary renders r as a length-framed bhttp response message.
func (r *Response) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 16+len(r.Body))
	w := &sliceWriter{buf: buf}
	var status [4]byte
	binary.BigEndian.PutUint32(status[:], uint32(r.StatusCode))
	if _, err := w.Write(status[:]); err != nil {
		return nil, err
	}
	if err := writeField(w, r.Body); err != nil {
		return nil, pjerr.Wrap(pjerr.KindImplementation, "OhttpEncapsulation", "marshaling bhttp response", err)
	}
	return w.buf, nil
}

// UnmarshalResponse parses a message produced by Response.MarshalBinary.
func UnmarshalResponse(data []byte) (*Response, error) {
	c := &byteCursor{buf: data}
	statusBytes, err := c.take(4)
	if err != nil {
		return nil, err
	}
	body, err := readField(c)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: int(binary.BigEndian.Uint32(statusBytes)),
		Body:       body,
	}, nil
}

type sliceWriter struct{ buf []byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}
