// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fetcher

import (
	"bytes"
	"fmt"
	"io"
)

// Mode is how a session obtained its bytes.
type Mode string

const (
	ModeSingleRange  Mode = "single-range"
	ModeChunkedRange Mode = "chunked-range"
	ModeDirect       Mode = "direct"
)

// Metadata is announced to a Sink before the first byte.
// ContentLength is -1 when unknown.
type Metadata struct {
	ContentType   string
	ContentLength int64
}

// Sink consumes forwarded bytes. Start is called exactly once, before the first
// Write, and never when no byte is delivered. Writes are synchronous: the next
// upstream read waits for the previous Write to return.
type Sink interface {
	Start(Metadata) error
	io.Writer
}

// Session is the state of one fetch. It is never shared across calls.
type Session struct {
	ID          string `json:"id"`
	UpstreamURL string `json:"-"`
	Throttled   bool   `json:"throttled"`
	TargetSize  int64  `json:"targetSize"`
	Transferred int64  `json:"transferred"`
	Mode        Mode   `json:"mode"`

	committed bool
}

// Committed reports whether any byte reached the sink.
func (s *Session) Committed() bool { return s != nil && s.committed }

// Result is the outcome of a bounded fetch.
type Result struct {
	Session     *Session
	ContentType string
	Data        []byte
}

// output tracks the commit point between the fetch algorithm and a Sink.
type output struct {
	sess *Session
	sink Sink
	meta Metadata
	werr error // first sink failure; nothing is written after it
}

func (o *output) Write(p []byte) (int, error) {
	if o.werr != nil {
		return 0, o.werr
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := o.commit(); err != nil {
		return 0, err
	}
	n, err := o.sink.Write(p)
	o.sess.Transferred += int64(n)
	if err != nil {
		o.werr = fmt.Errorf("sink write: %w", err)
		return n, o.werr
	}
	return n, nil
}

// commit starts the sink once, before the first byte.
func (o *output) commit() error {
	if o.werr != nil {
		return o.werr
	}
	if o.sess.committed {
		return nil
	}
	if err := o.sink.Start(o.meta); err != nil {
		o.werr = fmt.Errorf("sink start: %w", err)
		return o.werr
	}
	o.sess.committed = true
	return nil
}

// bufferSink backs bounded mode.
type bufferSink struct {
	meta Metadata
	buf  bytes.Buffer
	max  int64
}

func (b *bufferSink) Start(m Metadata) error {
	b.meta = m
	if m.ContentLength > 0 && m.ContentLength <= b.max {
		b.buf.Grow(int(m.ContentLength))
	}
	return nil
}

func (b *bufferSink) Write(p []byte) (int, error) {
	if int64(b.buf.Len())+int64(len(p)) > b.max {
		return 0, ErrTooLarge
	}
	return b.buf.Write(p)
}
