// Package sse decodes a text/event-stream body into events.
package sse

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

// Event is one dispatched server-sent event.
type Event struct {
	Type  string
	Data  string
	ID    string
	Retry int
}

// Reader yields events from an event stream. Not safe for concurrent use.
type Reader struct {
	r *bufio.Reader

	lastID    string
	eventType string
	data      strings.Builder
	hasData   bool
	retry     int
	skipLF    bool
}

// NewReader wraps r. Lines may end in LF, CR or CRLF.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 8192), retry: -1}
}

// LastEventID returns the most recent id field seen, which persists across events.
func (r *Reader) LastEventID() string {
	return r.lastID
}

// Next blocks until an event is dispatched. It returns io.EOF when the stream
// ends; a partially accumulated event at EOF is discarded.
func (r *Reader) Next() (Event, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.reset()
			}
			return Event{}, err
		}
		if line == "" {
			if !r.hasData {
				r.eventType = ""
				continue
			}
			evt := Event{
				Type:  r.eventType,
				Data:  r.data.String(),
				ID:    r.lastID,
				Retry: r.retry,
			}
			if evt.Type == "" {
				evt.Type = "message"
			}
			r.reset()
			return evt, nil
		}
		if line[0] == ':' {
			continue
		}
		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		r.apply(field, value)
	}
}

func (r *Reader) apply(field, value string) {
	switch field {
	case "event":
		r.eventType = value
	case "data":
		if r.hasData {
			r.data.WriteByte('\n')
		}
		r.data.WriteString(value)
		r.hasData = true
	case "id":
		if !strings.ContainsRune(value, 0) {
			r.lastID = value
		}
	case "retry":
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			r.retry = n
		}
	}
}

func (r *Reader) reset() {
	r.eventType = ""
	r.data.Reset()
	r.hasData = false
	r.retry = -1
}

func (r *Reader) readLine() (string, error) {
	var line strings.Builder
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && line.Len() > 0 {
				return line.String(), nil
			}
			return "", err
		}
		skip := r.skipLF
		r.skipLF = false
		switch b {
		case '\n':
			if skip && line.Len() == 0 {
				continue
			}
			return line.String(), nil
		case '\r':
			// CRLF: the LF may not have arrived yet, so drop it on the next read.
			r.skipLF = true
			return line.String(), nil
		default:
			line.WriteByte(b)
		}
	}
}
