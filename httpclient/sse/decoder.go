package sse

import (
	"bytes"
)

// Event represents a single server-sent event.
type Event struct {
	// Event is the SSE event type (from the preceding "event:" line). Empty for data-only events.
	Event string
	// Data is the payload of one "data:" line.
	Data string
	// ID is the last event ID seen (from "id:" lines).
	ID string
}

// Decoder turns a chunked SSE byte stream into events.
type Decoder struct {
	lines     *LineSplitter
	eventType string
	lastID    string
}

// NewDecoder creates an SSE decoder with the default line limit.
func NewDecoder() *Decoder {
	return NewDecoderSize(0)
}

// NewDecoderSize creates an SSE decoder whose lines may not exceed maxLine bytes.
func NewDecoderSize(maxLine int) *Decoder {
	return &Decoder{lines: NewLineSplitter(maxLine)}
}

// Feed consumes chunk and returns the events it completes.
func (d *Decoder) Feed(chunk []byte) ([]Event, error) {
	lines, err := d.lines.Feed(chunk)
	var events []Event
	for _, line := range lines {
		if ev, ok := d.processLine(line); ok {
			events = append(events, ev)
		}
	}
	return events, err
}

// Flush processes a trailing line that arrived without a terminator.
func (d *Decoder) Flush() []Event {
	line := d.lines.Flush()
	if line == nil {
		return nil
	}
	if ev, ok := d.processLine(line); ok {
		return []Event{ev}
	}
	return nil
}

// Buffered returns the number of bytes held for an incomplete line.
func (d *Decoder) Buffered() int { return d.lines.Buffered() }

func (d *Decoder) processLine(line []byte) (Event, bool) {
	// A blank line ends the SSE block and resets the event type.
	if len(line) == 0 {
		d.eventType = ""
		return Event{}, false
	}
	if line[0] == ':' {
		return Event{}, false
	}

	field, value := parseLine(line)
	switch field {
	case "data":
		return Event{Event: d.eventType, Data: value, ID: d.lastID}, true
	case "event":
		d.eventType = value
	case "id":
		d.lastID = value
	}
	return Event{}, false
}

// parseLine splits a line into field and value, stripping one leading space from the value.
func parseLine(line []byte) (field, value string) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), ""
	}
	v := line[idx+1:]
	if len(v) > 0 && v[0] == ' ' {
		v = v[1:]
	}
	return string(line[:idx]), string(v)
}
