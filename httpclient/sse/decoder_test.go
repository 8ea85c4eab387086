package sse

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func feedAll(t *testing.T, d *Decoder, chunks ...string) []Event {
	t.Helper()
	var out []Event
	for _, c := range chunks {
		evs, err := d.Feed([]byte(c))
		if err != nil {
			t.Fatalf("Feed(%q): %v", c, err)
		}
		out = append(out, evs...)
	}
	return append(out, d.Flush()...)
}

func TestDecoder_DataLines(t *testing.T) {
	got := feedAll(t, NewDecoder(), "data: hello world\n\ndata:second\n")
	want := []Event{{Data: "hello world"}, {Data: "second"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDecoder_DispatchesPerDataLine(t *testing.T) {
	got := feedAll(t, NewDecoder(), `data: {"delta":"Hel`, "lo\"}\n", "data: [DONE]\n")
	want := []Event{{Data: `{"delta":"Hello"}`}, {Data: "[DONE]"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDecoder_EventTypeScopedToBlock(t *testing.T) {
	input := "event: message_start\ndata: {\"a\":1}\n\n" +
		": keep-alive comment\n" +
		"data: {\"b\":2}\n\n" +
		"id: 7\nevent: ping\ndata: {}\n\n"
	got := feedAll(t, NewDecoder(), input)
	want := []Event{
		{Event: "message_start", Data: `{"a":1}`},
		{Data: `{"b":2}`},
		{Event: "ping", Data: "{}", ID: "7"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDecoder_LineEndings(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"lf", "data: a\ndata: b\n"},
		{"crlf", "data: a\r\ndata: b\r\n"},
		{"cr", "data: a\rdata: b\r"},
	}
	want := []Event{{Data: "a"}, {Data: "b"}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := feedAll(t, NewDecoder(), tt.input); !reflect.DeepEqual(got, want) {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestDecoder_FlushTrailingLine(t *testing.T) {
	d := NewDecoder()
	evs, _ := d.Feed([]byte("data: tail"))
	if len(evs) != 0 {
		t.Fatalf("unterminated line emitted early: %+v", evs)
	}
	if d.Buffered() != len("data: tail") {
		t.Errorf("Buffered() = %d", d.Buffered())
	}
	if got := d.Flush(); len(got) != 1 || got[0].Data != "tail" {
		t.Errorf("Flush() = %+v", got)
	}
	if d.Flush() != nil {
		t.Error("second Flush should be empty")
	}
}

func TestDecoder_SplitInvariance(t *testing.T) {
	input := "event: content_block_delta\r\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"héllo\"}}\r\n\r\n" +
		": ping\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" wörld\"}}]}\n\n" +
		"data: [DONE]\n"
	want := feedAll(t, NewDecoder(), input)
	if len(want) != 3 {
		t.Fatalf("baseline produced %d events", len(want))
	}

	// Every two-way split, then byte-at-a-time.
	for i := 0; i <= len(input); i++ {
		got := feedAll(t, NewDecoder(), input[:i], input[i:])
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: got %+v, want %+v", i, got, want)
		}
	}
	d := NewDecoder()
	var got []Event
	for i := 0; i < len(input); i++ {
		evs, err := d.Feed([]byte{input[i]})
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, evs...)
	}
	got = append(got, d.Flush()...)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("byte-wise: got %+v, want %+v", got, want)
	}
}

func TestDecoder_LineTooLong(t *testing.T) {
	d := NewDecoderSize(16)
	_, err := d.Feed([]byte("data: " + strings.Repeat("x", 32)))
	if !errors.Is(err, ErrLineTooLong) {
		t.Errorf("err = %v, want ErrLineTooLong", err)
	}
}

func TestLineSplitter(t *testing.T) {
	s := NewLineSplitter(0)
	lines, err := s.Feed([]byte("{\"a\":1}\n{\"b\""))
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || string(lines[0]) != `{"a":1}` {
		t.Fatalf("lines = %q", lines)
	}
	lines, _ = s.Feed([]byte(":2}\r\n"))
	if len(lines) != 1 || string(lines[0]) != `{"b":2}` {
		t.Fatalf("lines = %q", lines)
	}
	if s.Flush() != nil {
		t.Error("expected nothing buffered")
	}
}

func TestLineSplitter_CRLFAcrossChunks(t *testing.T) {
	s := NewLineSplitter(0)
	a, _ := s.Feed([]byte("one\r"))
	b, _ := s.Feed([]byte("\ntwo\n"))
	all := append(a, b...)
	if len(all) != 2 || string(all[0]) != "one" || string(all[1]) != "two" {
		t.Errorf("lines = %q, want [one two]", all)
	}
}
