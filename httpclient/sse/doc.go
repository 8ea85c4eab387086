// Package sse provides incremental framing decoders for streamed HTTP
// bodies: Server-Sent Events and newline-delimited records.
//
// Both decoders are push-style. The caller feeds arbitrary byte chunks as
// they arrive from the network and receives every frame completed by that
// chunk; partial frames are buffered until a later Feed or Flush. The
// output depends only on the concatenated input, never on where the chunk
// boundaries fall.
//
// SSE data lines are dispatched as soon as their line terminator arrives,
// rather than waiting for the blank line that ends the SSE block. LLM
// providers put exactly one JSON document on each data line, and several
// of them omit the blank separator.
//
//	dec := sse.NewDecoder()
//	for {
//	    n, err := body.Read(buf)
//	    events, ferr := dec.Feed(buf[:n])
//	    ...
//	}
package sse
