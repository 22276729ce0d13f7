// Package stream decodes chat completion event streams.
//
// Lines are framed as "data: <json>" with "[DONE]" as the terminal payload.
// Blank lines, ":" comments and lines without the exact "data: " prefix are
// ignored. Bytes may arrive split at any
// position; a line is only interpreted once its terminating newline has been
// seen, or when the stream is flushed at end of transport.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// DoneSentinel is the payload that marks the end of a completion.
const DoneSentinel = "[DONE]"

// maxPending bounds how long a truncated payload may grow while waiting for
// continuation lines.
const maxPending = 1 << 20

var (
	dataPrefix  = []byte("data: ")
	fieldPrefix = [][]byte{[]byte("data:"), []byte("event:"), []byte("id:"), []byte("retry:")}
)

// chunk is the subset of a completion chunk the decoder reads.
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Decoder turns raw event-stream bytes into content fragments.
// It is not safe for concurrent use.
type Decoder struct {
	buf       []byte
	pending   []byte
	onContent func(text string)

	// OnMalformed, when set, is called with each line that was skipped
	// because its payload was not valid JSON.
	OnMalformed func(line []byte)

	done      bool
	malformed int
}

// NewDecoder creates a decoder that calls onContent with every non-empty
// content fragment, in wire order.
func NewDecoder(onContent func(text string)) *Decoder {
	return &Decoder{onContent: onContent}
}

// Write appends p to the carry-over buffer and processes every complete line.
// It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	d.process(false)
	return len(p), nil
}

// Flush processes whatever remains in the buffer as a final line. Call it
// once the transport reports end of data.
func (d *Decoder) Flush() {
	d.process(true)
	if d.pending != nil {
		d.skip(d.pending)
		d.pending = nil
	}
}

// Done reports whether the terminal sentinel has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Malformed returns the number of lines skipped as invalid.
func (d *Decoder) Malformed() int {
	return d.malformed
}

// Buffered returns the number of bytes waiting for a line terminator.
func (d *Decoder) Buffered() int {
	return len(d.buf) + len(d.pending)
}

func (d *Decoder) process(final bool) {
	for {
		var line []byte
		i := bytes.IndexByte(d.buf, '\n')
		switch {
		case i >= 0:
			line = d.buf[:i]
			d.buf = d.buf[i+1:]
		case final && len(d.buf) > 0:
			line = d.buf
			d.buf = nil
		default:
			d.compact()
			return
		}
		line = bytes.TrimSuffix(line, []byte("\r"))

		if d.pending != nil {
			if isFieldLine(line) {
				// The truncated payload never got its continuation.
				d.skip(d.pending)
				d.pending = nil
			} else {
				joined := make([]byte, 0, len(d.pending)+len(line))
				joined = append(joined, d.pending...)
				line = append(joined, line...)
				d.pending = nil
			}
		}

		d.handleLine(line)
	}
}

// compact releases consumed buffer space once nothing is waiting.
func (d *Decoder) compact() {
	if len(d.buf) == 0 {
		d.buf = nil
		return
	}
	if cap(d.buf) > 4*len(d.buf) && cap(d.buf) > 4096 {
		d.buf = append([]byte(nil), d.buf...)
	}
}

func (d *Decoder) handleLine(line []byte) {
	if len(line) == 0 || line[0] == ':' {
		return
	}
	if !bytes.HasPrefix(line, dataPrefix) {
		return
	}

	payload := line[len(dataPrefix):]
	if string(payload) == DoneSentinel {
		// Transport end stays authoritative; keep reading.
		d.done = true
		return
	}

	var c chunk
	dec := json.NewDecoder(bytes.NewReader(payload))
	err := dec.Decode(&c)
	switch {
	case err == nil && len(bytes.TrimSpace(payload[dec.InputOffset():])) > 0:
		d.skip(line)
	case err == nil:
		if len(c.Choices) > 0 && c.Choices[0].Delta.Content != "" && d.onContent != nil {
			d.onContent(c.Choices[0].Delta.Content)
		}
	case errors.Is(err, io.ErrUnexpectedEOF) && len(line) < maxPending:
		// Incomplete JSON: hold it and join it with the next line.
		d.pending = append([]byte(nil), line...)
	default:
		d.skip(line)
	}
}

func (d *Decoder) skip(line []byte) {
	d.malformed++
	if d.OnMalformed != nil {
		d.OnMalformed(line)
	}
}

// isFieldLine reports whether line starts a new event-stream field, which
// means it cannot continue a truncated payload.
func isFieldLine(line []byte) bool {
	if len(line) == 0 || line[0] == ':' {
		return true
	}
	for _, p := range fieldPrefix {
		if bytes.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
