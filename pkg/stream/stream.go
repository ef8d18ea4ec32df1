// Package stream implements the line-oriented framing used between the
// chat service and its consumers: fragments are sent as "data: <text>\n\n",
// the end of a reply as "data: [[END]]\n\n" and upstream failures as
// "data: [[ERROR]] <message>\n\n". A newly created conversation id travels
// out-of-band in the X-Chat-Id response header.
package stream

import (
	"fmt"
	"io"
	"strings"
)

const (
	DataPrefix  = "data: "
	Delimiter   = "\n\n"
	EndMarker   = "[[END]]"
	ErrorPrefix = "[[ERROR]] "

	// ChatIDHeader carries the server-minted conversation id, exactly once,
	// when a turn created a new conversation. Empty otherwise.
	ChatIDHeader = "X-Chat-Id"
)

// Flusher is the subset of http.Flusher the writer needs.
type Flusher interface {
	Flush()
}

// Writer emits framed events to an underlying transport, flushing after
// each frame so fragments reach the client as they are produced.
type Writer struct {
	w io.Writer
	f Flusher
}

func NewWriter(w io.Writer, f Flusher) *Writer {
	return &Writer{w: w, f: f}
}

// Fragment writes one incremental piece of assistant text. Newlines are
// escaped so a fragment never contains the frame delimiter.
func (s *Writer) Fragment(text string) {
	fmt.Fprintf(s.w, "%s%s%s", DataPrefix, escape(text), Delimiter)
	s.flush()
}

// End terminates the stream. No frames may follow.
func (s *Writer) End() {
	fmt.Fprintf(s.w, "%s%s%s", DataPrefix, EndMarker, Delimiter)
	s.flush()
}

// Error relays an upstream failure. Error frames are never part of the
// assistant text.
func (s *Writer) Error(msg string) {
	fmt.Fprintf(s.w, "%s%s%s%s", DataPrefix, ErrorPrefix, escape(msg), Delimiter)
	s.flush()
}

func (s *Writer) flush() {
	if s.f != nil {
		s.f.Flush()
	}
}

// Event kinds produced by the parser.
const (
	KindFragment = "fragment"
	KindEnd      = "end"
	KindError    = "error"
)

type Event struct {
	Kind string
	Text string
}

// Parser decodes the framing incrementally. Feed may be called with
// arbitrary byte slices; partial frames are buffered until their closing
// delimiter arrives.
type Parser struct {
	buf strings.Builder
}

// Feed appends raw bytes and returns every event completed by them.
func (p *Parser) Feed(data []byte) []Event {
	p.buf.Write(data)
	raw := p.buf.String()

	var events []Event
	for {
		i := strings.Index(raw, Delimiter)
		if i < 0 {
			break
		}
		seg := raw[:i]
		raw = raw[i+len(Delimiter):]
		if seg == "" {
			continue
		}
		if !strings.HasPrefix(seg, DataPrefix) {
			// Unknown frame; skip rather than corrupt the reply.
			continue
		}
		data := seg[len(DataPrefix):]
		switch {
		case data == EndMarker:
			events = append(events, Event{Kind: KindEnd})
		case strings.HasPrefix(data, strings.TrimSuffix(ErrorPrefix, " ")):
			msg := strings.TrimPrefix(data, strings.TrimSuffix(ErrorPrefix, " "))
			events = append(events, Event{Kind: KindError, Text: unescape(strings.TrimPrefix(msg, " "))})
		default:
			events = append(events, Event{Kind: KindFragment, Text: unescape(data)})
		}
	}

	p.buf.Reset()
	p.buf.WriteString(raw)
	return events
}

// escape keeps the frame delimiter out of payloads: backslash first so a
// literal "\n" sequence survives the round trip.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
