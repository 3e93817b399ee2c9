package sipmsg

import (
	"errors"
	"fmt"
)

// ParseError describes a malformed wire token. It always carries the
// byte offset inside the field being parsed, not the whole message, since
// headers are parsed lazily from their own retained span.
type ParseError struct {
	File   string
	Reason string
	Offset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s (offset %d)", e.File, e.Reason, e.Offset)
}

func newParseError(reason string, offset int) error {
	return &ParseError{File: "cursor", Reason: reason, Offset: offset}
}

var (
	// ErrParseNoCRLF is returned when a wire line is missing its
	// terminating CRLF.
	ErrParseNoCRLF = errors.New("sipmsg: line has no CRLF")
	// ErrParseInvalidMessage is returned when the start-line cannot be
	// classified as a request or a response.
	ErrParseInvalidMessage = errors.New("sipmsg: not a SIP message")
	// ErrParseIncompleteBody is returned when Content-Length promises more
	// bytes than the buffer carries.
	ErrParseIncompleteBody = errors.New("sipmsg: incomplete message body")
)

// ProtocolViolation reports a semantic (not syntactic) error: a message
// that parsed fine but is nonsensical at the layer that rejected it
// (duplicate singleton header, CSeq method mismatch, ...). Per spec it is
// logged and the message discarded, never fatal to the stack.
type ProtocolViolation struct {
	Reason string
}

func (e *ProtocolViolation) Error() string { return "sipmsg: protocol violation: " + e.Reason }
