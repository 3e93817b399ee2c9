package sipmsg

import (
	"strings"

	"github.com/rs/zerolog"
)

// Parser turns wire bytes into Request/Response values. It mirrors the
// teacher's buffered-reader-plus-header-table design but works directly
// off a byte slice since callers (transport.Transport implementations)
// already own a complete framed message by the time Parse is called.
type Parser struct {
	log zerolog.Logger
}

type ParserOption func(*Parser)

func WithParserLogger(l zerolog.Logger) ParserOption {
	return func(p *Parser) { p.log = l }
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{log: DefaultLogger()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse parses one complete SIP message (start-line, headers, body) out
// of buf. It returns either *Request or *Response as the Message. A
// missing or malformed start line is a hard error; a malformed header
// falls back to StringHeader (spec.md §7 permissive-mode delivery) rather
// than aborting the whole parse.
func (p *Parser) Parse(buf []byte) (interface{}, error) {
	s := string(buf)
	lineEnd := strings.Index(s, "\r\n")
	if lineEnd < 0 {
		return nil, ErrParseNoCRLF
	}
	startLine := s[:lineEnd]
	rest := s[lineEnd+2:]

	if isResponseLine(startLine) {
		return p.parseResponse(startLine, rest)
	}
	return p.parseRequest(startLine, rest)
}

// isResponseLine distinguishes "SIP/2.0 200 OK" from a request-line by
// checking whether the first token is the SIP version (matches teacher's
// isResponse heuristic in sip/parser.go).
func isResponseLine(line string) bool {
	return strings.HasPrefix(line, "SIP/")
}

func (p *Parser) parseRequest(startLine, rest string) (*Request, error) {
	rl, err := ParseRequestLine(startLine)
	if err != nil {
		return nil, err
	}
	req := &Request{RequestLine: *rl, Message: Message{SIPVersion: rl.SIPVersion}}
	body, err := p.parseHeadersAndBody(&req.Message, rest)
	if err != nil {
		return nil, err
	}
	req.body = body
	return req, nil
}

func (p *Parser) parseResponse(startLine, rest string) (*Response, error) {
	sl, err := ParseStatusLine(startLine)
	if err != nil {
		return nil, err
	}
	resp := &Response{StatusLine: *sl, Message: Message{SIPVersion: sl.SIPVersion}}
	body, err := p.parseHeadersAndBody(&resp.Message, rest)
	if err != nil {
		return nil, err
	}
	resp.body = body
	return resp, nil
}

// parseHeadersAndBody consumes "header-lines CRLF CRLF body" out of s,
// unfolding continuation lines (leading SP/HTAB) per RFC 3261 §7.3.1, and
// returns the body trimmed to Content-Length when present.
func (p *Parser) parseHeadersAndBody(m *Message, s string) ([]byte, error) {
	for {
		if strings.HasPrefix(s, "\r\n") {
			s = s[2:]
			break
		}
		lineEnd := strings.Index(s, "\r\n")
		if lineEnd < 0 {
			return nil, ErrParseNoCRLF
		}
		line := s[:lineEnd]
		s = s[lineEnd+2:]

		for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
			cont := strings.Index(s, "\r\n")
			if cont < 0 {
				return nil, ErrParseNoCRLF
			}
			line += " " + strings.TrimLeft(s[:cont], " \t")
			s = s[cont+2:]
		}

		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			p.log.Debug().Str("line", line).Msg("skipping header line with no colon")
			continue
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		m.AppendHeader(ParseHeaderLine(name, value))
	}

	if n, ok := contentLengthOf(m); ok {
		if n < 0 || n > len(s) {
			return nil, ErrParseIncompleteBody
		}
		return []byte(s[:n]), nil
	}
	return []byte(s), nil
}
