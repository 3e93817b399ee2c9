package sipmsg

import (
	"strconv"
	"strings"
)

// ParseVia parses one Via header value (possibly a comma-list of hops):
// protocol-name "/" protocol-version "/" transport SP sent-by (:port)? (;params)*
// spec.md §4.2 / S2.
func ParseVia(value string) (*ViaHeader, error) {
	return parseViaHops(value)
}

func parseViaHops(value string) (*ViaHeader, error) {
	var head, tail *ViaHeader
	for {
		hop, rest, err := parseOneVia(value)
		if err != nil {
			return nil, err
		}
		if head == nil {
			head = hop
			tail = hop
		} else {
			tail.Next = hop
			tail = hop
		}
		rest = strings.TrimLeft(rest, " \t")
		if len(rest) == 0 {
			break
		}
		if rest[0] != ',' {
			return nil, newParseError("expected ',' between Via hops", 0)
		}
		value = strings.TrimLeft(rest[1:], " \t")
	}
	return head, nil
}

func parseOneVia(s string) (*ViaHeader, string, error) {
	h := &ViaHeader{Params: NewParams()}

	slash1 := strings.IndexByte(s, '/')
	if slash1 < 0 {
		return nil, "", newParseError("malformed protocol-name in Via", 0)
	}
	h.ProtocolName = strings.TrimSpace(s[:slash1])
	s = s[slash1+1:]

	slash2 := strings.IndexByte(s, '/')
	if slash2 < 0 {
		return nil, "", newParseError("malformed protocol-version in Via", 0)
	}
	h.ProtocolVersion = strings.TrimSpace(s[:slash2])
	s = s[slash2+1:]

	sp := strings.IndexAny(s, " \t")
	if sp < 0 {
		return nil, "", newParseError("malformed transport in Via", 0)
	}
	h.Transport = strings.TrimSpace(s[:sp])
	s = strings.TrimLeft(s[sp+1:], " \t")

	// sent-by: host[:port]
	if len(s) > 0 && s[0] == '[' {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, "", newParseError("unterminated IPv6 literal in Via", 0)
		}
		h.SentHost = s[1:end]
		h.IPv6Literal = true
		s = s[end+1:]
	} else {
		end := strings.IndexAny(s, ":;, \t")
		if end < 0 {
			h.SentHost = s
			s = ""
		} else {
			h.SentHost = s[:end]
			s = s[end:]
		}
	}

	if len(s) > 0 && s[0] == ':' {
		s = s[1:]
		end := strings.IndexAny(s, ";, \t")
		var portStr string
		if end < 0 {
			portStr = s
			s = ""
		} else {
			portStr = s[:end]
			s = s[end:]
		}
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, "", newParseError("invalid port in Via", 0)
		}
		h.SentPort = p
	}

	s = strings.TrimLeft(s, " \t")
	if len(s) > 0 && s[0] == ';' {
		n, err := ParseParams(s[1:], ';', ",", &h.Params)
		if err != nil {
			return nil, "", err
		}
		s = s[1+n:]
	}

	return h, s, nil
}

// ParseCSeq parses "digits SP method" (spec.md S1). Requires digits, one
// or more whitespace, then a method token; fails if either half missing.
func ParseCSeq(value string) (*CSeqHeader, error) {
	value = strings.TrimSpace(value)
	sp := strings.IndexAny(value, " \t")
	if sp < 0 {
		return nil, newParseError("CSeq missing method", 0)
	}
	digits := value[:sp]
	if digits == "" {
		return nil, newParseError("CSeq missing sequence number", 0)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, newParseError("CSeq sequence number is not numeric", 0)
		}
	}
	seq, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return nil, newParseError("CSeq sequence number out of range", 0)
	}
	method := strings.TrimSpace(value[sp+1:])
	if method == "" {
		return nil, newParseError("CSeq missing method", 0)
	}
	return &CSeqHeader{Seq: uint32(seq), Method: LookupMethod(method), RawMethod: method}, nil
}

// ParseInteger parses "digits (comment)? ;params?" used by Max-Forwards,
// Expires, Content-Length. An unterminated comment, or garbage between
// ')' and ';', is a parse error (spec.md §4.2).
func ParseInteger(value string) (*IntegerHeader, error) {
	h := &IntegerHeader{Params: NewParams()}
	value = strings.TrimSpace(value)

	i := 0
	for i < len(value) && value[i] >= '0' && value[i] <= '9' {
		i++
	}
	if i == 0 {
		return nil, newParseError("expected digits", 0)
	}
	n, err := strconv.ParseUint(value[:i], 10, 32)
	if err != nil {
		return nil, newParseError("integer out of range", 0)
	}
	h.Value = uint32(n)
	rest := strings.TrimLeft(value[i:], " \t")

	if len(rest) > 0 && rest[0] == '(' {
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return nil, newParseError("unterminated comment", i)
		}
		h.Comment = rest[1:end]
		rest = strings.TrimLeft(rest[end+1:], " \t")
	}

	if rest == "" {
		return h, nil
	}
	if rest[0] != ';' {
		return nil, newParseError("trailing garbage after integer value", i)
	}
	if _, err := ParseParams(rest[1:], ';', "", &h.Params); err != nil {
		return nil, err
	}
	return h, nil
}

// ParseToken parses "token (;param=value)*" (spec.md §4.2): skip WS,
// capture up to WS-or-';', then params.
func ParseToken(headerName, value string) (*TokenHeader, error) {
	h := &TokenHeader{HeaderName: headerName, Params: NewParams()}
	c := NewCursor([]byte(value))
	c.SkipWhitespace()
	start := c.Position()
	tok := c.SkipToOneOf(" \t;")
	if len(tok) == 0 {
		return nil, newParseError("empty token", start)
	}
	h.Value = string(tok)
	c.SkipWhitespace()
	if b, ok := c.Peek(); ok && b == ';' {
		_ = c.SkipChar(';')
		if _, err := ParseParams(string(c.Remainder()), ';', "", &h.Params); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// ParseMime parses "type/subtype;params".
func ParseMime(headerName, value string) (*MimeHeader, error) {
	h := &MimeHeader{HeaderName: headerName, Params: NewParams()}
	value = strings.TrimSpace(value)
	slash := strings.IndexByte(value, '/')
	if slash < 0 {
		return nil, newParseError("mime type missing '/'", 0)
	}
	h.Type = value[:slash]
	rest := value[slash+1:]
	end := strings.IndexByte(rest, ';')
	if end < 0 {
		h.Subtype = rest
		return h, nil
	}
	h.Subtype = rest[:end]
	if _, err := ParseParams(rest[end+1:], ';', "", &h.Params); err != nil {
		return nil, err
	}
	return h, nil
}

// RequestLine is the parser category for "METHOD SP Request-URI SP
// SIP-Version".
type RequestLine struct {
	Method     Method
	RawMethod  string // preserved for UNKNOWN methods
	RequestURI URI
	SIPVersion string
}

// ParseRequestLine parses spec.md §4.2's RequestLine grammar.
func ParseRequestLine(line string) (*RequestLine, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, newParseError("request-line must have exactly two spaces", 0)
	}
	u, err := ParseURI(parts[1])
	if err != nil {
		return nil, err
	}
	if u.Wildcard {
		return nil, newParseError("wildcard URI not permitted in request line", 0)
	}
	rl := &RequestLine{
		Method:     LookupMethod(parts[0]),
		RawMethod:  parts[0],
		RequestURI: *u,
		SIPVersion: parts[2],
	}
	return rl, nil
}

func (rl *RequestLine) EncodeTo(sb *strings.Builder) {
	sb.WriteString(rl.RawMethod)
	sb.WriteByte(' ')
	rl.RequestURI.EncodeTo(sb)
	sb.WriteByte(' ')
	sb.WriteString(rl.SIPVersion)
}

// StatusLine is the parser category for "SIP-Version SP 3DIGIT SP
// reason-phrase". spec.md §9 lists StatusLine::parse as one of the
// unimplemented stubs in the source; it is fully implemented here.
type StatusLine struct {
	SIPVersion string
	StatusCode StatusCode
	Reason     string
}

func ParseStatusLine(line string) (*StatusLine, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 {
		return nil, newParseError("status-line has too few spaces", 0)
	}
	code, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return nil, newParseError("status code is not numeric", 0)
	}
	return &StatusLine{SIPVersion: parts[0], StatusCode: StatusCode(code), Reason: parts[2]}, nil
}

func (sl *StatusLine) EncodeTo(sb *strings.Builder) {
	sb.WriteString(sl.SIPVersion)
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(int(sl.StatusCode)))
	sb.WriteByte(' ')
	sb.WriteString(sl.Reason)
}
