package sipmsg

// headerParseFunc builds a typed Header from a canonical (lowercased)
// header name and its raw value. Returning an error makes ParseHeaderLine
// fall back to a StringHeader carrying the raw value; there is no strict
// mode, so a malformed header never aborts or discards the message.
type headerParseFunc func(name, value string) (Header, error)

var headerParsers = map[string]headerParseFunc{
	"via": func(name, value string) (Header, error) { return ParseVia(value) },
	"cseq": func(name, value string) (Header, error) { return ParseCSeq(value) },
	"call-id": func(name, value string) (Header, error) {
		return &CallIDHeader{Value: value}, nil
	},
	"from":         parseNameAddrHeader,
	"to":           parseNameAddrHeader,
	"contact":      parseNameAddrHeader,
	"route":        parseNameAddrHeader,
	"record-route": parseNameAddrHeader,
	"max-forwards": func(name, value string) (Header, error) { return parseIntegerNamed(name, value) },
	"expires":      func(name, value string) (Header, error) { return parseIntegerNamed(name, value) },
	"content-length": func(name, value string) (Header, error) {
		return parseIntegerNamed(name, value)
	},
	"content-type": func(name, value string) (Header, error) { return ParseMime(name, value) },
	"accept":       func(name, value string) (Header, error) { return ParseMime(name, value) },
	"allow":        ParseToken,
	"supported":    ParseToken,
	"require":      ParseToken,
	"event":        ParseToken,
}

func parseIntegerNamed(name, value string) (Header, error) {
	h, err := ParseInteger(value)
	if err != nil {
		return nil, err
	}
	h.HeaderName = canonicalHeaderName(name)
	return h, nil
}

func parseNameAddrHeader(name, value string) (Header, error) {
	na, err := ParseNameAddr(value)
	if err != nil {
		return nil, err
	}
	return &NameAddrHeader{HeaderName: canonicalHeaderName(name), NameAddr: *na}, nil
}

// canonicalHeaderName maps a lowercased canonical name back to the
// mixed-case wire form used when rendering a freshly parsed (non-raw)
// header.
func canonicalHeaderName(lower string) string {
	switch lower {
	case "via":
		return "Via"
	case "from":
		return "From"
	case "to":
		return "To"
	case "call-id":
		return "Call-ID"
	case "contact":
		return "Contact"
	case "cseq":
		return "CSeq"
	case "max-forwards":
		return "Max-Forwards"
	case "expires":
		return "Expires"
	case "content-length":
		return "Content-Length"
	case "content-type":
		return "Content-Type"
	case "route":
		return "Route"
	case "record-route":
		return "Record-Route"
	case "allow":
		return "Allow"
	case "supported":
		return "Supported"
	case "require":
		return "Require"
	case "event":
		return "Event"
	case "accept":
		return "Accept"
	}
	return lower
}

// ParseHeaderLine builds a Header for one unfolded "Name: value" line. On
// a parse error it falls back to a StringHeader carrying the raw value
// unmodified, matching spec.md §7's permissive-mode delivery: a malformed
// header never aborts parsing of the rest of the message.
func ParseHeaderLine(name, value string) Header {
	lower := HeaderToLower(name)
	if fn, ok := headerParsers[lower]; ok {
		if h, err := fn(name, value); err == nil {
			setRaw(h, value)
			return h
		}
	}
	return &StringHeader{HeaderName: name, Value: value, rawHeader: rawHeader{raw: value}}
}

// setRaw stashes the untouched wire value on a freshly parsed header so
// EncodeTo can emit it byte-identical until the header is mutated.
func setRaw(h Header, raw string) {
	switch v := h.(type) {
	case *ViaHeader:
		v.raw = raw
	case *CSeqHeader:
		v.raw = raw
	case *CallIDHeader:
		v.raw = raw
	case *NameAddrHeader:
		v.raw = raw
	case *IntegerHeader:
		v.raw = raw
	case *TokenHeader:
		v.raw = raw
	case *MimeHeader:
		v.raw = raw
	}
}
