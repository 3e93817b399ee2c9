package sipmsg

import (
	"strconv"
	"strings"
)

// Header is the tagged-union-style interface every parser category
// implements (spec.md DESIGN NOTES §9: a variant rather than a deep
// class hierarchy). Name is the canonical header name used for
// dispatch/ordering; EncodeTo renders canonical form unless the header
// still carries an untouched raw span, in which case it is emitted
// byte-identical to the input (round-trip invariant, spec.md §8).
type Header interface {
	Name() string
	EncodeTo(sb *strings.Builder)
	Clone() Header
}

// rawHeader is embedded by every concrete header type to implement the
// "raw span + deferred parse" lifecycle from spec.md §9: a header keeps
// its original bytes until something mutates it, after which the typed
// form is authoritative.
type rawHeader struct {
	raw   string
	dirty bool
}

func (r *rawHeader) touch() { r.dirty = true }

// Touch marks a header as mutated so EncodeTo re-renders it from typed
// fields instead of replaying its original raw span. Exported for callers
// outside sipmsg (e.g. dialog) that build a header by cloning and then
// editing it in place.
func (r *rawHeader) Touch() { r.dirty = true }

// HeaderToLower lowercases a header name for case-insensitive lookup.
// Pulled out as a function (not strings.ToLower directly) because it also
// expands the compact forms to their full lowercase names
// (RFC 3261 7.3.3 header-name abbreviations: v/Via, f/From, t/To, ...).
func HeaderToLower(name string) string {
	switch name {
	case "v", "V":
		return "via"
	case "f", "F":
		return "from"
	case "t", "T":
		return "to"
	case "i", "I":
		return "call-id"
	case "m", "M":
		return "contact"
	case "l", "L":
		return "content-length"
	case "c", "C":
		return "content-type"
	case "k", "K":
		return "supported"
	case "e", "E":
		return "content-encoding"
	case "s", "S":
		return "subject"
	case "o", "O":
		return "event"
	}
	return strings.ToLower(name)
}

// ViaHeader is the Via parser category (spec.md §4.2). Via is carried as
// a linked list when multiple hops share one header line, matching the
// wire grammar's comma-separated value list.
type ViaHeader struct {
	rawHeader
	ProtocolName    string
	ProtocolVersion string
	Transport       string
	SentHost        string
	IPv6Literal     bool
	SentPort        int // 0 means "use scheme default"
	Params          Params
	Next            *ViaHeader
}

func (h *ViaHeader) Name() string { return "Via" }

func (h *ViaHeader) Branch() (string, bool) { return h.Params.Get("branch") }

// SentBy renders "host[:port]" as used for transaction-key derivation.
func (h *ViaHeader) SentBy() string {
	var sb strings.Builder
	if h.IPv6Literal {
		sb.WriteByte('[')
		sb.WriteString(h.SentHost)
		sb.WriteByte(']')
	} else {
		sb.WriteString(h.SentHost)
	}
	if h.SentPort != 0 {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(h.SentPort))
	}
	return sb.String()
}

func (h *ViaHeader) DefaultPort() int {
	if strings.EqualFold(h.Transport, "TLS") {
		return 5061
	}
	return 5060
}

func (h *ViaHeader) EncodeTo(sb *strings.Builder) {
	sb.WriteString("Via: ")
	h.encodeValue(sb)
}

func (h *ViaHeader) encodeValue(sb *strings.Builder) {
	for hop := h; hop != nil; hop = hop.Next {
		if !hop.dirty && hop.raw != "" {
			sb.WriteString(hop.raw)
		} else {
			sb.WriteString(hop.ProtocolName)
			sb.WriteByte('/')
			sb.WriteString(hop.ProtocolVersion)
			sb.WriteByte('/')
			sb.WriteString(hop.Transport)
			sb.WriteByte(' ')
			if hop.IPv6Literal {
				sb.WriteByte('[')
				sb.WriteString(hop.SentHost)
				sb.WriteByte(']')
			} else {
				sb.WriteString(hop.SentHost)
			}
			if hop.SentPort != 0 {
				sb.WriteByte(':')
				sb.WriteString(strconv.Itoa(hop.SentPort))
			}
			if hop.Params.Len() > 0 {
				sb.WriteByte(';')
				hop.Params.EncodeTo(sb, ';')
			}
		}
		if hop.Next != nil {
			sb.WriteString(", ")
		}
	}
}

func (h *ViaHeader) Clone() Header {
	c := *h
	c.Params = h.Params.Clone()
	if h.Next != nil {
		c.Next = h.Next.Clone().(*ViaHeader)
	}
	return &c
}

// CSeqHeader is the CSeq parser category. Unknown methods round-trip via
// RawMethod, which carries the exact bytes seen on the wire regardless
// of whether Method matched a known constant (spec.md S1).
type CSeqHeader struct {
	rawHeader
	Seq       uint32
	Method    Method
	RawMethod string
}

func (h *CSeqHeader) Name() string { return "CSeq" }

func (h *CSeqHeader) EncodeTo(sb *strings.Builder) {
	sb.WriteString("CSeq: ")
	if !h.dirty && h.raw != "" {
		sb.WriteString(h.raw)
		return
	}
	sb.WriteString(strconv.FormatUint(uint64(h.Seq), 10))
	sb.WriteByte(' ')
	if h.RawMethod != "" {
		sb.WriteString(h.RawMethod)
	} else {
		sb.WriteString(string(h.Method))
	}
}

func (h *CSeqHeader) Clone() Header { c := *h; return &c }

// CallIDHeader is the Call-ID parser category: an opaque token, so
// parsing is trivial, but it still gets its own category per spec.md
// DESIGN NOTES (CallId::parse was one of the unimplemented stubs in the
// source; here it is fully implemented as a pass-through token).
type CallIDHeader struct {
	rawHeader
	Value string
}

func (h *CallIDHeader) Name() string { return "Call-ID" }

func (h *CallIDHeader) EncodeTo(sb *strings.Builder) {
	sb.WriteString("Call-ID: ")
	sb.WriteString(h.Value)
}

func (h *CallIDHeader) Clone() Header { c := *h; return &c }

// NameAddrHeader backs To/From/Contact/Route/Record-Route: all of them
// are a NameAddr plus header-level params, optionally chained for the
// comma-list forms (Contact, Route, Record-Route).
type NameAddrHeader struct {
	rawHeader
	HeaderName string
	NameAddr   NameAddr
	Next       *NameAddrHeader
}

func (h *NameAddrHeader) Name() string { return h.HeaderName }

func (h *NameAddrHeader) Tag() (string, bool) { return h.NameAddr.Params.Get("tag") }

func (h *NameAddrHeader) EncodeTo(sb *strings.Builder) {
	sb.WriteString(h.HeaderName)
	sb.WriteString(": ")
	for hop := h; hop != nil; hop = hop.Next {
		if !hop.dirty && hop.raw != "" {
			sb.WriteString(hop.raw)
		} else {
			hop.NameAddr.EncodeTo(sb)
		}
		if hop.Next != nil {
			sb.WriteString(", ")
		}
	}
}

func (h *NameAddrHeader) Clone() Header {
	c := *h
	na := *h.NameAddr.Clone()
	c.NameAddr = na
	if h.Next != nil {
		c.Next = h.Next.Clone().(*NameAddrHeader)
	}
	return &c
}

// IntegerHeader backs Max-Forwards/Expires/Content-Length: digits,
// optional "(comment)", optional ";params" (spec.md §4.2).
type IntegerHeader struct {
	rawHeader
	HeaderName string
	Value      uint32
	Comment    string
	Params     Params
}

func (h *IntegerHeader) Name() string { return h.HeaderName }

func (h *IntegerHeader) EncodeTo(sb *strings.Builder) {
	sb.WriteString(h.HeaderName)
	sb.WriteString(": ")
	if !h.dirty && h.raw != "" {
		sb.WriteString(h.raw)
		return
	}
	sb.WriteString(strconv.FormatUint(uint64(h.Value), 10))
	if h.Comment != "" {
		sb.WriteString(" (")
		sb.WriteString(h.Comment)
		sb.WriteByte(')')
	}
	if h.Params.Len() > 0 {
		sb.WriteByte(';')
		h.Params.EncodeTo(sb, ';')
	}
}

func (h *IntegerHeader) Clone() Header {
	c := *h
	c.Params = h.Params.Clone()
	return &c
}

// TokenHeader backs generic token;params headers (Allow, Supported,
// Require, Event, ...).
type TokenHeader struct {
	rawHeader
	HeaderName string
	Value      string
	Params     Params
}

func (h *TokenHeader) Name() string { return h.HeaderName }

func (h *TokenHeader) EncodeTo(sb *strings.Builder) {
	sb.WriteString(h.HeaderName)
	sb.WriteString(": ")
	if !h.dirty && h.raw != "" {
		sb.WriteString(h.raw)
		return
	}
	sb.WriteString(h.Value)
	if h.Params.Len() > 0 {
		sb.WriteByte(';')
		h.Params.EncodeTo(sb, ';')
	}
}

func (h *TokenHeader) Clone() Header {
	c := *h
	c.Params = h.Params.Clone()
	return &c
}

// MimeHeader backs Content-Type/Accept: "type/subtype;params", compared
// case-insensitively per spec.md §4.2.
type MimeHeader struct {
	rawHeader
	HeaderName string
	Type       string
	Subtype    string
	Params     Params
}

func (h *MimeHeader) Name() string { return h.HeaderName }

func (h *MimeHeader) String() string {
	return strings.ToLower(h.Type) + "/" + strings.ToLower(h.Subtype)
}

func (h *MimeHeader) EncodeTo(sb *strings.Builder) {
	sb.WriteString(h.HeaderName)
	sb.WriteString(": ")
	if !h.dirty && h.raw != "" {
		sb.WriteString(h.raw)
		return
	}
	sb.WriteString(h.Type)
	sb.WriteByte('/')
	sb.WriteString(h.Subtype)
	if h.Params.Len() > 0 {
		sb.WriteByte(';')
		h.Params.EncodeTo(sb, ';')
	}
}

func (h *MimeHeader) Clone() Header {
	c := *h
	c.Params = h.Params.Clone()
	return &c
}

// StringHeader is the fallback category: any header name this package
// does not give a dedicated type to round-trips through its raw value
// unmodified. It is also what an application gets back from
// Message.AppendHeader(NewRawHeader(...)) for headers it wants to set
// without building a typed value.
type StringHeader struct {
	rawHeader
	HeaderName string
	Value      string
}

func NewRawHeader(name, value string) *StringHeader {
	return &StringHeader{HeaderName: name, Value: value, rawHeader: rawHeader{dirty: true}}
}

func (h *StringHeader) Name() string { return h.HeaderName }

func (h *StringHeader) EncodeTo(sb *strings.Builder) {
	sb.WriteString(h.HeaderName)
	sb.WriteString(": ")
	sb.WriteString(h.Value)
}

func (h *StringHeader) Clone() Header { c := *h; return &c }
