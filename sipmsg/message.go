package sipmsg

import (
	"strconv"
	"strings"
)

// headerRank controls canonical encode ordering (spec.md §4.3): Via and
// Route/Record-Route first (in appearance order, since proxies prepend),
// then From, To, Call-ID, CSeq, Contact and Max-Forwards, then everything
// else in appearance order,
// with Content-Length always last so a streaming writer can patch it.
var headerRank = map[string]int{
	"via":          0,
	"route":        1,
	"record-route": 1,
	"from":         2,
	"to":           3,
	"call-id":      4,
	"cseq":         5,
	"contact":      6,
	"max-forwards": 7,
}

const rankOther = 50
const rankContentLength = 100

func rankOf(h Header) int {
	if r, ok := headerRank[HeaderToLower(h.Name())]; ok {
		return r
	}
	if HeaderToLower(h.Name()) == "content-length" {
		return rankContentLength
	}
	return rankOther
}

// Message is the shared envelope for Request and Response: a header list
// preserving appearance order plus a body (spec.md §4.3 SipMessage).
type Message struct {
	SIPVersion string
	headers    []Header
	body       []byte

	// Transport/addressing metadata attached by the transport layer on
	// receipt, or by the application before Send (spec.md §4.7).
	Transport   string
	Source      string
	Destination string
}

// AppendHeader adds h at the end of the header list.
func (m *Message) AppendHeader(h Header) { m.headers = append(m.headers, h) }

// PrependHeader adds h at the front (used for Via/Record-Route insertion
// by a proxy hop, and REGISTER/INVITE construction by this layer's
// callers).
func (m *Message) PrependHeader(h Header) {
	m.headers = append([]Header{h}, m.headers...)
}

// Headers returns all headers with the given name, in appearance order.
func (m *Message) Headers(name string) []Header {
	lower := HeaderToLower(name)
	var out []Header
	for _, h := range m.headers {
		if HeaderToLower(h.Name()) == lower {
			out = append(out, h)
		}
	}
	return out
}

// Header returns the first header with the given name, if any.
func (m *Message) Header(name string) (Header, bool) {
	lower := HeaderToLower(name)
	for _, h := range m.headers {
		if HeaderToLower(h.Name()) == lower {
			return h, true
		}
	}
	return nil, false
}

// RemoveHeaders deletes every header with the given name.
func (m *Message) RemoveHeaders(name string) {
	lower := HeaderToLower(name)
	out := m.headers[:0]
	for _, h := range m.headers {
		if HeaderToLower(h.Name()) != lower {
			out = append(out, h)
		}
	}
	m.headers = out
}

// ReplaceHeader removes every existing header with h's name and appends h.
func (m *Message) ReplaceHeader(h Header) {
	m.RemoveHeaders(h.Name())
	m.AppendHeader(h)
}

func (m *Message) Via() (*ViaHeader, bool) {
	h, ok := m.Header("Via")
	if !ok {
		return nil, false
	}
	return h.(*ViaHeader), true
}

func (m *Message) From() (*NameAddrHeader, bool) {
	h, ok := m.Header("From")
	if !ok {
		return nil, false
	}
	return h.(*NameAddrHeader), true
}

func (m *Message) To() (*NameAddrHeader, bool) {
	h, ok := m.Header("To")
	if !ok {
		return nil, false
	}
	return h.(*NameAddrHeader), true
}

func (m *Message) CallID() (*CallIDHeader, bool) {
	h, ok := m.Header("Call-ID")
	if !ok {
		return nil, false
	}
	return h.(*CallIDHeader), true
}

func (m *Message) CSeq() (*CSeqHeader, bool) {
	h, ok := m.Header("CSeq")
	if !ok {
		return nil, false
	}
	return h.(*CSeqHeader), true
}

func (m *Message) Contact() (*NameAddrHeader, bool) {
	h, ok := m.Header("Contact")
	if !ok {
		return nil, false
	}
	return h.(*NameAddrHeader), true
}

// Body returns the message body.
func (m *Message) Body() []byte { return m.body }

// SetBody replaces the body and the Content-Length header to match,
// recomputing the length invariant spec.md §4.3 requires after any body
// mutation.
func (m *Message) SetBody(b []byte) {
	m.body = b
	cl := &IntegerHeader{HeaderName: "Content-Length", Value: uint32(len(b))}
	cl.touch()
	m.ReplaceHeader(cl)
}

func (m *Message) cloneHeaders() []Header {
	out := make([]Header, len(m.headers))
	for i, h := range m.headers {
		out[i] = h.Clone()
	}
	return out
}

// EncodeHeadersTo renders every header in canonical order (spec.md §4.3),
// stable within a rank so relative order of same-rank headers (e.g.
// multiple Via lines from different requests merged is never done, but
// multiple Route headers are) is preserved.
func (m *Message) EncodeHeadersTo(sb *strings.Builder) {
	ordered := make([]Header, len(m.headers))
	copy(ordered, m.headers)
	stableSortByRank(ordered)
	for _, h := range ordered {
		h.EncodeTo(sb)
		sb.WriteString("\r\n")
	}
}

func stableSortByRank(hs []Header) {
	// insertion sort: header counts per message are small (tens at most)
	// and this must be stable, which sort.Slice is not guaranteed to be
	// without SliceStable; insertion sort gets both for free.
	for i := 1; i < len(hs); i++ {
		j := i
		for j > 0 && rankOf(hs[j-1]) > rankOf(hs[j]) {
			hs[j-1], hs[j] = hs[j], hs[j-1]
			j--
		}
	}
}

// Request is a SIP request: a RequestLine plus the shared Message
// envelope (spec.md §4.3).
type Request struct {
	Message
	RequestLine
}

func NewRequest(method Method, requestURI URI, sipVersion string) *Request {
	return &Request{
		RequestLine: RequestLine{Method: method, RawMethod: string(method), RequestURI: requestURI, SIPVersion: sipVersion},
		Message:     Message{SIPVersion: sipVersion},
	}
}

func (r *Request) IsInvite() bool  { return r.Method == INVITE }
func (r *Request) IsAck() bool     { return r.Method == ACK }
func (r *Request) IsCancel() bool  { return r.Method == CANCEL }

func (r *Request) String() string {
	var sb strings.Builder
	r.RequestLine.EncodeTo(&sb)
	sb.WriteString("\r\n")
	r.EncodeHeadersTo(&sb)
	sb.WriteString("\r\n")
	sb.Write(r.body)
	return sb.String()
}

func (r *Request) Clone() *Request {
	c := &Request{RequestLine: r.RequestLine, Message: r.Message}
	c.RequestLine.RequestURI = *r.RequestURI.Clone()
	c.Message.headers = r.cloneHeaders()
	c.Message.body = append([]byte(nil), r.body...)
	return c
}

// Response is a SIP response: a StatusLine plus the shared Message
// envelope (spec.md §4.3).
type Response struct {
	Message
	StatusLine
}

func NewResponse(statusCode StatusCode, reason, sipVersion string) *Response {
	return &Response{
		StatusLine: StatusLine{SIPVersion: sipVersion, StatusCode: statusCode, Reason: reason},
		Message:    Message{SIPVersion: sipVersion},
	}
}

func (r *Response) String() string {
	var sb strings.Builder
	r.StatusLine.EncodeTo(&sb)
	sb.WriteString("\r\n")
	r.EncodeHeadersTo(&sb)
	sb.WriteString("\r\n")
	sb.Write(r.body)
	return sb.String()
}

func (r *Response) Clone() *Response {
	c := &Response{StatusLine: r.StatusLine, Message: r.Message}
	c.Message.headers = r.cloneHeaders()
	c.Message.body = append([]byte(nil), r.body...)
	return c
}

// contentLengthOf reads the parsed Content-Length value, defaulting to 0
// when absent (spec.md §4.3: a missing Content-Length over a
// stream-oriented transport is itself a framing error, handled by the
// caller; over UDP the datagram boundary is authoritative).
func contentLengthOf(m *Message) (int, bool) {
	h, ok := m.Header("Content-Length")
	if !ok {
		return 0, false
	}
	ih, ok := h.(*IntegerHeader)
	if !ok {
		return 0, false
	}
	return int(ih.Value), true
}

func formatUint(v uint32) string { return strconv.FormatUint(uint64(v), 10) }
