package dialog

import (
	"github.com/google/uuid"

	"github.com/go-sip/uacore/sipmsg"
)

// GenerateBranch produces an RFC 3261 §8.1.1.7 compliant branch ID: the
// magic cookie plus a random suffix (mirrors the teacher's
// sip.GenerateBranch, swapping satori/go.uuid for google/uuid).
func GenerateBranch() string {
	return "z9hG4bK" + uuid.New().String()[:16]
}

// GenerateTag produces an opaque From/To tag value.
func GenerateTag() string { return newTag() }

// GenerateCallID produces a globally unique Call-ID value.
func GenerateCallID(host string) string {
	return uuid.New().String() + "@" + host
}

// NewInitialRequest builds method's request line/headers for a
// not-yet-in-any-dialog request: fresh Call-ID, fresh From tag, no To
// tag, CSeq 1, a single Via with a fresh branch, and Max-Forwards 70
// (spec.md S1/S4). This is the UAC-side analogue of resiprocate's
// Helper::makeRequest as used in TuIM.cxx, rendered as a constructor
// instead of a static factory.
func NewInitialRequest(method sipmsg.Method, requestURI, fromURI, toURI sipmsg.URI, fromDisplay string, viaHost string, viaTransport string) *sipmsg.Request {
	req := sipmsg.NewRequest(method, requestURI, "SIP/2.0")

	via := &sipmsg.ViaHeader{ProtocolName: "SIP", ProtocolVersion: "2.0", Transport: viaTransport, SentHost: viaHost}
	via.Params.Add("branch", GenerateBranch())
	req.AppendHeader(via)

	maxFwd := IntegerHeaderBuilder{Name: "Max-Forwards", Value: 70}.Build()
	req.AppendHeader(maxFwd)

	from := &sipmsg.NameAddrHeader{HeaderName: "From", NameAddr: sipmsg.NameAddr{DisplayName: fromDisplay, HasBrackets: true, Addr: fromURI}}
	from.NameAddr.Params.Add("tag", GenerateTag())
	req.AppendHeader(from)

	to := &sipmsg.NameAddrHeader{HeaderName: "To", NameAddr: sipmsg.NameAddr{HasBrackets: true, Addr: toURI}}
	req.AppendHeader(to)

	req.AppendHeader(&sipmsg.CallIDHeader{Value: GenerateCallID(viaHost)})
	req.AppendHeader(&sipmsg.CSeqHeader{Seq: 1, Method: method})

	contact := &sipmsg.NameAddrHeader{HeaderName: "Contact", NameAddr: sipmsg.NameAddr{HasBrackets: true, Addr: fromURI}}
	req.AppendHeader(contact)

	req.SetBody(nil)
	return req
}

// IntegerHeaderBuilder is a tiny helper so NewInitialRequest can build an
// IntegerHeader inline without repeating the touch() dance.
type IntegerHeaderBuilder struct {
	Name  string
	Value uint32
}

func (b IntegerHeaderBuilder) Build() *sipmsg.IntegerHeader {
	h := &sipmsg.IntegerHeader{HeaderName: b.Name, Value: b.Value}
	return h
}

// NewInDialogRequest builds method's request within d: reuses the
// dialog's Call-ID/tags/route set and assigns the next local CSeq (RFC
// 3261 §12.2.1.1).
func NewInDialogRequest(d *Dialog, method sipmsg.Method, viaHost, viaTransport string) *sipmsg.Request {
	target := d.RemoteTarget()
	req := sipmsg.NewRequest(method, target, "SIP/2.0")

	via := &sipmsg.ViaHeader{ProtocolName: "SIP", ProtocolVersion: "2.0", Transport: viaTransport, SentHost: viaHost}
	via.Params.Add("branch", GenerateBranch())
	req.AppendHeader(via)

	req.AppendHeader(IntegerHeaderBuilder{Name: "Max-Forwards", Value: 70}.Build())

	from := &sipmsg.NameAddrHeader{HeaderName: "From", NameAddr: sipmsg.NameAddr{HasBrackets: true, Addr: d.localURI}}
	from.NameAddr.Params.Add("tag", d.id.LocalTag)
	req.AppendHeader(from)

	to := &sipmsg.NameAddrHeader{HeaderName: "To", NameAddr: sipmsg.NameAddr{HasBrackets: true, Addr: d.remoteURI}}
	to.NameAddr.Params.Add("tag", d.id.RemoteTag)
	req.AppendHeader(to)

	req.AppendHeader(&sipmsg.CallIDHeader{Value: d.id.CallID})
	req.AppendHeader(&sipmsg.CSeqHeader{Seq: d.NextLocalCSeq(), Method: method})

	for _, r := range d.RouteSet() {
		rh := &sipmsg.NameAddrHeader{HeaderName: "Route", NameAddr: r}
		req.AppendHeader(rh)
	}

	req.SetBody(nil)
	return req
}

// NewResponse builds a response for req, copying Via/From/To/Call-ID/
// CSeq as RFC 3261 §8.2.6.2 requires, stamping a fresh To tag when this
// UAS hasn't already established one for the dialog (localTag empty means
// "generate one now").
func NewResponse(req *sipmsg.Request, status sipmsg.StatusCode, reason, localTag string) *sipmsg.Response {
	resp := sipmsg.NewResponse(status, reason, "SIP/2.0")

	if via, ok := req.Via(); ok {
		resp.AppendHeader(via.Clone())
	}
	if from, ok := req.From(); ok {
		resp.AppendHeader(from.Clone())
	}
	to, ok := req.To()
	if ok {
		toClone := to.Clone().(*sipmsg.NameAddrHeader)
		if _, hasTag := toClone.Tag(); !hasTag {
			if localTag == "" {
				localTag = GenerateTag()
			}
			toClone.NameAddr.Params.Add("tag", localTag)
			toClone.Touch()
		}
		resp.AppendHeader(toClone)
	}
	if callID, ok := req.CallID(); ok {
		resp.AppendHeader(callID.Clone())
	}
	if cseq, ok := req.CSeq(); ok {
		resp.AppendHeader(cseq.Clone())
	}
	resp.SetBody(nil)
	return resp
}

// NewCancel builds the CANCEL matching req per RFC 3261 §9.1: same
// Request-URI/Call-ID/From/To/branch, CSeq method forced to CANCEL, no
// body, only the Route headers of the original.
func NewCancel(req *sipmsg.Request) *sipmsg.Request {
	cancel := sipmsg.NewRequest(sipmsg.CANCEL, req.RequestURI, req.SIPVersion)
	if via, ok := req.Via(); ok {
		cancel.AppendHeader(via.Clone())
	}
	if mf, ok := req.Header("Max-Forwards"); ok {
		cancel.AppendHeader(mf.Clone())
	}
	if from, ok := req.From(); ok {
		cancel.AppendHeader(from.Clone())
	}
	if to, ok := req.To(); ok {
		cancel.AppendHeader(to.Clone())
	}
	if callID, ok := req.CallID(); ok {
		cancel.AppendHeader(callID.Clone())
	}
	if cseq, ok := req.CSeq(); ok {
		cancel.AppendHeader(&sipmsg.CSeqHeader{Seq: cseq.Seq, Method: sipmsg.CANCEL})
	}
	for _, r := range req.Headers("Route") {
		cancel.AppendHeader(r.Clone())
	}
	cancel.SetBody(nil)
	return cancel
}
