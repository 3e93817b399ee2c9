package im

import (
	"time"

	"github.com/icholy/digest"

	"github.com/go-sip/uacore/dialog"
	"github.com/go-sip/uacore/sipmsg"
)

// registerRefreshMargin mirrors TuIM::process()'s periodic refresh check
// for registrations: re-REGISTER before Expires lapses rather than
// letting the binding drop off the registrar.
const registerRefreshMargin = 30 * time.Second

// RegisterAor sends an initial REGISTER for aor against registrar,
// retrying once with digest credentials on a 401/407 challenge
// (TuIM::registerAor, generalized to use icholy/digest the way the
// teacher's dialog_client.go answers INVITE challenges). A successful
// registration arms a refresh timer ahead of the granted Expires.
func (a *Agent) RegisterAor(aor sipmsg.URI, registrar sipmsg.URI, username, password string) error {
	req := dialog.NewInitialRequest(sipmsg.REGISTER, registrar, aor, aor, "", a.viaHost, "UDP")
	req.AppendHeader(&sipmsg.IntegerHeader{HeaderName: "Expires", Value: DefaultPresenceExpires})

	tx, err := a.s.RequestNonInvite(req, registrar.Host, true)
	if err != nil {
		return err
	}
	tx.OnResponse = func(resp *sipmsg.Response) {
		switch {
		case resp.StatusCode.IsSuccess():
			a.scheduleRegisterRefresh(aor, registrar, username, password, grantedExpires(resp, DefaultPresenceExpires))
		case resp.StatusCode == sipmsg.StatusUnauthorized || resp.StatusCode == sipmsg.StatusProxyAuthRequired:
			a.retryRegisterWithAuth(req, resp, aor, registrar, username, password)
		default:
			if a.callbacks.SendPageFailed != nil {
				a.callbacks.SendPageFailed(aor.String(), errSubscribeRejected(resp.StatusCode))
			}
		}
	}
	return nil
}

// scheduleRegisterRefresh arms a one-shot timer that re-sends RegisterAor
// before expiresSecs runs out, running the resend on the Executive's
// goroutine via Stack.Do the way the rest of the stack serializes
// application-triggered sends.
func (a *Agent) scheduleRegisterRefresh(aor, registrar sipmsg.URI, username, password string, expiresSecs uint32) {
	d := time.Duration(expiresSecs)*time.Second - registerRefreshMargin
	if d <= 0 {
		d = time.Second
	}
	time.AfterFunc(d, func() {
		a.s.Do(func() {
			_ = a.RegisterAor(aor, registrar, username, password)
		})
	})
}

func (a *Agent) retryRegisterWithAuth(orig *sipmsg.Request, challenge *sipmsg.Response, aor, registrar sipmsg.URI, username, password string) {
	headerName := "WWW-Authenticate"
	authName := "Authorization"
	if challenge.StatusCode == sipmsg.StatusProxyAuthRequired {
		headerName = "Proxy-Authenticate"
		authName = "Proxy-Authorization"
	}
	h, ok := challenge.Header(headerName)
	if !ok {
		return
	}
	sh, ok := h.(*sipmsg.StringHeader)
	if !ok {
		return
	}

	chal, err := digest.ParseChallenge(sh.Value)
	if err != nil {
		return
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   string(orig.Method),
		URI:      orig.RequestURI.String(),
		Username: username,
		Password: password,
	})
	if err != nil {
		return
	}

	retry := orig.Clone()
	cseq, _ := retry.CSeq()
	retry.ReplaceHeader(&sipmsg.CSeqHeader{Seq: cseq.Seq + 1, Method: retry.Method})
	via, _ := retry.Via()
	viaClone := via.Clone().(*sipmsg.ViaHeader)
	viaClone.Params.Add("branch", dialog.GenerateBranch())
	retry.ReplaceHeader(viaClone)
	retry.AppendHeader(&sipmsg.StringHeader{HeaderName: authName, Value: cred.String()})

	tx, err := a.s.RequestNonInvite(retry, registrar.Host, true)
	if err != nil {
		return
	}
	tx.OnResponse = func(resp *sipmsg.Response) {
		if resp.StatusCode.IsSuccess() {
			a.scheduleRegisterRefresh(aor, registrar, username, password, grantedExpires(resp, DefaultPresenceExpires))
		} else if a.callbacks.SendPageFailed != nil {
			a.callbacks.SendPageFailed(aor.String(), errSubscribeRejected(resp.StatusCode))
		}
	}
}
