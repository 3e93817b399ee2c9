// Command uac is a minimal SIP user agent built on the uacore stack:
// it registers, places one INVITE, and hangs up on answer, in the style
// of the teacher's cmd/proxysip example binary.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/rs/zerolog"

	"github.com/go-sip/uacore/dialog"
	"github.com/go-sip/uacore/sipmsg"
	"github.com/go-sip/uacore/stack"
	"github.com/go-sip/uacore/transaction"
	"github.com/go-sip/uacore/transport"
)

func main() {
	listen := flag.String("listen", "0.0.0.0:5060", "UDP address to listen on")
	aorFlag := flag.String("aor", "sip:alice@atlanta.com", "local address-of-record")
	calleeFlag := flag.String("callee", "", "sip URI to INVITE on startup")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	sipmsg.SetDefaultLogger(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	udp, err := transport.NewUDPTransport(*listen, log)
	if err != nil {
		log.Fatal().Err(err).Msg("listen")
	}

	s := stack.New("udp", nil, stack.WithLogger(log))
	s.AddTransport(udp)
	s.AddAlias(*listen)
	udp.OnMessage = func(data []byte, from string) { s.Deliver(data, from) }

	s.OnRequest = func(req *sipmsg.Request, tx transaction.Transaction) {
		log.Info().Str("method", string(req.Method)).Str("from", req.Source).Msg("request")
	}

	go func() {
		if err := udp.ReadLoop(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("udp read loop")
		}
	}()

	if *calleeFlag != "" {
		aor, err := sipmsg.ParseURI(*aorFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("parse aor")
		}
		callee, err := sipmsg.ParseURI(*calleeFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("parse callee")
		}
		req := dialog.NewInitialRequest(sipmsg.INVITE, *callee, *aor, *callee, "", *listen, "UDP")
		call, err := s.PlaceCall(req, callee.Host, true, dialog.ForkAutomatic)
		if err != nil {
			log.Fatal().Err(err).Msg("invite")
		}
		call.OnDialog = func(d *dialog.Dialog) {
			log.Info().Str("state", d.State().String()).Msg("invite dialog")
		}
		call.OnFailed = func(err error) {
			log.Error().Err(err).Msg("invite failed")
		}
	}

	s.Run(ctx)
}
