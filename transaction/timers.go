// Package transaction implements the RFC 3261 §17 client and server
// transaction state machines on top of the sipmsg wire types.
package transaction

import "time"

// RFC 3261 §17.1.1.1 timer defaults. Var, not const, so a deployment can
// tune them the way the teacher's sip.SetTimers does for its Timer_A..M.
var (
	T1 = 500 * time.Millisecond
	T2 = 4 * time.Second
	T4 = 5 * time.Second
)

// TimerA..TimerK are the named RFC 3261 transaction timers, derived from
// T1/T2/T4 the same way the teacher's sip/transaction.go computes them.
func TimerA() time.Duration { return T1 }
func TimerB() time.Duration { return 64 * T1 }
func TimerD() time.Duration { return 32 * time.Second }
func TimerE() time.Duration { return T1 }
func TimerF() time.Duration { return 64 * T1 }
func TimerG() time.Duration { return T1 }
func TimerH() time.Duration { return 64 * T1 }
func TimerI() time.Duration { return T4 }
func TimerJ() time.Duration { return 64 * T1 }
func TimerK() time.Duration { return T4 }

// TimerM mirrors RFC 6026's extension timer for absorbing 2xx
// retransmissions after a client INVITE transaction moves to Accepted.
func TimerM() time.Duration { return 64 * T1 }
