package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-sip/uacore/transaction"
)

type nopSender struct{ sent int }

func (n *nopSender) Send(m interface{}, dest string) error { n.sent++; return nil }

func TestExecutiveTickFiresDueTimers(t *testing.T) {
	sender := &nopSender{}
	txl := transaction.NewLayer(sender)
	fired := false
	txl.Timers().Schedule(0, func() { fired = true })
	txl.Tick(1)
	assert.True(t, fired)
}

func TestNewExecutiveHasEmptyTimerQueue(t *testing.T) {
	sender := &nopSender{}
	txl := transaction.NewLayer(sender)
	exe := NewExecutive(txl)
	require.NotNil(t, exe)
	_, ok := txl.Timers().NextDeadline()
	assert.False(t, ok)
}
