package matchstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindFor(t *testing.T) {
	assert.Equal(t, KindPayout, KindFor(OutcomePlayer1Wins))
	assert.Equal(t, KindPayout, KindFor(OutcomePlayer2Wins))
	assert.Equal(t, KindTieRefund, KindFor(OutcomeTie))
	assert.Equal(t, KindTieRefund, KindFor(OutcomeTimeoutRefund))
}

func TestValidOutcome(t *testing.T) {
	assert.True(t, ValidOutcome(OutcomeTie))
	assert.False(t, ValidOutcome(""))
	assert.False(t, ValidOutcome("DRAW"))
}

func TestRecordTerminal(t *testing.T) {
	r := &Record{ProposalStatus: StatusPending}
	assert.False(t, r.Terminal())

	for _, st := range []string{StatusExecuted, StatusExpired, StatusFailed} {
		r.ProposalStatus = st
		assert.True(t, r.Terminal(), st)
	}
}
