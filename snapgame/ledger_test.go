package snapgame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// potMatchesBets asserts the core ledger invariant: the pot always equals
// the sum of recorded stakes.
func potMatchesBets(t *testing.T, l *betLedger) {
	t.Helper()
	var sum int64
	for _, b := range l.bets {
		sum += b.Amount
	}
	assert.Equal(t, sum, l.pot, "pot diverged from bet sum")
}

func TestBetLedger_PlaceBet(t *testing.T) {
	clk := newFakeClock()
	l := newBetLedger(clk.Now)

	res, err := l.placeBet("0xaaaa", OutcomeRun, 5, "alice.eth")
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Pot)
	assert.Zero(t, res.Refund)
	potMatchesBets(t, l)

	bet := l.bets["0xaaaa"]
	require.NotNil(t, bet)
	assert.Equal(t, OutcomeRun, bet.Prediction)
	assert.Equal(t, "alice.eth", bet.DisplayName)
}

func TestBetLedger_TopUpSameSide(t *testing.T) {
	clk := newFakeClock()
	l := newBetLedger(clk.Now)

	_, err := l.placeBet("0xaaaa", OutcomeRun, 5, "")
	require.NoError(t, err)
	res, err := l.placeBet("0xaaaa", OutcomeRun, 5, "")
	require.NoError(t, err)

	assert.Equal(t, int64(10), res.Pot)
	assert.Equal(t, "Bet increased!", res.Message)
	assert.Zero(t, res.Refund)
	assert.Len(t, l.bets, 1, "top-up must not append a second bet")
	assert.Equal(t, int64(10), l.bets["0xaaaa"].Amount)
	potMatchesBets(t, l)
}

func TestBetLedger_SwitchSides(t *testing.T) {
	tests := []struct {
		name        string
		existing    int64
		newAmount   int64
		wantPenalty int64
		wantRefund  int64
		wantPot     int64
	}{
		{
			// floor(5*0.1) == 0: no penalty on small stakes.
			name:        "small stake, zero penalty",
			existing:    5,
			newAmount:   5,
			wantPenalty: 0,
			wantRefund:  5,
			wantPot:     5,
		},
		{
			name:        "penalty floors",
			existing:    99,
			newAmount:   40,
			wantPenalty: 9,
			wantRefund:  90,
			wantPot:     40,
		},
		{
			name:        "round stake",
			existing:    100,
			newAmount:   25,
			wantPenalty: 10,
			wantRefund:  90,
			wantPot:     25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			l := newBetLedger(clk.Now)
			_, err := l.placeBet("0xaaaa", OutcomeRun, tt.existing, "")
			require.NoError(t, err)

			res, err := l.placeBet("0xaaaa", OutcomePass, tt.newAmount, "")
			require.NoError(t, err)

			assert.Equal(t, tt.wantRefund, res.Refund)
			assert.Equal(t, tt.wantPot, res.Pot)
			assert.Contains(t, res.Message, "Switched sides")

			// The new stake is the supplied amount, not added to the
			// old one, and the prediction flipped in place.
			require.Len(t, l.bets, 1)
			assert.Equal(t, tt.newAmount, l.bets["0xaaaa"].Amount)
			assert.Equal(t, OutcomePass, l.bets["0xaaaa"].Prediction)
			potMatchesBets(t, l)
		})
	}
}

func TestBetLedger_Validation(t *testing.T) {
	clk := newFakeClock()
	l := newBetLedger(clk.Now)

	_, err := l.placeBet("0xaaaa", OutcomeRun, 0, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.placeBet("0xaaaa", OutcomeRun, -5, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.placeBet("0xaaaa", Outcome("PUNT"), 5, "")
	assert.ErrorIs(t, err, ErrInvalidOutcome)

	// Rejected bets leave the ledger untouched.
	assert.Zero(t, l.pot)
	assert.Empty(t, l.bets)
}

func TestBetLedger_Reset(t *testing.T) {
	clk := newFakeClock()
	l := newBetLedger(clk.Now)
	_, err := l.placeBet("0xaaaa", OutcomeRun, 5, "")
	require.NoError(t, err)
	_, err = l.placeBet("0xbbbb", OutcomePass, 7, "")
	require.NoError(t, err)

	l.reset()
	assert.Zero(t, l.pot)
	assert.Empty(t, l.bets)
	assert.Empty(t, l.snapshot())
}

func TestBetLedger_SnapshotOrder(t *testing.T) {
	clk := newFakeClock()
	l := newBetLedger(clk.Now)
	for i, addr := range []string{"0xcccc", "0xaaaa", "0xbbbb"} {
		_, err := l.placeBet(addr, OutcomeRun, int64(i+1), "")
		require.NoError(t, err)
	}
	snap := l.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "0xcccc", snap[0].Address)
	assert.Equal(t, "0xaaaa", snap[1].Address)
	assert.Equal(t, "0xbbbb", snap[2].Address)
}
