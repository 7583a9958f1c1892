package snapgame

import (
	"fmt"
	"time"
)

// betLedger owns the pot and the per-address bet records of the current
// round. Access is serialized by the Coordinator; the pot must equal the
// sum of all recorded stakes at every observable point.
type betLedger struct {
	pot  int64
	bets map[string]*Bet
	// order preserves insertion order for snapshots; maps do not.
	order []string
	now   clock
}

func newBetLedger(now clock) *betLedger {
	if now == nil {
		now = time.Now
	}
	return &betLedger{bets: make(map[string]*Bet), now: now}
}

// reset clears all bets and the pot for a new round.
func (l *betLedger) reset() {
	l.pot = 0
	l.bets = make(map[string]*Bet)
	l.order = l.order[:0]
}

// placeBet records a stake for address. A repeat bet on the same side tops
// up the existing stake. A bet on the other side replaces it: 10% of the
// prior stake (floored) is kept as a penalty and the rest refunded, and the
// new stake starts from the freshly supplied amount only.
func (l *betLedger) placeBet(address string, prediction Outcome, amount int64, displayName string) (BetResult, error) {
	if amount <= 0 {
		return BetResult{}, ErrInvalidAmount
	}
	if !prediction.Valid() {
		return BetResult{}, ErrInvalidOutcome
	}

	existing := l.bets[address]
	if existing == nil {
		l.bets[address] = &Bet{
			Address:     address,
			Amount:      amount,
			Prediction:  prediction,
			PlacedAt:    l.now().UnixMilli(),
			DisplayName: displayName,
		}
		l.order = append(l.order, address)
		l.pot += amount
		return BetResult{Pot: l.pot, Message: fmt.Sprintf("Bet placed: %d on %s", amount, prediction)}, nil
	}

	if existing.Prediction == prediction {
		existing.Amount += amount
		l.pot += amount
		return BetResult{Pot: l.pot, Message: "Bet increased!"}, nil
	}

	// Switching sides: penalty is 10% of the EXISTING stake.
	penalty := existing.Amount / 10
	refund := existing.Amount - penalty
	l.pot -= existing.Amount

	existing.Amount = amount
	existing.Prediction = prediction
	existing.PlacedAt = l.now().UnixMilli()
	if displayName != "" {
		existing.DisplayName = displayName
	}
	l.pot += amount

	return BetResult{
		Pot:     l.pot,
		Refund:  refund,
		Message: fmt.Sprintf("Switched sides! Refunded %d (Penalty: %d)", refund, penalty),
	}, nil
}

// snapshot copies the current bets in placement order.
func (l *betLedger) snapshot() []Bet {
	out := make([]Bet, 0, len(l.order))
	for _, addr := range l.order {
		if b := l.bets[addr]; b != nil {
			out = append(out, *b)
		}
	}
	return out
}
