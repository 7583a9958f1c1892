package snapgame

import "sort"

const (
	winProfit  = 10
	lossProfit = -5
)

// leaderboard is the cross-round profit and win tally. Entries are created
// lazily on a player's first resolved bet and never destroyed.
type leaderboard struct {
	entries []*LeaderboardEntry
	byAddr  map[string]*LeaderboardEntry
}

func newLeaderboard() *leaderboard {
	return &leaderboard{byAddr: make(map[string]*LeaderboardEntry)}
}

// apply runs exactly one settlement pass over the resolved round's bets:
// +10 profit and a win for correct predictions, -5 profit otherwise. The
// board is then re-sorted by profit descending; the sort is stable so
// equal profits keep their prior relative order.
func (lb *leaderboard) apply(bets []Bet, outcome Outcome) {
	for _, bet := range bets {
		entry := lb.byAddr[bet.Address]
		if entry == nil {
			entry = &LeaderboardEntry{
				Address:     bet.Address,
				DisplayName: bet.DisplayName,
			}
			lb.byAddr[bet.Address] = entry
			lb.entries = append(lb.entries, entry)
		}
		if bet.Prediction == outcome {
			entry.Profit += winProfit
			entry.Wins++
		} else {
			entry.Profit += lossProfit
		}
	}
	sort.SliceStable(lb.entries, func(i, j int) bool {
		return lb.entries[i].Profit > lb.entries[j].Profit
	})
}

func (lb *leaderboard) snapshot() []LeaderboardEntry {
	out := make([]LeaderboardEntry, len(lb.entries))
	for i, e := range lb.entries {
		out[i] = *e
	}
	return out
}
