package snapgame

import (
	"sync"
	"time"

	"github.com/decred/slog"
)

// Coordinator composes the round machine, the bet ledger and the
// leaderboard behind a single serialized entry point. Every operation runs
// as one critical section: the lazy timer tick, the ledger decision and the
// write cannot interleave with another caller, which is what keeps the pot
// equal to the sum of stakes under concurrent bets.
type Coordinator struct {
	sync.Mutex

	round  *roundMachine
	ledger *betLedger
	board  *leaderboard

	log slog.Logger

	subsMu  sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

// CoordinatorConfig carries construction options for a Coordinator.
type CoordinatorConfig struct {
	// RoundDuration is the OPEN-phase length in seconds; zero means
	// DefaultRoundDuration.
	RoundDuration int64
	Log           slog.Logger

	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

// NewCoordinator builds the process-wide game state. Exactly one instance
// should be constructed at startup and handed to request handlers.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Coordinator{
		round:  newRoundMachine(cfg.RoundDuration, cfg.Now),
		ledger: newBetLedger(cfg.Now),
		board:  newLeaderboard(),
		log:    log,
		subs:   make(map[int]chan Snapshot),
	}
}

// State ticks the timer and returns a consistent snapshot.
func (c *Coordinator) State() Snapshot {
	c.Lock()
	defer c.Unlock()
	c.round.tick()
	return c.snapshotLocked()
}

// StartRound begins the next round: clears bets, pot and last result, bumps
// the round id and reopens betting.
func (c *Coordinator) StartRound() Snapshot {
	c.Lock()
	c.round.start()
	c.ledger.reset()
	snap := c.snapshotLocked()
	c.Unlock()

	c.log.Infof("round %d open for %ds", snap.RoundID, snap.TimeLeft)
	c.publish(snap)
	return snap
}

// PlaceBet records a stake for the current round. It fails with
// ErrGameLocked outside the OPEN phase and leaves pot and bets untouched on
// any error.
func (c *Coordinator) PlaceBet(address string, prediction Outcome, amount int64, displayName string) (BetResult, Snapshot, error) {
	c.Lock()
	c.round.tick()
	if c.round.status != PhaseOpen {
		snap := c.snapshotLocked()
		c.Unlock()
		return BetResult{}, snap, ErrGameLocked
	}
	res, err := c.ledger.placeBet(address, prediction, amount, displayName)
	snap := c.snapshotLocked()
	c.Unlock()

	if err != nil {
		return BetResult{}, snap, err
	}
	c.log.Debugf("bet: %s %d on %s (pot=%d)", address, amount, prediction, res.Pot)
	c.publish(snap)
	return res, snap, nil
}

// Resolve settles the round with the given outcome and applies exactly one
// leaderboard pass over the current bets. Bets and pot are left in place
// for inspection until the next StartRound.
func (c *Coordinator) Resolve(outcome Outcome) (Snapshot, error) {
	if !outcome.Valid() {
		return Snapshot{}, ErrInvalidOutcome
	}
	c.Lock()
	c.round.tick()
	if err := c.round.resolve(outcome); err != nil {
		snap := c.snapshotLocked()
		c.Unlock()
		return snap, err
	}
	c.board.apply(c.ledger.snapshot(), outcome)
	snap := c.snapshotLocked()
	c.Unlock()

	c.log.Infof("round %d resolved: %s (pot=%d)", snap.RoundID, outcome, snap.Pot)
	c.publish(snap)
	return snap, nil
}

func (c *Coordinator) snapshotLocked() Snapshot {
	var last *Outcome
	if c.round.lastResult != nil {
		o := *c.round.lastResult
		last = &o
	}
	return Snapshot{
		Status:      c.round.status,
		RoundID:     c.round.roundID,
		Pot:         c.ledger.pot,
		TimeLeft:    c.round.timeLeft,
		LastResult:  last,
		Bets:        c.ledger.snapshot(),
		Leaderboard: c.board.snapshot(),
	}
}

// Subscribe registers a snapshot receiver. Every mutation delivers the full
// changed snapshot; there is no separate "something changed" signal to
// chase with a refetch. The returned cancel func closes the channel.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()

	cancel := func() {
		c.subsMu.Lock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
		c.subsMu.Unlock()
	}
	return ch, cancel
}

// publish fans a snapshot out to subscribers without blocking the game on a
// slow consumer: when a buffer is full the oldest snapshot is dropped in
// favor of the newer one.
func (c *Coordinator) publish(snap Snapshot) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
