package snapgame

import "time"

// roundMachine owns the round phase, counter and timer. It is not safe for
// concurrent use on its own; the Coordinator serializes all access.
type roundMachine struct {
	status     Phase
	roundID    int64
	timeLeft   int64
	duration   int64
	lastResult *Outcome

	// lastTick is the wall-clock reference the lazy timer decrements
	// from. It is kept current while the round is not OPEN so no elapsed
	// time accumulates across phase changes.
	lastTick time.Time
	now      clock
}

func newRoundMachine(durationSecs int64, now clock) *roundMachine {
	if durationSecs <= 0 {
		durationSecs = DefaultRoundDuration
	}
	if now == nil {
		now = time.Now
	}
	return &roundMachine{
		status:   PhaseIdle,
		roundID:  1,
		timeLeft: durationSecs,
		duration: durationSecs,
		lastTick: now(),
		now:      now,
	}
}

// start opens a new round: fresh timer, next roundID, cleared result.
// Legal from any phase.
func (r *roundMachine) start() {
	r.status = PhaseOpen
	r.timeLeft = r.duration
	r.lastResult = nil
	r.roundID++
	r.lastTick = r.now()
}

// tick advances the lazy timer. While OPEN it subtracts whole elapsed
// seconds, clamped at zero, and locks the round when the timer runs out.
// In any other phase it only refreshes the reference point. There is no
// background clock; every read path calls tick first.
func (r *roundMachine) tick() {
	now := r.now()
	if r.status != PhaseOpen {
		r.lastTick = now
		return
	}
	elapsed := now.Sub(r.lastTick)
	if elapsed < time.Second {
		return
	}
	secs := int64(elapsed / time.Second)
	r.lastTick = now
	r.timeLeft -= secs
	if r.timeLeft <= 0 {
		r.timeLeft = 0
		r.status = PhaseLocked
	}
}

// resolve records the outcome and moves to RESOLVING. Only legal from OPEN
// or LOCKED, which also makes a second resolve of the same round fail
// instead of double-applying leaderboard deltas.
func (r *roundMachine) resolve(outcome Outcome) error {
	if r.status != PhaseOpen && r.status != PhaseLocked {
		return ErrInvalidTransition
	}
	r.status = PhaseResolving
	o := outcome
	r.lastResult = &o
	return nil
}
