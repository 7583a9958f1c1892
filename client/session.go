package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vctt94/snapcall/snapgame"
)

// buildSessionCreate assembles the session definition and the allocation
// list seeding both sides' virtual balances.
func (sc *SettleClient) buildSessionCreate() sessionCreateMsg {
	return sessionCreateMsg{
		Definition: sessionDefinition{
			Protocol:     sessionProtocol,
			Participants: []string{sc.ID, sc.counterparty},
			Weights:      []int{50, 50},
			Quorum:       sessionQuorum,
			Challenge:    uuid.NewString(),
			Nonce:        uint64(time.Now().UnixMilli()),
		},
		Allocations: []sessionAllocation{
			{Participant: sc.ID, Asset: sc.asset, Amount: sc.seedAmount},
			{Participant: sc.counterparty, Asset: sc.asset, Amount: sc.seedAmount},
		},
	}
}

// negotiate signs and sends one session-create message and moves the
// session phase to Pending. Signing happens before any state changes, so a
// failed or rejected signature leaves the session exactly as it was.
func (sc *SettleClient) negotiate(ctx context.Context) error {
	sc.RLock()
	connected := sc.state == stateConnected
	sc.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	msg := sc.buildSessionCreate()
	unsigned, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal session create: %w", err)
	}
	sig, err := sc.signer.Sign(ctx, unsigned)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	msg.Signature = hex.EncodeToString(sig)
	msg.Sender = sc.ID

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal session create: %w", err)
	}
	if err := sc.transport.Send(payload); err != nil {
		return fmt.Errorf("send session create: %w", err)
	}

	sc.Lock()
	// The ack can land between the send and this point; never demote an
	// already-active session back to Pending.
	if sc.sessPhase != SessionActive {
		sc.sessPhase = SessionPending
		if sc.readyCh == nil {
			sc.readyCh = make(chan struct{})
		}
	}
	sc.Unlock()

	// Persist the recovery marker so the next connect can retry the
	// negotiation without a fresh user-facing action.
	if err := sc.marker.set(); err != nil {
		sc.log.Warnf("persist session marker: %v", err)
	}
	sc.log.Debugf("session create sent, awaiting acknowledgement")
	return nil
}

// EnsureSession makes sure an active session exists, negotiating one if
// needed and waiting, bounded by the configured timeout, for the node's
// session_created acknowledgement. On timeout the phase stays Pending so a
// later call can pick the same negotiation back up.
func (sc *SettleClient) EnsureSession(ctx context.Context) error {
	sc.negotiateMtx.Lock()
	defer sc.negotiateMtx.Unlock()

	sc.RLock()
	phase := sc.sessPhase
	ready := sc.readyCh
	sc.RUnlock()

	switch phase {
	case SessionActive:
		return nil
	case SessionNone:
		if err := sc.negotiate(ctx); err != nil {
			return err
		}
		sc.RLock()
		phase = sc.sessPhase
		ready = sc.readyCh
		sc.RUnlock()
		if phase == SessionActive {
			return nil
		}
	case SessionPending:
		// A create is already in flight; just wait for the ack.
	}

	if ready == nil {
		// Negotiation was abandoned by a disconnect between the phase
		// read and here.
		return ErrNotConnected
	}

	select {
	case <-ready:
		if sc.SessionPhase() != SessionActive {
			return ErrNotConnected
		}
		return nil
	case <-time.After(sc.sessTimeout):
		return ErrSessionTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PlaceBet commits a stake over the settlement channel: it requires a live
// connection, lazily ensures an active session, signs a payment-style
// state update and sends it. The bet_placed notification is optimistic and
// fires as soon as the send succeeds, before any confirmation; a signing
// failure aborts the whole operation with no notification and no state
// change, so a bet never appears placed when nothing was signed.
func (sc *SettleClient) PlaceBet(ctx context.Context, amount int64, prediction snapgame.Outcome) error {
	if amount <= 0 {
		return snapgame.ErrInvalidAmount
	}
	if !prediction.Valid() {
		return snapgame.ErrInvalidOutcome
	}
	if !sc.Connected() {
		return ErrNotConnected
	}

	if sc.SessionPhase() != SessionActive {
		if err := sc.EnsureSession(ctx); err != nil {
			return err
		}
	}

	msg := paymentMsg{
		Type:       "payment",
		Amount:     amount,
		Recipient:  sc.counterparty,
		Prediction: string(prediction),
		Timestamp:  time.Now().UnixMilli(),
	}
	unsigned, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}
	sig, err := sc.signer.Sign(ctx, unsigned)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	msg.Signature = hex.EncodeToString(sig)
	msg.Sender = sc.ID

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}
	if err := sc.transport.Send(payload); err != nil {
		return fmt.Errorf("send payment: %w", err)
	}

	sc.log.Debugf("bet committed: %d on %s", amount, prediction)
	sc.ntfns.notifyBetPlaced(amount, prediction, time.Now())
	return nil
}
