package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
)

// connState is the transport-level state of the client.
type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// SessionPhase is the lifecycle phase of the off-chain channel session.
type SessionPhase int32

const (
	SessionNone SessionPhase = iota
	SessionPending
	SessionActive
)

func (p SessionPhase) String() string {
	switch p {
	case SessionPending:
		return "pending"
	case SessionActive:
		return "active"
	default:
		return "none"
	}
}

const (
	// sessionProtocol names the channel protocol in session definitions.
	sessionProtocol = "NitroRPC/0.2"
	// sessionQuorum is the signing weight required to advance state; with
	// two equal participants either side's signature suffices.
	sessionQuorum = 100

	defaultSessionTimeout = 30 * time.Second
	defaultSeedAmount     = 1000
	defaultAsset          = "usdc"
)

// SettleClientCfg configures a SettleClient. Transport, Signer and Log are
// required; Notifications may be nil, in which case the client initializes
// a new notification manager.
type SettleClientCfg struct {
	// Counterparty is the settlement node identity sessions are opened
	// against and payments are addressed to.
	Counterparty string
	// Asset denominates session allocations.
	Asset string
	// SeedAmount is each side's initial virtual balance.
	SeedAmount int64
	// DataDir holds the recoverable-session marker. Empty disables
	// persistence.
	DataDir string
	// SessionTimeout bounds EnsureSession's wait for the node's
	// session_created acknowledgement.
	SessionTimeout time.Duration

	Transport     MessageTransport
	Signer        Signer
	Log           slog.Logger
	Notifications *NotificationManager
}

// SettleClient owns one settlement-channel session for a connected
// identity. It drives the connect, session-negotiate and active lifecycle
// over an injected MessageTransport, signs outgoing state updates through
// the injected Signer, and reconciles asynchronous inbound confirmations
// against local optimistic state.
type SettleClient struct {
	sync.RWMutex
	ID string

	counterparty string
	asset        string
	seedAmount   int64
	sessTimeout  time.Duration

	transport MessageTransport
	signer    Signer
	ntfns     *NotificationManager
	marker    *sessionMarker
	log       slog.Logger

	state     connState
	sessPhase SessionPhase
	sessionID string
	// connGen distinguishes connections; inbound messages and failures
	// from a prior connection must not touch the current one.
	connGen uint64
	// readyCh is closed when session_created arrives for the pending
	// negotiation. Nil when no negotiation is in flight.
	readyCh chan struct{}

	// negotiateMtx serializes session negotiation so only one create can
	// be in flight per connection. Never held across inbound handling.
	negotiateMtx sync.Mutex
}

// NewSettleClient builds a client for the given identity.
func NewSettleClient(id string, cfg *SettleClientCfg) (*SettleClient, error) {
	if cfg == nil || cfg.Log == nil {
		return nil, fmt.Errorf("client must have logger")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("client must have transport")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("client must have signer")
	}
	if cfg.Counterparty == "" {
		return nil, fmt.Errorf("client must have counterparty")
	}

	ntfns := cfg.Notifications
	if ntfns == nil {
		ntfns = NewNotificationManager()
	}
	asset := cfg.Asset
	if asset == "" {
		asset = defaultAsset
	}
	seed := cfg.SeedAmount
	if seed <= 0 {
		seed = defaultSeedAmount
	}
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = defaultSessionTimeout
	}

	return &SettleClient{
		ID:           id,
		counterparty: cfg.Counterparty,
		asset:        asset,
		seedAmount:   seed,
		sessTimeout:  timeout,
		transport:    cfg.Transport,
		signer:       cfg.Signer,
		ntfns:        ntfns,
		marker:       newSessionMarker(cfg.DataDir),
		log:          cfg.Log,
	}, nil
}

// Notifications returns the manager handlers register against.
func (sc *SettleClient) Notifications() *NotificationManager {
	return sc.ntfns
}

// SessionPhase returns the current session phase.
func (sc *SettleClient) SessionPhase() SessionPhase {
	sc.RLock()
	defer sc.RUnlock()
	return sc.sessPhase
}

// SessionID returns the node-assigned session id, empty until active.
func (sc *SettleClient) SessionID() string {
	sc.RLock()
	defer sc.RUnlock()
	return sc.sessionID
}

// Connected reports whether the transport connection is up.
func (sc *SettleClient) Connected() bool {
	sc.RLock()
	defer sc.RUnlock()
	return sc.state == stateConnected
}

// Connect opens the transport connection. It is idempotent while already
// connected or connecting. On success it emits a connected notification,
// starts the inbound pump and, if a recoverable-session marker was
// persisted by an earlier run, immediately re-attempts session
// negotiation.
func (sc *SettleClient) Connect(ctx context.Context) error {
	sc.Lock()
	if sc.state != stateDisconnected {
		sc.Unlock()
		return nil
	}
	sc.state = stateConnecting
	sc.Unlock()

	if err := sc.transport.Connect(ctx); err != nil {
		sc.Lock()
		sc.state = stateDisconnected
		sc.Unlock()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	sc.Lock()
	sc.state = stateConnected
	sc.connGen++
	gen := sc.connGen
	sc.Unlock()

	sc.log.Infof("connected to settlement node as %s", sc.ID)
	sc.ntfns.notifyConnected(time.Now())

	go sc.recvLoop(gen)

	if sc.marker.exists() {
		go func() {
			if err := sc.negotiate(ctx); err != nil {
				sc.log.Warnf("session recovery failed: %v", err)
			}
		}()
	}
	return nil
}

// Close tears the connection down and resets the session to None. The
// recoverable-session marker is left in place so the next Connect can
// re-negotiate.
func (sc *SettleClient) Close() error {
	err := sc.transport.Close()
	sc.Lock()
	sc.resetLocked()
	sc.Unlock()
	return err
}

// recvLoop pumps inbound messages until the transport fails. A failure of
// an old connection's pump must not reset a newer connection.
func (sc *SettleClient) recvLoop(gen uint64) {
	for {
		payload, err := sc.transport.Next()
		if err != nil {
			sc.Lock()
			if sc.connGen == gen && sc.state != stateDisconnected {
				sc.resetLocked()
				sc.log.Warnf("settlement connection lost: %v", err)
			}
			sc.Unlock()
			return
		}

		msg, err := decodeInbound(payload)
		if err != nil {
			sc.log.Warnf("dropping inbound: %v", err)
			continue
		}
		sc.handleInbound(gen, msg)
	}
}

// resetLocked moves the client to Disconnected and abandons any pending
// negotiation, waking waiters so they fail fast instead of running out
// their timeout. Callers hold the write lock.
func (sc *SettleClient) resetLocked() {
	sc.state = stateDisconnected
	sc.sessPhase = SessionNone
	sc.sessionID = ""
	if sc.readyCh != nil {
		close(sc.readyCh)
		sc.readyCh = nil
	}
}

func (sc *SettleClient) handleInbound(gen uint64, msg inboundMsg) {
	now := time.Now()
	switch msg.kind {
	case inboundSessionCreated:
		sc.Lock()
		if sc.connGen != gen {
			sc.Unlock()
			return
		}
		sc.sessPhase = SessionActive
		sc.sessionID = msg.sessionID
		if sc.readyCh != nil {
			close(sc.readyCh)
			sc.readyCh = nil
		}
		sc.Unlock()
		sc.log.Infof("session %s active", msg.sessionID)
		sc.ntfns.notifySessionReady(msg.sessionID, now)

	case inboundPayment:
		// Settlement payout coming back; the channel has done its job,
		// so the recovery marker can go.
		if err := sc.marker.clear(); err != nil {
			sc.log.Warnf("clear session marker: %v", err)
		}
		sc.log.Infof("payout received: %d", msg.amount)
		sc.ntfns.notifyPayout(msg.amount, now)

	case inboundError:
		sc.log.Warnf("settlement node error: %s", string(msg.errBody))
		sc.ntfns.notifyError(msg.errBody, now)

	case inboundResult:
		sc.ntfns.notifyResult(msg.result, now)
	}
}
