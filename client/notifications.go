package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/vctt94/snapcall/snapgame"
)

// Handler types for settlement client notifications. Exactly one of these
// fires per event; registering a handler of the matching type subscribes
// to that event.

// OnConnectedNtfn fires once the transport connection is established.
type OnConnectedNtfn func(ts time.Time)

// OnSessionReadyNtfn fires when the settlement node acknowledges the
// session, carrying the assigned session id.
type OnSessionReadyNtfn func(sessionID string, ts time.Time)

// OnBetPlacedNtfn fires optimistically after a bet commitment was signed
// and handed to the transport, before any confirmation arrives.
type OnBetPlacedNtfn func(amount int64, prediction snapgame.Outcome, ts time.Time)

// OnPayoutNtfn fires when the settlement node settles a payout back.
type OnPayoutNtfn func(amount int64, ts time.Time)

// OnErrorNtfn fires for error envelopes surfaced by the settlement node.
type OnErrorNtfn func(errBody json.RawMessage, ts time.Time)

// OnResultNtfn passes through generic RPC-style result envelopes.
type OnResultNtfn func(result json.RawMessage, ts time.Time)

type ntfnRegistration struct {
	handler interface{}
	sync    bool
}

// NotificationRegistration unregisters a handler when no longer wanted.
type NotificationRegistration struct {
	unreg func()
}

func (r *NotificationRegistration) Unregister() {
	if r.unreg != nil {
		r.unreg()
	}
}

// NotificationManager fans settlement client events out to registered
// handlers. Every handler sees every notification of its type; there is no
// filtering and no backpressure. Handlers registered with Register run on
// their own goroutine so a slow consumer cannot stall the notify path;
// RegisterSync runs inline and must not block.
type NotificationManager struct {
	mtx      sync.Mutex
	nextID   uint64
	handlers map[uint64]ntfnRegistration
}

func NewNotificationManager() *NotificationManager {
	return &NotificationManager{handlers: make(map[uint64]ntfnRegistration)}
}

func (nm *NotificationManager) register(handler interface{}, sync bool) *NotificationRegistration {
	nm.mtx.Lock()
	id := nm.nextID
	nm.nextID++
	nm.handlers[id] = ntfnRegistration{handler: handler, sync: sync}
	nm.mtx.Unlock()
	return &NotificationRegistration{unreg: func() {
		nm.mtx.Lock()
		delete(nm.handlers, id)
		nm.mtx.Unlock()
	}}
}

// Register subscribes handler for async delivery.
func (nm *NotificationManager) Register(handler interface{}) *NotificationRegistration {
	return nm.register(handler, false)
}

// RegisterSync subscribes handler for inline delivery.
func (nm *NotificationManager) RegisterSync(handler interface{}) *NotificationRegistration {
	return nm.register(handler, true)
}

func (nm *NotificationManager) snapshot() []ntfnRegistration {
	nm.mtx.Lock()
	defer nm.mtx.Unlock()
	regs := make([]ntfnRegistration, 0, len(nm.handlers))
	for _, reg := range nm.handlers {
		regs = append(regs, reg)
	}
	return regs
}

func (nm *NotificationManager) notifyConnected(ts time.Time) {
	for _, reg := range nm.snapshot() {
		if f, ok := reg.handler.(OnConnectedNtfn); ok {
			if reg.sync {
				f(ts)
			} else {
				go f(ts)
			}
		}
	}
}

func (nm *NotificationManager) notifySessionReady(sessionID string, ts time.Time) {
	for _, reg := range nm.snapshot() {
		if f, ok := reg.handler.(OnSessionReadyNtfn); ok {
			if reg.sync {
				f(sessionID, ts)
			} else {
				go f(sessionID, ts)
			}
		}
	}
}

func (nm *NotificationManager) notifyBetPlaced(amount int64, prediction snapgame.Outcome, ts time.Time) {
	for _, reg := range nm.snapshot() {
		if f, ok := reg.handler.(OnBetPlacedNtfn); ok {
			if reg.sync {
				f(amount, prediction, ts)
			} else {
				go f(amount, prediction, ts)
			}
		}
	}
}

func (nm *NotificationManager) notifyPayout(amount int64, ts time.Time) {
	for _, reg := range nm.snapshot() {
		if f, ok := reg.handler.(OnPayoutNtfn); ok {
			if reg.sync {
				f(amount, ts)
			} else {
				go f(amount, ts)
			}
		}
	}
}

func (nm *NotificationManager) notifyError(errBody json.RawMessage, ts time.Time) {
	for _, reg := range nm.snapshot() {
		if f, ok := reg.handler.(OnErrorNtfn); ok {
			if reg.sync {
				f(errBody, ts)
			} else {
				go f(errBody, ts)
			}
		}
	}
}

func (nm *NotificationManager) notifyResult(result json.RawMessage, ts time.Time) {
	for _, reg := range nm.snapshot() {
		if f, ok := reg.handler.(OnResultNtfn); ok {
			if reg.sync {
				f(result, ts)
			} else {
				go f(result, ts)
			}
		}
	}
}
