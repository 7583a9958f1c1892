package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotConnected   = errors.New("not connected to settlement node")
	ErrSessionTimeout = errors.New("session negotiation timed out")
	ErrSigningFailed  = errors.New("signing failed")
)

// MessageTransport is a bidirectional, ordered, message-oriented connection
// to a remote settlement node. Messages sent on one connection are
// delivered in send order; nothing is ordered across reconnects.
type MessageTransport interface {
	// Connect opens the connection. It must be called before Send/Next.
	Connect(ctx context.Context) error
	// Send queues one outbound message. Safe for concurrent use.
	Send(payload []byte) error
	// Next blocks until the next inbound message arrives or the
	// connection fails.
	Next() ([]byte, error)
	Close() error
}

// sessionDefinition is the negotiated terms of an off-chain channel
// session as sent to the settlement node.
type sessionDefinition struct {
	Protocol     string   `json:"protocol"`
	Participants []string `json:"participants"`
	Weights      []int    `json:"weights"`
	Quorum       int      `json:"quorum"`
	Challenge    string   `json:"challenge"`
	Nonce        uint64   `json:"nonce"`
}

// sessionAllocation seeds one participant's virtual balance at creation.
type sessionAllocation struct {
	Participant string `json:"participant"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
}

// sessionCreateMsg is the signed session-create envelope.
type sessionCreateMsg struct {
	Definition  sessionDefinition   `json:"definition"`
	Allocations []sessionAllocation `json:"allocations"`
	Signature   string              `json:"signature,omitempty"`
	Sender      string              `json:"sender,omitempty"`
}

// paymentMsg is a signed bet commitment sent over the channel.
type paymentMsg struct {
	Type       string `json:"type"`
	Amount     int64  `json:"amount"`
	Recipient  string `json:"recipient"`
	Prediction string `json:"prediction"`
	Timestamp  int64  `json:"timestamp"`
	Signature  string `json:"signature,omitempty"`
	Sender     string `json:"sender,omitempty"`
}

// inboundKind enumerates the closed set of messages the settlement node
// may deliver. Unknown tags are rejected at decode time rather than
// falling through.
type inboundKind int

const (
	inboundSessionCreated inboundKind = iota
	inboundPayment
	inboundError
	inboundResult
)

type inboundMsg struct {
	kind      inboundKind
	sessionID string
	amount    int64
	errBody   json.RawMessage
	result    json.RawMessage
}

// rawInbound mirrors the settlement node's loose envelope before it is
// narrowed into a tagged variant.
type rawInbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Amount    int64           `json:"amount"`
	Error     json.RawMessage `json:"error"`
	Result    json.RawMessage `json:"result"`
}

func decodeInbound(payload []byte) (inboundMsg, error) {
	var raw rawInbound
	if err := json.Unmarshal(payload, &raw); err != nil {
		return inboundMsg{}, fmt.Errorf("malformed settlement message: %w", err)
	}

	switch {
	case raw.Type == "session_created":
		if raw.SessionID == "" {
			return inboundMsg{}, errors.New("session_created without sessionId")
		}
		return inboundMsg{kind: inboundSessionCreated, sessionID: raw.SessionID}, nil
	case raw.Type == "payment":
		return inboundMsg{kind: inboundPayment, amount: raw.Amount}, nil
	case raw.Type == "" && len(raw.Error) > 0:
		return inboundMsg{kind: inboundError, errBody: raw.Error}, nil
	case raw.Type == "" && len(raw.Result) > 0:
		return inboundMsg{kind: inboundResult, result: raw.Result}, nil
	default:
		return inboundMsg{}, fmt.Errorf("unknown settlement message type %q", raw.Type)
	}
}
